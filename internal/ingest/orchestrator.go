package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/hlsforge/internal/config"
	"github.com/jmylchreest/hlsforge/internal/ffmpeg"
	"github.com/jmylchreest/hlsforge/internal/models"
	"github.com/jmylchreest/hlsforge/internal/observability"
	"github.com/jmylchreest/hlsforge/internal/repository"
	"github.com/jmylchreest/hlsforge/internal/storage"
)

// inputGrace is how long the feeder may keep running after the transcoder
// has exited.
const inputGrace = time.Second

// Request is one upload to transcode.
type Request struct {
	Options Options
	Source  Source
	// OnReady, if set, is called once with the session id after the stream
	// record has been persisted.
	OnReady func(ctx context.Context, id string)
}

// Result describes a finished session.
type Result struct {
	ID        string
	Dir       string
	BytesIn   int64
	Artifacts *Artifacts
	Stats     ffmpeg.ProcessStats
	Elapsed   time.Duration
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sandbox *storage.Sandbox
	Repo    repository.StreamRepository
	Spawner ffmpeg.Spawner
	Server  config.ServerConfig
	FFmpeg  config.FFmpegConfig
	Ingest  config.IngestConfig
	Logger  *slog.Logger
}

// Orchestrator runs upload sessions end to end.
type Orchestrator struct {
	sandbox  *storage.Sandbox
	repo     repository.StreamRepository
	spawner  ffmpeg.Spawner
	server   config.ServerConfig
	ffmpeg   config.FFmpegConfig
	ingest   config.IngestConfig
	cleaner  *Cleaner
	verifier *Verifier
	logger   *slog.Logger

	slots chan struct{}

	mu     sync.Mutex
	active map[string]*Session
}

// NewOrchestrator creates an orchestrator from deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "ingest")

	o := &Orchestrator{
		sandbox:  deps.Sandbox,
		repo:     deps.Repo,
		spawner:  deps.Spawner,
		server:   deps.Server,
		ffmpeg:   deps.FFmpeg,
		ingest:   deps.Ingest,
		cleaner:  NewCleaner(deps.Sandbox, deps.Repo, deps.Ingest.RollbackRecord, logger),
		verifier: NewVerifier(deps.Sandbox, deps.FFmpeg.PlaylistName),
		logger:   logger,
		active:   make(map[string]*Session),
	}
	if n := deps.Ingest.MaxConcurrentSessions; n > 0 {
		o.slots = make(chan struct{}, n)
	}
	return o
}

// IsActive reports whether a session with id is in progress.
func (o *Orchestrator) IsActive(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[id]
	return ok
}

// ActiveSessions returns the number of sessions in progress.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Acquire reserves a session slot. It fails with ErrCapacity when the
// concurrent session limit is reached. The returned release must be called
// exactly once; Run acquires its own slot when the caller has not.
func (o *Orchestrator) Acquire() (release func(), err error) {
	if o.slots == nil {
		return func() {}, nil
	}
	select {
	case o.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-o.slots }) }, nil
	default:
		return nil, newError(KindProcess, "acquire session", ErrCapacity)
	}
}

// Run executes one upload session and returns once the transcoder has
// exited and its output was verified. On failure the working directory,
// and with rollback enabled the stream record, are removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	release, err := o.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return o.RunAcquired(ctx, req)
}

// RunAcquired is Run for callers that already hold a slot from Acquire.
func (o *Orchestrator) RunAcquired(ctx context.Context, req Request) (*Result, error) {
	s := newSession(models.NewStreamID(), req.Options)
	logger := observability.WithSession(o.logger, s.ID, "")

	o.track(s)
	defer o.untrack(s.ID)

	ctx, cancel := context.WithTimeout(ctx, o.ingest.SessionTimeout)
	defer cancel()

	dir, err := o.sandbox.CreateWorkDir(s.ID)
	if err != nil {
		err = withSession(newError(KindPersistence, "create working directory", err), s.ID, "")
		o.logFailure(logger, s, err, "")
		s.fail(err)
		return nil, err
	}
	s.Dir = dir
	s.advance(PhaseDirectoryReady)
	logger = observability.WithSession(o.logger, s.ID, dir)

	gate := NewGate(o.persistFunc(s, logger), func(ctx context.Context) {
		if req.OnReady != nil {
			req.OnReady(ctx, s.ID)
		}
	})

	res, diagnostics, err := o.run(ctx, s, req, gate, logger)
	if err != nil {
		err = withSession(err, s.ID, dir)
		o.logFailure(logger, s, err, diagnostics)
		s.fail(err)

		recordID := ""
		if gate.Persisted() {
			recordID = s.ID
		}
		o.cleaner.Cleanup(ctx, s.ID, recordID)
		return nil, err
	}

	s.advance(PhaseFinished)
	res.Elapsed = time.Since(s.StartedAt)
	logger.InfoContext(ctx, "upload session finished",
		slog.String("bytes_in", humanize.IBytes(uint64(res.BytesIn))), //nolint:gosec // non-negative
		slog.Int("segments", len(res.Artifacts.Segments)),
		slog.Duration("media_duration", res.Artifacts.Duration),
		slog.String("codecs", strings.Join(res.Artifacts.Codecs, ",")),
		slog.String("peak_rss", humanize.IBytes(res.Stats.PeakRSSBytes)),
		slog.Float64("peak_cpu_percent", res.Stats.PeakCPUPercent),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (o *Orchestrator) persistFunc(s *Session, logger *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stream := &models.Stream{
			ID:          s.ID,
			Name:        s.Options.Name,
			Description: s.Options.Description,
			Width:       s.Options.Width,
			Height:      s.Options.Height,
			CreatedAt:   time.Now(),
		}
		if err := o.repo.Create(ctx, stream); err != nil {
			return newError(KindPersistence, "insert stream record", err)
		}
		s.advance(PhaseReady)
		logger.InfoContext(ctx, "stream ready", slog.Duration("after", time.Since(s.StartedAt)))
		return nil
	}
}

// run spawns the transcoder, runs the feeder and both drainers concurrently
// and waits for the process. It returns the diagnostic tail for logging.
func (o *Orchestrator) run(ctx context.Context, s *Session, req Request, gate *Gate, logger *slog.Logger) (*Result, string, error) {
	opts := ffmpeg.HLSOptions{
		VideoCodec:     o.ffmpeg.VideoCodec,
		SegmentTime:    o.ffmpeg.HLSTime,
		SegmentPattern: o.ffmpeg.SegmentPattern,
		BaseURL:        o.server.SegmentBaseURL(s.ID),
		Playlist:       o.ffmpeg.PlaylistName,
		ExtraArgs:      o.ffmpeg.ExtraArgs,
	}

	// runCtx is cancelled only on failure; cancelling it kills the process.
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	proc, err := o.spawner.Spawn(runCtx, s.Dir, ffmpeg.HLSArgs(opts))
	if err != nil {
		return nil, "", newError(KindProcess, "spawn transcoder", err)
	}
	s.advance(PhaseProcessSpawned)
	logger.InfoContext(ctx, "transcoder spawned", slog.Int("pid", proc.Pid()))

	stdin, stdout, stderr, err := takeChannels(proc)
	if err != nil {
		_ = proc.Kill()
		proc.CloseOutputs()
		_ = proc.Wait()
		return nil, "", newError(KindProcess, "take process channels", err)
	}

	monitor := ffmpeg.NewProcessMonitor(proc.Pid(), o.ffmpeg.MonitorInterval)
	monitor.Start(runCtx)

	src := NewCountingSource(req.Source)
	stopAbort := context.AfterFunc(runCtx, func() {
		src.Abort()
		proc.CloseOutputs()
	})

	markers := readinessMarkers(opts.FirstSegmentName())
	checkReady := func(line string) error {
		if !matchesAny(line, markers) {
			return nil
		}
		return gate.Trigger(runCtx)
	}
	fail := func(err error) error {
		if err != nil {
			abort(err)
		}
		return err
	}

	tail := newLineTail(diagnosticTail)
	var written int64
	var g errgroup.Group

	s.advance(PhaseFeedingInput)
	feedDone := make(chan struct{})
	g.Go(func() error {
		defer close(feedDone)
		n, err := Feed(runCtx, src, stdin)
		written = n
		if err != nil {
			return fail(err)
		}
		s.advance(PhaseAwaitingFirstArtifact)
		logger.DebugContext(ctx, "input complete", slog.Int64("bytes", n))
		return nil
	})
	// ffmpeg logs segment creation on stderr, progress on stdout; both can
	// carry a readiness marker.
	var drainers sync.WaitGroup
	drainers.Add(2)
	g.Go(func() error {
		defer drainers.Done()
		return fail(Drain(stderr, func(line string) error {
			tail.add(line)
			logger.DebugContext(ctx, "transcoder output", slog.String("stream", "stderr"), slog.String("line", line))
			return checkReady(line)
		}))
	})
	g.Go(func() error {
		defer drainers.Done()
		return fail(Drain(stdout, func(line string) error {
			logger.DebugContext(ctx, "transcoder output", slog.String("stream", "stdout"), slog.String("line", line))
			return checkReady(line)
		}))
	})

	// Wait may only run once both outputs are drained. A transcoder that
	// exits while input is still pending leaves the feeder blocked on the
	// client, so it is aborted after a short grace.
	var waitErr error
	g.Go(func() error {
		drainers.Wait()
		waitErr = proc.Wait()
		select {
		case <-feedDone:
			return nil
		case <-time.After(inputGrace):
		}
		err := waitErr
		if err == nil {
			err = errors.New("transcoder exited before input ended")
		}
		return fail(newError(KindProcess, "transcoder exit", err))
	})

	taskErr := g.Wait()
	// The first abort cause is the root failure; later task errors follow from it.
	if cause := context.Cause(runCtx); cause != nil && ctx.Err() == nil {
		taskErr = cause
	}
	stopAbort()
	stats := monitor.Stop()
	diagnostics := tail.String()

	if err := contextError(ctx); err != nil {
		return nil, diagnostics, err
	}
	var exitErr *ffmpeg.ExitError
	if taskErr != nil {
		// A transcoder that quit on its own breaks the stdin pipe; its exit
		// status is the more useful cause.
		if errors.As(waitErr, &exitErr) && exitErr.Code >= 0 && KindOf(taskErr) == KindProcess {
			return nil, diagnostics, newError(KindProcess, "transcoder exit", waitErr)
		}
		return nil, diagnostics, taskErr
	}
	if waitErr != nil {
		return nil, diagnostics, newError(KindProcess, "transcoder exit", waitErr)
	}
	if written != src.BytesRead() {
		return nil, diagnostics, newError(KindProcess, "feed input",
			fmt.Errorf("wrote %d of %d bytes", written, src.BytesRead()))
	}

	// A short input may finish without a marker being seen.
	if err := gate.Trigger(ctx); err != nil {
		return nil, diagnostics, err
	}

	arts, err := o.verifier.Verify(ctx, s.ID)
	if err != nil {
		return nil, diagnostics, newError(KindProcess, "verify artifacts", err)
	}

	info := models.MediaInfo{
		SegmentCount: len(arts.Segments),
		Duration:     arts.Duration,
		Codecs:       arts.Codecs,
		BytesIn:      written,
		FinishedAt:   time.Now(),
	}
	if err := o.repo.UpdateMediaInfo(ctx, s.ID, info); err != nil {
		return nil, diagnostics, newError(KindPersistence, "update stream record", err)
	}

	return &Result{ID: s.ID, Dir: s.Dir, BytesIn: written, Artifacts: arts, Stats: stats}, diagnostics, nil
}

func takeChannels(proc *ffmpeg.Process) (stdin io.WriteCloser, stdout, stderr io.ReadCloser, err error) {
	if stdin, err = proc.TakeStdin(); err != nil {
		return nil, nil, nil, err
	}
	if stdout, err = proc.TakeStdout(); err != nil {
		return nil, nil, nil, err
	}
	if stderr, err = proc.TakeStderr(); err != nil {
		return nil, nil, nil, err
	}
	return stdin, stdout, stderr, nil
}

// contextError converts an ended session context into a classified error.
func contextError(ctx context.Context) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindProcess, "session timeout", err)
	case err != nil:
		return newError(KindTransport, "session cancelled", err)
	default:
		return nil
	}
}

func (o *Orchestrator) logFailure(logger *slog.Logger, s *Session, err error, diagnostics string) {
	attrs := []any{
		slog.String("phase", s.Phase().String()),
		slog.String("kind", KindOf(err).String()),
		slog.String("error", err.Error()),
	}
	if diagnostics != "" {
		attrs = append(attrs, slog.String("transcoder_output", diagnostics))
	}
	logger.Error("upload session failed", attrs...)
}

func (o *Orchestrator) track(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[s.ID] = s
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}
