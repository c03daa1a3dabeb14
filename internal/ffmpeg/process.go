package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	// ErrChannelTaken is returned when a process channel has already been handed out.
	ErrChannelTaken = errors.New("process channel already taken")
	// ErrChannelUnavailable is returned when a process channel was never created.
	ErrChannelUnavailable = errors.New("process channel not available")
)

// defaultWaitDelay bounds how long Wait blocks on I/O after the process is killed.
const defaultWaitDelay = 5 * time.Second

// Spawner starts transcoder processes.
type Spawner interface {
	Spawn(ctx context.Context, dir string, args []string) (*Process, error)
}

// Runner spawns a fixed binary through os/exec.
type Runner struct {
	binary    string
	waitDelay time.Duration
	logger    *slog.Logger
}

// NewRunner returns a Runner for the given binary path.
func NewRunner(binary string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{binary: binary, waitDelay: defaultWaitDelay, logger: logger}
}

// Binary returns the binary this runner executes.
func (r *Runner) Binary() string {
	return r.binary
}

// Spawn starts the binary with args in dir. The process is killed when ctx is done.
// All three standard channels are piped; each must be taken exactly once.
func (r *Runner) Spawn(ctx context.Context, dir string, args []string) (*Process, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("checking working directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", dir)
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = dir
	cmd.WaitDelay = r.waitDelay

	p := &Process{cmd: cmd}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	p.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.closePipes()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	p.stdout = stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.closePipes()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	p.stderr = stderr

	if err := cmd.Start(); err != nil {
		p.closePipes()
		return nil, fmt.Errorf("starting %s: %w", r.binary, err)
	}
	p.startedAt = time.Now()

	r.logger.Debug("transcoder started",
		slog.String("binary", r.binary),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("dir", dir),
		slog.Any("args", args),
	)

	return p, nil
}

// Process is a running transcoder with three single-owner channels.
type Process struct {
	cmd       *exec.Cmd
	startedAt time.Time

	mu          sync.Mutex
	stdin       io.WriteCloser
	stdout      io.ReadCloser
	stderr      io.ReadCloser
	stdinTaken  bool
	stdoutTaken bool
	stderrTaken bool
}

// TakeStdin hands out the input channel. Closing it signals end of input.
func (p *Process) TakeStdin() (io.WriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdinTaken {
		return nil, fmt.Errorf("stdin: %w", ErrChannelTaken)
	}
	if p.stdin == nil {
		return nil, fmt.Errorf("stdin: %w", ErrChannelUnavailable)
	}
	p.stdinTaken = true
	return p.stdin, nil
}

// TakeStdout hands out the primary output channel.
func (p *Process) TakeStdout() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdoutTaken {
		return nil, fmt.Errorf("stdout: %w", ErrChannelTaken)
	}
	if p.stdout == nil {
		return nil, fmt.Errorf("stdout: %w", ErrChannelUnavailable)
	}
	p.stdoutTaken = true
	return p.stdout, nil
}

// TakeStderr hands out the diagnostic output channel.
func (p *Process) TakeStderr() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stderrTaken {
		return nil, fmt.Errorf("stderr: %w", ErrChannelTaken)
	}
	if p.stderr == nil {
		return nil, fmt.Errorf("stderr: %w", ErrChannelUnavailable)
	}
	p.stderrTaken = true
	return p.stderr, nil
}

// Pid returns the process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns when the process was started.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Kill terminates the process immediately. Killing an exited process is not an error.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// CloseOutputs closes the read ends of stdout and stderr, unblocking any
// reader. Used when a session is aborted and remaining output is irrelevant.
func (p *Process) CloseOutputs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdout != nil {
		_ = p.stdout.Close()
	}
	if p.stderr != nil {
		_ = p.stderr.Close()
	}
}

// Wait blocks until the process exits. It must only be called after every
// reader of stdout and stderr has finished, since it closes those pipes.
// A non-zero exit is reported as *ExitError.
func (p *Process) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), State: exitErr.String()}
	}
	return fmt.Errorf("waiting for process: %w", err)
}

func (p *Process) closePipes() {
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	if p.stdout != nil {
		_ = p.stdout.Close()
		p.stdout = nil
	}
	if p.stderr != nil {
		_ = p.stderr.Close()
		p.stderr = nil
	}
}

// ExitError reports a transcoder that exited unsuccessfully.
type ExitError struct {
	// Code is the exit status, or -1 when the process was killed by a signal.
	Code  int
	State string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("transcoder exited: %s", e.State)
}
