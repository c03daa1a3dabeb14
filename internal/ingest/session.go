package ingest

import (
	"sync"
	"time"
)

// Phase is the lifecycle position of an upload session. Phases only move
// forward; Finished and Failed are terminal.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseDirectoryReady
	PhaseProcessSpawned
	PhaseFeedingInput
	PhaseAwaitingFirstArtifact
	PhaseReady
	PhaseFinished
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseCreated:               "created",
	PhaseDirectoryReady:        "directory_ready",
	PhaseProcessSpawned:        "process_spawned",
	PhaseFeedingInput:          "feeding_input",
	PhaseAwaitingFirstArtifact: "awaiting_first_artifact",
	PhaseReady:                 "ready",
	PhaseFinished:              "finished",
	PhaseFailed:                "failed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseFailed
}

// Session is the in-memory state of one upload.
type Session struct {
	ID        string
	Dir       string
	Options   Options
	StartedAt time.Time

	mu      sync.Mutex
	phase   Phase
	failure error
}

func newSession(id string, opts Options) *Session {
	return &Session{ID: id, Options: opts, StartedAt: time.Now(), phase: PhaseCreated}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Failure returns the error that failed the session, if any.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// advance moves to p if p is later than the current phase. It reports
// whether the transition happened.
func (s *Session) advance(p Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() || p <= s.phase || p == PhaseFailed {
		return false
	}
	s.phase = p
	return true
}

// fail moves the session to Failed unless it already terminated.
func (s *Session) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return false
	}
	s.phase = PhaseFailed
	s.failure = err
	return true
}
