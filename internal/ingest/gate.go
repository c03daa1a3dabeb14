package ingest

import (
	"context"
	"sync"
	"sync/atomic"
)

// Gate persists the stream record the first time it is triggered. Later
// triggers are no-ops that return the first outcome.
type Gate struct {
	once      sync.Once
	persist   func(ctx context.Context) error
	onReady   func(ctx context.Context)
	err       error
	persisted atomic.Bool
}

// NewGate returns a gate that calls persist on first trigger, then onReady
// (which may be nil) if persist succeeded.
func NewGate(persist func(ctx context.Context) error, onReady func(ctx context.Context)) *Gate {
	return &Gate{persist: persist, onReady: onReady}
}

// Trigger fires the gate. It is safe for concurrent use; concurrent callers
// block until the first trigger has completed.
func (g *Gate) Trigger(ctx context.Context) error {
	g.once.Do(func() {
		g.err = g.persist(ctx)
		if g.err != nil {
			return
		}
		g.persisted.Store(true)
		if g.onReady != nil {
			g.onReady(ctx)
		}
	})
	return g.err
}

// Persisted reports whether the record was written.
func (g *Gate) Persisted() bool {
	return g.persisted.Load()
}
