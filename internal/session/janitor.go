package session

import (
	"context"
	"log/slog"
	"time"
)

// Gauge receives the live session count after each sweep. A nil Gauge is
// allowed.
type Gauge interface {
	SetLiveSessions(n int)
}

// Janitor sweeps session rows whose tokens expired too long ago to ever
// refresh again.
type Janitor struct {
	store *Store
	every time.Duration
	grace time.Duration
	gauge Gauge
}

// NewJanitor sweeps every interval, deleting rows expired for longer than
// grace.
func NewJanitor(store *Store, every, grace time.Duration, gauge Gauge) *Janitor {
	return &Janitor{
		store: store,
		every: every,
		grace: grace,
		gauge: gauge,
	}
}

// Run sweeps until the context ends. It always returns the context's
// error, so it slots straight into a run group.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.grace)
	n, err := j.store.DeleteStale(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "error sweeping sessions", "err", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "swept stale sessions", "deleted", n)
	}

	if j.gauge == nil {
		return
	}
	count, err := j.store.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "error counting sessions", "err", err)
		return
	}
	j.gauge.SetLiveSessions(count)
}
