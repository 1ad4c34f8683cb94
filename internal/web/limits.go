package web

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiters holds the per-session token buckets. Sessions that go quiet are
// swept so the maps do not grow with every visitor ever.
type limiters struct {
	mu      sync.Mutex
	general map[string]*limiterEntry
	analyze map[string]*limiterEntry

	generalLimit rate.Limit
	generalBurst int
	analyzeLimit rate.Limit
	analyzeBurst int

	stop     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const limiterIdle = 30 * time.Minute

func newLimiters(generalPerMin, analyzePerMin int) *limiters {
	return &limiters{
		general:      map[string]*limiterEntry{},
		analyze:      map[string]*limiterEntry{},
		generalLimit: rate.Every(time.Minute / time.Duration(max(generalPerMin, 1))),
		generalBurst: max(generalPerMin, 1),
		analyzeLimit: rate.Every(time.Minute / time.Duration(max(analyzePerMin, 1))),
		analyzeBurst: max(analyzePerMin, 1),
		stop:         make(chan struct{}),
	}
}

// Allow consumes one general api token for the key.
func (l *limiters) Allow(key string) bool {
	return l.take(l.general, key, l.generalLimit, l.generalBurst)
}

// AllowAnalyze consumes one analyze submission token for the key.
func (l *limiters) AllowAnalyze(key string) bool {
	return l.take(l.analyze, key, l.analyzeLimit, l.analyzeBurst)
}

func (l *limiters) take(m map[string]*limiterEntry, key string, limit rate.Limit, burst int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := m[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(limit, burst)}
		m[key] = e
	}
	e.seen = time.Now()

	return e.lim.Allow()
}

// Run sweeps idle entries until the context ends.
func (l *limiters) Run(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *limiters) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-limiterIdle)
	for _, m := range []map[string]*limiterEntry{l.general, l.analyze} {
		for key, e := range m {
			if e.seen.Before(cutoff) {
				delete(m, key)
			}
		}
	}
}

// Close stops Run if it is going.
func (l *limiters) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}
