// Package progress drives the staged indicator shown while an analyze run
// is in flight.
//
// The stages are cosmetic: they advance on a fixed tick no matter what the
// backend is actually doing, and they cap at the last stage until the run
// finishes or fails. The ticker behind a run is cleared exactly once, on
// whichever of finish or fail happens first.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trendlens/trendlens/internal/trendlens"
)

// Stages are the labels shown to the user, in order.
var Stages = []string{
	"Collecting sources",
	"Crawling discussions",
	"Summarizing with AI",
	"Scoring sentiment",
	"Composing report",
}

// ErrInFlight is returned by Begin while the owner already has a run going.
var ErrInFlight = errors.New("an analysis is already running")

// Snapshot is the state of one run at a point in time.
type Snapshot struct {
	ID     string                 `json:"id"`
	Stage  int                    `json:"stage"`
	Label  string                 `json:"label"`
	Done   bool                   `json:"done"`
	Report *trendlens.TrendReport `json:"report,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

type run struct {
	mu     sync.Mutex
	id     string
	owner  string
	stage  int
	done   bool
	report *trendlens.TrendReport
	errMsg string

	stop    chan struct{}
	stopped sync.Once
	cleanup *time.Timer
}

// Tracker owns every live run. One owner (a session) can have at most one
// run in flight; finished runs stay queryable for a grace period so a
// caller that polls just after completion still gets the result.
type Tracker struct {
	interval time.Duration
	grace    time.Duration

	mu     sync.Mutex
	runs   map[string]*run
	owners map[string]string
	closed bool
}

// NewTracker creates a tracker advancing stages every interval and keeping
// finished runs around for grace.
func NewTracker(interval, grace time.Duration) *Tracker {
	return &Tracker{
		interval: interval,
		grace:    grace,
		runs:     map[string]*run{},
		owners:   map[string]string{},
	}
}

// Begin starts a run for the owner and returns its id. While the owner has
// a run in flight it returns ErrInFlight, which is what disables
// resubmission until the current run completes or fails.
func (t *Tracker) Begin(owner string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", errors.New("tracker is closed")
	}
	if _, ok := t.owners[owner]; ok {
		return "", ErrInFlight
	}

	r := &run{
		id:    fmt.Sprintf("%s-run", uuid.NewString()),
		owner: owner,
		stop:  make(chan struct{}),
	}
	t.runs[r.id] = r
	t.owners[owner] = r.id

	go t.advance(r)

	return r.id, nil
}

// advance ticks the run through the stages, capping at the last one.
func (t *Tracker) advance(r *run) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.stage < len(Stages)-1 {
				r.stage++
			}
			r.mu.Unlock()
		}
	}
}

// Finish completes the run with its report and frees the owner for the next
// submission.
func (t *Tracker) Finish(id string, report *trendlens.TrendReport) {
	t.settle(id, func(r *run) {
		r.report = report
	})
}

// Fail completes the run with an error message and frees the owner.
func (t *Tracker) Fail(id string, msg string) {
	t.settle(id, func(r *run) {
		r.errMsg = msg
	})
}

func (t *Tracker) settle(id string, fill func(*run)) {
	t.mu.Lock()
	r, ok := t.runs[id]
	if ok {
		delete(t.owners, r.owner)
	}
	closed := t.closed
	t.mu.Unlock()
	if !ok {
		return
	}

	// Whichever of Finish or Fail lands first clears the ticker; a second
	// call must not touch the outcome again.
	r.stopped.Do(func() {
		close(r.stop)

		r.mu.Lock()
		r.done = true
		fill(r)
		if !closed {
			r.cleanup = time.AfterFunc(t.grace, func() { t.remove(id) })
		}
		r.mu.Unlock()
	})
}

func (t *Tracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.runs, id)
}

// Snapshot returns the current state of the run, if it is still known.
func (t *Tracker) Snapshot(id string) (Snapshot, bool) {
	t.mu.Lock()
	r, ok := t.runs[id]
	t.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:     r.id,
		Stage:  r.stage,
		Label:  Stages[r.stage],
		Done:   r.done,
		Report: r.report,
		Error:  r.errMsg,
	}, true
}

// InFlight reports whether the owner currently has a run going, and its id.
func (t *Tracker) InFlight(owner string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.owners[owner]
	return id, ok
}

// Close stops every live ticker and cleanup timer. The tracker rejects new
// runs afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	runs := make([]*run, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, r)
	}
	t.runs = map[string]*run{}
	t.owners = map[string]string{}
	t.mu.Unlock()

	for _, r := range runs {
		r.stopped.Do(func() {
			close(r.stop)
		})
		r.mu.Lock()
		if r.cleanup != nil {
			r.cleanup.Stop()
		}
		r.mu.Unlock()
	}
}
