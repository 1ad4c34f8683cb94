// Package digestview tracks what a digest screen should currently render.
//
// A view is a small state machine fed from two directions: fetch results
// when the user navigates, and realtime row changes pushed by the backend
// while they watch. Both paths funnel through the same transitions so the
// screen can never show a state the data does not support.
package digestview

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/trendlens/trendlens/internal/realtime"
	"github.com/trendlens/trendlens/internal/trendlens"
)

// State is what the digest screen renders.
type State string

const (
	// StateLoading is the initial state before the first fetch resolves.
	StateLoading State = "loading"
	// StateNone means no digest row exists yet for the view's identity.
	StateNone State = "none"
	// StateCollecting and StateAnalyzing mirror the pipeline phases.
	StateCollecting State = "collecting"
	StateAnalyzing  State = "analyzing"
	// StateCompleted means a digest with a full payload is ready.
	StateCompleted State = "completed"
	// StateFailed means the pipeline reported failure for this digest.
	StateFailed State = "failed"
	// StateError means the fetch itself failed. It is terminal: the screen
	// shows the error until the user navigates again, which builds a new
	// view.
	StateError State = "error"
)

// Snapshot is the renderable state of a view at a point in time. Version
// increases on every transition so consumers can tell snapshots apart.
type Snapshot struct {
	State   State                  `json:"state"`
	Digest  *trendlens.DailyDigest `json:"digest,omitempty"`
	Version uint64                 `json:"version"`
}

// View is the state machine behind one digest screen for one session.
type View struct {
	mu sync.Mutex

	// Identity: either a known digest id, or a digest date for the today
	// screen before its row exists. A matching row adopts the id.
	digestID string
	date     string

	state    State
	digest   *trendlens.DailyDigest
	version  uint64
	watchers map[chan Snapshot]struct{}
}

// NewView builds a view for a known digest id, starting in loading.
func NewView(digestID string) *View {
	return &View{
		digestID: digestID,
		state:    StateLoading,
		watchers: map[chan Snapshot]struct{}{},
	}
}

// NewTodayView builds a view identified by digest date, for the today
// screen when no row may exist yet.
func NewTodayView(date string) *View {
	return &View{
		date:     date,
		state:    StateLoading,
		watchers: map[chan Snapshot]struct{}{},
	}
}

// Snapshot returns the current renderable state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	return Snapshot{
		State:   v.state,
		Digest:  v.digest,
		Version: v.version,
	}
}

// SetFetched feeds the result of a navigation fetch into the machine. A
// not-found means no row exists yet; any other error is terminal for this
// view.
func (v *View) SetFetched(d trendlens.DailyDigest, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case errors.Is(err, trendlens.ErrNotFound):
		v.transition(StateNone, nil)
	case err != nil:
		v.transition(StateError, nil)
	default:
		v.adopt(d)
	}
}

// Apply feeds one realtime row change into the machine. It reports whether
// the event matched the view's identity and was applied; mismatched rows
// are ignored so a shared channel can carry other sessions' digests.
func (v *View) Apply(ev realtime.Event) bool {
	var row trendlens.DailyDigest
	if err := json.Unmarshal(ev.New, &row); err != nil {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateError {
		// The screen already gave up; a new navigation builds a new view.
		return false
	}
	if !v.matches(row) {
		return false
	}

	v.adopt(row)
	return true
}

func (v *View) matches(row trendlens.DailyDigest) bool {
	if v.digestID != "" {
		return row.ID == v.digestID
	}
	return v.date != "" && row.DigestDate == v.date
}

// adopt maps a digest row onto a view state. Callers hold v.mu.
func (v *View) adopt(d trendlens.DailyDigest) {
	if v.digestID == "" {
		v.digestID = d.ID
	}

	switch d.Status {
	case trendlens.DigestCollecting:
		v.transition(StateCollecting, &d)
	case trendlens.DigestAnalyzing:
		v.transition(StateAnalyzing, &d)
	case trendlens.DigestFailed:
		v.transition(StateFailed, &d)
	case trendlens.DigestCompleted:
		if d.HasPayload() {
			v.transition(StateCompleted, &d)
			return
		}
		// Completed with no body yet: the row write is still racing the
		// status flip. Stay on the skeleton until the payload shows up.
		v.transition(StateAnalyzing, &d)
	default:
		v.transition(StateAnalyzing, &d)
	}
}

// transition records the new state and wakes the watchers. Callers hold
// v.mu.
func (v *View) transition(state State, d *trendlens.DailyDigest) {
	v.state = state
	v.digest = d
	v.version++

	snap := v.snapshotLocked()
	for ch := range v.watchers {
		// Watchers keep only the latest snapshot: drop the stale one if
		// the consumer has not caught up.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Watch registers a watcher primed with the current snapshot. The returned
// stop func unregisters it and is safe to call more than once.
func (v *View) Watch() (<-chan Snapshot, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- v.snapshotLocked()
	v.watchers[ch] = struct{}{}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.watchers, ch)
		})
	}
	return ch, stop
}

// DigestID returns the adopted digest id, empty while a today view has not
// seen its row yet.
func (v *View) DigestID() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.digestID
}

// Registry hands out the per-session digest views. Views persist between
// requests so the machine's state survives the gap between a page load and
// its event stream attaching.
type Registry struct {
	mu    sync.Mutex
	views map[viewKey]*View
}

type viewKey struct {
	sessionID string
	name      string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: map[viewKey]*View{}}
}

// View returns the session's view for a known digest id, creating it on
// first use.
func (r *Registry) View(sessionID, digestID string) *View {
	return r.get(viewKey{sessionID, "id:" + digestID}, func() *View {
		return NewView(digestID)
	})
}

// TodayView returns the session's view for the today screen on the given
// date, creating it on first use.
func (r *Registry) TodayView(sessionID, date string) *View {
	return r.get(viewKey{sessionID, "today:" + date}, func() *View {
		return NewTodayView(date)
	})
}

func (r *Registry) get(key viewKey, build func() *View) *View {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.views[key]; ok {
		return v
	}
	v := build()
	r.views[key] = v
	return v
}

// Drop discards every view belonging to the session. Used on sign-out and
// identity change: views are rebuilt for the new identity, never reused.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.views {
		if key.sessionID == sessionID {
			delete(r.views, key)
		}
	}
}
