// Package access resolves a user's digest-access state.
//
// Resolution always fails closed: until the backend has answered for this
// identity, or whenever asking it fails, the state is none and every
// gated surface treats the user as having no access.
package access

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trendlens/trendlens/internal/trendlens"
)

// StatusFetcher asks the backend for the caller's access state. The
// production implementation is the backend client.
type StatusFetcher interface {
	AccessStatus(ctx context.Context, token string) (trendlens.AccessStatus, error)
}

// Identity is the slice of session state resolution depends on.
type Identity struct {
	SessionID string
	UserID    string
	Token     string
}

type entry struct {
	status  trendlens.AccessStatus
	userID  string
	fetched time.Time
}

// Resolver caches resolved states per session for a short TTL so every
// page paint does not cost a backend round trip. A cached state is only
// valid for the identity that fetched it: if the session's user changes,
// the cache misses and the state is re-resolved.
type Resolver struct {
	backend StatusFetcher
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]entry
}

// NewResolver builds a resolver caching successful lookups for ttl.
func NewResolver(backend StatusFetcher, ttl time.Duration) *Resolver {
	return &Resolver{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		cache:   map[string]entry{},
	}
}

// Resolve returns the current access state for the identity. Failures are
// logged and come back as none; they are never cached, so the next
// navigation asks again.
func (r *Resolver) Resolve(ctx context.Context, ident Identity) trendlens.AccessStatus {
	r.mu.Lock()
	e, ok := r.cache[ident.SessionID]
	r.mu.Unlock()

	if ok && e.userID == ident.UserID && r.now().Sub(e.fetched) < r.ttl {
		return e.status
	}

	status, err := r.backend.AccessStatus(ctx, ident.Token)
	if err != nil {
		slog.WarnContext(ctx, "error resolving digest access, failing closed", "err", err)
		return trendlens.AccessNone
	}
	if status == trendlens.AccessUnknown {
		status = trendlens.AccessNone
	}

	r.mu.Lock()
	r.cache[ident.SessionID] = entry{
		status:  status,
		userID:  ident.UserID,
		fetched: r.now(),
	}
	r.mu.Unlock()

	return status
}

// Invalidate drops the cached state for one session, forcing the next
// Resolve to ask the backend. Called after the user submits an access
// request, since their state just moved to pending.
func (r *Resolver) Invalidate(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cache, sessionID)
}

// InvalidateAll drops every cached state. Called after an admin approves or
// rejects a request, since any session's state may have changed.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = map[string]entry{}
}
