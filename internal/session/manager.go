package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/identity"
	"github.com/trendlens/trendlens/internal/trendlens"
)

// Provider is the slice of the identity client the manager needs.
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (identity.Grant, error)
	SignOut(ctx context.Context, accessToken string) error
}

// refreshMargin is how close to token expiry a request triggers a refresh,
// so the backend never sees a token that dies mid-call.
const refreshMargin = time.Minute

// defaultTokenTTL covers providers that omit expires_in.
const defaultTokenTTL = time.Hour

// Manager resolves cookies into identities and owns sign-in and sign-out
// persistence.
type Manager struct {
	store   *Store
	cookies *Cookies
	idp     Provider
	maxAge  time.Duration
	now     func() time.Time

	// Serializes token refreshes. Providers rotate refresh tokens, so two
	// racing refreshes for one session would burn the same token twice.
	refreshMu sync.Mutex
}

// NewManager wires the store, cookie codec, and identity provider
// together. maxAge is the absolute session lifetime regardless of token
// refreshes.
func NewManager(store *Store, cookies *Cookies, idp Provider, maxAge time.Duration) *Manager {
	return &Manager{
		store:   store,
		cookies: cookies,
		idp:     idp,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Establish creates a session row for the grant and points the browser's
// cookie at it.
func (m *Manager) Establish(ctx context.Context, w http.ResponseWriter, g identity.Grant) (Session, error) {
	ttl := defaultTokenTTL
	if g.ExpiresIn > 0 {
		ttl = time.Duration(g.ExpiresIn) * time.Second
	}

	sess, err := m.store.Create(ctx, Session{
		UserID:       g.User.ID,
		Email:        g.User.Email,
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    m.now().UTC().Add(ttl),
	})
	if err != nil {
		return Session{}, err
	}

	m.cookies.Write(w, CookieState{SessionID: sess.ID})
	return sess, nil
}

// Destroy deletes the session and clears the cookie. Revoking the token
// upstream is best effort.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, sessionID string) {
	if sess, err := m.store.Get(ctx, sessionID); err == nil {
		if err := m.idp.SignOut(ctx, sess.AccessToken); err != nil {
			slog.WarnContext(ctx, "error revoking token on sign-out", "err", err)
		}
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		slog.ErrorContext(ctx, "error deleting session", "err", err)
	}
	m.cookies.Clear(w)
}

// Resolve turns the request's cookie into an identity, refreshing the
// token when it is about to expire. A false return means signed out, for
// whatever reason; resolution never errors at the caller.
func (m *Manager) Resolve(r *http.Request) (Identity, bool) {
	state := m.cookies.Read(r)
	if state.SessionID == "" {
		return Identity{}, false
	}

	ctx := r.Context()
	sess, err := m.store.Get(ctx, state.SessionID)
	if errors.Is(err, trendlens.ErrNotFound) {
		return Identity{}, false
	}
	if err != nil {
		slog.ErrorContext(ctx, "error resolving session", "err", err)
		return Identity{}, false
	}

	now := m.now().UTC()
	if now.After(sess.CreatedAt.Add(m.maxAge)) {
		if err := m.store.Delete(ctx, sess.ID); err != nil {
			slog.ErrorContext(ctx, "error deleting aged-out session", "err", err)
		}
		return Identity{}, false
	}

	if now.After(sess.ExpiresAt.Add(-refreshMargin)) {
		sess, err = m.refresh(ctx, sess)
		if err != nil {
			slog.WarnContext(ctx, "error refreshing session, signing out", "err", err)
			if err := m.store.Delete(ctx, sess.ID); err != nil {
				slog.ErrorContext(ctx, "error deleting unrefreshable session", "err", err)
			}
			return Identity{}, false
		}
	}

	return Identity{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Email:     sess.Email,
		Token:     sess.AccessToken,
	}, true
}

func (m *Manager) refresh(ctx context.Context, sess Session) (Session, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another request may have refreshed while we waited.
	cur, err := m.store.Get(ctx, sess.ID)
	if err != nil {
		return sess, err
	}
	if m.now().UTC().Before(cur.ExpiresAt.Add(-refreshMargin)) {
		return cur, nil
	}

	g, err := m.idp.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return cur, err
	}

	ttl := defaultTokenTTL
	if g.ExpiresIn > 0 {
		ttl = time.Duration(g.ExpiresIn) * time.Second
	}
	expiresAt := m.now().UTC().Add(ttl)
	if err := m.store.UpdateTokens(ctx, cur.ID, g.AccessToken, g.RefreshToken, expiresAt); err != nil {
		return cur, err
	}

	cur.AccessToken = g.AccessToken
	cur.RefreshToken = g.RefreshToken
	cur.ExpiresAt = expiresAt
	return cur, nil
}

// ReadState exposes the raw cookie state for the OAuth callback's nonce
// check.
func (m *Manager) ReadState(r *http.Request) CookieState {
	return m.cookies.Read(r)
}

// WriteState sets raw cookie state, used to carry the OAuth nonce through
// the provider redirect.
func (m *Manager) WriteState(w http.ResponseWriter, state CookieState) {
	m.cookies.Write(w, state)
}

type ctxKey string

const identityKey ctxKey = "identity"

// ContextWith returns a context carrying the identity. Exposed for tests
// and for the middleware below.
func ContextWith(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// FromContext returns the identity the middleware resolved, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok
}

// Attach resolves the session when one is present and never blocks the
// request. Public pages use this so they can still render viewer state.
func (m *Manager) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ident, ok := m.Resolve(r); ok {
			r = r.WithContext(ContextWith(r.Context(), ident))
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePage guards browser navigations: anonymous requests bounce to the
// login page, the way the client's route guard always did.
func (m *Manager) RequirePage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := m.Resolve(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWith(r.Context(), ident)))
	})
}

// RequireAPI guards data calls: anonymous requests get a 401 envelope for
// the frontend code to handle.
func (m *Manager) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := m.Resolve(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			if err := json.NewEncoder(w).Encode(tlerrs.E(http.StatusUnauthorized, "sign in to continue")); err != nil {
				slog.ErrorContext(r.Context(), "error writing unauthenticated response", "err", err)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWith(r.Context(), ident)))
	})
}
