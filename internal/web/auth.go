package web

import (
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"

	"github.com/google/uuid"

	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/session"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentialsReq) Validate() error {
	var details []tlerrs.Detail
	if _, err := mail.ParseAddress(c.Email); err != nil {
		details = append(details, tlerrs.Detail{Field: "email", Error: "enter a valid email address"})
	}
	if len(c.Password) < 8 {
		details = append(details, tlerrs.Detail{Field: "password", Error: "use at least 8 characters"})
	}
	if len(details) > 0 {
		return tlerrs.E(http.StatusUnprocessableEntity, "check the highlighted fields", details)
	}
	return nil
}

// sessionResp is what the auth actions answer with on success.
type sessionResp struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func (s *Server) postLogin(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	req, err := DecodeValid[credentialsReq](r.Body)
	if err != nil {
		return err
	}

	grant, err := s.idp.PasswordSignIn(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	// Signing in replaces whatever session the browser had. Everything
	// scoped to the old identity goes with it.
	if old, ok := s.sessions.Resolve(r); ok {
		s.dropSessionState(old.SessionID)
		s.sessions.Destroy(ctx, w, old.SessionID)
	}

	sess, err := s.sessions.Establish(ctx, w, grant)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "signed in", "user_id", sess.UserID)
	return WriteJSON(w, http.StatusOK, sessionResp{UserID: sess.UserID, Email: sess.Email})
}

func (s *Server) postSignup(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	req, err := DecodeValid[credentialsReq](r.Body)
	if err != nil {
		return err
	}

	grant, err := s.idp.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	// Providers needing email confirmation hand back a grant with no
	// tokens. Nothing to establish yet.
	if grant.AccessToken == "" {
		return WriteJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
		}{Status: "confirmation_required"})
	}

	sess, err := s.sessions.Establish(ctx, w, grant)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "signed up", "user_id", sess.UserID)
	return WriteJSON(w, http.StatusOK, sessionResp{UserID: sess.UserID, Email: sess.Email})
}

func (s *Server) postLogout(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	if ident, ok := s.sessions.Resolve(r); ok {
		s.dropSessionState(ident.SessionID)
		s.sessions.Destroy(ctx, w, ident.SessionID)
	}

	return WriteJSON(w, http.StatusOK, struct{}{})
}

// dropSessionState clears everything keyed to a session id: caches, digest
// views, resolved access. Sign-out and identity changes both come through
// here so stale state never leaks across identities.
func (s *Server) dropSessionState(sessionID string) {
	s.caches.Drop(sessionID)
	s.views.Drop(sessionID)
	s.access.Invalidate(sessionID)
}

// getOAuthRedirect bounces the browser to the identity provider, stashing
// a nonce in the cookie to check on the way back.
func (s *Server) getOAuthRedirect(w http.ResponseWriter, r *http.Request) error {
	if !s.idp.OAuthEnabled() {
		return tlerrs.E(http.StatusNotFound, "single sign-on is not configured")
	}

	state := session.CookieState{Nonce: uuid.NewString()}
	s.sessions.WriteState(w, state)

	http.Redirect(w, r, s.idp.AuthCodeURL(state.Nonce), http.StatusTemporaryRedirect)
	return nil
}

// getOAuthCallback handles the code coming back from the provider.
// Everything here redirects: the user is mid-navigation, not in an api
// call.
func (s *Server) getOAuthCallback(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	state := s.sessions.ReadState(r)
	q := r.URL.Query()
	if q.Get("state") == "" || q.Get("state") != state.Nonce {
		http.Redirect(w, r, "/login?error="+url.QueryEscape("invalid_state"), http.StatusFound)
		return nil
	}
	if q.Get("error") != "" {
		http.Redirect(w, r, "/login?error="+url.QueryEscape(q.Get("error")), http.StatusFound)
		return nil
	}

	grant, err := s.idp.ExchangeCode(ctx, q.Get("code"))
	if err != nil {
		http.Redirect(w, r, "/login?error="+url.QueryEscape(tlerrs.MessageOf(err)), http.StatusFound)
		return nil
	}

	if _, err := s.sessions.Establish(ctx, w, grant); err != nil {
		http.Redirect(w, r, "/login?error="+url.QueryEscape("could not establish session"), http.StatusFound)
		return nil
	}

	http.Redirect(w, r, "/dashboard", http.StatusFound)
	return nil
}
