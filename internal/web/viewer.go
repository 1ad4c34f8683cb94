package web

import (
	"net/http"

	"github.com/trendlens/trendlens/internal/access"
	"github.com/trendlens/trendlens/internal/trendlens"
)

// getLanding answers the marketing page's view model. Signed-in visitors
// get told so the call to action can point at the dashboard instead.
func (s *Server) getLanding(w http.ResponseWriter, r *http.Request) error {
	id := ident(r)

	return WriteJSON(w, http.StatusOK, struct {
		View          string `json:"view"`
		Authenticated bool   `json:"authenticated"`
	}{
		View:          ViewContent,
		Authenticated: id.SessionID != "",
	})
}

func (s *Server) getLoginPage(w http.ResponseWriter, r *http.Request) error {
	if id := ident(r); id.SessionID != "" {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return nil
	}

	return WriteJSON(w, http.StatusOK, struct {
		View         string `json:"view"`
		OAuthEnabled bool   `json:"oauth_enabled"`
	}{
		View:         ViewForm,
		OAuthEnabled: s.idp.OAuthEnabled(),
	})
}

func (s *Server) getSignupPage(w http.ResponseWriter, r *http.Request) error {
	if id := ident(r); id.SessionID != "" {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return nil
	}

	return WriteJSON(w, http.StatusOK, struct {
		View         string `json:"view"`
		OAuthEnabled bool   `json:"oauth_enabled"`
	}{
		View:         ViewForm,
		OAuthEnabled: s.idp.OAuthEnabled(),
	})
}

type viewerResp struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	AccessStatus  string `json:"access_status,omitempty"`
	IsAdmin       bool   `json:"is_admin"`
}

// getViewer is the who-am-I call every page makes on mount. It never
// errors for anonymous callers; the renderer needs the false case too.
func (s *Server) getViewer(w http.ResponseWriter, r *http.Request) error {
	id := ident(r)
	if id.SessionID == "" {
		return WriteJSON(w, http.StatusOK, viewerResp{})
	}

	status := s.resolveAccess(r)

	return WriteJSON(w, http.StatusOK, viewerResp{
		Authenticated: true,
		UserID:        id.UserID,
		Email:         id.Email,
		AccessStatus:  string(status),
		IsAdmin:       status.IsAdmin(),
	})
}

// resolveAccess is the shared shim from a request identity to the access
// resolver.
func (s *Server) resolveAccess(r *http.Request) trendlens.AccessStatus {
	id := ident(r)
	return s.access.Resolve(r.Context(), access.Identity{
		SessionID: id.SessionID,
		UserID:    id.UserID,
		Token:     id.Token,
	})
}
