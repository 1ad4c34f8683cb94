package web

import (
	"net/http"
)

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) error {
	id := ident(r)

	return WriteJSON(w, http.StatusOK, struct {
		View         string `json:"view"`
		UserID       string `json:"user_id"`
		Email        string `json:"email"`
		AccessStatus string `json:"access_status"`
	}{
		View:         ViewContent,
		UserID:       id.UserID,
		Email:        id.Email,
		AccessStatus: string(s.resolveAccess(r)),
	})
}

// getBindCode mints a short-lived code for linking the messaging bot.
// Fetched on demand from the settings page, never embedded in it.
func (s *Server) getBindCode(w http.ResponseWriter, r *http.Request) error {
	code, err := s.backend.BindCode(r.Context(), ident(r).Token)
	if err != nil {
		return err
	}

	return WriteJSON(w, http.StatusOK, code)
}
