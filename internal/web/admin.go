package web

import (
	"net/http"
	"net/mail"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/trendlens"
)

// requireAdmin gates the console api. Non-admins get the envelope; the
// backend still enforces the same rule on its side of every proxied call.
func (s *Server) requireAdmin(r *http.Request) error {
	if !s.resolveAccess(r).IsAdmin() {
		return tlerrs.E(http.StatusForbidden, "admin access required")
	}
	return nil
}

// getAdminConsole answers the console page. Non-admins get the denied
// view, a real page state rather than an error.
func (s *Server) getAdminConsole(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx = r.Context()
		id  = ident(r)
	)

	if !s.resolveAccess(r).IsAdmin() {
		return WriteJSON(w, http.StatusOK, struct {
			View string `json:"view"`
		}{View: ViewDenied})
	}

	var (
		requests []trendlens.AccessRequest
		admins   []trendlens.Admin
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		requests, err = s.backend.AccessRequests(gctx, id.Token, trendlens.RequestPending)
		return err
	})
	g.Go(func() error {
		var err error
		admins, err = s.backend.Admins(gctx, id.Token)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if requests == nil {
		requests = []trendlens.AccessRequest{}
	}
	if admins == nil {
		admins = []trendlens.Admin{}
	}

	return WriteJSON(w, http.StatusOK, struct {
		View     string                    `json:"view"`
		Requests []trendlens.AccessRequest `json:"requests"`
		Admins   []trendlens.Admin         `json:"admins"`
	}{
		View:     ViewContent,
		Requests: requests,
		Admins:   admins,
	})
}

func (s *Server) getAccessRequests(w http.ResponseWriter, r *http.Request) error {
	if err := s.requireAdmin(r); err != nil {
		return err
	}

	status := trendlens.RequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "", trendlens.RequestPending, trendlens.RequestApproved, trendlens.RequestRejected:
	default:
		return tlerrs.E(http.StatusUnprocessableEntity, "unknown request status filter")
	}

	requests, err := s.backend.AccessRequests(r.Context(), ident(r).Token, status)
	if err != nil {
		return err
	}
	if requests == nil {
		requests = []trendlens.AccessRequest{}
	}

	return WriteJSON(w, http.StatusOK, struct {
		Requests []trendlens.AccessRequest `json:"requests"`
	}{Requests: requests})
}

// postApproveRequest grants a pending request. Any session's resolved
// access may just have changed, so every cached state goes.
func (s *Server) postApproveRequest(w http.ResponseWriter, r *http.Request) error {
	if err := s.requireAdmin(r); err != nil {
		return err
	}

	if err := s.backend.ApproveAccessRequest(r.Context(), ident(r).Token, mux.Vars(r)["requestID"]); err != nil {
		return err
	}
	s.access.InvalidateAll()

	return WriteJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) postRejectRequest(w http.ResponseWriter, r *http.Request) error {
	if err := s.requireAdmin(r); err != nil {
		return err
	}

	if err := s.backend.RejectAccessRequest(r.Context(), ident(r).Token, mux.Vars(r)["requestID"]); err != nil {
		return err
	}
	s.access.InvalidateAll()

	return WriteJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) getAdmins(w http.ResponseWriter, r *http.Request) error {
	if err := s.requireAdmin(r); err != nil {
		return err
	}

	admins, err := s.backend.Admins(r.Context(), ident(r).Token)
	if err != nil {
		return err
	}
	if admins == nil {
		admins = []trendlens.Admin{}
	}

	return WriteJSON(w, http.StatusOK, struct {
		Admins []trendlens.Admin `json:"admins"`
	}{Admins: admins})
}

type addAdminReq struct {
	Email string `json:"email"`
}

func (a addAdminReq) Validate() error {
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return tlerrs.E(http.StatusUnprocessableEntity, "check the highlighted fields", tlerrs.Detail{
			Field: "email",
			Error: "enter a valid email address",
		})
	}
	return nil
}

func (s *Server) postAdmin(w http.ResponseWriter, r *http.Request) error {
	if err := s.requireAdmin(r); err != nil {
		return err
	}

	req, err := DecodeValid[addAdminReq](r.Body)
	if err != nil {
		return err
	}

	admin, err := s.backend.AddAdmin(r.Context(), ident(r).Token, req.Email)
	if err != nil {
		return err
	}
	s.access.InvalidateAll()

	return WriteJSON(w, http.StatusCreated, admin)
}

func (s *Server) deleteAdmin(w http.ResponseWriter, r *http.Request) error {
	if err := s.requireAdmin(r); err != nil {
		return err
	}

	if err := s.backend.RemoveAdmin(r.Context(), ident(r).Token, mux.Vars(r)["adminID"]); err != nil {
		return err
	}
	s.access.InvalidateAll()

	w.WriteHeader(http.StatusNoContent)
	return nil
}
