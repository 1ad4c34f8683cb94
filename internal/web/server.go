// Package web is the HTTP tier of Trendlens: the routes the browser
// navigates, the /api endpoints the pages call, and the glue between the
// trend backend, the identity provider, and the per-session view state.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/trendlens/trendlens/internal/access"
	"github.com/trendlens/trendlens/internal/backend"
	"github.com/trendlens/trendlens/internal/digestview"
	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/identity"
	"github.com/trendlens/trendlens/internal/metrics"
	"github.com/trendlens/trendlens/internal/progress"
	"github.com/trendlens/trendlens/internal/realtime"
	"github.com/trendlens/trendlens/internal/session"
	"github.com/trendlens/trendlens/internal/viewcache"
)

// View states the client renderer switches on. Permission problems are
// dedicated states, never toasts.
const (
	ViewContent       = "content"
	ViewSkeleton      = "skeleton"
	ViewForm          = "form"
	ViewProgress      = "progress"
	ViewWaiting       = "waiting"
	ViewAccessRequest = "access-request"
	ViewDenied        = "denied"
	ViewFailed        = "failed"
	ViewError         = "error"
)

type (
	// Server owns the route table and every per-request dependency.
	Server struct {
		*http.Server

		cfg      Config
		backend  *backend.Client
		idp      *identity.Client
		sessions *session.Manager
		access   *access.Resolver
		caches   *viewcache.Registry
		views    *digestview.Registry
		relay    *realtime.Relay
		progress *progress.Tracker
		metrics  *metrics.Collector
		limits   *limiters
		scrub    *scrubber
	}

	Config struct {
		Port           int
		CORSOrigin     string
		PerPage        int
		BackendTimeout time.Duration
		AnalyzeTimeout time.Duration
		RateGeneral    int // general api requests per minute per session
		RateAnalyze    int // analyze submissions per minute per session
	}

	// Deps are the long-lived components the server glues together.
	Deps struct {
		Backend  *backend.Client
		Identity *identity.Client
		Sessions *session.Manager
		Access   *access.Resolver
		Caches   *viewcache.Registry
		Views    *digestview.Registry
		Relay    *realtime.Relay
		Progress *progress.Tracker
		Metrics  *metrics.Collector
		Gatherer http.Handler // the /metrics scrape endpoint
	}
)

// NewServer wires the whole route table. It does not start listening;
// that stays with the caller so shutdown ordering is its problem.
func NewServer(cfg Config, d Deps) *Server {
	r := ErrRouter{Router: mux.NewRouter()}

	srvr := Server{
		cfg:      cfg,
		backend:  d.Backend,
		idp:      d.Identity,
		sessions: d.Sessions,
		access:   d.Access,
		caches:   d.Caches,
		views:    d.Views,
		relay:    d.Relay,
		progress: d.Progress,
		metrics:  d.Metrics,
		limits:   newLimiters(cfg.RateGeneral, cfg.RateAnalyze),
		scrub:    newScrubber(),
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			ReadTimeout: 10 * time.Second,
			// No write timeout: digest event streams stay open as long as
			// the page is.
			WriteTimeout: 0,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{cfg.CORSOrigin}),
				handlers.AllowCredentials(),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(srvr.recoverMiddleware)
	r.Use(srvr.accessLogMiddleware)
	r.Use(srvr.metricsMiddleware)

	// Public surface. Attach resolves a session when one exists but never
	// turns anyone away.
	public := ErrRouter{Router: r.NewRoute().Subrouter()}
	public.Use(srvr.sessions.Attach)
	public.HandleFuncE("/", srvr.getLanding).Methods(http.MethodGet)
	public.HandleFuncE("/login", srvr.getLoginPage).Methods(http.MethodGet)
	public.HandleFuncE("/signup", srvr.getSignupPage).Methods(http.MethodGet)
	public.HandleFuncE("/ai-daily-report/shared/{token}", srvr.getSharedDigest).Methods(http.MethodGet)
	public.HandleFuncE("/healthz", srvr.getHealthz).Methods(http.MethodGet)
	public.Handle("/metrics", d.Gatherer).Methods(http.MethodGet)
	public.HandleFuncE("/api/viewer", srvr.getViewer).Methods(http.MethodGet)
	public.HandleFuncE("/api/login", srvr.postLogin).Methods(http.MethodPost)
	public.HandleFuncE("/api/signup", srvr.postSignup).Methods(http.MethodPost)
	public.HandleFuncE("/api/logout", srvr.postLogout).Methods(http.MethodPost)
	public.HandleFuncE("/api/oauth/login", srvr.getOAuthRedirect).Methods(http.MethodGet)
	public.HandleFuncE("/api/oauth/callback", srvr.getOAuthCallback).Methods(http.MethodGet)

	// Browser navigations. Anonymous users bounce to /login.
	pages := ErrRouter{Router: r.NewRoute().Subrouter()}
	pages.Use(srvr.sessions.RequirePage)
	pages.HandleFuncE("/analyze", srvr.getAnalyzePage).Methods(http.MethodGet)
	pages.HandleFuncE("/dashboard", srvr.getDashboard).Methods(http.MethodGet)
	pages.HandleFuncE("/reports/{reportID}", srvr.getReport).Methods(http.MethodGet)
	pages.HandleFuncE("/settings", srvr.getSettings).Methods(http.MethodGet)
	pages.HandleFuncE("/ai-daily-report", srvr.getDigestToday).Methods(http.MethodGet)
	pages.HandleFuncE("/ai-daily-report/history", srvr.getDigestHistory).Methods(http.MethodGet)
	pages.HandleFuncE("/ai-daily-report/history/{digestID}", srvr.getDigestDetail).Methods(http.MethodGet)
	pages.HandleFuncE("/admin", srvr.getAdminConsole).Methods(http.MethodGet)

	// Data calls from the pages. Anonymous users get a 401.
	api := ErrRouter{Router: r.NewRoute().Subrouter()}
	api.Use(srvr.sessions.RequireAPI)
	api.Use(srvr.rateLimitMiddleware)
	api.HandleFuncE("/api/analyze", srvr.postAnalyze).Methods(http.MethodPost)
	api.HandleFuncE("/api/analyze/{runID}", srvr.getAnalyzeRun).Methods(http.MethodGet)
	api.HandleFuncE("/api/reports/{reportID}", srvr.deleteReport).Methods(http.MethodDelete)
	api.HandleFuncE("/api/reports/{reportID}/export", srvr.exportReport).Methods(http.MethodGet)
	api.HandleFuncE("/api/bind-code", srvr.getBindCode).Methods(http.MethodGet)
	api.HandleFuncE("/api/access-requests", srvr.postAccessRequest).Methods(http.MethodPost)
	api.HandleFuncE("/api/digests/{digestID}/events", srvr.streamDigest).Methods(http.MethodGet)
	api.HandleFuncE("/api/admin/requests", srvr.getAccessRequests).Methods(http.MethodGet)
	api.HandleFuncE("/api/admin/requests/{requestID}/approve", srvr.postApproveRequest).Methods(http.MethodPost)
	api.HandleFuncE("/api/admin/requests/{requestID}/reject", srvr.postRejectRequest).Methods(http.MethodPost)
	api.HandleFuncE("/api/admin/admins", srvr.getAdmins).Methods(http.MethodGet)
	api.HandleFuncE("/api/admin/admins", srvr.postAdmin).Methods(http.MethodPost)
	api.HandleFuncE("/api/admin/admins/{adminID}", srvr.deleteAdmin).Methods(http.MethodDelete)

	slog.Debug("configured trendlens server", "port", cfg.Port)

	return &srvr
}

// RunSweepers runs the server's background maintenance loops until the
// context ends. Today that is just the rate limiter sweep.
func (s *Server) RunSweepers(ctx context.Context) error {
	return s.limits.Run(ctx)
}

// CloseResources releases the server's own resources. The long-lived deps
// are owned by main.
func (s *Server) CloseResources() {
	s.limits.Close()
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) error {
	return WriteJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

// ident pulls the middleware-resolved identity. Handlers behind a guard
// can rely on it being there; the zero value only shows up on public
// routes.
func ident(r *http.Request) session.Identity {
	id, _ := session.FromContext(r.Context())
	return id
}

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// Validator is a surface that can validate itself and return an error
// if something is wrong.
type Validator interface {
	Validate() error
}

// DecodeValid decodes a request body and then validates it.
func DecodeValid[V Validator](r io.Reader) (V, error) {
	var v V
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, tlerrs.E(http.StatusBadRequest, fmt.Errorf("error decoding request: %s", err))
	}
	if err := v.Validate(); err != nil {
		return v, err
	}

	return v, nil
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an
// error, which gets written as the JSON error envelope.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one.
	sErr := &tlerrs.Error{}
	if !errors.As(err, &sErr) {
		slog.ErrorContext(r.Context(), "unhandled error", "err", err)
		sErr = tlerrs.E(http.StatusInternalServerError, "internal server error")
	}
	if sErr.Status >= 500 {
		slog.ErrorContext(r.Context(), "request failed", "status", sErr.Status, "err", err)
	}

	if err := WriteJSON(w, sErr.Status, sErr); err != nil {
		slog.ErrorContext(r.Context(), "error writing response", "err", err)
	}
}

// ErrRouter is a newtype around a mux router that allows attaching
// handlers that return errors.
type ErrRouter struct {
	*mux.Router
}

func (r ErrRouter) HandleFuncE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}
