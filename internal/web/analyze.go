package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	goaway "github.com/TwiN/go-away"
	"github.com/gorilla/mux"

	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/progress"
	"github.com/trendlens/trendlens/internal/session"
	"github.com/trendlens/trendlens/internal/viewcache"
)

type analyzeReq struct {
	Query string `json:"query"`
}

func (a analyzeReq) Validate() error {
	q := strings.TrimSpace(a.Query)

	if utf8.RuneCountInString(q) < 3 {
		return tlerrs.E(http.StatusUnprocessableEntity, "check the highlighted fields", tlerrs.Detail{
			Field: "query",
			Error: "enter at least 3 characters",
		})
	}
	// The query is fed to the analysis model, so keep the input clean.
	const maxLength = 200
	if len(q) > maxLength {
		return tlerrs.E("query too long", http.StatusUnprocessableEntity)
	}
	if goaway.IsProfane(q) {
		return tlerrs.E("profanity detected in query", http.StatusUnprocessableEntity)
	}

	return nil
}

type analyzePageResp struct {
	View   string             `json:"view"`
	Report any                `json:"report,omitempty"`
	Run    *progress.Snapshot `json:"run,omitempty"`
}

// getAnalyzePage decides what the analyze screen opens to: the progress
// indicator when a run is going, a cached result when the url names a
// topic we already analyzed, the blank form otherwise.
func (s *Server) getAnalyzePage(w http.ResponseWriter, r *http.Request) error {
	id := ident(r)

	if runID, ok := s.progress.InFlight(id.SessionID); ok {
		if snap, ok := s.progress.Snapshot(runID); ok {
			return WriteJSON(w, http.StatusOK, analyzePageResp{View: ViewProgress, Run: &snap})
		}
	}

	if q := strings.TrimSpace(r.URL.Query().Get("query")); q != "" {
		caches := s.caches.For(id.SessionID)
		if report, ok := caches.Analyze.Get(viewcache.AnalyzeKey(q)); ok {
			s.metrics.RecordCacheHit(viewcache.NamespaceAnalyze)
			return WriteJSON(w, http.StatusOK, analyzePageResp{View: ViewContent, Report: report})
		}
		s.metrics.RecordCacheMiss(viewcache.NamespaceAnalyze)
	}

	return WriteJSON(w, http.StatusOK, analyzePageResp{View: ViewForm})
}

// postAnalyze kicks off an analysis run. The heavy call runs detached;
// the response is just the run to poll. One run per session: resubmitting
// while one is going is a conflict, which is what keeps the submit button
// disabled.
func (s *Server) postAnalyze(w http.ResponseWriter, r *http.Request) error {
	id := ident(r)

	req, err := DecodeValid[analyzeReq](r.Body)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(req.Query)

	if !s.limits.AllowAnalyze(id.SessionID) {
		w.Header().Set("Retry-After", "60")
		return tlerrs.E(http.StatusTooManyRequests, "too many analyses, slow down")
	}

	runID, err := s.progress.Begin(id.SessionID)
	if err != nil {
		if errors.Is(err, progress.ErrInFlight) {
			return tlerrs.E(http.StatusConflict, "an analysis is already running")
		}
		return err
	}

	go s.runAnalyze(id, runID, query)

	snap, _ := s.progress.Snapshot(runID)
	return WriteJSON(w, http.StatusAccepted, analyzePageResp{View: ViewProgress, Run: &snap})
}

// runAnalyze is the detached worker behind one submission. It gets its
// own deadline since the submit request is long gone by the time the
// backend answers.
func (s *Server) runAnalyze(id session.Identity, runID, query string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AnalyzeTimeout)
	defer cancel()

	report, err := s.backend.Analyze(ctx, id.Token, query)
	if err != nil {
		s.progress.Fail(runID, tlerrs.MessageOf(err))
		s.metrics.RecordAnalyze("failure")
		return
	}

	report = s.scrub.report(report)
	s.caches.For(id.SessionID).Analyze.Put(viewcache.AnalyzeKey(query), report)
	s.progress.Finish(runID, &report)
	s.metrics.RecordAnalyze("success")
}

// getAnalyzeRun is the poll target while the progress screen is up.
func (s *Server) getAnalyzeRun(w http.ResponseWriter, r *http.Request) error {
	runID := mux.Vars(r)["runID"]

	snap, ok := s.progress.Snapshot(runID)
	if !ok {
		return tlerrs.E(http.StatusNotFound, "analysis not found")
	}

	return WriteJSON(w, http.StatusOK, snap)
}
