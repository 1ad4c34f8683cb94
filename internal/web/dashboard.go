package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/trendlens/trendlens/internal/backend"
	"github.com/trendlens/trendlens/internal/session"
	"github.com/trendlens/trendlens/internal/trendlens"
	"github.com/trendlens/trendlens/internal/viewcache"
)

type dashboardResp struct {
	View       string                  `json:"view"`
	Reports    []trendlens.TrendReport `json:"reports"`
	Total      int                     `json:"total"`
	Page       int                     `json:"page"`
	PerPage    int                     `json:"per_page"`
	Pages      int                     `json:"pages"`
	Sentiment  string                  `json:"sentiment,omitempty"`
	Search     string                  `json:"search,omitempty"`
	Refreshing bool                    `json:"refreshing"`
}

// parseDashboardParams clamps the listing params the way the rest of the
// query surface does: a bad page becomes the first one, an unknown
// sentiment drops the filter.
func parseDashboardParams(r *http.Request) (page int, sentiment, search string) {
	q := r.URL.Query()

	page, _ = strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}

	sentiment = q.Get("sentiment")
	if !trendlens.ValidSentiment(sentiment) {
		sentiment = ""
	}

	return page, sentiment, strings.TrimSpace(q.Get("search"))
}

// getDashboard serves the reports listing. A cached page paints
// immediately while a background round refreshes it; only a miss pays for
// the fetch inline, and only a miss surfaces fetch errors.
func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx                     = r.Context()
		id                      = ident(r)
		page, sentiment, search = parseDashboardParams(r)
	)

	caches := s.caches.For(id.SessionID)
	key := viewcache.DashboardKey(page, sentiment, search)

	if cached, ok := caches.Dashboard.Get(key); ok {
		s.metrics.RecordCacheHit(viewcache.NamespaceDashboard)

		gen := caches.Dashboard.Begin()
		go s.refreshDashboard(id, caches, gen, key, page, sentiment, search)

		return WriteJSON(w, http.StatusOK, dashboardView(cached, sentiment, search, true))
	}

	s.metrics.RecordCacheMiss(viewcache.NamespaceDashboard)

	fetched, err := s.fetchReportPage(ctx, id.Token, page, sentiment, search)
	if err != nil {
		return err
	}
	caches.Dashboard.Put(key, fetched)

	return WriteJSON(w, http.StatusOK, dashboardView(fetched, sentiment, search, false))
}

// refreshDashboard reconciles one cached listing with the backend. It runs
// detached from the request: failures stay silent since the user already
// has a page, and the generation check throws the result away if anything
// purged or superseded this round while it was in flight.
func (s *Server) refreshDashboard(id session.Identity, caches *viewcache.Caches, gen uint64, key string, page int, sentiment, search string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BackendTimeout)
	defer cancel()

	fetched, err := s.fetchReportPage(ctx, id.Token, page, sentiment, search)
	if err != nil {
		slog.Debug("dashboard refresh failed, keeping cached page", "err", err)
		return
	}

	caches.Dashboard.PutIfCurrent(gen, key, fetched)
}

func (s *Server) fetchReportPage(ctx context.Context, token string, page int, sentiment, search string) (trendlens.ReportPage, error) {
	fetched, err := s.backend.Reports(ctx, token, backend.ReportsArgs{
		Page:      page,
		PerPage:   s.cfg.PerPage,
		Sentiment: sentiment,
		Search:    search,
	})
	if err != nil {
		return trendlens.ReportPage{}, err
	}

	return s.scrub.reportPage(fetched), nil
}

func dashboardView(p trendlens.ReportPage, sentiment, search string, refreshing bool) dashboardResp {
	reports := p.Reports
	if reports == nil {
		reports = []trendlens.TrendReport{}
	}

	return dashboardResp{
		View:       ViewContent,
		Reports:    reports,
		Total:      p.Total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		Pages:      p.Pages(),
		Sentiment:  sentiment,
		Search:     search,
		Refreshing: refreshing,
	}
}
