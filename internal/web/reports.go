package web

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/trendlens"
)

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx      = r.Context()
		id       = ident(r)
		reportID = mux.Vars(r)["reportID"]
	)

	report, err := s.backend.Report(ctx, id.Token, reportID)
	if err != nil {
		return err
	}

	return WriteJSON(w, http.StatusOK, struct {
		View   string                `json:"view"`
		Report trendlens.TrendReport `json:"report"`
	}{
		View:   ViewContent,
		Report: s.scrub.report(report),
	})
}

// deleteReport removes a report and everything cached from it. The purge
// happens before the success response goes out: once the browser hears
// 204 the deleted row must be impossible to repaint from any cache.
func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx      = r.Context()
		id       = ident(r)
		reportID = mux.Vars(r)["reportID"]
	)

	if err := s.backend.DeleteReport(ctx, id.Token, reportID); err != nil {
		return err
	}

	s.caches.For(id.SessionID).PurgeReports()

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// exportReport downloads a report as a file, markdown by default.
func (s *Server) exportReport(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx      = r.Context()
		id       = ident(r)
		reportID = mux.Vars(r)["reportID"]
		format   = r.URL.Query().Get("format")
	)
	if format == "" {
		format = "markdown"
	}
	if format != "markdown" && format != "json" {
		return tlerrs.E(http.StatusUnprocessableEntity, fmt.Sprintf("unknown export format %q", format))
	}

	report, err := s.backend.Report(ctx, id.Token, reportID)
	if err != nil {
		return err
	}
	report = s.scrub.report(report)

	if format == "json" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "trend-report-"+report.ID+".json"))
		return WriteJSON(w, http.StatusOK, report)
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "trend-report-"+report.ID+".md"))
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, reportMarkdown(report)); err != nil {
		return fmt.Errorf("error writing markdown export: %s", err)
	}
	return nil
}

// reportMarkdown renders a report as a standalone markdown document.
func reportMarkdown(r trendlens.TrendReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Trend Report: %s\n\n", r.Topic)
	fmt.Fprintf(&b, "Generated %s. Sentiment: %s (%.2f).\n\n", r.CreatedAt.Format("2006-01-02 15:04 MST"), r.Sentiment, r.SentimentScore)

	if r.Summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(r.Summary)
		b.WriteString("\n\n")
	}

	if len(r.KeyInsights) > 0 {
		b.WriteString("## Key Insights\n\n")
		for i, insight := range r.KeyInsights {
			fmt.Fprintf(&b, "%d. %s\n", i+1, insight)
		}
		b.WriteString("\n")
	}

	if len(r.TopDiscussions) > 0 {
		b.WriteString("## Top Discussions\n\n")
		for _, d := range r.TopDiscussions {
			fmt.Fprintf(&b, "- [%s](%s) (%s, score %.1f)\n", d.Title, d.URL, d.Source, d.Score)
			if d.Snippet != "" {
				fmt.Fprintf(&b, "  > %s\n", d.Snippet)
			}
		}
		b.WriteString("\n")
	}

	if len(r.Keywords) > 0 {
		b.WriteString("## Keywords\n\n")
		b.WriteString(strings.Join(r.Keywords, ", "))
		b.WriteString("\n\n")
	}

	if len(r.SourceBreakdown) > 0 {
		b.WriteString("## Sources\n\n")
		sources := make([]string, 0, len(r.SourceBreakdown))
		for src := range r.SourceBreakdown {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			fmt.Fprintf(&b, "- %s: %d\n", src, r.SourceBreakdown[src])
		}
		b.WriteString("\n")
	}

	return b.String()
}
