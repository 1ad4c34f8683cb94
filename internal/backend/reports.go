package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/trendlens/trendlens/internal/trendlens"
)

// ReportsArgs scope one page of the reports listing. Zero-valued filters
// are left off the querystring.
type ReportsArgs struct {
	Page      int
	PerPage   int
	Sentiment string
	Source    string
	Search    string
	FromDate  string
	ToDate    string
}

// Analyze runs a full analysis for the topic and returns the finished
// report. This is the slow call: give it a generous context.
func (c *Client) Analyze(ctx context.Context, token, query string) (trendlens.TrendReport, error) {
	var out trendlens.TrendReport
	err := c.do(ctx, "analyze", http.MethodPost, "/analyze", token, nil, struct {
		Query string `json:"query"`
	}{Query: query}, &out)
	return out, err
}

// Reports fetches one page of the caller's reports.
func (c *Client) Reports(ctx context.Context, token string, args ReportsArgs) (trendlens.ReportPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(args.Page))
	q.Set("per_page", strconv.Itoa(args.PerPage))
	if args.Sentiment != "" {
		q.Set("sentiment", args.Sentiment)
	}
	if args.Source != "" {
		q.Set("source", args.Source)
	}
	if args.Search != "" {
		q.Set("search", args.Search)
	}
	if args.FromDate != "" {
		q.Set("from_date", args.FromDate)
	}
	if args.ToDate != "" {
		q.Set("to_date", args.ToDate)
	}

	var out trendlens.ReportPage
	if err := c.do(ctx, "reports.list", http.MethodGet, "/reports", token, q, nil, &out); err != nil {
		return trendlens.ReportPage{}, err
	}
	if out.Page == 0 {
		out.Page = args.Page
	}
	if out.PerPage == 0 {
		out.PerPage = args.PerPage
	}
	return out, nil
}

// Report fetches a single report by id.
func (c *Client) Report(ctx context.Context, token, id string) (trendlens.TrendReport, error) {
	var out trendlens.TrendReport
	err := c.do(ctx, "reports.get", http.MethodGet, "/reports/"+url.PathEscape(id), token, nil, nil, &out)
	return out, err
}

// DeleteReport removes a report. The backend enforces ownership.
func (c *Client) DeleteReport(ctx context.Context, token, id string) error {
	return c.do(ctx, "reports.delete", http.MethodDelete, "/reports/"+url.PathEscape(id), token, nil, nil, nil)
}
