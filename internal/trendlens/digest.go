package trendlens

type (
	// DailyDigest is one day's AI-generated digest of notable discussions.
	// Rows are written incrementally by the backend pipeline, so a digest
	// fetched mid-run may carry a status but no body yet.
	DailyDigest struct {
		ID                    string         `json:"id"`
		DigestDate            string         `json:"digest_date"`
		Status                DigestStatus   `json:"status"`
		ExecutiveSummary      string         `json:"executive_summary"`
		TotalItems            int            `json:"total_items"`
		Items                 []DigestItem   `json:"items"`
		TrendingKeywords      []string       `json:"trending_keywords"`
		CategoryCounts        map[string]int `json:"category_counts"`
		SourceCounts          map[string]int `json:"source_counts"`
		ProcessingTimeSeconds float64        `json:"processing_time_seconds"`
	}

	// DigestItem is one curated discussion inside a digest.
	DigestItem struct {
		Title        string   `json:"title"`
		URL          string   `json:"url"`
		Source       string   `json:"source"`
		Category     string   `json:"category"`
		Importance   int      `json:"importance"`
		WhyItMatters string   `json:"why_it_matters"`
		AlsoOn       []string `json:"also_on"`
		Snippet      string   `json:"snippet"`
		Author       string   `json:"author"`
	}

	// DigestPage is one page of the digest history listing.
	DigestPage struct {
		Digests []DailyDigest `json:"digests"`
		Total   int           `json:"total"`
		Page    int           `json:"page"`
		PerPage int           `json:"per_page"`
	}
)

// DigestStatus is the backend pipeline's phase for a digest row.
type DigestStatus string

const (
	DigestCollecting DigestStatus = "collecting"
	DigestAnalyzing  DigestStatus = "analyzing"
	DigestCompleted  DigestStatus = "completed"
	DigestFailed     DigestStatus = "failed"
)

// HasPayload reports whether the digest carries its body. The pipeline can
// flip status to completed before the full row is written, and a completed
// digest without a body must keep rendering as a skeleton rather than an
// empty report.
func (d DailyDigest) HasPayload() bool {
	return d.ExecutiveSummary != "" && len(d.Items) > 0
}

// Pages returns how many listing pages the total fills at the page size.
func (p DigestPage) Pages() int {
	if p.PerPage <= 0 {
		return 0
	}
	n := p.Total / p.PerPage
	if p.Total%p.PerPage != 0 {
		n++
	}
	return n
}
