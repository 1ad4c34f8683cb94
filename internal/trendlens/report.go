package trendlens

import "time"

type (
	// TrendReport is the result of one analyze run over a topic: a summary,
	// a sentiment verdict, and the source material that produced both.
	TrendReport struct {
		ID                    string         `json:"id"`
		Topic                 string         `json:"topic"`
		Summary               string         `json:"summary"`
		Sentiment             Sentiment      `json:"sentiment"`
		SentimentScore        float64        `json:"sentiment_score"`
		SourceBreakdown       map[string]int `json:"source_breakdown"`
		KeyInsights           []string       `json:"key_insights"`
		TopDiscussions        []Discussion   `json:"top_discussions"`
		Keywords              []string       `json:"keywords"`
		CreatedAt             time.Time      `json:"created_at"`
		ProcessingTimeSeconds float64        `json:"processing_time_seconds"`
		TokenUsage            int            `json:"token_usage"`
	}

	// Discussion is one crawled thread or post cited by a report.
	Discussion struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Source  string  `json:"source"`
		Score   float64 `json:"score"`
		Snippet string  `json:"snippet"`
	}

	// ReportPage is one page of the reports listing, scoped by whatever
	// filters produced it.
	ReportPage struct {
		Reports []TrendReport `json:"reports"`
		Total   int           `json:"total"`
		Page    int           `json:"page"`
		PerPage int           `json:"per_page"`
	}
)

// Sentiment is the backend's overall verdict for a topic.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNegative Sentiment = "Negative"
	SentimentNeutral  Sentiment = "Neutral"
)

// ValidSentiment reports whether s is a filter value the backend accepts.
// The empty string means "no filter".
func ValidSentiment(s string) bool {
	switch Sentiment(s) {
	case "", SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// Pages returns how many listing pages the total fills at the page size.
func (p ReportPage) Pages() int {
	if p.PerPage <= 0 {
		return 0
	}
	n := p.Total / p.PerPage
	if p.Total%p.PerPage != 0 {
		n++
	}
	return n
}
