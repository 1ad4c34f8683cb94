package web

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sym01/htmlsanitizer"

	"github.com/trendlens/trendlens/internal/trendlens"
)

// scrubber cleans crawled text before it reaches the browser. Report and
// digest bodies quote third-party discussions verbatim, so titles,
// snippets, and author names are treated as hostile.
type scrubber struct {
	strip *bluemonday.Policy
}

func newScrubber() *scrubber {
	return &scrubber{strip: bluemonday.StrictPolicy()}
}

// text strips all markup and resolves entities down to plain text. Also
// caps the length so a pathological crawl result can't balloon a response.
func (s *scrubber) text(in string) string {
	out := strings.TrimSpace(in)
	out = s.strip.Sanitize(out)
	out = html.UnescapeString(out)
	if len(out) > 2048 {
		out = out[:2048]
	}

	return out
}

// report returns a copy with every crawled field cleaned.
func (s *scrubber) report(r trendlens.TrendReport) trendlens.TrendReport {
	discussions := make([]trendlens.Discussion, len(r.TopDiscussions))
	for i, d := range r.TopDiscussions {
		d.Title = s.text(d.Title)
		d.Snippet = s.text(d.Snippet)
		discussions[i] = d
	}
	r.TopDiscussions = discussions

	return r
}

// reportPage cleans every report on a listing page.
func (s *scrubber) reportPage(p trendlens.ReportPage) trendlens.ReportPage {
	reports := make([]trendlens.TrendReport, len(p.Reports))
	for i, r := range p.Reports {
		reports[i] = s.report(r)
	}
	p.Reports = reports

	return p
}

// digest returns a copy with every crawled item field cleaned.
func (s *scrubber) digest(d trendlens.DailyDigest) trendlens.DailyDigest {
	items := make([]trendlens.DigestItem, len(d.Items))
	for i, it := range d.Items {
		it.Title = s.text(it.Title)
		it.Snippet = s.text(it.Snippet)
		it.Author = s.text(it.Author)
		items[i] = it
	}
	d.Items = items

	return d
}

// safeHTML sanitizes a rendered HTML document down to an allow-list. The
// shared digest's html format goes through this since it embeds digest
// content in markup of our own making.
func safeHTML(doc string) (string, error) {
	return htmlsanitizer.NewHTMLSanitizer().SanitizeString(doc)
}
