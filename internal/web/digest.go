package web

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/trendlens/trendlens/internal/digestview"
	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/realtime"
	"github.com/trendlens/trendlens/internal/trendlens"
)

// digestScreenResp is the view model shared by every digest screen. View
// is the layout to render; State carries the pipeline phase so skeletons
// can label themselves.
type digestScreenResp struct {
	View         string                 `json:"view"`
	State        string                 `json:"state,omitempty"`
	Digest       *trendlens.DailyDigest `json:"digest,omitempty"`
	AccessStatus string                 `json:"access_status,omitempty"`
	Version      uint64                 `json:"version,omitempty"`
}

// digestGate decides what a caller without access sees instead of digest
// content. Pending requests wait; everyone else is invited to request
// access, including the rejected (who see their status and may ask again).
func digestGate(status trendlens.AccessStatus) (digestScreenResp, bool) {
	if status.HasAccess() {
		return digestScreenResp{}, true
	}
	if status == trendlens.AccessPending {
		return digestScreenResp{View: ViewWaiting, AccessStatus: string(status)}, false
	}
	return digestScreenResp{View: ViewAccessRequest, AccessStatus: string(status)}, false
}

// digestScreen maps a view snapshot onto the renderable model.
func digestScreen(snap digestview.Snapshot, status trendlens.AccessStatus) digestScreenResp {
	resp := digestScreenResp{
		State:        string(snap.State),
		Digest:       snap.Digest,
		AccessStatus: string(status),
		Version:      snap.Version,
	}

	switch snap.State {
	case digestview.StateCompleted, digestview.StateNone:
		resp.View = ViewContent
	case digestview.StateFailed:
		resp.View = ViewFailed
	case digestview.StateError:
		resp.View = ViewError
	default:
		// loading, collecting, analyzing: all render the skeleton.
		resp.View = ViewSkeleton
	}

	return resp
}

func todayDate() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (s *Server) getDigestToday(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx = r.Context()
		id  = ident(r)
	)

	status := s.resolveAccess(r)
	if gated, ok := digestGate(status); !ok {
		return WriteJSON(w, http.StatusOK, gated)
	}

	view := s.views.TodayView(id.SessionID, todayDate())

	d, err := s.backend.TodayDigest(ctx, id.Token)
	if err == nil {
		d = s.scrub.digest(d)
	}
	view.SetFetched(d, err)

	return WriteJSON(w, http.StatusOK, digestScreen(view.Snapshot(), status))
}

func (s *Server) getDigestDetail(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx      = r.Context()
		id       = ident(r)
		digestID = mux.Vars(r)["digestID"]
	)

	status := s.resolveAccess(r)
	if gated, ok := digestGate(status); !ok {
		return WriteJSON(w, http.StatusOK, gated)
	}

	view := s.views.View(id.SessionID, digestID)

	d, err := s.backend.Digest(ctx, id.Token, digestID)
	if err == nil {
		d = s.scrub.digest(d)
	}
	view.SetFetched(d, err)

	return WriteJSON(w, http.StatusOK, digestScreen(view.Snapshot(), status))
}

type digestHistoryResp struct {
	View         string                  `json:"view"`
	Digests      []trendlens.DailyDigest `json:"digests"`
	Total        int                     `json:"total"`
	Page         int                     `json:"page"`
	PerPage      int                     `json:"per_page"`
	Pages        int                     `json:"pages"`
	AccessStatus string                  `json:"access_status,omitempty"`
}

func (s *Server) getDigestHistory(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx = r.Context()
		id  = ident(r)
	)

	status := s.resolveAccess(r)
	if gated, ok := digestGate(status); !ok {
		return WriteJSON(w, http.StatusOK, gated)
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}

	listed, err := s.backend.Digests(ctx, id.Token, page, s.cfg.PerPage)
	if err != nil {
		return err
	}

	digests := make([]trendlens.DailyDigest, len(listed.Digests))
	for i, d := range listed.Digests {
		digests[i] = s.scrub.digest(d)
	}

	return WriteJSON(w, http.StatusOK, digestHistoryResp{
		View:         ViewContent,
		Digests:      digests,
		Total:        listed.Total,
		Page:         listed.Page,
		PerPage:      listed.PerPage,
		Pages:        listed.Pages(),
		AccessStatus: string(status),
	})
}

// getSharedDigest serves a digest through its share link. No session, no
// realtime: whoever holds the token sees a frozen copy.
func (s *Server) getSharedDigest(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx        = r.Context()
		shareToken = mux.Vars(r)["token"]
	)

	d, err := s.backend.SharedDigest(ctx, shareToken)
	if err != nil {
		return err
	}
	d = s.scrub.digest(d)

	if r.URL.Query().Get("format") == "html" {
		doc, err := sharedDigestHTML(d)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, doc); err != nil {
			return fmt.Errorf("error writing digest html: %s", err)
		}
		return nil
	}

	return WriteJSON(w, http.StatusOK, struct {
		View   string                `json:"view"`
		Digest trendlens.DailyDigest `json:"digest"`
	}{
		View:   ViewContent,
		Digest: d,
	})
}

type accessRequestReq struct {
	Reason string `json:"reason"`
}

func (a accessRequestReq) Validate() error {
	reason := strings.TrimSpace(a.Reason)
	if reason == "" {
		return tlerrs.E(http.StatusUnprocessableEntity, "check the highlighted fields", tlerrs.Detail{
			Field: "reason",
			Error: "tell us why you want access",
		})
	}
	if len(reason) > 500 {
		return tlerrs.E(http.StatusUnprocessableEntity, "check the highlighted fields", tlerrs.Detail{
			Field: "reason",
			Error: "keep it under 500 characters",
		})
	}
	return nil
}

// postAccessRequest submits the caller's ask for digest access. Their
// resolved status just changed, so the cached one is dropped before the
// response tells the page to flip to waiting.
func (s *Server) postAccessRequest(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx = r.Context()
		id  = ident(r)
	)

	req, err := DecodeValid[accessRequestReq](r.Body)
	if err != nil {
		return err
	}

	created, err := s.backend.SubmitAccessRequest(ctx, id.Token, strings.TrimSpace(req.Reason))
	if err != nil {
		return err
	}

	s.access.Invalidate(id.SessionID)

	return WriteJSON(w, http.StatusCreated, struct {
		View         string                  `json:"view"`
		AccessStatus string                  `json:"access_status"`
		Request      trendlens.AccessRequest `json:"request"`
	}{
		View:         ViewWaiting,
		AccessStatus: string(trendlens.AccessPending),
		Request:      created,
	})
}

// streamDigest is the event stream behind an open digest screen. Row
// changes reach the screen's state machine through the relay; every
// transition is pushed down the stream as a fresh view model.
func (s *Server) streamDigest(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx      = r.Context()
		id       = ident(r)
		digestID = mux.Vars(r)["digestID"]
	)

	status := s.resolveAccess(r)
	if !status.HasAccess() {
		return tlerrs.E(http.StatusForbidden, "daily report access required")
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer cannot stream")
	}

	// The today screen watches for its row to appear, so it listens to
	// inserts and updates and matches by date. A detail screen knows its
	// row and narrows to it.
	var (
		view *digestview.View
		subs []realtime.Subscription
	)
	if digestID == "today" {
		view = s.views.TodayView(id.SessionID, todayDate())
		subs = []realtime.Subscription{
			{Table: "daily_digests", Event: realtime.EventInsert},
			{Table: "daily_digests", Event: realtime.EventUpdate},
		}
	} else {
		view = s.views.View(id.SessionID, digestID)
		subs = []realtime.Subscription{
			{Table: "daily_digests", Event: realtime.EventUpdate, Filter: "id=eq." + digestID},
		}
	}

	snaps, stop := view.Watch()
	defer stop()

	handles := make([]*realtime.Handle, 0, len(subs))
	defer func() {
		for _, h := range handles {
			h.Unsubscribe()
		}
	}()
	for _, sub := range subs {
		h, err := s.relay.Subscribe(sub, func(ev realtime.Event) {
			s.metrics.RecordRealtimeApplied(view.Apply(ev))
		})
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case snap := <-snaps:
			// Rows arriving over pub/sub are as dirty as any other
			// backend copy.
			if snap.Digest != nil {
				scrubbed := s.scrub.digest(*snap.Digest)
				snap.Digest = &scrubbed
			}
			if err := writeSSE(w, digestScreen(snap, status)); err != nil {
				return nil
			}
			flusher.Flush()

			switch snap.State {
			case digestview.StateCompleted, digestview.StateFailed, digestview.StateError:
				// Nothing left to push; the screen has its final state.
				return nil
			}
		}
	}
}

// writeSSE writes one server-sent event carrying the model as JSON.
func writeSSE(w http.ResponseWriter, data any) error {
	byts, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshalling event: %s", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", byts)
	return err
}

var sharedDigestTmpl = template.Must(template.New("shared-digest").Parse(`<article>
  <h1>AI Daily Report · {{.DigestDate}}</h1>
  <p>{{.ExecutiveSummary}}</p>
{{- range .Items}}
  <section>
    <h2>{{.Title}}</h2>
    <p>{{.Source}}{{if .Author}} · {{.Author}}{{end}} · importance {{.Importance}}</p>
    {{- if .WhyItMatters}}
    <p>{{.WhyItMatters}}</p>
    {{- end}}
    {{- if .Snippet}}
    <blockquote>{{.Snippet}}</blockquote>
    {{- end}}
    <p><a href="{{.URL}}">Read the discussion</a></p>
  </section>
{{- end}}
{{- if .TrendingKeywords}}
  <p>{{range $i, $k := .TrendingKeywords}}{{if $i}}, {{end}}{{$k}}{{end}}</p>
{{- end}}
</article>
`))

// sharedDigestHTML renders the digest as a standalone fragment and runs
// it through the allow-list sanitizer before it leaves the server.
func sharedDigestHTML(d trendlens.DailyDigest) (string, error) {
	var b strings.Builder
	if err := sharedDigestTmpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("error rendering digest html: %s", err)
	}
	return safeHTML(b.String())
}
