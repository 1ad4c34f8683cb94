package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/trendlens/trendlens/internal/access"
	"github.com/trendlens/trendlens/internal/backend"
	"github.com/trendlens/trendlens/internal/digestview"
	"github.com/trendlens/trendlens/internal/identity"
	"github.com/trendlens/trendlens/internal/metrics"
	"github.com/trendlens/trendlens/internal/migrations"
	"github.com/trendlens/trendlens/internal/progress"
	"github.com/trendlens/trendlens/internal/realtime"
	"github.com/trendlens/trendlens/internal/session"
	"github.com/trendlens/trendlens/internal/trendlens"
	"github.com/trendlens/trendlens/internal/viewcache"
)

// errSpec makes a fake endpoint answer an error instead of its fixture.
type errSpec struct {
	code   int
	detail string
}

func (e errSpec) set() bool { return e.code != 0 }

func writeDetail(w http.ResponseWriter, e errSpec) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.code)
	_ = json.NewEncoder(w).Encode(struct {
		Detail string `json:"detail"`
	}{Detail: e.detail})
}

func writeBody(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeBackend stands in for the trend backend. Fixture fields are guarded
// by mu; tests mutate them through the setters.
type fakeBackend struct {
	srv *httptest.Server

	mu sync.Mutex

	status      trendlens.AccessStatus
	statusCalls int

	listResults []trendlens.ReportPage
	listCalls   int
	listQueries []url.Values
	listErr     errSpec

	report    trendlens.TrendReport
	reportErr errSpec

	analyzeResult trendlens.TrendReport
	analyzeErr    errSpec
	analyzeGate   chan struct{}
	analyzeCalls  int

	deleted []string

	today    trendlens.DailyDigest
	todayErr errSpec

	digests     map[string]trendlens.DailyDigest
	historyPage trendlens.DigestPage
	shared      map[string]trendlens.DailyDigest

	requests   []trendlens.AccessRequest
	reqActions []string

	admins []trendlens.Admin

	bind trendlens.BindCode
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	fb := &fakeBackend{
		status:  trendlens.AccessNone,
		digests: map[string]trendlens.DailyDigest{},
		shared:  map[string]trendlens.DailyDigest{},
		bind:    trendlens.BindCode{Code: "123456", ExpiresIn: 300},
	}

	r := mux.NewRouter()

	r.HandleFunc("/access/status", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		fb.statusCalls++
		writeBody(w, http.StatusOK, struct {
			Status trendlens.AccessStatus `json:"status"`
		}{Status: fb.status})
	}).Methods(http.MethodGet)

	r.HandleFunc("/analyze", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		fb.analyzeCalls++
		gate := fb.analyzeGate
		spec := fb.analyzeErr
		result := fb.analyzeResult
		fb.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-req.Context().Done():
				return
			}
		}
		if spec.set() {
			writeDetail(w, spec)
			return
		}
		writeBody(w, http.StatusOK, result)
	}).Methods(http.MethodPost)

	r.HandleFunc("/reports", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		fb.listQueries = append(fb.listQueries, req.URL.Query())
		if fb.listErr.set() {
			writeDetail(w, fb.listErr)
			return
		}
		idx := fb.listCalls
		fb.listCalls++
		if idx >= len(fb.listResults) {
			idx = len(fb.listResults) - 1
		}
		if idx < 0 {
			writeBody(w, http.StatusOK, trendlens.ReportPage{})
			return
		}
		writeBody(w, http.StatusOK, fb.listResults[idx])
	}).Methods(http.MethodGet)

	r.HandleFunc("/reports/{id}", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		if fb.reportErr.set() {
			writeDetail(w, fb.reportErr)
			return
		}
		writeBody(w, http.StatusOK, fb.report)
	}).Methods(http.MethodGet)

	r.HandleFunc("/reports/{id}", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		fb.deleted = append(fb.deleted, mux.Vars(req)["id"])
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	r.HandleFunc("/digest/today", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		if fb.todayErr.set() {
			writeDetail(w, fb.todayErr)
			return
		}
		writeBody(w, http.StatusOK, fb.today)
	}).Methods(http.MethodGet)

	r.HandleFunc("/digest/history", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		writeBody(w, http.StatusOK, fb.historyPage)
	}).Methods(http.MethodGet)

	r.HandleFunc("/digest/shared/{token}", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		d, ok := fb.shared[mux.Vars(req)["token"]]
		if !ok {
			writeDetail(w, errSpec{http.StatusNotFound, "shared link expired"})
			return
		}
		writeBody(w, http.StatusOK, d)
	}).Methods(http.MethodGet)

	r.HandleFunc("/digest/{id}", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		d, ok := fb.digests[mux.Vars(req)["id"]]
		if !ok {
			writeDetail(w, errSpec{http.StatusNotFound, "digest not found"})
			return
		}
		writeBody(w, http.StatusOK, d)
	}).Methods(http.MethodGet)

	r.HandleFunc("/access/requests", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		writeBody(w, http.StatusOK, struct {
			Requests []trendlens.AccessRequest `json:"requests"`
		}{Requests: fb.requests})
	}).Methods(http.MethodGet)

	r.HandleFunc("/access/requests", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)

		fb.mu.Lock()
		defer fb.mu.Unlock()
		created := trendlens.AccessRequest{
			ID:     "req-1",
			Reason: body.Reason,
			Status: trendlens.RequestPending,
		}
		fb.requests = append(fb.requests, created)
		fb.status = trendlens.AccessPending
		writeBody(w, http.StatusCreated, created)
	}).Methods(http.MethodPost)

	r.HandleFunc("/access/requests/{id}/approve", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		fb.reqActions = append(fb.reqActions, "approve:"+mux.Vars(req)["id"])
		writeBody(w, http.StatusOK, struct{}{})
	}).Methods(http.MethodPost)

	r.HandleFunc("/access/requests/{id}/reject", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		fb.reqActions = append(fb.reqActions, "reject:"+mux.Vars(req)["id"])
		writeBody(w, http.StatusOK, struct{}{})
	}).Methods(http.MethodPost)

	r.HandleFunc("/admins", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		writeBody(w, http.StatusOK, struct {
			Admins []trendlens.Admin `json:"admins"`
		}{Admins: fb.admins})
	}).Methods(http.MethodGet)

	r.HandleFunc("/admins", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)

		fb.mu.Lock()
		defer fb.mu.Unlock()
		created := trendlens.Admin{ID: "adm-9", Email: body.Email}
		fb.admins = append(fb.admins, created)
		writeBody(w, http.StatusCreated, created)
	}).Methods(http.MethodPost)

	r.HandleFunc("/admins/{id}", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		id := mux.Vars(req)["id"]
		live := fb.admins[:0]
		for _, a := range fb.admins {
			if a.ID != id {
				live = append(live, a)
			}
		}
		fb.admins = live
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	r.HandleFunc("/bind/code", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		writeBody(w, http.StatusOK, fb.bind)
	}).Methods(http.MethodGet)

	fb.srv = httptest.NewServer(r)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) setStatus(s trendlens.AccessStatus) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.status = s
}

func (fb *fakeBackend) setListResults(pages ...trendlens.ReportPage) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.listResults = pages
	fb.listCalls = 0
}

func (fb *fakeBackend) listCallCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.listCalls
}

func (fb *fakeBackend) lastListQuery() url.Values {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.listQueries) == 0 {
		return url.Values{}
	}
	return fb.listQueries[len(fb.listQueries)-1]
}

func (fb *fakeBackend) setToday(d trendlens.DailyDigest) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.today = d
	fb.todayErr = errSpec{}
}

func (fb *fakeBackend) setTodayErr(code int, detail string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.todayErr = errSpec{code, detail}
}

func (fb *fakeBackend) statusCallCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.statusCalls
}

func (fb *fakeBackend) deletedIDs() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.deleted...)
}

func (fb *fakeBackend) actions() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.reqActions...)
}

// fakeIdentity stands in for the identity provider. The one known account
// is a@b.c / password123.
type fakeIdentity struct {
	srv *httptest.Server

	mu              sync.Mutex
	confirmOnSignup bool
	signOuts        int
}

func testGrant(email string) identity.Grant {
	return identity.Grant{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresIn:    3600,
		User:         identity.User{ID: "user-1", Email: email},
	}
}

func newFakeIdentity(t *testing.T) *fakeIdentity {
	t.Helper()

	fid := &fakeIdentity{}

	r := mux.NewRouter()

	r.HandleFunc("/token", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email        string `json:"email"`
			Password     string `json:"password"`
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)

		switch req.URL.Query().Get("grant_type") {
		case "password":
			if body.Password != "password123" {
				writeBody(w, http.StatusBadRequest, struct {
					ErrorDescription string `json:"error_description"`
				}{ErrorDescription: "Invalid login credentials"})
				return
			}
			writeBody(w, http.StatusOK, testGrant(body.Email))
		case "refresh_token":
			g := testGrant("a@b.c")
			g.AccessToken = "at-2"
			g.RefreshToken = "rt-2"
			writeBody(w, http.StatusOK, g)
		default:
			writeBody(w, http.StatusBadRequest, struct {
				Error string `json:"error"`
			}{Error: "unsupported_grant_type"})
		}
	}).Methods(http.MethodPost)

	r.HandleFunc("/signup", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)

		fid.mu.Lock()
		confirm := fid.confirmOnSignup
		fid.mu.Unlock()

		if confirm {
			writeBody(w, http.StatusOK, struct {
				User identity.User `json:"user"`
			}{User: identity.User{ID: "user-2", Email: body.Email}})
			return
		}
		writeBody(w, http.StatusOK, testGrant(body.Email))
	}).Methods(http.MethodPost)

	r.HandleFunc("/logout", func(w http.ResponseWriter, req *http.Request) {
		fid.mu.Lock()
		fid.signOuts++
		fid.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/user", func(w http.ResponseWriter, req *http.Request) {
		writeBody(w, http.StatusOK, identity.User{ID: "user-1", Email: "a@b.c"})
	}).Methods(http.MethodGet)

	fid.srv = httptest.NewServer(r)
	t.Cleanup(fid.srv.Close)
	return fid
}

// memorySource is the in-memory realtime transport for tests.
type memorySource struct {
	mu    sync.Mutex
	feeds map[string][]*memoryFeed
}

func newMemorySource() *memorySource {
	return &memorySource{feeds: map[string][]*memoryFeed{}}
}

func (s *memorySource) Subscribe(ctx context.Context, channel string) (realtime.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &memoryFeed{
		source:  s,
		channel: channel,
		msgs:    make(chan realtime.Message, 16),
	}
	s.feeds[channel] = append(s.feeds[channel], f)
	return f, nil
}

func (s *memorySource) publish(channel, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.feeds[channel] {
		f.msgs <- realtime.Message{Channel: channel, Payload: payload}
	}
}

type memoryFeed struct {
	source  *memorySource
	channel string
	msgs    chan realtime.Message
	once    sync.Once
}

func (f *memoryFeed) Messages() <-chan realtime.Message {
	return f.msgs
}

func (f *memoryFeed) Close() error {
	f.source.mu.Lock()
	live := f.source.feeds[f.channel][:0]
	for _, other := range f.source.feeds[f.channel] {
		if other != f {
			live = append(live, other)
		}
	}
	f.source.feeds[f.channel] = live
	f.source.mu.Unlock()

	f.once.Do(func() { close(f.msgs) })
	return nil
}

// testServer is the whole web tier over fakes: real router, middleware,
// session store, caches, relay.
type testServer struct {
	t       *testing.T
	web     *Server
	http    *httptest.Server
	backend *fakeBackend
	idp     *fakeIdentity
	source  *memorySource
}

func newTestServer(t *testing.T, opts ...func(*Config)) *testServer {
	t.Helper()

	fb := newFakeBackend(t)
	fid := newFakeIdentity(t)

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	backendCli, err := backend.NewClient(fb.srv.URL, 5*time.Second, collector)
	require.NoError(t, err)
	identityCli, err := identity.NewClient(fid.srv.URL, 5*time.Second, nil)
	require.NoError(t, err)

	cookies := session.NewCookies([]byte("0123456789abcdef0123456789abcdef"), []byte("0123456789abcdef"), false)
	sessions := session.NewManager(session.NewStore(db), cookies, identityCli, 168*time.Hour)

	src := newMemorySource()
	relay := realtime.NewRelay(src, collector)
	t.Cleanup(func() { _ = relay.Close() })

	tracker := progress.NewTracker(10*time.Millisecond, 5*time.Second)
	t.Cleanup(tracker.Close)

	cfg := Config{
		CORSOrigin:     "http://localhost:5173",
		PerPage:        10,
		BackendTimeout: 5 * time.Second,
		AnalyzeTimeout: 5 * time.Second,
		RateGeneral:    1000,
		RateAnalyze:    1000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := NewServer(cfg, Deps{
		Backend:  backendCli,
		Identity: identityCli,
		Sessions: sessions,
		Access:   access.NewResolver(backendCli, 5*time.Minute),
		Caches:   viewcache.NewRegistry(),
		Views:    digestview.NewRegistry(),
		Relay:    relay,
		Progress: tracker,
		Metrics:  collector,
		Gatherer: metrics.Handler(reg),
	})
	t.Cleanup(srv.CloseResources)

	hts := httptest.NewServer(srv.Handler)
	t.Cleanup(hts.Close)

	return &testServer{
		t:       t,
		web:     srv,
		http:    hts,
		backend: fb,
		idp:     fid,
		source:  src,
	}
}

// client returns a cookie-keeping client that never follows redirects, so
// tests can assert on them.
func (ts *testServer) client() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(ts.t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (ts *testServer) do(t *testing.T, cli *http.Client, method, path, body string) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cli.Do(req)
	require.NoError(t, err)
	return resp
}

// signIn authenticates the client with the fake provider's known account.
func (ts *testServer) signIn(t *testing.T, cli *http.Client) {
	t.Helper()

	resp := ts.do(t, cli, http.MethodPost, "/api/login", `{"email":"a@b.c","password":"password123"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// envelope is the error shape handlers answer with.
type envelope struct {
	Message string `json:"message"`
	Details []struct {
		Field string `json:"field"`
		Error string `json:"error"`
	} `json:"details"`
	Status int `json:"status"`
}

func reportFixture(id, topic string) trendlens.TrendReport {
	return trendlens.TrendReport{
		ID:              id,
		Topic:           topic,
		Summary:         "People are talking.",
		Sentiment:       trendlens.SentimentPositive,
		SentimentScore:  0.62,
		SourceBreakdown: map[string]int{"reddit": 12, "hackernews": 3},
		KeyInsights:     []string{"Interest is accelerating."},
		TopDiscussions: []trendlens.Discussion{{
			Title:   "Launch thread",
			URL:     "https://example.com/t/1",
			Source:  "reddit",
			Score:   98,
			Snippet: "This changes things.",
		}},
		Keywords:  []string{"launch", "ai"},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func digestFixture(id, date string) trendlens.DailyDigest {
	return trendlens.DailyDigest{
		ID:               id,
		DigestDate:       date,
		Status:           trendlens.DigestCompleted,
		ExecutiveSummary: "Models got cheaper.",
		TotalItems:       2,
		Items: []trendlens.DigestItem{
			{
				Title:        "Prices drop",
				URL:          "https://example.com/p/1",
				Source:       "hackernews",
				Category:     "markets",
				Importance:   5,
				WhyItMatters: "Margins move.",
				Snippet:      "Across the board.",
				Author:       "sam",
			},
			{
				Title:      "New eval suite",
				URL:        "https://example.com/p/2",
				Source:     "arxiv",
				Category:   "research",
				Importance: 3,
				Snippet:    "Bench harder.",
				Author:     "ada",
			},
		},
		TrendingKeywords: []string{"pricing", "evals"},
		CategoryCounts:   map[string]int{"markets": 1, "research": 1},
		SourceCounts:     map[string]int{"hackernews": 1, "arxiv": 1},
	}
}
