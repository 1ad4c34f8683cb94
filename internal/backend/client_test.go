package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendlens/trendlens/internal/backend"
	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/trendlens"
)

func newClient(t *testing.T, h http.HandlerFunc) *backend.Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := backend.NewClient(srv.URL, 5*time.Second, nil)
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := backend.NewClient("not a url", time.Second, nil)
	assert.Error(t, err)

	_, err = backend.NewClient("/just/a/path", time.Second, nil)
	assert.Error(t, err)
}

func TestBearerTokenAttached(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"rep-1"}`))
	})

	_, err := c.Report(context.Background(), "tok-123", "rep-1")
	assert.NoError(t, err)
}

func TestReportsQueryParams(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reports", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "9", q.Get("per_page"))
		assert.Equal(t, "Positive", q.Get("sentiment"))
		assert.Equal(t, "golang", q.Get("search"))
		w.Write([]byte(`{"reports":[{"id":"rep-1","topic":"golang"}],"total":12}`))
	})

	page, err := c.Reports(context.Background(), "tok", backend.ReportsArgs{
		Page:      2,
		PerPage:   9,
		Sentiment: "Positive",
		Search:    "golang",
	})
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	require.Len(t, page.Reports, 1)
	assert.Equal(t, "golang", page.Reports[0].Topic)

	// The client fills in paging fields older backends omit.
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 9, page.PerPage)
}

func TestBackendDetailSurfacesVerbatim(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"query references blocked content"}`))
	})

	_, err := c.Analyze(context.Background(), "tok", "whatever topic")
	require.Error(t, err)

	var e *tlerrs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusUnprocessableEntity, e.Status)
	assert.Equal(t, "query references blocked content", e.Message())
}

func TestNotFoundIsMatchable(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"no digest for today"}`))
	})

	_, err := c.TodayDigest(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, trendlens.ErrNotFound))

	var e *tlerrs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusNotFound, e.Status)
}

func TestNonJSONErrorBodyFallsBack(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	})

	_, err := c.Report(context.Background(), "tok", "rep-1")
	var e *tlerrs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusBadGateway, e.Status)
	assert.Equal(t, "upstream exploded", e.Message())
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore

	c, err := backend.NewClient(srv.URL, time.Second, nil)
	require.NoError(t, err)

	_, err = c.TodayDigest(context.Background(), "tok")
	var e *tlerrs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusBadGateway, e.Status)
}

func TestDeleteReport(t *testing.T) {
	var gotMethod, gotPath string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteReport(context.Background(), "tok", "rep-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/reports/rep-1", gotPath)
}

func TestAnalyzeSendsQuery(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"id":"rep-9","topic":"rust adoption","sentiment":"Neutral"}`))
	})

	rep, err := c.Analyze(context.Background(), "tok", "rust adoption")
	require.NoError(t, err)
	assert.Equal(t, "rep-9", rep.ID)
	assert.Equal(t, trendlens.SentimentNeutral, rep.Sentiment)
}

func TestAccessStatus(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/access/status", r.URL.Path)
		w.Write([]byte(`{"status":"approved"}`))
	})

	st, err := c.AccessStatus(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, trendlens.AccessApproved, st)
}

func TestAccessRequestsFilter(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		w.Write([]byte(`{"requests":[{"id":"req-1","email":"a@b.c","status":"pending"}]}`))
	})

	reqs, err := c.AccessRequests(context.Background(), "tok", trendlens.RequestPending)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, trendlens.RequestPending, reqs[0].Status)
}

func TestSharedDigestSkipsAuth(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "/digest/shared/share-token-1", r.URL.Path)
		w.Write([]byte(`{"id":"d1","status":"completed"}`))
	})

	d, err := c.SharedDigest(context.Background(), "share-token-1")
	require.NoError(t, err)
	assert.Equal(t, "d1", d.ID)
}

func TestAdmins(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"admins":[{"id":"adm-1","email":"root@trendlens.dev"}]}`))
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"detail":"already an admin"}`))
		}
	})

	admins, err := c.Admins(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, admins, 1)

	_, err = c.AddAdmin(context.Background(), "tok", "root@trendlens.dev")
	var e *tlerrs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusConflict, e.Status)
	assert.Equal(t, "already an admin", e.Message())
}
