package web

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendlens/trendlens/internal/trendlens"
)

func TestAdminConsoleDenied(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessApproved)

	cli := ts.client()
	ts.signIn(t, cli)

	// Approved users still are not admins: the page renders a denial, not
	// an error.
	got := decode[struct {
		View string `json:"view"`
	}](t, ts.do(t, cli, http.MethodGet, "/admin", ""))
	assert.Equal(t, ViewDenied, got.View)
}

func TestAdminAPIForbidden(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessApproved)

	cli := ts.client()
	ts.signIn(t, cli)

	resp := ts.do(t, cli, http.MethodGet, "/api/admin/requests", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	got := decode[envelope](t, resp)
	assert.Equal(t, "admin access required", got.Message)
}

func TestAdminConsole(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessAdmin)
	ts.backend.mu.Lock()
	ts.backend.requests = []trendlens.AccessRequest{{
		ID:     "req-1",
		UserID: "user-7",
		Email:  "other@b.c",
		Reason: "curious",
		Status: trendlens.RequestPending,
	}}
	ts.backend.admins = []trendlens.Admin{{ID: "adm-1", Email: "a@b.c"}}
	ts.backend.mu.Unlock()

	cli := ts.client()
	ts.signIn(t, cli)

	got := decode[struct {
		View     string                    `json:"view"`
		Requests []trendlens.AccessRequest `json:"requests"`
		Admins   []trendlens.Admin         `json:"admins"`
	}](t, ts.do(t, cli, http.MethodGet, "/admin", ""))
	assert.Equal(t, ViewContent, got.View)
	require.Len(t, got.Requests, 1)
	assert.Equal(t, "req-1", got.Requests[0].ID)
	require.Len(t, got.Admins, 1)
}

func TestAdminConsoleEmpty(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessAdmin)

	cli := ts.client()
	ts.signIn(t, cli)

	// Empty lists render as lists, never null.
	resp := ts.do(t, cli, http.MethodGet, "/admin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[map[string]any](t, resp)
	assert.NotNil(t, got["requests"])
	assert.NotNil(t, got["admins"])
}

func TestAccessRequestFilterValidated(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessAdmin)

	cli := ts.client()
	ts.signIn(t, cli)

	resp := ts.do(t, cli, http.MethodGet, "/api/admin/requests?status=sideways", "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	got := decode[envelope](t, resp)
	assert.Equal(t, "unknown request status filter", got.Message)
}

func TestApproveRequestInvalidatesAccess(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessAdmin)

	admin := ts.client()
	ts.signIn(t, admin)

	// Prime the resolver's cache for this session.
	decode[viewerResp](t, ts.do(t, admin, http.MethodGet, "/api/viewer", ""))
	before := ts.backend.statusCallCount()

	resp := ts.do(t, admin, http.MethodPost, "/api/admin/requests/req-1/approve", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, []string{"approve:req-1"}, ts.backend.actions())

	// The approval may have changed anyone's standing, so the next viewer
	// call resolves fresh instead of reading the cache.
	decode[viewerResp](t, ts.do(t, admin, http.MethodGet, "/api/viewer", ""))
	assert.Greater(t, ts.backend.statusCallCount(), before)
}

func TestRejectRequest(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessAdmin)

	cli := ts.client()
	ts.signIn(t, cli)

	resp := ts.do(t, cli, http.MethodPost, "/api/admin/requests/req-2/reject", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, []string{"reject:req-2"}, ts.backend.actions())
}

func TestAddAdmin(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessAdmin)

	cli := ts.client()
	ts.signIn(t, cli)

	resp := ts.do(t, cli, http.MethodPost, "/api/admin/admins", `{"email":"new-admin@b.c"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := decode[trendlens.Admin](t, resp)
	assert.Equal(t, "new-admin@b.c", got.Email)

	listed := decode[struct {
		Admins []trendlens.Admin `json:"admins"`
	}](t, ts.do(t, cli, http.MethodGet, "/api/admin/admins", ""))
	require.Len(t, listed.Admins, 1)
}

func TestAddAdminValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessAdmin)

	cli := ts.client()
	ts.signIn(t, cli)

	resp := ts.do(t, cli, http.MethodPost, "/api/admin/admins", `{"email":"not-an-address"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	got := decode[envelope](t, resp)
	require.Len(t, got.Details, 1)
	assert.Equal(t, "email", got.Details[0].Field)
}

func TestRemoveAdmin(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.setStatus(trendlens.AccessAdmin)
	ts.backend.mu.Lock()
	ts.backend.admins = []trendlens.Admin{
		{ID: "adm-1", Email: "a@b.c", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "adm-2", Email: "other@b.c"},
	}
	ts.backend.mu.Unlock()

	cli := ts.client()
	ts.signIn(t, cli)

	resp := ts.do(t, cli, http.MethodDelete, "/api/admin/admins/adm-2", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	listed := decode[struct {
		Admins []trendlens.Admin `json:"admins"`
	}](t, ts.do(t, cli, http.MethodGet, "/api/admin/admins", ""))
	require.Len(t, listed.Admins, 1)
	assert.Equal(t, "adm-1", listed.Admins[0].ID)
}
