package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/trendlens/trendlens/internal/trendlens"
)

// AccessStatus returns the caller's digest-access state as the backend sees
// it.
func (c *Client) AccessStatus(ctx context.Context, token string) (trendlens.AccessStatus, error) {
	var out struct {
		Status trendlens.AccessStatus `json:"status"`
	}
	if err := c.do(ctx, "access.status", http.MethodGet, "/access/status", token, nil, nil, &out); err != nil {
		return trendlens.AccessUnknown, err
	}
	return out.Status, nil
}

// SubmitAccessRequest files the caller's ask for digest access.
func (c *Client) SubmitAccessRequest(ctx context.Context, token, reason string) (trendlens.AccessRequest, error) {
	var out trendlens.AccessRequest
	err := c.do(ctx, "access.submit", http.MethodPost, "/access/requests", token, nil, struct {
		Reason string `json:"reason"`
	}{Reason: reason}, &out)
	return out, err
}

// AccessRequests lists requests for the admin console, optionally filtered
// by status.
func (c *Client) AccessRequests(ctx context.Context, token string, status trendlens.RequestStatus) ([]trendlens.AccessRequest, error) {
	var q url.Values
	if status != "" {
		q = url.Values{}
		q.Set("status", string(status))
	}

	var out struct {
		Requests []trendlens.AccessRequest `json:"requests"`
	}
	if err := c.do(ctx, "access.list", http.MethodGet, "/access/requests", token, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// ApproveAccessRequest marks a request approved.
func (c *Client) ApproveAccessRequest(ctx context.Context, token, id string) error {
	return c.do(ctx, "access.approve", http.MethodPost, "/access/requests/"+url.PathEscape(id)+"/approve", token, nil, nil, nil)
}

// RejectAccessRequest marks a request rejected.
func (c *Client) RejectAccessRequest(ctx context.Context, token, id string) error {
	return c.do(ctx, "access.reject", http.MethodPost, "/access/requests/"+url.PathEscape(id)+"/reject", token, nil, nil, nil)
}
