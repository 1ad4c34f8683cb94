package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/trendlens/trendlens/internal/trendlens"
)

// TodayDigest fetches today's digest. A trendlens.ErrNotFound means the
// pipeline has not created today's row yet.
func (c *Client) TodayDigest(ctx context.Context, token string) (trendlens.DailyDigest, error) {
	var out trendlens.DailyDigest
	err := c.do(ctx, "digests.today", http.MethodGet, "/digest/today", token, nil, nil, &out)
	return out, err
}

// Digests fetches one page of past digests, newest first.
func (c *Client) Digests(ctx context.Context, token string, page, perPage int) (trendlens.DigestPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var out trendlens.DigestPage
	if err := c.do(ctx, "digests.list", http.MethodGet, "/digest/history", token, q, nil, &out); err != nil {
		return trendlens.DigestPage{}, err
	}
	if out.Page == 0 {
		out.Page = page
	}
	if out.PerPage == 0 {
		out.PerPage = perPage
	}
	return out, nil
}

// Digest fetches one digest by id.
func (c *Client) Digest(ctx context.Context, token, id string) (trendlens.DailyDigest, error) {
	var out trendlens.DailyDigest
	err := c.do(ctx, "digests.get", http.MethodGet, "/digest/"+url.PathEscape(id), token, nil, nil, &out)
	return out, err
}

// SharedDigest fetches a digest through a share token. No bearer token:
// share links work for signed-out visitors, and expiry is the backend's
// call.
func (c *Client) SharedDigest(ctx context.Context, shareToken string) (trendlens.DailyDigest, error) {
	var out trendlens.DailyDigest
	err := c.do(ctx, "digests.shared", http.MethodGet, "/digest/shared/"+url.PathEscape(shareToken), "", nil, nil, &out)
	return out, err
}
