// Package backend is the HTTP client for the trend backend's REST API.
//
// Every call authenticates with the caller's bearer token: authorization
// decisions stay on the backend and this tier never works around them.
// Non-2xx responses become the error envelope with the backend's own detail
// message, so what the user sees is what the backend said.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	tlerrs "github.com/trendlens/trendlens/internal/errors"
	"github.com/trendlens/trendlens/internal/trendlens"
)

// Metrics is the instrumentation hook for backend calls. A nil Metrics is
// allowed.
type Metrics interface {
	RecordBackend(op string, code int, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordBackend(string, int, time.Duration) {}

// Client calls the trend backend.
type Client struct {
	base    *url.URL
	httpCli *http.Client
	metrics Metrics
}

// NewClient builds a client for the backend at baseURL. The timeout bounds
// every call that does not carry a shorter context deadline.
func NewClient(baseURL string, timeout time.Duration, m Metrics) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing backend url: %s", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q needs a scheme and host", baseURL)
	}
	if m == nil {
		m = nopMetrics{}
	}

	return &Client{
		base:    u,
		httpCli: &http.Client{Timeout: timeout},
		metrics: m,
	}, nil
}

// detailBody is the backend's error shape.
type detailBody struct {
	Detail string `json:"detail"`
}

// do runs one call against the backend. The op tag is only for metrics.
func (c *Client) do(ctx context.Context, op, method, path, token string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		byts, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshalling request body: %s", err)
		}
		rdr = bytes.NewReader(byts)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("error creating request: %s", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpCli.Do(req)
	if err != nil {
		c.metrics.RecordBackend(op, 0, time.Since(start))
		return tlerrs.E(http.StatusBadGateway, fmt.Errorf("trend service unreachable: %w", err))
	}
	defer resp.Body.Close()
	c.metrics.RecordBackend(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.asError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s response: %s", op, err)
	}
	return nil
}

// asError turns a non-2xx response into the envelope, preserving the
// backend's own detail message verbatim.
func (c *Client) asError(resp *http.Response) error {
	byts, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	detail := detailBody{}
	if err := json.Unmarshal(byts, &detail); err != nil || detail.Detail == "" {
		detail.Detail = strings.TrimSpace(string(byts))
	}
	if detail.Detail == "" {
		detail.Detail = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNotFound {
		return tlerrs.E(http.StatusNotFound, fmt.Errorf("%s: %w", detail.Detail, trendlens.ErrNotFound))
	}
	return tlerrs.E(resp.StatusCode, detail.Detail)
}
