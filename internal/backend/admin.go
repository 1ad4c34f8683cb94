package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/trendlens/trendlens/internal/trendlens"
)

// Admins lists the admin allow-list.
func (c *Client) Admins(ctx context.Context, token string) ([]trendlens.Admin, error) {
	var out struct {
		Admins []trendlens.Admin `json:"admins"`
	}
	if err := c.do(ctx, "admins.list", http.MethodGet, "/admins", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Admins, nil
}

// AddAdmin grants console access to an email. A conflict means the email is
// already an admin.
func (c *Client) AddAdmin(ctx context.Context, token, email string) (trendlens.Admin, error) {
	var out trendlens.Admin
	err := c.do(ctx, "admins.add", http.MethodPost, "/admins", token, nil, struct {
		Email string `json:"email"`
	}{Email: email}, &out)
	return out, err
}

// RemoveAdmin revokes console access.
func (c *Client) RemoveAdmin(ctx context.Context, token, id string) error {
	return c.do(ctx, "admins.remove", http.MethodDelete, "/admins/"+url.PathEscape(id), token, nil, nil, nil)
}

// BindCode mints a short-lived code for linking the account to the
// messaging bot.
func (c *Client) BindCode(ctx context.Context, token string) (trendlens.BindCode, error) {
	var out trendlens.BindCode
	err := c.do(ctx, "bind.code", http.MethodGet, "/bind/code", token, nil, nil, &out)
	return out, err
}
