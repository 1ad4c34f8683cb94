// Package identity wraps the external identity provider that owns user
// accounts and tokens.
//
// The web tier never stores passwords; it trades credentials (or an OAuth
// code) for a grant and keeps only the grant's tokens in the session store.
package identity

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

	"golang.org/x/oauth2"

	tlerrs "github.com/trendlens/trendlens/internal/errors"
)

type (
	// User is the provider's view of an account.
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	// Grant is a set of tokens minted for a user.
	Grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		User         User   `json:"user"`
	}

	// OAuthConfig enables the SSO flow when set.
	OAuthConfig struct {
		ClientID     string
		ClientSecret string
		RedirectURL  string
	}

	// Client calls the identity provider.
	Client struct {
		base    string
		httpCli *http.Client
		oauth   *oauth2.Config // nil when SSO is not configured
	}
)

// NewClient builds a client for the provider at baseURL. Pass a nil oauth
// config to run with password sign-in only.
func NewClient(baseURL string, timeout time.Duration, oc *OAuthConfig) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("identity url %q needs a scheme and host", baseURL)
	}
	base := strings.TrimRight(baseURL, "/")

	c := &Client{
		base:    base,
		httpCli: &http.Client{Timeout: timeout},
	}
	if oc != nil {
		c.oauth = &oauth2.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			RedirectURL:  oc.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/authorize",
				TokenURL: base + "/token",
			},
		}
	}

	return c, nil
}

// PasswordSignIn trades an email and password for a grant.
func (c *Client) PasswordSignIn(ctx context.Context, email, password string) (Grant, error) {
	return c.grant(ctx, "/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// SignUp registers a new account. Providers configured for immediate
// confirmation return a full grant; otherwise the grant carries no tokens
// and the user has to confirm out of band before signing in.
func (c *Client) SignUp(ctx context.Context, email, password string) (Grant, error) {
	return c.grant(ctx, "/signup", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Refresh trades a refresh token for a fresh grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	return c.grant(ctx, "/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

func (c *Client) grant(ctx context.Context, path string, body map[string]string) (Grant, error) {
	byts, err := json.Marshal(body)
	if err != nil {
		return Grant{}, fmt.Errorf("error marshalling grant request: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(byts))
	if err != nil {
		return Grant{}, fmt.Errorf("error creating grant request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return Grant{}, tlerrs.E(http.StatusBadGateway, fmt.Errorf("identity service unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Grant{}, asProviderError(resp)
	}

	var g Grant
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return Grant{}, fmt.Errorf("error decoding grant: %s", err)
	}
	return g, nil
}

// CurrentUser fetches the account behind an access token.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/user", nil)
	if err != nil {
		return User{}, fmt.Errorf("error creating user request: %s", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return User{}, tlerrs.E(http.StatusBadGateway, fmt.Errorf("identity service unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return User{}, asProviderError(resp)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, fmt.Errorf("error decoding user: %s", err)
	}
	return u, nil
}

// SignOut revokes the token server-side. Best effort: a dead provider must
// not block the user from signing out locally.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/logout", nil)
	if err != nil {
		return fmt.Errorf("error creating logout request: %s", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("error revoking token: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return asProviderError(resp)
	}
	return nil
}

// OAuthEnabled reports whether the SSO flow is configured.
func (c *Client) OAuthEnabled() bool {
	return c.oauth != nil
}

// AuthCodeURL builds the provider redirect carrying the state nonce.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades the callback code for a grant and resolves the user
// behind it.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Grant, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return Grant{}, tlerrs.E(http.StatusUnauthorized, fmt.Errorf("error exchanging code: %s", err))
	}

	usr, err := c.CurrentUser(ctx, tok.AccessToken)
	if err != nil {
		return Grant{}, err
	}

	expiresIn := 0
	if !tok.Expiry.IsZero() {
		expiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	return Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		User:         usr,
	}, nil
}

// providerError is the union of error shapes the provider answers with.
type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func asProviderError(resp *http.Response) error {
	byts, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var pe providerError
	_ = json.Unmarshal(byts, &pe)

	msg := pe.ErrorDescription
	if msg == "" {
		msg = pe.Msg
	}
	if msg == "" {
		msg = pe.Message
	}
	if msg == "" {
		msg = pe.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return tlerrs.E(resp.StatusCode, msg)
}
