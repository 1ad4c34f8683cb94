package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/securecookie"
)

const cookieName = "trendlens_session"

// CookieState is what actually lives in the browser: a pointer at the
// session row, and the nonce while an SSO redirect is in flight.
type CookieState struct {
	SessionID string
	Nonce     string
}

// Cookies encodes and decodes the session cookie.
type Cookies struct {
	sc    *securecookie.SecureCookie
	https bool
}

// NewCookies builds the codec. The hash key authenticates the cookie, the
// block key encrypts it; both must be stable across restarts or every
// session drops on deploy.
func NewCookies(hashKey, blockKey []byte, https bool) *Cookies {
	return &Cookies{
		sc:    securecookie.New(hashKey, blockKey),
		https: https,
	}
}

// Read fetches the current state off the request. Anything wrong with the
// cookie (absent, expired codec, tampered) is a signed-out state, never an
// error the user sees.
func (c *Cookies) Read(r *http.Request) CookieState {
	cookie, err := r.Cookie(cookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return CookieState{}
	}
	if err != nil {
		slog.Error("error fetching cookie", "err", err)
		return CookieState{}
	}

	value := CookieState{}
	if err := c.sc.Decode(cookieName, cookie.Value, &value); err != nil {
		slog.Error("error decoding cookie", "err", err)
		return CookieState{}
	}

	return value
}

// Write sets the state on the response.
func (c *Cookies) Write(w http.ResponseWriter, state CookieState) {
	encoded, err := c.sc.Encode(cookieName, state)
	if err != nil {
		slog.Error("error encoding cookie", "err", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		Secure:   c.https,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear drops the cookie.
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		Secure:   c.https,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
