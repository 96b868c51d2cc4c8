// Package cookie implements a Transport that carries tokens in HTTP
// cookies. Unlike bearer, logout is observable: the cookies are cleared.
// Refresh tokens travel in a second cookie that the refresh route reads
// back, so a backend with a refresh strategy works without a token body.
package cookie

import (
	"net/http"
	"time"

	"github.com/ggoodman/userauth/auth"
)

// DefaultName is the cookie name used when none is configured.
const DefaultName = "userauth"

// refreshSuffix derives the refresh cookie name from the access cookie name.
const refreshSuffix = "_refresh"

// Transport sets and reads an access cookie and, when the backend issues
// refresh tokens, a refresh cookie.
type Transport struct {
	name     string
	maxAge   time.Duration
	path     string
	domain   string
	secure   bool
	httpOnly bool
	sameSite http.SameSite

	refreshName   string
	refreshPath   string
	refreshMaxAge time.Duration
}

var (
	_ auth.Transport          = (*Transport)(nil)
	_ auth.RefreshTokenReader = (*Transport)(nil)
)

// Option configures a Transport.
type Option func(*Transport)

// WithName sets the cookie name.
func WithName(name string) Option { return func(t *Transport) { t.name = name } }

// WithMaxAge sets the cookie lifetime. Zero (default) issues a session
// cookie; it should match the strategy's token lifetime.
func WithMaxAge(d time.Duration) Option { return func(t *Transport) { t.maxAge = d } }

// WithPath sets the cookie path. Defaults to "/".
func WithPath(p string) Option { return func(t *Transport) { t.path = p } }

// WithDomain sets the cookie domain.
func WithDomain(d string) Option { return func(t *Transport) { t.domain = d } }

// WithInsecure drops the Secure attribute, for plain-HTTP development.
func WithInsecure() Option { return func(t *Transport) { t.secure = false } }

// WithSameSite sets the SameSite attribute. Defaults to Lax.
func WithSameSite(s http.SameSite) Option { return func(t *Transport) { t.sameSite = s } }

// WithRefreshName sets the refresh cookie name. Defaults to the access
// cookie name with a "_refresh" suffix.
func WithRefreshName(name string) Option { return func(t *Transport) { t.refreshName = name } }

// WithRefreshPath scopes the refresh cookie, typically to the refresh
// route. Defaults to the access cookie path.
func WithRefreshPath(p string) Option { return func(t *Transport) { t.refreshPath = p } }

// WithRefreshMaxAge sets the refresh cookie lifetime; it should match the
// refresh strategy's token lifetime. Zero (default) issues a session cookie.
func WithRefreshMaxAge(d time.Duration) Option {
	return func(t *Transport) { t.refreshMaxAge = d }
}

// New returns a cookie Transport. Cookies are Secure, HttpOnly and
// SameSite=Lax unless configured otherwise.
func New(opts ...Option) *Transport {
	t := &Transport{
		name:     DefaultName,
		path:     "/",
		secure:   true,
		httpOnly: true,
		sameSite: http.SameSiteLaxMode,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.refreshName == "" {
		t.refreshName = t.name + refreshSuffix
	}
	if t.refreshPath == "" {
		t.refreshPath = t.path
	}
	return t
}

// Name returns the access cookie name.
func (t *Transport) Name() string { return t.name }

// RefreshName returns the refresh cookie name.
func (t *Transport) RefreshName() string { return t.refreshName }

func (t *Transport) Token(r *http.Request) string {
	return cookieValue(r, t.name)
}

// RefreshToken returns the value of the refresh cookie, or "".
func (t *Transport) RefreshToken(r *http.Request) string {
	return cookieValue(r, t.refreshName)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// LoginResponse sets the access cookie, plus the refresh cookie when tok
// carries a refresh token, and returns no body.
func (t *Transport) LoginResponse(w http.ResponseWriter, tok *auth.TokenResponse) (any, error) {
	http.SetCookie(w, t.cookie(t.name, t.path, tok.AccessToken, t.maxAge))
	if tok.RefreshToken != "" {
		http.SetCookie(w, t.cookie(t.refreshName, t.refreshPath, tok.RefreshToken, t.refreshMaxAge))
	}
	return nil, nil
}

// LogoutResponse expires both cookies.
func (t *Transport) LogoutResponse(w http.ResponseWriter) (any, error) {
	for _, c := range []*http.Cookie{
		t.cookie(t.name, t.path, "", 0),
		t.cookie(t.refreshName, t.refreshPath, "", 0),
	} {
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
	return nil, nil
}

func (t *Transport) SupportsLogout() bool { return true }

// Challenge returns "": there is no standard cookie challenge scheme.
func (t *Transport) Challenge() string { return "" }

func (t *Transport) cookie(name, path, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   t.domain,
		Secure:   t.secure,
		HttpOnly: t.httpOnly,
		SameSite: t.sameSite,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
	}
	return c
}

func (t *Transport) LoginResponsesDoc() []auth.ResponseDoc {
	return []auth.ResponseDoc{{Status: http.StatusNoContent, Description: "Access cookie set, and refresh cookie when refresh is enabled"}}
}

func (t *Transport) LogoutResponsesDoc() []auth.ResponseDoc {
	return []auth.ResponseDoc{{Status: http.StatusNoContent, Description: "Cookies cleared"}}
}
