package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/userauth/internal/logctx"
	"github.com/ggoodman/userauth/users"
)

// Router serves the login, logout and refresh routes of one Backend.
type Router struct {
	backend         *Backend
	manager         users.Manager
	passwords       users.PasswordAuthenticator
	authenticator   *Authenticator
	prefix          string
	requireVerified bool
	log             *slog.Logger
	mux             *http.ServeMux
}

// RouterOption configures a Router.
type RouterOption func(*routerConfig)

type routerConfig struct {
	prefix          string
	logger          *slog.Logger
	requireVerified bool
	passwords       users.PasswordAuthenticator
}

// WithPrefix mounts the routes under prefix, e.g. "/auth/jwt".
func WithPrefix(prefix string) RouterOption {
	return func(c *routerConfig) { c.prefix = strings.TrimRight(prefix, "/") }
}

// WithLogger sets the logger used by the router. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RouterOption {
	return func(c *routerConfig) { c.logger = l }
}

// WithRequireVerified rejects logins by unverified users.
func WithRequireVerified() RouterOption {
	return func(c *routerConfig) { c.requireVerified = true }
}

// WithPasswordAuthenticator sets the credential checker for the login
// route. When omitted the user manager is used if it implements
// users.PasswordAuthenticator; otherwise no login route is mounted.
func WithPasswordAuthenticator(pa users.PasswordAuthenticator) RouterOption {
	return func(c *routerConfig) { c.passwords = pa }
}

// NewRouter builds the HTTP routes for backend:
//
//	POST {prefix}/login    password grant
//	POST {prefix}/logout   requires an active user authenticated by backend
//	POST {prefix}/refresh  refresh_token grant
func NewRouter(backend *Backend, manager users.Manager, opts ...RouterOption) (*Router, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("user manager is required")
	}
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.passwords == nil {
		if pa, ok := manager.(users.PasswordAuthenticator); ok {
			cfg.passwords = pa
		}
	}

	log := logctx.Wrap(cfg.logger)
	authn, err := NewAuthenticator([]*Backend{backend}, manager, WithAuthenticatorLogger(log))
	if err != nil {
		return nil, err
	}

	rt := &Router{
		backend:         backend,
		manager:         manager,
		passwords:       cfg.passwords,
		authenticator:   authn,
		prefix:          cfg.prefix,
		requireVerified: cfg.requireVerified,
		log:             log,
		mux:             http.NewServeMux(),
	}

	if rt.passwords != nil {
		rt.mux.HandleFunc("POST "+rt.prefix+"/login", rt.handleLogin)
	}
	rt.mux.HandleFunc("POST "+rt.prefix+"/logout", rt.handleLogout)
	rt.mux.HandleFunc("POST "+rt.prefix+"/refresh", rt.handleRefresh)

	return rt, nil
}

// Prefix returns the path prefix the routes are mounted under.
func (rt *Router) Prefix() string { return rt.prefix }

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithAuthData(withRequestData(r), &logctx.AuthData{Backend: rt.backend.Name()})
	rt.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	form, err := ParseLoginForm(r)
	if err != nil {
		rt.writeError(w, r, "auth.login", err)
		return
	}

	u, err := rt.passwords.AuthenticatePassword(ctx, form.Username, form.Password)
	if err != nil {
		rt.writeError(w, r, "auth.login", err)
		return
	}
	if u == nil || !u.IsActive() {
		rt.writeError(w, r, "auth.login", ErrBadCredentials)
		return
	}
	if rt.requireVerified && !u.IsVerified() {
		rt.writeError(w, r, "auth.login", ErrUserNotVerified)
		return
	}
	ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Backend: rt.backend.Name(), UserID: u.ID().String()})

	strategy, err := rt.backend.Strategy(ctx)
	if err != nil {
		rt.writeError(w, r.WithContext(ctx), "auth.login", err)
		return
	}

	// No auth_time: strategies stamp it with the issue time, so the tokens
	// are fresh.
	props := map[string]any{}
	if len(form.Scopes) > 0 {
		props[PropScopes] = form.Scopes
	}
	loginOpts := []LoginOption{WithAccessProperties(props)}
	if rt.backend.HasRefresh() {
		refresh, err := rt.backend.RefreshStrategy(ctx)
		if err != nil {
			rt.writeError(w, r.WithContext(ctx), "auth.login", err)
			return
		}
		loginOpts = append(loginOpts, WithRefresh(refresh), WithRefreshProperties(props))
	}

	body, err := rt.backend.Login(ctx, w, strategy, u, loginOpts...)
	if err != nil {
		rt.writeError(w, r.WithContext(ctx), "auth.login", err)
		return
	}
	rt.log.InfoContext(ctx, "auth.login.ok", slog.Duration("duration", time.Since(start)))
	writeJSON(w, http.StatusOK, body)
}

func (rt *Router) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := rt.authenticator.Authenticate(r, Active())
	if err != nil {
		rt.authenticator.writeFailure(ctx, w, err)
		return
	}
	ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Backend: rt.backend.Name(), UserID: res.User.ID().String()})

	body, err := rt.backend.Logout(ctx, w, res.Strategy(), res.User, res.Token)
	if err != nil {
		rt.writeError(w, r.WithContext(ctx), "auth.logout", err)
		return
	}
	rt.log.InfoContext(ctx, "auth.logout.ok")
	writeJSON(w, http.StatusOK, body)
}

func (rt *Router) handleRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	form, err := rt.refreshForm(r)
	if err != nil {
		rt.writeError(w, r, "auth.refresh", err)
		return
	}

	body, err := rt.backend.Refresh(ctx, w, rt.manager, form)
	if err != nil {
		rt.writeError(w, r, "auth.refresh", err)
		return
	}
	rt.log.InfoContext(ctx, "auth.refresh.ok", slog.Duration("duration", time.Since(start)))
	writeJSON(w, http.StatusOK, body)
}

// refreshForm reads the grant from the transport when it carries refresh
// tokens itself and the request has one, and from the form body otherwise.
func (rt *Router) refreshForm(r *http.Request) (*RefreshForm, error) {
	if rr, ok := rt.backend.Transport().(RefreshTokenReader); ok {
		if tok := rr.RefreshToken(r); tok != "" {
			return &RefreshForm{GrantType: GrantTypeRefreshToken, RefreshToken: tok}, nil
		}
	}
	return ParseRefreshForm(r)
}

// writeError maps err to its wire status and logs it under event. Token
// values never reach the log.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, event string, err error) {
	ctx := r.Context()
	if errors.Is(err, errUnsupportedMediaType) {
		rt.log.InfoContext(ctx, event+".unsupported_media_type")
		writeJSONError(w, http.StatusUnsupportedMediaType, ErrorCode(err.Error()))
		return
	}

	status, code := ErrorStatus(err)
	switch {
	case errors.Is(err, ErrInvalidGrant):
		rt.log.InfoContext(ctx, event+".invalid_grant")
	case errors.Is(err, ErrMisconfigured):
		rt.log.ErrorContext(ctx, event+".misconfigured", slog.String("err", err.Error()))
	case status >= http.StatusInternalServerError:
		rt.log.ErrorContext(ctx, event+".err", slog.String("err", err.Error()))
	default:
		rt.log.InfoContext(ctx, event+".fail", slog.String("code", string(code)))
	}
	writeJSONError(w, status, code)
}
