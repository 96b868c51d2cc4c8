package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/userauth/internal/logctx"
	"github.com/ggoodman/userauth/users"
)

// Backend is a named composition of a Transport, a Strategy factory and an
// optional refresh Strategy factory. It is immutable and safe for
// concurrent use.
type Backend struct {
	name      string
	transport Transport
	strategy  StrategyFactory
	refresh   StrategyFactory
	log       *slog.Logger
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithRefreshStrategy enables the refresh_token grant for the backend.
func WithRefreshStrategy(f StrategyFactory) BackendOption {
	return func(b *Backend) { b.refresh = f }
}

// WithBackendLogger sets the logger used by the backend. Defaults to
// slog.Default().
func WithBackendLogger(l *slog.Logger) BackendOption {
	return func(b *Backend) { b.log = l }
}

// NewBackend constructs a Backend.
func NewBackend(name string, transport Transport, strategy StrategyFactory, opts ...BackendOption) (*Backend, error) {
	if name == "" {
		return nil, fmt.Errorf("backend name is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("backend %q: transport is required", name)
	}
	if strategy == nil {
		return nil, fmt.Errorf("backend %q: strategy factory is required", name)
	}
	b := &Backend{name: name, transport: transport, strategy: strategy}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logctx.Wrap(b.log)
	return b, nil
}

// Name returns the backend's unique name.
func (b *Backend) Name() string { return b.name }

// Transport returns the backend's transport.
func (b *Backend) Transport() Transport { return b.transport }

// Strategy produces the access-token strategy for one request.
func (b *Backend) Strategy(ctx context.Context) (Strategy, error) {
	s, err := b.strategy(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend %q: strategy: %w", b.name, err)
	}
	return s, nil
}

// HasRefresh reports whether the backend has a refresh strategy.
func (b *Backend) HasRefresh() bool { return b.refresh != nil }

// RefreshStrategy produces the refresh-token strategy for one request. It
// returns ErrMisconfigured when none is configured.
func (b *Backend) RefreshStrategy(ctx context.Context) (Strategy, error) {
	if b.refresh == nil {
		return nil, ErrMisconfigured
	}
	s, err := b.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend %q: refresh strategy: %w", b.name, err)
	}
	return s, nil
}

// LoginOption configures a single Login call.
type LoginOption func(*loginOptions)

type loginOptions struct {
	refresh      Strategy
	accessProps  map[string]any
	refreshProps map[string]any
}

// WithRefresh issues a refresh token through s alongside the access token.
func WithRefresh(s Strategy) LoginOption {
	return func(o *loginOptions) { o.refresh = s }
}

// WithAccessProperties passes additional properties to the access token.
func WithAccessProperties(props map[string]any) LoginOption {
	return func(o *loginOptions) { o.accessProps = props }
}

// WithRefreshProperties passes additional properties to the refresh token.
func WithRefreshProperties(props map[string]any) LoginOption {
	return func(o *loginOptions) { o.refreshProps = props }
}

// Login issues tokens for u and returns the transport-shaped body.
//
// The refresh token in the response is present if and only if a refresh
// strategy was supplied with WithRefresh. The access token is written
// first; if that fails no refresh token is written.
func (b *Backend) Login(ctx context.Context, w http.ResponseWriter, strategy Strategy, u users.User, opts ...LoginOption) (any, error) {
	var o loginOptions
	for _, opt := range opts {
		opt(&o)
	}

	access, err := strategy.WriteToken(ctx, u, o.accessProps)
	if err != nil {
		return nil, fmt.Errorf("backend %q: write access token: %w", b.name, err)
	}
	tok := TokenResponse{AccessToken: access.AccessToken, TokenType: access.TokenType}

	if o.refresh != nil {
		refresh, err := o.refresh.WriteToken(ctx, u, o.refreshProps)
		if err != nil {
			return nil, fmt.Errorf("backend %q: write refresh token: %w", b.name, err)
		}
		tok.RefreshToken = refresh.AccessToken
	}

	body, err := b.transport.LoginResponse(w, &tok)
	if err != nil {
		return nil, fmt.Errorf("backend %q: login response: %w", b.name, err)
	}
	return body, nil
}

// Logout revokes token when the strategy supports it and clears client
// state when the transport supports it. Calling Logout again with the same
// arguments is safe. A nil body means an empty success response.
func (b *Backend) Logout(ctx context.Context, w http.ResponseWriter, strategy Strategy, u users.User, token string) (any, error) {
	if strategy.SupportsDestroy() {
		if err := strategy.DestroyToken(ctx, token, u); err != nil && !errors.Is(err, ErrDestroyNotSupported) {
			return nil, fmt.Errorf("backend %q: destroy token: %w", b.name, err)
		}
	} else {
		b.log.DebugContext(ctx, "auth.logout.destroy_unsupported")
	}

	if !b.transport.SupportsLogout() {
		return nil, nil
	}
	body, err := b.transport.LogoutResponse(w)
	if err != nil {
		if errors.Is(err, ErrLogoutNotSupported) {
			return nil, nil
		}
		return nil, fmt.Errorf("backend %q: logout response: %w", b.name, err)
	}
	return body, nil
}

// Refresh redeems a refresh_token grant: it resolves form.RefreshToken with
// the refresh strategy and re-issues both an access token and a rotated
// refresh token through Login.
//
// It returns ErrMisconfigured when the backend has no refresh strategy and
// ErrInvalidGrant when the token does not resolve to a user. Inactive users
// are rejected with ErrInvalidGrant too, which is stricter than a plain
// existence check on the user.
func (b *Backend) Refresh(ctx context.Context, w http.ResponseWriter, manager users.Manager, form *RefreshForm) (any, error) {
	refresh, err := b.RefreshStrategy(ctx)
	if err != nil {
		return nil, err
	}
	strategy, err := b.Strategy(ctx)
	if err != nil {
		return nil, err
	}

	data, err := refresh.ReadToken(ctx, form.RefreshToken, manager)
	if err != nil {
		return nil, fmt.Errorf("backend %q: read refresh token: %w", b.name, err)
	}
	if data == nil || data.User == nil || !data.User.IsActive() {
		return nil, ErrInvalidGrant
	}

	// Carry the original authentication time forward and mark the tokens as
	// refreshed so they are never fresh.
	lastAuth := data.LastAuthenticated
	if lastAuth.IsZero() {
		lastAuth = data.IssuedAt
	}
	if lastAuth.IsZero() {
		lastAuth = time.Now()
	}
	props := map[string]any{PropLastAuthenticated: lastAuth, PropRefreshed: true}
	if len(data.Scopes) > 0 {
		props[PropScopes] = data.Scopes
	}

	return b.Login(ctx, w, strategy, data.User,
		WithRefresh(refresh),
		WithAccessProperties(props),
		WithRefreshProperties(props),
	)
}
