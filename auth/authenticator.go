package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ggoodman/userauth/internal/logctx"
	"github.com/ggoodman/userauth/users"
)

// Authenticator resolves requests to users by probing backends in order.
// It is immutable and safe for concurrent use.
type Authenticator struct {
	backends []*Backend
	manager  users.Manager
	log      *slog.Logger
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithAuthenticatorLogger sets the logger. Defaults to slog.Default().
func WithAuthenticatorLogger(l *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) { a.log = l }
}

// NewAuthenticator builds an Authenticator over backends, probed in the
// given order. Backend names must be unique.
func NewAuthenticator(backends []*Backend, manager users.Manager, opts ...AuthenticatorOption) (*Authenticator, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("user manager is required")
	}
	seen := make(map[string]bool, len(backends))
	for _, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("nil backend")
		}
		if seen[b.Name()] {
			return nil, fmt.Errorf("duplicate backend name %q", b.Name())
		}
		seen[b.Name()] = true
	}
	a := &Authenticator{backends: append([]*Backend(nil), backends...), manager: manager}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logctx.Wrap(a.log)
	return a, nil
}

// Backends returns the probed backends in order.
func (a *Authenticator) Backends() []*Backend {
	return append([]*Backend(nil), a.backends...)
}

// Result describes a successful authentication.
type Result struct {
	User    users.User
	Token   string
	Backend *Backend
	Data    *TokenData

	strategy Strategy
}

// Strategy returns the strategy instance that resolved the token.
func (r *Result) Strategy() Strategy { return r.strategy }

// RequireOption narrows which users satisfy an authentication check.
type RequireOption func(*requirements)

type requirements struct {
	optional bool
	active   bool
	verified bool
}

// Optional makes a failed check yield a nil Result instead of an error.
func Optional() RequireOption { return func(r *requirements) { r.optional = true } }

// Active requires the user to be active.
func Active() RequireOption { return func(r *requirements) { r.active = true } }

// Verified requires the user to be verified.
func Verified() RequireOption { return func(r *requirements) { r.verified = true } }

// Authenticate returns the first backend result whose user satisfies opts.
//
// It returns ErrUnauthorized when no backend resolves an acceptable user,
// or ErrForbidden when a user was resolved but failed the verified
// requirement. With Optional both cases yield (nil, nil). Other errors are
// infrastructure failures.
func (a *Authenticator) Authenticate(r *http.Request, opts ...RequireOption) (*Result, error) {
	var req requirements
	for _, opt := range opts {
		opt(&req)
	}
	ctx := r.Context()

	forbidden := false
	for _, b := range a.backends {
		token := b.Transport().Token(r)
		if token == "" {
			continue
		}
		strategy, err := b.Strategy(ctx)
		if err != nil {
			return nil, err
		}
		data, err := strategy.ReadToken(ctx, token, a.manager)
		if err != nil {
			return nil, fmt.Errorf("backend %q: read token: %w", b.Name(), err)
		}
		if data == nil || data.User == nil {
			a.log.DebugContext(ctx, "auth.check.fail", slog.String("backend", b.Name()))
			continue
		}
		u := data.User
		if req.active && !u.IsActive() {
			a.log.DebugContext(ctx, "auth.check.inactive", slog.String("backend", b.Name()))
			continue
		}
		if req.verified && !u.IsVerified() {
			a.log.DebugContext(ctx, "auth.check.unverified", slog.String("backend", b.Name()))
			forbidden = true
			continue
		}
		return &Result{User: u, Token: token, Backend: b, Data: data, strategy: strategy}, nil
	}

	if req.optional {
		return nil, nil
	}
	if forbidden {
		return nil, ErrForbidden
	}
	return nil, ErrUnauthorized
}

// Middleware authenticates requests before calling next. The Result is
// available to next through FromContext. Failures are answered with 401
// (carrying every backend's challenge) or 403.
func (a *Authenticator) Middleware(opts ...RequireOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withRequestData(r)
			r = r.WithContext(ctx)

			res, err := a.Authenticate(r, opts...)
			if err != nil {
				a.writeFailure(ctx, w, err)
				return
			}
			if res != nil {
				ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Backend: res.Backend.Name(), UserID: res.User.ID().String()})
				ctx = WithResult(ctx, res)
				a.log.DebugContext(ctx, "auth.check.ok")
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := ErrorStatus(err)
	if errors.Is(err, ErrUnauthorized) {
		for _, b := range a.backends {
			if c := b.Transport().Challenge(); c != "" {
				w.Header().Add(wwwAuthenticateHeader, c)
			}
		}
		a.log.InfoContext(ctx, "auth.check.unauthorized")
	} else if errors.Is(err, ErrForbidden) {
		a.log.InfoContext(ctx, "auth.check.forbidden")
	} else {
		a.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
	}
	writeJSONError(w, status, code)
}

type resultKey struct{}

// WithResult stores res in ctx.
func WithResult(ctx context.Context, res *Result) context.Context {
	return context.WithValue(ctx, resultKey{}, res)
}

// FromContext returns the Result stored by Middleware, if any.
func FromContext(ctx context.Context) (*Result, bool) {
	res, ok := ctx.Value(resultKey{}).(*Result)
	return res, ok && res != nil
}
