// Package authtest provides in-memory Strategy and Transport fixtures for
// exercising auth.Backend, auth.Authenticator and auth.Router.
//
// Tokens minted by a Strategy carry its role as a prefix and are only
// resolvable by the Strategy that minted them, so access and refresh
// tokens are content-distinct.
package authtest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/userauth/auth"
	"github.com/ggoodman/userauth/users"
	"github.com/google/uuid"
)

// Strategy is an in-memory auth.Strategy.
type Strategy struct {
	role      string
	stateless bool
	writeErr  error
	readErr   error

	mu     sync.Mutex
	tokens map[string]auth.TokenData

	writes   atomic.Int32
	destroys atomic.Int32
}

var _ auth.Strategy = (*Strategy)(nil)

// StrategyOption configures a Strategy.
type StrategyOption func(*Strategy)

// Stateless makes DestroyToken unsupported.
func Stateless() StrategyOption { return func(s *Strategy) { s.stateless = true } }

// FailWrites makes WriteToken return err.
func FailWrites(err error) StrategyOption { return func(s *Strategy) { s.writeErr = err } }

// FailReads makes ReadToken return err.
func FailReads(err error) StrategyOption { return func(s *Strategy) { s.readErr = err } }

// NewStrategy returns a Strategy whose tokens are prefixed with role.
func NewStrategy(role string, opts ...StrategyOption) *Strategy {
	s := &Strategy{role: role, tokens: make(map[string]auth.TokenData)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Writes returns the number of tokens written.
func (s *Strategy) Writes() int { return int(s.writes.Load()) }

// Destroys returns the number of DestroyToken calls.
func (s *Strategy) Destroys() int { return int(s.destroys.Load()) }

func (s *Strategy) ReadToken(ctx context.Context, token string, m users.Manager) (*auth.TokenData, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if !strings.HasPrefix(token, s.role+".") {
		return nil, nil
	}
	s.mu.Lock()
	data, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	u, err := users.Lookup(ctx, m, data.User.ID().String())
	if err != nil || u == nil {
		return nil, err
	}
	data.User = u
	return &data, nil
}

func (s *Strategy) WriteToken(_ context.Context, u users.User, props map[string]any) (*auth.TokenResponse, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	now := time.Now()
	token := s.role + "." + uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = auth.TokenData{
		User:              u,
		IssuedAt:          now,
		LastAuthenticated: auth.LastAuthenticatedFrom(props, now),
		Scopes:            auth.ScopesFrom(props),
		Refreshed:         auth.RefreshedFrom(props),
	}
	s.mu.Unlock()
	s.writes.Add(1)
	return &auth.TokenResponse{AccessToken: token}, nil
}

func (s *Strategy) DestroyToken(_ context.Context, token string, _ users.User) error {
	s.destroys.Add(1)
	if s.stateless {
		return auth.ErrDestroyNotSupported
	}
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	return nil
}

func (s *Strategy) SupportsDestroy() bool { return !s.stateless }

// HeaderName is the request header Transport reads tokens from.
const HeaderName = "X-Test-Token"

// Transport is an auth.Transport reading HeaderName and returning the
// TokenResponse itself as the login body.
type Transport struct {
	logout    bool
	challenge string
	logouts   atomic.Int32
}

var _ auth.Transport = (*Transport)(nil)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLogout makes the transport support logout.
func WithLogout() TransportOption { return func(t *Transport) { t.logout = true } }

// WithChallenge sets the WWW-Authenticate challenge.
func WithChallenge(c string) TransportOption { return func(t *Transport) { t.challenge = c } }

// NewTransport returns a Transport.
func NewTransport(opts ...TransportOption) *Transport {
	t := &Transport{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Logouts returns the number of LogoutResponse calls.
func (t *Transport) Logouts() int { return int(t.logouts.Load()) }

func (t *Transport) Token(r *http.Request) string { return r.Header.Get(HeaderName) }

func (t *Transport) LoginResponse(_ http.ResponseWriter, tok *auth.TokenResponse) (any, error) {
	out := *tok
	return &out, nil
}

func (t *Transport) LogoutResponse(http.ResponseWriter) (any, error) {
	t.logouts.Add(1)
	if !t.logout {
		return nil, auth.ErrLogoutNotSupported
	}
	return map[string]bool{"logged_out": true}, nil
}

func (t *Transport) SupportsLogout() bool { return t.logout }

func (t *Transport) Challenge() string { return t.challenge }

func (t *Transport) LoginResponsesDoc() []auth.ResponseDoc {
	return []auth.ResponseDoc{{Status: http.StatusOK, Schema: auth.SchemaFor[auth.TokenResponse]()}}
}

func (t *Transport) LogoutResponsesDoc() []auth.ResponseDoc { return nil }
