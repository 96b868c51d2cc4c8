// Package storestrategy implements a stateful auth.Strategy: tokens are
// random opaque strings whose data lives in a tokenstore.Store, so they
// can be revoked before they expire.
package storestrategy

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ggoodman/userauth/auth"
	"github.com/ggoodman/userauth/tokenstore"
	"github.com/ggoodman/userauth/users"
)

const (
	// DefaultKeyPrefix namespaces token records in the store.
	DefaultKeyPrefix = "access:"
	// DefaultLifetime applies when no lifetime is configured.
	DefaultLifetime = time.Hour

	tokenBytes = 32
)

// record is the JSON document stored per token.
type record struct {
	UserID            string         `json:"user_id"`
	IssuedAt          time.Time      `json:"issued_at"`
	LastAuthenticated time.Time      `json:"last_authenticated"`
	Scopes            []string       `json:"scopes,omitempty"`
	Refreshed         bool           `json:"refreshed,omitempty"`
	Props             map[string]any `json:"props,omitempty"`
}

// Strategy stores token data in a tokenstore.Store. It holds no
// per-request state; a factory may still build one per request to bind a
// request-scoped store.
type Strategy struct {
	store     tokenstore.Store
	lifetime  time.Duration
	prefix    string
	singleUse bool
	now       func() time.Time
}

var _ auth.Strategy = (*Strategy)(nil)

// Option configures a Strategy.
type Option func(*Strategy)

// WithLifetime sets the token lifetime, enforced as the record TTL.
func WithLifetime(d time.Duration) Option { return func(s *Strategy) { s.lifetime = d } }

// WithKeyPrefix namespaces records, e.g. "refresh:" for refresh tokens, so
// tokens of one role are never found by a strategy of another.
func WithKeyPrefix(p string) Option { return func(s *Strategy) { s.prefix = p } }

// WithSingleUse consumes the record when a token is read. Two concurrent
// reads of the same token resolve it at most once. Intended for refresh
// tokens, which are rotated on every use.
func WithSingleUse() Option { return func(s *Strategy) { s.singleUse = true } }

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option { return func(s *Strategy) { s.now = now } }

// New constructs a Strategy over store.
func New(store tokenstore.Store, opts ...Option) *Strategy {
	s := &Strategy{
		store:    store,
		lifetime: DefaultLifetime,
		prefix:   DefaultKeyPrefix,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Factory returns an auth.StrategyFactory yielding New(store, opts...).
func Factory(store tokenstore.Store, opts ...Option) auth.StrategyFactory {
	return func(context.Context) (auth.Strategy, error) { return New(store, opts...), nil }
}

func (s *Strategy) WriteToken(ctx context.Context, u users.User, props map[string]any) (*auth.TokenResponse, error) {
	now := s.now()
	rec := record{
		UserID:            u.ID().String(),
		IssuedAt:          now,
		LastAuthenticated: auth.LastAuthenticatedFrom(props, now),
		Scopes:            auth.ScopesFrom(props),
		Refreshed:         auth.RefreshedFrom(props),
	}
	for k, v := range props {
		if k == auth.PropLastAuthenticated || k == auth.PropScopes || k == auth.PropRefreshed {
			continue
		}
		if rec.Props == nil {
			rec.Props = make(map[string]any, len(props))
		}
		rec.Props[k] = v
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("storestrategy: encode record: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, s.key(token), data, tokenstore.WithTTL(s.lifetime)); err != nil {
		return nil, fmt.Errorf("storestrategy: store token: %w", err)
	}
	return &auth.TokenResponse{AccessToken: token}, nil
}

func (s *Strategy) ReadToken(ctx context.Context, token string, m users.Manager) (*auth.TokenData, error) {
	if token == "" {
		return nil, nil
	}
	var (
		item *tokenstore.Item
		err  error
	)
	if s.singleUse {
		item, err = s.store.Take(ctx, s.key(token))
	} else {
		item, err = s.store.Get(ctx, s.key(token))
	}
	if err != nil {
		return nil, fmt.Errorf("storestrategy: load token: %w", err)
	}
	if item == nil || item.IsExpired() {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, nil
	}
	u, err := users.Lookup(ctx, m, rec.UserID)
	if err != nil || u == nil {
		return nil, err
	}

	data := &auth.TokenData{
		User:              u,
		IssuedAt:          rec.IssuedAt,
		LastAuthenticated: rec.LastAuthenticated,
		Scopes:            rec.Scopes,
		Refreshed:         rec.Refreshed,
	}
	if item.ExpiresAt != nil {
		data.ExpiresAt = *item.ExpiresAt
	}
	return data, nil
}

// DestroyToken deletes the token's record if it belongs to u. Unknown
// tokens and tokens of other users are left alone without error.
func (s *Strategy) DestroyToken(ctx context.Context, token string, u users.User) error {
	if token == "" {
		return nil
	}
	key := s.key(token)
	item, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("storestrategy: load token: %w", err)
	}
	if item == nil {
		return nil
	}
	var rec record
	if err := json.Unmarshal(item.Data, &rec); err == nil && u != nil && rec.UserID != u.ID().String() {
		return nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("storestrategy: delete token: %w", err)
	}
	return nil
}

func (s *Strategy) SupportsDestroy() bool { return true }

// key maps token to its record key. Raw tokens are never stored.
func (s *Strategy) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.prefix + hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("storestrategy: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
