// Package jwtstrategy implements a stateless auth.Strategy that encodes
// users as signed JWTs.
//
// Access and refresh tokens share one claim shape. They are told apart by
// audience: the view returned by RefreshStrategy only accepts tokens minted
// for the refresh audience, so an access token presented as a refresh
// token is rejected. Anyone holding the signing key can still mint either
// role.
package jwtstrategy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/userauth/auth"
	"github.com/ggoodman/userauth/users"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAudience is the audience of access tokens.
	DefaultAudience = "userauth:auth"
	// DefaultRefreshAudience is the audience of refresh tokens.
	DefaultRefreshAudience = "userauth:refresh"
	// DefaultAlgorithm is the signing algorithm when none is configured.
	DefaultAlgorithm = "HS256"
	// DefaultRefreshLifetime applies to refresh tokens unless overridden.
	DefaultRefreshLifetime = 7 * 24 * time.Hour
)

// Claims written by the strategy; additional properties cannot override
// them.
var reservedClaims = map[string]bool{
	"sub":                      true,
	"aud":                      true,
	"iat":                      true,
	"exp":                      true,
	"nbf":                      true,
	"iss":                      true,
	"jti":                      true,
	auth.PropLastAuthenticated: true,
	auth.PropScopes:            true,
	auth.PropRefreshed:         true,
}

// Strategy issues and verifies JWTs. It is immutable and safe for
// concurrent use, so a single instance can back auth.StaticStrategy.
type Strategy struct {
	keys     KeyProvider
	method   jwt.SigningMethod
	lifetime time.Duration
	audience []string
	leeway   time.Duration
	now      func() time.Time

	mintRefresh bool
	refresh     *Strategy
}

var _ auth.Strategy = (*Strategy)(nil)

// Option configures a Strategy.
type Option func(*options)

type options struct {
	keys            KeyProvider
	algorithm       string
	publicKey       []byte
	lifetime        time.Duration
	audience        []string
	refresh         bool
	refreshLifetime time.Duration
	refreshAudience []string
	leeway          time.Duration
	now             func() time.Time
}

// WithLifetime sets the access token lifetime. Zero (default) issues
// tokens without expiry.
func WithLifetime(d time.Duration) Option { return func(o *options) { o.lifetime = d } }

// WithAudience sets the access token audience. Tokens are accepted when
// their audience intersects it.
func WithAudience(aud ...string) Option { return func(o *options) { o.audience = aud } }

// WithAlgorithm sets the signing algorithm, e.g. "HS256", "RS256", "ES256",
// "EdDSA". For asymmetric algorithms the secret is a PEM private key.
func WithAlgorithm(alg string) Option { return func(o *options) { o.algorithm = alg } }

// WithPublicKey sets a PEM public key used for verification instead of the
// one derived from the private key.
func WithPublicKey(pem []byte) Option { return func(o *options) { o.publicKey = pem } }

// WithKeyProvider replaces the key material derived from the secret.
func WithKeyProvider(k KeyProvider) Option { return func(o *options) { o.keys = k } }

// WithRefreshToken makes WriteToken also mint a refresh token with the
// given lifetime. Zero keeps DefaultRefreshLifetime.
func WithRefreshToken(lifetime time.Duration) Option {
	return func(o *options) {
		o.refresh = true
		if lifetime > 0 {
			o.refreshLifetime = lifetime
		}
	}
}

// WithRefreshAudience sets the refresh token audience.
func WithRefreshAudience(aud ...string) Option {
	return func(o *options) { o.refreshAudience = aud }
}

// WithLeeway tolerates clock skew when validating time claims.
func WithLeeway(d time.Duration) Option { return func(o *options) { o.leeway = d } }

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New constructs a Strategy. secret is the HMAC key, or the PEM private key
// for asymmetric algorithms; it may be nil when WithKeyProvider is used.
func New(secret []byte, opts ...Option) (*Strategy, error) {
	o := options{
		algorithm:       DefaultAlgorithm,
		audience:        []string{DefaultAudience},
		refreshLifetime: DefaultRefreshLifetime,
		refreshAudience: []string{DefaultRefreshAudience},
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	method := jwt.GetSigningMethod(o.algorithm)
	if method == nil || method == jwt.SigningMethodNone {
		return nil, fmt.Errorf("jwtstrategy: unsupported algorithm %q", o.algorithm)
	}
	if len(o.audience) == 0 || len(o.refreshAudience) == 0 {
		return nil, errors.New("jwtstrategy: audience must not be empty")
	}
	if slices.ContainsFunc(o.refreshAudience, func(a string) bool { return slices.Contains(o.audience, a) }) {
		return nil, errors.New("jwtstrategy: access and refresh audiences must be disjoint")
	}

	keys := o.keys
	if keys == nil {
		var err error
		if keys, err = keysFromSecret(method, secret, o.publicKey); err != nil {
			return nil, err
		}
	}

	s := &Strategy{
		keys:        keys,
		method:      method,
		lifetime:    o.lifetime,
		audience:    slices.Clone(o.audience),
		leeway:      o.leeway,
		now:         o.now,
		mintRefresh: o.refresh,
	}
	s.refresh = &Strategy{
		keys:     keys,
		method:   method,
		lifetime: o.refreshLifetime,
		audience: slices.Clone(o.refreshAudience),
		leeway:   o.leeway,
		now:      o.now,
	}
	return s, nil
}

// RefreshStrategy returns the view of s that reads and writes refresh
// tokens. Called on a refresh view it returns the view itself.
func (s *Strategy) RefreshStrategy() *Strategy {
	if s.refresh == nil {
		return s
	}
	return s.refresh
}

// Lifetime returns the token lifetime; zero means no expiry.
func (s *Strategy) Lifetime() time.Duration { return s.lifetime }

// Audience returns the accepted audiences.
func (s *Strategy) Audience() []string { return slices.Clone(s.audience) }

// WriteToken signs a token for u. When refresh minting is enabled the
// response also carries a refresh token; auth.Backend decides whether it
// reaches the client.
func (s *Strategy) WriteToken(ctx context.Context, u users.User, props map[string]any) (*auth.TokenResponse, error) {
	access, err := s.sign(ctx, u, props)
	if err != nil {
		return nil, err
	}
	res := &auth.TokenResponse{AccessToken: access}
	if s.mintRefresh {
		if res.RefreshToken, err = s.refresh.sign(ctx, u, props); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Strategy) sign(ctx context.Context, u users.User, props map[string]any) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{}
	for k, v := range props {
		if !reservedClaims[k] {
			claims[k] = v
		}
	}
	claims["sub"] = u.ID().String()
	claims["aud"] = s.audience
	claims["iat"] = now.Unix()
	claims["jti"] = uuid.NewString()
	claims[auth.PropLastAuthenticated] = auth.LastAuthenticatedFrom(props, now).Unix()
	if s.lifetime > 0 {
		claims["exp"] = now.Add(s.lifetime).Unix()
	}
	if scopes := auth.ScopesFrom(props); len(scopes) > 0 {
		claims[auth.PropScopes] = strings.Join(scopes, " ")
	}
	if auth.RefreshedFrom(props) {
		claims[auth.PropRefreshed] = true
	}

	key, kid, err := s.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("jwtstrategy: signing key: %w", err)
	}
	tok := jwt.NewWithClaims(s.method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwtstrategy: sign: %w", err)
	}
	return signed, nil
}

// ReadToken verifies token and resolves its subject. Verification failures
// of any kind yield (nil, nil).
func (s *Strategy) ReadToken(ctx context.Context, token string, m users.Manager) (*auth.TokenData, error) {
	if token == "" {
		return nil, nil
	}
	claims, ok := s.verify(token)
	if !ok {
		return nil, nil
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.ContainsFunc(aud, func(a string) bool { return slices.Contains(s.audience, a) }) {
		return nil, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, nil
	}
	u, err := users.Lookup(ctx, m, sub)
	if err != nil || u == nil {
		return nil, err
	}

	data := &auth.TokenData{User: u}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		data.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		data.ExpiresAt = exp.Time
	}
	data.LastAuthenticated = data.IssuedAt
	if at, ok := claims[auth.PropLastAuthenticated].(float64); ok {
		data.LastAuthenticated = time.Unix(int64(at), 0)
	}
	if scope, ok := claims[auth.PropScopes].(string); ok {
		data.Scopes = auth.ParseScopes(scope)
	}
	data.Refreshed, _ = claims[auth.PropRefreshed].(bool)
	return data, nil
}

func (s *Strategy) verify(token string) (jwt.MapClaims, bool) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuedAt(),
	)

	keyfuncs := []jwt.Keyfunc{s.keys.VerificationKey}
	if mk, ok := s.keys.(MultiKeyProvider); ok {
		keyfuncs = nil
		keys, err := mk.VerificationKeys()
		if err != nil {
			return nil, false
		}
		for _, k := range keys {
			keyfuncs = append(keyfuncs, func(*jwt.Token) (any, error) { return k, nil })
		}
	}

	for _, kf := range keyfuncs {
		parsed, err := parser.Parse(token, kf)
		if err != nil {
			continue
		}
		if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
			return claims, true
		}
	}
	return nil, false
}

// DestroyToken always fails with auth.ErrDestroyNotSupported: a signed
// token stays valid until it expires.
func (s *Strategy) DestroyToken(context.Context, string, users.User) error {
	return auth.ErrDestroyNotSupported
}

func (s *Strategy) SupportsDestroy() bool { return false }
