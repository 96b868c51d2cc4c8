// Package oidcstrategy implements a verify-only auth.Strategy for access
// tokens minted by an external OpenID Connect issuer. Signing keys are
// discovered and refreshed from the issuer's JWKS.
package oidcstrategy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/userauth/auth"
	"github.com/ggoodman/userauth/users"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joeshaw/envdecode"
)

// Config controls validation of issuer-minted access tokens.
type Config struct {
	Issuer string
	// Audiences contains the accepted audiences; a token is accepted when
	// its aud claim intersects them.
	Audiences      []string
	RequiredScopes []string
	ScopeModeAny   bool // if true, any of RequiredScopes is sufficient; else all are required
	AllowedAlgs    []string
	Leeway         time.Duration
	// RequireAccessTokenType enforces the RFC 9068 typ header (at+jwt).
	RequireAccessTokenType bool
}

// EnvConfig is the environment-sourced subset of Config, loaded via
// envdecode. List values are separated by semicolons.
type EnvConfig struct {
	// ENV: AUTH_OIDC_ISSUER
	Issuer string `env:"AUTH_OIDC_ISSUER,required"`
	// ENV: AUTH_OIDC_AUDIENCE
	Audiences []string `env:"AUTH_OIDC_AUDIENCE,required"`
	// ENV: AUTH_OIDC_SCOPES
	RequiredScopes []string `env:"AUTH_OIDC_SCOPES"`
	// ENV: AUTH_OIDC_ALGORITHMS
	AllowedAlgs []string `env:"AUTH_OIDC_ALGORITHMS,default=RS256"`
	// ENV: AUTH_OIDC_LEEWAY
	Leeway time.Duration `env:"AUTH_OIDC_LEEWAY,default=60s"`
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Strategy verifies issuer-minted JWTs and resolves their subject through
// the user manager. It never issues or revokes tokens.
type Strategy struct {
	cfg           *Config
	iss           string
	keyfunc       jwt.Keyfunc
	tokenEndpoint string
}

var _ auth.Strategy = (*Strategy)(nil)

// NewFromDiscovery performs OIDC discovery to obtain the issuer and
// jwks_uri. JWKS keys are refreshed in the background until ctx is done.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Strategy, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
		Token   string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	s, err := newStrategy(ctx, cfg, meta.Issuer, meta.JwksURI)
	if err != nil {
		return nil, err
	}
	s.tokenEndpoint = meta.Token
	return s, nil
}

// NewStatic constructs a Strategy for a statically configured issuer and
// JWKS URI, without discovery.
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (*Strategy, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	return newStrategy(ctx, cfg, cfg.Issuer, jwksURI)
}

// NewFromEnv builds a discovery-based Strategy using envdecode to populate
// Config.
func NewFromEnv(ctx context.Context) (*Strategy, error) {
	var env EnvConfig
	if err := envdecode.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode oidc config: %w", err)
	}
	return NewFromDiscovery(ctx, &Config{
		Issuer:         env.Issuer,
		Audiences:      env.Audiences,
		RequiredScopes: env.RequiredScopes,
		AllowedAlgs:    env.AllowedAlgs,
		Leeway:         env.Leeway,
	})
}

func validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return errors.New("issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return errors.New("at least one audience is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	return nil
}

func newStrategy(ctx context.Context, cfg *Config, iss, jwksURI string) (*Strategy, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &Strategy{
		cfg: cfg,
		iss: iss,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

// TokenEndpoint returns the issuer's token endpoint learned via discovery,
// or "".
func (s *Strategy) TokenEndpoint() string { return s.tokenEndpoint }

// ReadToken verifies token against the issuer's keys and policies. Any
// failure, including insufficient scope, yields (nil, nil).
func (s *Strategy) ReadToken(ctx context.Context, token string, m users.Manager) (*auth.TokenData, error) {
	if token == "" {
		return nil, nil
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(s.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.iss),
		jwt.WithLeeway(s.cfg.Leeway),
	)
	parsed, err := parser.Parse(token, s.keyfunc)
	if err != nil {
		return nil, nil
	}
	if s.cfg.RequireAccessTokenType {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, nil
		}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil
	}
	if !audIntersects(claims["aud"], s.cfg.Audiences) {
		return nil, nil
	}

	scopes := auth.ParseScopes(stringClaim(claims, "scope"))
	if !s.scopesSatisfied(scopes) {
		return nil, nil
	}

	u, err := users.Lookup(ctx, m, stringClaim(claims, "sub"))
	if err != nil || u == nil {
		return nil, err
	}

	data := &auth.TokenData{User: u, Scopes: scopes}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		data.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		data.ExpiresAt = exp.Time
	}
	data.LastAuthenticated = data.IssuedAt
	if at, ok := claims["auth_time"].(float64); ok {
		data.LastAuthenticated = time.Unix(int64(at), 0)
	}
	return data, nil
}

func (s *Strategy) scopesSatisfied(have []string) bool {
	if len(s.cfg.RequiredScopes) == 0 {
		return true
	}
	if s.cfg.ScopeModeAny {
		return slices.ContainsFunc(s.cfg.RequiredScopes, func(want string) bool { return slices.Contains(have, want) })
	}
	for _, want := range s.cfg.RequiredScopes {
		if !slices.Contains(have, want) {
			return false
		}
	}
	return true
}

// WriteToken always fails with auth.ErrWriteNotSupported: tokens are minted
// by the issuer.
func (s *Strategy) WriteToken(context.Context, users.User, map[string]any) (*auth.TokenResponse, error) {
	return nil, auth.ErrWriteNotSupported
}

// DestroyToken always fails with auth.ErrDestroyNotSupported.
func (s *Strategy) DestroyToken(context.Context, string, users.User) error {
	return auth.ErrDestroyNotSupported
}

func (s *Strategy) SupportsDestroy() bool { return false }

func stringClaim(claims jwt.MapClaims, name string) string {
	v, _ := claims[name].(string)
	return strings.TrimSpace(v)
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		return slices.ContainsFunc(v, func(s string) bool { return slices.Contains(wants, s) })
	}
	return false
}
