package jwtstrategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joeshaw/envdecode"
)

// Config is the environment-sourced configuration of a Strategy, loaded
// via envdecode. List values are separated by semicolons.
type Config struct {
	// ENV: AUTH_JWT_SECRET. HMAC secret or PEM private key.
	Secret string `env:"AUTH_JWT_SECRET"`
	// ENV: AUTH_JWT_SECRET_FILE. Watched HMAC secret file; takes precedence
	// over Secret.
	SecretFile string `env:"AUTH_JWT_SECRET_FILE"`
	// ENV: AUTH_JWT_PUBLIC_KEY. Optional PEM public key.
	PublicKey string `env:"AUTH_JWT_PUBLIC_KEY"`
	// ENV: AUTH_JWT_ALGORITHM
	Algorithm string `env:"AUTH_JWT_ALGORITHM,default=HS256"`
	// ENV: AUTH_JWT_LIFETIME. Zero disables expiry.
	Lifetime time.Duration `env:"AUTH_JWT_LIFETIME,default=1h"`
	// ENV: AUTH_JWT_AUDIENCE
	Audience []string `env:"AUTH_JWT_AUDIENCE,default=userauth:auth"`
	// ENV: AUTH_JWT_REFRESH
	Refresh bool `env:"AUTH_JWT_REFRESH,default=true"`
	// ENV: AUTH_JWT_REFRESH_LIFETIME
	RefreshLifetime time.Duration `env:"AUTH_JWT_REFRESH_LIFETIME,default=168h"`
	// ENV: AUTH_JWT_REFRESH_AUDIENCE
	RefreshAudience []string `env:"AUTH_JWT_REFRESH_AUDIENCE,default=userauth:refresh"`
	// ENV: AUTH_JWT_LEEWAY
	Leeway time.Duration `env:"AUTH_JWT_LEEWAY,default=0s"`
}

// NewFromEnv builds a Strategy using envdecode to populate Config.
func NewFromEnv(ctx context.Context, log *slog.Logger, opts ...Option) (*Strategy, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode jwt config: %w", err)
	}
	return NewFromConfig(ctx, cfg, log, opts...)
}

// NewFromConfig builds a Strategy from cfg. opts are applied after the
// options derived from cfg. A watched SecretFile stops being watched when
// ctx is done.
func NewFromConfig(ctx context.Context, cfg Config, log *slog.Logger, opts ...Option) (*Strategy, error) {
	base := []Option{
		WithLifetime(cfg.Lifetime),
		WithLeeway(cfg.Leeway),
	}
	if cfg.Algorithm != "" {
		base = append(base, WithAlgorithm(cfg.Algorithm))
	}
	if len(cfg.Audience) > 0 {
		base = append(base, WithAudience(cfg.Audience...))
	}
	if len(cfg.RefreshAudience) > 0 {
		base = append(base, WithRefreshAudience(cfg.RefreshAudience...))
	}
	if cfg.Refresh {
		base = append(base, WithRefreshToken(cfg.RefreshLifetime))
	}
	if cfg.PublicKey != "" {
		base = append(base, WithPublicKey([]byte(cfg.PublicKey)))
	}
	if cfg.SecretFile != "" {
		if _, hmac := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC); !hmac && cfg.Algorithm != "" {
			return nil, fmt.Errorf("jwtstrategy: secret files require an HMAC algorithm, got %q", cfg.Algorithm)
		}
		fs, err := WatchSecretFile(ctx, cfg.SecretFile, log)
		if err != nil {
			return nil, err
		}
		base = append(base, WithKeyProvider(fs))
	} else if cfg.Secret == "" {
		return nil, errors.New("jwtstrategy: AUTH_JWT_SECRET or AUTH_JWT_SECRET_FILE is required")
	}
	return New([]byte(cfg.Secret), append(base, opts...)...)
}
