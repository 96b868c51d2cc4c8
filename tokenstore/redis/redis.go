// Package redis provides a Redis-backed tokenstore.Store. Expiry is enforced
// by Redis itself and Take maps to GETDEL, so single-use redemption holds
// across any number of processes sharing the same Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/userauth/tokenstore"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "userauth:tokens:"

// Config for the Redis store.
type Config struct {
	// Client is an existing client to use. When nil a client is dialed from
	// Addr and owned (closed) by the store.
	Client *redis.Client

	// Addr like "localhost:6379".
	Addr string

	// KeyPrefix for all keys. Default: "userauth:tokens:"
	KeyPrefix string
}

// EnvConfig is the environment-sourced subset of Config, loaded via envdecode.
type EnvConfig struct {
	// ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// ENV: AUTH_TOKENS_KEY_PREFIX
	KeyPrefix string `env:"AUTH_TOKENS_KEY_PREFIX,default=userauth:tokens:"`
}

// Store implements tokenstore.Store using Redis.
type Store struct {
	client     *redis.Client
	keyPrefix  string
	ownsClient bool
}

var _ tokenstore.Store = (*Store)(nil)

// storedItem is the JSON document stored under each key.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a Redis store. When cfg.Client is nil the store dials
// cfg.Addr and verifies connectivity with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	s := &Store{client: cfg.Client, keyPrefix: cfg.KeyPrefix}
	if s.keyPrefix == "" {
		s.keyPrefix = defaultKeyPrefix
	}
	if s.client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		s.client = redis.NewClient(&redis.Options{Addr: addr})
		s.ownsClient = true
		if err := s.client.Ping(ctx).Err(); err != nil {
			_ = s.client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var env EnvConfig
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, Config{Addr: env.Addr, KeyPrefix: env.KeyPrefix})
}

func (s *Store) Get(ctx context.Context, key string) (*tokenstore.Item, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token record: %w", err)
	}
	return decode(raw)
}

func (s *Store) Set(ctx context.Context, key string, data []byte, opts ...tokenstore.Option) error {
	options := tokenstore.Apply(opts...)

	now := time.Now()
	item := storedItem{Data: data, CreatedAt: now}
	var ttl time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		ttl = *options.TTL
	}

	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token record: %w", err)
	}
	return nil
}

func (s *Store) Take(ctx context.Context, key string) (*tokenstore.Item, error) {
	raw, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to take token record: %w", err)
	}
	return decode(raw)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	return nil
}

// Close closes the Redis client if the store created it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(k string) string { return s.keyPrefix + k }

func decode(raw []byte) (*tokenstore.Item, error) {
	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	out := &tokenstore.Item{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}
	// Redis expiry has millisecond resolution; guard the boundary.
	if out.IsExpired() {
		return nil, nil
	}
	return out, nil
}
