// Package tokenstore defines the key/value contract used by stateful token
// strategies to persist issued tokens with a time-to-live.
package tokenstore

import (
	"context"
	"time"
)

// Store persists opaque token records.
//
// Implementations must be safe for concurrent use. Get and Take return a nil
// Item (and nil error) when the key does not exist or has expired; errors
// are reserved for failures of the storage system itself.
type Store interface {
	// Get returns the item stored under key.
	Get(ctx context.Context, key string) (*Item, error)

	// Set stores data under key, replacing any existing item.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Take atomically returns and removes the item stored under key. Of any
	// number of concurrent Take calls for the same key at most one observes
	// the item.
	Take(ctx context.Context, key string) (*Item, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}

// Item is a stored record with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item has expired.
func (i *Item) IsExpired() bool {
	return i.ExpiresAt != nil && time.Now().After(*i.ExpiresAt)
}

// Option configures a Set call.
type Option func(*Options)

// Options holds per-call settings.
type Options struct {
	TTL *time.Duration
}

// WithTTL expires the item after ttl. Non-positive values mean no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.TTL = &ttl
		}
	}
}

// Apply folds opts into an Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
