// Package memory provides an in-memory tokenstore.Store bounded by an LRU
// cache, with per-item TTL and a background sweeper.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/userauth/tokenstore"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the store when New is given a non-positive size.
const DefaultMaxItems = 100_000

const sweepInterval = time.Minute

var _ tokenstore.Store = (*Store)(nil)

// Store implements tokenstore.Store in process memory. When the cache is full
// the least recently used token is evicted, which the owning strategy
// observes as an invalid token.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *tokenstore.Item]

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a store holding at most maxItems tokens.
func New(maxItems int) (*Store, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, *tokenstore.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Store{cache: cache, stop: make(chan struct{})}
	go s.sweep(sweepInterval)
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (*tokenstore.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key), nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte, opts ...tokenstore.Option) error {
	options := tokenstore.Apply(opts...)

	now := time.Now()
	item := &tokenstore.Item{
		Data:      make([]byte, len(data)),
		CreatedAt: now,
	}
	copy(item.Data, data)
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(key, item)
	s.mu.Unlock()
	return nil
}

func (s *Store) Take(ctx context.Context, key string) (*tokenstore.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.getLocked(key)
	if item != nil {
		s.cache.Remove(key)
	}
	return item, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

// Close stops the sweeper and drops every stored token.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored items, expired ones included.
func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) getLocked(key string) *tokenstore.Item {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	if item.IsExpired() {
		s.cache.Remove(key)
		return nil
	}
	return item
}

func (s *Store) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *Store) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.cache.Keys() {
		if item, ok := s.cache.Peek(key); ok && item.IsExpired() {
			s.cache.Remove(key)
		}
	}
}
