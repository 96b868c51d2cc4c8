package redis

import (
	"context"
	"testing"

	"github.com/ggoodman/userauth/tokenstore"
	"github.com/ggoodman/userauth/tokenstore/storetest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3, // Use separate DB for token store tests
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()
	defer client.FlushDB(ctx)

	storetest.RunStoreTests(t, func(t *testing.T) tokenstore.Store {
		s, err := New(ctx, Config{Client: client, KeyPrefix: "userauth:test:"})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return s
	})
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 3})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()
	defer client.FlushDB(ctx)

	s, err := New(ctx, Config{Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Set(ctx, "abc", []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	n, err := client.Exists(ctx, defaultKeyPrefix+"abc").Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected key under default prefix %q", defaultKeyPrefix)
	}
	// Close must not close a caller-owned client.
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("client closed by store: %v", err)
	}
}
