// Package storetest provides a conformance suite for tokenstore.Store
// implementations.
package storetest

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/userauth/tokenstore"
	"github.com/google/uuid"
)

// StoreFactory creates a new Store instance for testing.
type StoreFactory func(t *testing.T) tokenstore.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("TakeIsSingleUse", func(t *testing.T) { testTakeSingleUse(t, factory) })
	t.Run("TakeConcurrent", func(t *testing.T) { testTakeConcurrent(t, factory) })
}

func newStore(t *testing.T, factory StoreFactory) tokenstore.Store {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// key returns a unique key so suites can share a backing store.
func key(t *testing.T) string {
	t.Helper()
	return "storetest:" + uuid.NewString()
}

func testSetAndGet(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	k := key(t)

	if err := s.Set(ctx, k, []byte("payload")); err != nil {
		t.Fatalf("set: %v", err)
	}
	item, err := s.Get(ctx, k)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item == nil {
		t.Fatalf("expected item, got nil")
	}
	if !bytes.Equal(item.Data, []byte("payload")) {
		t.Fatalf("want data %q got %q", "payload", item.Data)
	}
	if item.ExpiresAt != nil {
		t.Fatalf("expected no expiry, got %v", item.ExpiresAt)
	}
	if item.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be set")
	}
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	item, err := s.Get(context.Background(), key(t))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item for missing key")
	}
}

func testOverwrite(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	k := key(t)

	_ = s.Set(ctx, k, []byte("one"))
	if err := s.Set(ctx, k, []byte("two")); err != nil {
		t.Fatalf("set: %v", err)
	}
	item, err := s.Get(ctx, k)
	if err != nil || item == nil {
		t.Fatalf("get: item=%v err=%v", item, err)
	}
	if want, got := "two", string(item.Data); want != got {
		t.Fatalf("want %q got %q", want, got)
	}
}

func testTTL(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	k := key(t)

	if err := s.Set(ctx, k, []byte("short"), tokenstore.WithTTL(100*time.Millisecond)); err != nil {
		t.Fatalf("set: %v", err)
	}
	item, err := s.Get(ctx, k)
	if err != nil || item == nil {
		t.Fatalf("expected item before expiry: item=%v err=%v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatalf("expected ExpiresAt to be set")
	}

	time.Sleep(250 * time.Millisecond)

	item, err = s.Get(ctx, k)
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item after expiry")
	}
	item, err = s.Take(ctx, k)
	if err != nil {
		t.Fatalf("take after expiry: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil take after expiry")
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	k := key(t)

	_ = s.Set(ctx, k, []byte("x"))
	if err := s.Delete(ctx, k); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if item, _ := s.Get(ctx, k); item != nil {
		t.Fatalf("expected nil after delete")
	}
	if err := s.Delete(ctx, k); err != nil {
		t.Fatalf("deleting a missing key must not fail: %v", err)
	}
}

func testTakeSingleUse(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	k := key(t)

	_ = s.Set(ctx, k, []byte("once"))
	item, err := s.Take(ctx, k)
	if err != nil || item == nil {
		t.Fatalf("first take: item=%v err=%v", item, err)
	}
	if want, got := "once", string(item.Data); want != got {
		t.Fatalf("want %q got %q", want, got)
	}
	item, err = s.Take(ctx, k)
	if err != nil {
		t.Fatalf("second take: %v", err)
	}
	if item != nil {
		t.Fatalf("second take must observe nothing")
	}
	if item, _ := s.Get(ctx, k); item != nil {
		t.Fatalf("get after take must observe nothing")
	}
}

func testTakeConcurrent(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	k := key(t)
	_ = s.Set(ctx, k, []byte("race"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := s.Take(ctx, k)
			if err != nil {
				t.Errorf("take: %v", err)
				return
			}
			if item != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if want, got := int32(1), wins.Load(); want != got {
		t.Fatalf("want exactly %d winner, got %d", want, got)
	}
}
