package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/userauth/tokenstore"
	"github.com/ggoodman/userauth/tokenstore/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) tokenstore.Store {
		s, err := New(0)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return s
	})
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("a"))
	_ = s.Set(ctx, "b", []byte("b"))
	// Touch "a" so that "b" becomes the eviction candidate.
	if item, _ := s.Get(ctx, "a"); item == nil {
		t.Fatalf("expected a")
	}
	_ = s.Set(ctx, "c", []byte("c"))

	if item, _ := s.Get(ctx, "b"); item != nil {
		t.Fatalf("expected b to be evicted")
	}
	if item, _ := s.Get(ctx, "a"); item == nil {
		t.Fatalf("expected a to survive")
	}
}

func TestMemoryStore_RemoveExpired(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "short", []byte("x"), tokenstore.WithTTL(10*time.Millisecond))
	_ = s.Set(ctx, "long", []byte("y"), tokenstore.WithTTL(time.Hour))
	time.Sleep(30 * time.Millisecond)

	s.removeExpired()
	if want, got := 1, s.Len(); want != got {
		t.Fatalf("want %d items after sweep, got %d", want, got)
	}
}

func TestMemoryStore_CopiesInput(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	buf := []byte("original")
	_ = s.Set(ctx, "k", buf)
	buf[0] = 'X'

	item, _ := s.Get(ctx, "k")
	if want, got := "original", string(item.Data); want != got {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
