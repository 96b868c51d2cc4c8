package memoryusers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ggoodman/userauth/users"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func TestManager_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := New(WithCost(bcrypt.MinCost))

	u, err := m.Create(ctx, "Alice@Example.com ", "hunter2", Active())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !u.IsActive() || u.IsVerified() {
		t.Fatalf("unexpected flags: active=%v verified=%v", u.IsActive(), u.IsVerified())
	}
	if want, got := "alice@example.com", u.Email(); want != got {
		t.Fatalf("want email %q got %q", want, got)
	}

	got, err := m.Get(ctx, u.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID() != u.ID() {
		t.Fatalf("want id %s got %s", u.ID(), got.ID())
	}

	if _, err := m.Create(ctx, "alice@example.com", "other"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("want ErrEmailTaken, got %v", err)
	}
	if _, err := m.Get(ctx, uuid.New()); !errors.Is(err, users.ErrUserNotExists) {
		t.Fatalf("want ErrUserNotExists, got %v", err)
	}
}

func TestManager_AuthenticatePassword(t *testing.T) {
	ctx := context.Background()
	m := New(WithCost(bcrypt.MinCost))
	u, err := m.Create(ctx, "bob@example.com", "correct horse", Active())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantUser bool
	}{
		{name: "valid", username: "bob@example.com", password: "correct horse", wantUser: true},
		{name: "case insensitive email", username: "BOB@example.com", password: "correct horse", wantUser: true},
		{name: "wrong password", username: "bob@example.com", password: "battery staple"},
		{name: "unknown user", username: "eve@example.com", password: "correct horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.AuthenticatePassword(ctx, tt.username, tt.password)
			if err != nil {
				t.Fatalf("authenticate: %v", err)
			}
			if tt.wantUser && (got == nil || got.ID() != u.ID()) {
				t.Fatalf("want user %s, got %v", u.ID(), got)
			}
			if !tt.wantUser && got != nil {
				t.Fatalf("want no user, got %s", got.ID())
			}
		})
	}
}

func TestManager_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	m := New(WithCost(bcrypt.MinCost))
	u, err := m.Create(ctx, "carol@example.com", "pw", Active())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := m.Update(ctx, u.ID(), Verified()); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := m.Get(ctx, u.ID())
	if !got.IsVerified() {
		t.Fatalf("expected verified after update")
	}
	// Earlier snapshots are not mutated.
	if u.IsVerified() {
		t.Fatalf("snapshot mutated by update")
	}

	if err := m.Deactivate(ctx, u.ID()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ = m.Get(ctx, u.ID())
	if got.IsActive() {
		t.Fatalf("expected inactive after deactivate")
	}

	if err := m.Delete(ctx, u.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, u.ID()); !errors.Is(err, users.ErrUserNotExists) {
		t.Fatalf("want ErrUserNotExists after delete, got %v", err)
	}
	if err := m.Delete(ctx, u.ID()); !errors.Is(err, users.ErrUserNotExists) {
		t.Fatalf("want ErrUserNotExists on second delete, got %v", err)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := New(WithCost(bcrypt.MinCost))
	u, err := m.Create(ctx, "dave@example.com", "pw", Active())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = m.Update(ctx, u.ID(), Verified())
				return
			}
			if _, err := m.Get(ctx, u.ID()); err != nil {
				t.Errorf("get: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
