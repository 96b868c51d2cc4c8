// Package strategytest provides a conformance suite for auth.Strategy
// implementations that can both issue and read tokens.
package strategytest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ggoodman/userauth/auth"
	"github.com/ggoodman/userauth/users"
	"github.com/ggoodman/userauth/users/memoryusers"
	"golang.org/x/crypto/bcrypt"
)

// StrategyFactory creates a Strategy resolving users through m.
type StrategyFactory func(t *testing.T, m users.Manager) auth.Strategy

// RunStrategyTests runs the complete Strategy test suite against the
// provided factory.
func RunStrategyTests(t *testing.T, factory StrategyFactory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("TokensAreUnique", func(t *testing.T) { testUnique(t, factory) })
	t.Run("EmptyToken", func(t *testing.T) { testInvalid(t, factory, "") })
	t.Run("GarbageToken", func(t *testing.T) { testInvalid(t, factory, "foo") })
	t.Run("TamperedToken", func(t *testing.T) { testTampered(t, factory) })
	t.Run("DeletedUser", func(t *testing.T) { testDeletedUser(t, factory) })
	t.Run("Properties", func(t *testing.T) { testProperties(t, factory) })
	t.Run("Refreshed", func(t *testing.T) { testRefreshed(t, factory) })
	t.Run("Destroy", func(t *testing.T) { testDestroy(t, factory) })
}

type fixture struct {
	m    *memoryusers.Manager
	s    auth.Strategy
	user *memoryusers.User
}

func setup(t *testing.T, factory StrategyFactory) *fixture {
	t.Helper()
	m := memoryusers.New(memoryusers.WithCost(bcrypt.MinCost))
	u, err := m.Create(context.Background(), "king.arthur@camelot.bt", "guinevere", memoryusers.Active(), memoryusers.Verified())
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &fixture{m: m, s: factory(t, m), user: u}
}

func (f *fixture) write(t *testing.T, props map[string]any) string {
	t.Helper()
	tok, err := f.s.WriteToken(context.Background(), f.user, props)
	if err != nil {
		t.Fatalf("write token: %v", err)
	}
	if tok == nil || tok.AccessToken == "" {
		t.Fatalf("expected a token, got %+v", tok)
	}
	return tok.AccessToken
}

func testRoundTrip(t *testing.T, factory StrategyFactory) {
	f := setup(t, factory)
	tok := f.write(t, nil)

	data, err := f.s.ReadToken(context.Background(), tok, f.m)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	if data == nil || data.User == nil {
		t.Fatalf("expected token data, got %+v", data)
	}
	if data.User.ID() != f.user.ID() {
		t.Fatalf("want user %s, got %s", f.user.ID(), data.User.ID())
	}
	if data.IssuedAt.IsZero() {
		t.Fatalf("expected issued_at")
	}
	if !data.Fresh() {
		t.Fatalf("expected a fresh token: issued %v, last auth %v", data.IssuedAt, data.LastAuthenticated)
	}
}

func testUnique(t *testing.T, factory StrategyFactory) {
	f := setup(t, factory)
	a := f.write(t, nil)
	b := f.write(t, nil)
	if a == b {
		t.Fatalf("expected distinct tokens, got %q twice", a)
	}
}

func testInvalid(t *testing.T, factory StrategyFactory, tok string) {
	f := setup(t, factory)
	data, err := f.s.ReadToken(context.Background(), tok, f.m)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	if data != nil {
		t.Fatalf("expected no data for %q, got %+v", tok, data)
	}
}

func testTampered(t *testing.T, factory StrategyFactory) {
	f := setup(t, factory)
	tok := f.write(t, nil)
	data, err := f.s.ReadToken(context.Background(), tok+"x", f.m)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	if data != nil {
		t.Fatalf("expected tampered token to be rejected")
	}
}

func testDeletedUser(t *testing.T, factory StrategyFactory) {
	f := setup(t, factory)
	ctx := context.Background()
	tok := f.write(t, nil)
	if err := f.m.Delete(ctx, f.user.ID()); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	data, err := f.s.ReadToken(ctx, tok, f.m)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	if data != nil {
		t.Fatalf("expected token of deleted user to be rejected")
	}
}

func testProperties(t *testing.T, factory StrategyFactory) {
	f := setup(t, factory)
	lastAuth := time.Now().Add(-time.Hour).Truncate(time.Second)
	tok := f.write(t, map[string]any{
		auth.PropLastAuthenticated: lastAuth,
		auth.PropScopes:            []string{"read", "write"},
	})

	data, err := f.s.ReadToken(context.Background(), tok, f.m)
	if err != nil || data == nil {
		t.Fatalf("read token: %v, %+v", err, data)
	}
	if !data.LastAuthenticated.Equal(lastAuth) {
		t.Fatalf("want last authenticated %v, got %v", lastAuth, data.LastAuthenticated)
	}
	if data.Fresh() {
		t.Fatalf("expected token carrying an earlier auth_time to not be fresh")
	}
	if want := []string{"read", "write"}; !reflect.DeepEqual(data.Scopes, want) {
		t.Fatalf("want scopes %v, got %v", want, data.Scopes)
	}
}

// A refreshed token is not fresh even when its auth_time matches its
// issue time to the second.
func testRefreshed(t *testing.T, factory StrategyFactory) {
	f := setup(t, factory)
	tok := f.write(t, map[string]any{
		auth.PropLastAuthenticated: time.Now(),
		auth.PropRefreshed:         true,
	})

	data, err := f.s.ReadToken(context.Background(), tok, f.m)
	if err != nil || data == nil {
		t.Fatalf("read token: %v, %+v", err, data)
	}
	if !data.Refreshed {
		t.Fatalf("expected refreshed marker to survive the round trip")
	}
	if data.Fresh() {
		t.Fatalf("expected refreshed token to not be fresh")
	}
}

func testDestroy(t *testing.T, factory StrategyFactory) {
	f := setup(t, factory)
	ctx := context.Background()
	tok := f.write(t, nil)

	err := f.s.DestroyToken(ctx, tok, f.user)
	if !f.s.SupportsDestroy() {
		if !errors.Is(err, auth.ErrDestroyNotSupported) {
			t.Fatalf("want ErrDestroyNotSupported, got %v", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("destroy: %v", err)
	}
	data, err := f.s.ReadToken(ctx, tok, f.m)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	if data != nil {
		t.Fatalf("expected destroyed token to be rejected")
	}
	if err := f.s.DestroyToken(ctx, tok, f.user); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
}
