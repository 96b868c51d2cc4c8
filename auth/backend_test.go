package auth_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/userauth/auth"
	"github.com/ggoodman/userauth/auth/authtest"
	"github.com/ggoodman/userauth/users/memoryusers"
	"golang.org/x/crypto/bcrypt"
)

type env struct {
	ctx     context.Context
	m       *memoryusers.Manager
	user    *memoryusers.User
	access  *authtest.Strategy
	refresh *authtest.Strategy
}

func newEnv(t *testing.T, opts ...memoryusers.UserOption) *env {
	t.Helper()
	ctx := context.Background()
	m := memoryusers.New(memoryusers.WithCost(bcrypt.MinCost))
	if opts == nil {
		opts = []memoryusers.UserOption{memoryusers.Active(), memoryusers.Verified()}
	}
	u, err := m.Create(ctx, "king.arthur@camelot.bt", "guinevere", opts...)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &env{
		ctx:     ctx,
		m:       m,
		user:    u,
		access:  authtest.NewStrategy("access"),
		refresh: authtest.NewStrategy("refresh"),
	}
}

func (e *env) backend(t *testing.T, name string, tr auth.Transport, withRefresh bool) *auth.Backend {
	t.Helper()
	var opts []auth.BackendOption
	if withRefresh {
		opts = append(opts, auth.WithRefreshStrategy(auth.StaticStrategy(e.refresh)))
	}
	b, err := auth.NewBackend(name, tr, auth.StaticStrategy(e.access), opts...)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	return b
}

func TestNewBackendValidation(t *testing.T) {
	tr := authtest.NewTransport()
	s := auth.StaticStrategy(authtest.NewStrategy("access"))
	if _, err := auth.NewBackend("", tr, s); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := auth.NewBackend("x", nil, s); err == nil {
		t.Fatalf("expected error for nil transport")
	}
	if _, err := auth.NewBackend("x", tr, nil); err == nil {
		t.Fatalf("expected error for nil strategy")
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	b := e.backend(t, "test", authtest.NewTransport(), true)

	t.Run("without refresh", func(t *testing.T) {
		body, err := b.Login(e.ctx, httptest.NewRecorder(), e.access, e.user)
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		tok := body.(*auth.TokenResponse)
		if tok.AccessToken == "" {
			t.Fatalf("expected an access token")
		}
		if tok.RefreshToken != "" {
			t.Fatalf("refresh token issued without a refresh strategy: %q", tok.RefreshToken)
		}
	})

	t.Run("with refresh", func(t *testing.T) {
		body, err := b.Login(e.ctx, httptest.NewRecorder(), e.access, e.user, auth.WithRefresh(e.refresh))
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		tok := body.(*auth.TokenResponse)
		if tok.AccessToken == "" || tok.RefreshToken == "" {
			t.Fatalf("expected both tokens, got %+v", tok)
		}
		data, err := e.refresh.ReadToken(e.ctx, tok.RefreshToken, e.m)
		if err != nil || data == nil || data.User.ID() != e.user.ID() {
			t.Fatalf("refresh token does not resolve to the user: %v", err)
		}
	})

	t.Run("properties", func(t *testing.T) {
		body, err := b.Login(e.ctx, httptest.NewRecorder(), e.access, e.user,
			auth.WithAccessProperties(map[string]any{auth.PropScopes: []string{"read"}}))
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		data, err := e.access.ReadToken(e.ctx, body.(*auth.TokenResponse).AccessToken, e.m)
		if err != nil || data == nil {
			t.Fatalf("read: %v", err)
		}
		if len(data.Scopes) != 1 || data.Scopes[0] != "read" {
			t.Fatalf("want scopes [read], got %v", data.Scopes)
		}
	})
}

func TestLoginAccessFailureSkipsRefresh(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("boom")
	failing := authtest.NewStrategy("access", authtest.FailWrites(boom))
	b := e.backend(t, "test", authtest.NewTransport(), true)

	if _, err := b.Login(e.ctx, httptest.NewRecorder(), failing, e.user, auth.WithRefresh(e.refresh)); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if n := e.refresh.Writes(); n != 0 {
		t.Fatalf("refresh token written after access failure: %d writes", n)
	}
}

func TestLogout(t *testing.T) {
	cases := []struct {
		name      string
		strategy  *authtest.Strategy
		transport *authtest.Transport
		wantBody  bool
	}{
		{"stateless strategy, no transport logout", authtest.NewStrategy("access", authtest.Stateless()), authtest.NewTransport(), false},
		{"revocable strategy, no transport logout", authtest.NewStrategy("access"), authtest.NewTransport(), false},
		{"revocable strategy, transport logout", authtest.NewStrategy("access"), authtest.NewTransport(authtest.WithLogout()), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			b, err := auth.NewBackend("test", tc.transport, auth.StaticStrategy(tc.strategy))
			if err != nil {
				t.Fatalf("new backend: %v", err)
			}
			tok, err := tc.strategy.WriteToken(e.ctx, e.user, nil)
			if err != nil {
				t.Fatalf("write: %v", err)
			}

			// Logout is idempotent: the second call must behave like the first.
			for i := 0; i < 2; i++ {
				body, err := b.Logout(e.ctx, httptest.NewRecorder(), tc.strategy, e.user, tok.AccessToken)
				if err != nil {
					t.Fatalf("logout #%d: %v", i+1, err)
				}
				if (body != nil) != tc.wantBody {
					t.Fatalf("logout #%d: want body %v, got %v", i+1, tc.wantBody, body)
				}
			}

			if tc.strategy.SupportsDestroy() {
				if data, _ := tc.strategy.ReadToken(e.ctx, tok.AccessToken, e.m); data != nil {
					t.Fatalf("token still valid after logout")
				}
			} else if tc.strategy.Destroys() != 0 {
				t.Fatalf("destroy called on a strategy that does not support it")
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)
	b := e.backend(t, "test", authtest.NewTransport(), true)

	body, err := b.Login(e.ctx, httptest.NewRecorder(), e.access, e.user, auth.WithRefresh(e.refresh))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	first := body.(*auth.TokenResponse)

	body, err = b.Refresh(e.ctx, httptest.NewRecorder(), e.m, &auth.RefreshForm{RefreshToken: first.RefreshToken})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	second := body.(*auth.TokenResponse)
	if second.AccessToken == first.AccessToken || second.RefreshToken == first.RefreshToken || second.RefreshToken == "" {
		t.Fatalf("expected rotated tokens, got %+v after %+v", second, first)
	}

	data, err := e.access.ReadToken(e.ctx, second.AccessToken, e.m)
	if err != nil || data == nil {
		t.Fatalf("read refreshed access token: %v", err)
	}
	if data.User.ID() != e.user.ID() {
		t.Fatalf("want user %s, got %s", e.user.ID(), data.User.ID())
	}
	if data.Fresh() {
		t.Fatalf("refreshed access token must not be fresh")
	}
}

func TestRefreshErrors(t *testing.T) {
	e := newEnv(t)
	withRefresh := e.backend(t, "with", authtest.NewTransport(), true)
	withoutRefresh := e.backend(t, "without", authtest.NewTransport(), false)

	access, err := e.access.WriteToken(e.ctx, e.user, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	refresh, err := e.refresh.WriteToken(e.ctx, e.user, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := []struct {
		name    string
		backend *auth.Backend
		token   string
		want    error
	}{
		{"garbage", withRefresh, "foo", auth.ErrInvalidGrant},
		{"access token", withRefresh, access.AccessToken, auth.ErrInvalidGrant},
		{"no refresh strategy, valid token", withoutRefresh, refresh.AccessToken, auth.ErrMisconfigured},
		{"no refresh strategy, garbage", withoutRefresh, "foo", auth.ErrMisconfigured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.backend.Refresh(e.ctx, httptest.NewRecorder(), e.m, &auth.RefreshForm{RefreshToken: tc.token})
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRefreshInactiveUser(t *testing.T) {
	e := newEnv(t)
	b := e.backend(t, "test", authtest.NewTransport(), true)
	refresh, err := e.refresh.WriteToken(e.ctx, e.user, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := e.m.Deactivate(e.ctx, e.user.ID()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = b.Refresh(e.ctx, httptest.NewRecorder(), e.m, &auth.RefreshForm{RefreshToken: refresh.AccessToken})
	if !errors.Is(err, auth.ErrInvalidGrant) {
		t.Fatalf("want ErrInvalidGrant, got %v", err)
	}
}

func TestRefreshStoreFailure(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("store down")
	b, err := auth.NewBackend("test", authtest.NewTransport(), auth.StaticStrategy(e.access),
		auth.WithRefreshStrategy(auth.StaticStrategy(authtest.NewStrategy("refresh", authtest.FailReads(boom)))))
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	_, err = b.Refresh(e.ctx, httptest.NewRecorder(), e.m, &auth.RefreshForm{RefreshToken: "refresh.x"})
	if !errors.Is(err, boom) || errors.Is(err, auth.ErrInvalidGrant) {
		t.Fatalf("want infrastructure error, got %v", err)
	}
}
