package oidcstrategy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggoodman/userauth/auth"
	"github.com/ggoodman/userauth/users/memoryusers"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type mockOIDC struct {
	srv      *httptest.Server
	issuer   string
	jwksPath string
}

func newMockOIDC(t *testing.T, keysJSON []byte) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys"}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + m.jwksPath,
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"response_types_supported": []string{"code"},
		})
	})
	handler.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	b, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, headerTyp string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	if headerTyp != "" {
		tok.Header["typ"] = headerTyp
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

const testAudience = "https://api.example.com"

type fixture struct {
	ctx  context.Context
	pk   *rsa.PrivateKey
	kid  string
	idp  *mockOIDC
	m    *memoryusers.Manager
	user *memoryusers.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	pk, kid, jwks := genRSA(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := memoryusers.New(memoryusers.WithCost(bcrypt.MinCost))
	u, err := m.Create(ctx, "gawain@camelot.bt", "green-knight", memoryusers.Active())
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &fixture{ctx: ctx, pk: pk, kid: kid, idp: newMockOIDC(t, jwks), m: m, user: u}
}

func (f *fixture) config() *Config {
	cfg := DefaultConfig()
	cfg.Issuer = f.idp.issuer
	cfg.Audiences = []string{testAudience}
	cfg.Leeway = 0
	return cfg
}

func (f *fixture) claims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   f.idp.issuer,
		"sub":   f.user.ID().String(),
		"aud":   testAudience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "profile email",
	}
}

func TestReadToken_HappyPath(t *testing.T) {
	f := setup(t)
	s, err := NewFromDiscovery(f.ctx, f.config())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got, want := s.TokenEndpoint(), f.idp.issuer+"/oauth2/token"; got != want {
		t.Fatalf("want token endpoint %q, got %q", want, got)
	}

	tok := signToken(t, f.pk, f.kid, "at+jwt", f.claims())
	data, err := s.ReadToken(f.ctx, tok, f.m)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if data == nil || data.User.ID() != f.user.ID() {
		t.Fatalf("expected user %s, got %+v", f.user.ID(), data)
	}
	if len(data.Scopes) != 2 || data.Scopes[0] != "profile" || data.Scopes[1] != "email" {
		t.Fatalf("unexpected scopes %v", data.Scopes)
	}
	if !data.Fresh() {
		t.Fatalf("expected fresh token without auth_time")
	}
}

func TestReadToken_Rejects(t *testing.T) {
	f := setup(t)
	cfg := f.config()
	cfg.RequiredScopes = []string{"profile", "admin"}
	cfg.RequireAccessTokenType = true
	s, err := NewFromDiscovery(f.ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	withScope := f.claims()
	withScope["scope"] = "profile admin"

	cases := map[string]struct {
		typ    string
		mutate func(jwt.MapClaims)
	}{
		"insufficient scope": {"at+jwt", func(c jwt.MapClaims) {}},
		"wrong typ":          {"JWT", func(c jwt.MapClaims) { c["scope"] = "profile admin" }},
		"issuer mismatch":    {"at+jwt", func(c jwt.MapClaims) { c["scope"] = "profile admin"; c["iss"] = "https://evil.example.com" }},
		"audience mismatch":  {"at+jwt", func(c jwt.MapClaims) { c["scope"] = "profile admin"; c["aud"] = "https://unknown" }},
		"expired":            {"at+jwt", func(c jwt.MapClaims) { c["scope"] = "profile admin"; c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		"unknown subject":    {"at+jwt", func(c jwt.MapClaims) { c["scope"] = "profile admin"; c["sub"] = "user-123" }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := f.claims()
			tc.mutate(c)
			data, err := s.ReadToken(f.ctx, signToken(t, f.pk, f.kid, tc.typ, c), f.m)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if data != nil {
				t.Fatalf("expected rejection")
			}
		})
	}

	data, err := s.ReadToken(f.ctx, signToken(t, f.pk, f.kid, "at+jwt", withScope), f.m)
	if err != nil || data == nil {
		t.Fatalf("expected token with all scopes to be accepted: %v", err)
	}
}

func TestReadToken_AudienceArray(t *testing.T) {
	f := setup(t)
	s, err := NewStatic(f.ctx, f.config(), f.idp.issuer+f.idp.jwksPath)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c := f.claims()
	c["aud"] = []string{"https://other", testAudience}
	if data, _ := s.ReadToken(f.ctx, signToken(t, f.pk, f.kid, "", c), f.m); data == nil {
		t.Fatalf("expected audience array to intersect")
	}
}

func TestWriteAndDestroyUnsupported(t *testing.T) {
	f := setup(t)
	s, err := NewFromDiscovery(f.ctx, f.config())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.WriteToken(f.ctx, f.user, nil); !errors.Is(err, auth.ErrWriteNotSupported) {
		t.Fatalf("want ErrWriteNotSupported, got %v", err)
	}
	if s.SupportsDestroy() {
		t.Fatalf("oidc strategy cannot destroy tokens")
	}
	if err := s.DestroyToken(f.ctx, "x", f.user); !errors.Is(err, auth.ErrDestroyNotSupported) {
		t.Fatalf("want ErrDestroyNotSupported, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewFromDiscovery(ctx, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := NewFromDiscovery(ctx, &Config{Audiences: []string{"a"}}); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewStatic(ctx, &Config{Issuer: "https://issuer"}, "https://issuer/keys"); err == nil {
		t.Fatalf("expected error for missing audience")
	}
}
