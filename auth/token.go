package auth

import (
	"strings"
	"time"

	"github.com/ggoodman/userauth/users"
)

// PropLastAuthenticated is the additional-properties key through which
// callers carry the time the user last presented primary credentials into
// a newly written token. Strategies that support freshness honor it; the
// value must be a time.Time.
const PropLastAuthenticated = "auth_time"

// PropScopes is the additional-properties key for granted scopes. The value
// must be a []string.
const PropScopes = "scope"

// PropRefreshed is the additional-properties key marking a token issued by
// a refresh grant. The value must be a bool. Such tokens are never fresh,
// even when issued within the same clock tick as the original login.
const PropRefreshed = "refreshed"

// TokenData is the decoded content of a valid token.
type TokenData struct {
	User              users.User
	IssuedAt          time.Time
	ExpiresAt         time.Time // zero = no expiry
	LastAuthenticated time.Time
	Scopes            []string
	Refreshed         bool // issued by a refresh grant
}

// Fresh reports whether the token was issued at the time the user last
// authenticated, i.e. it was not produced by a refresh.
func (d *TokenData) Fresh() bool {
	return !d.Refreshed && d.IssuedAt.Equal(d.LastAuthenticated)
}

// TokenResponse is the token payload handed from strategies to transports.
// Transports may wrap it but must preserve these fields.
type TokenResponse struct {
	AccessToken  string `json:"access_token" jsonschema:"minLength=1,description=Credential authorizing requests"`
	TokenType    string `json:"token_type,omitempty" jsonschema:"description=Transport-defined token type"`
	RefreshToken string `json:"refresh_token,omitempty" jsonschema:"description=Credential exchanged for a new access token"`
}

// ParseScopes splits a space-separated scope string into an ordered set.
func ParseScopes(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// LastAuthenticatedFrom extracts PropLastAuthenticated from props, falling
// back to def.
func LastAuthenticatedFrom(props map[string]any, def time.Time) time.Time {
	if v, ok := props[PropLastAuthenticated].(time.Time); ok && !v.IsZero() {
		return v
	}
	return def
}

// RefreshedFrom reports whether props carries PropRefreshed.
func RefreshedFrom(props map[string]any) bool {
	v, _ := props[PropRefreshed].(bool)
	return v
}

// ScopesFrom extracts PropScopes from props.
func ScopesFrom(props map[string]any) []string {
	switch v := props[PropScopes].(type) {
	case []string:
		return append([]string(nil), v...)
	case string:
		return ParseScopes(v)
	}
	return nil
}
