package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/elnormous/contenttype"
)

// GrantTypeRefreshToken is the only grant_type accepted by the refresh route.
const GrantTypeRefreshToken = "refresh_token"

// maxFormBytes bounds form bodies; tokens and credentials are small.
const maxFormBytes = 64 << 10

var (
	formMediaType      = contenttype.NewMediaType("application/x-www-form-urlencoded")
	multipartMediaType = contenttype.NewMediaType("multipart/form-data")
	jsonMediaType      = contenttype.NewMediaType("application/json")
)

// errUnsupportedMediaType is returned when a form route receives a
// non-form body.
var errUnsupportedMediaType = errors.New("content-type must be application/x-www-form-urlencoded or multipart/form-data")

// RefreshForm is an OAuth2 refresh_token grant.
type RefreshForm struct {
	GrantType    string
	RefreshToken string
	// Scopes is accepted for forward compatibility; it does not narrow the
	// scopes of the re-issued tokens.
	Scopes []string
}

// LoginForm is an OAuth2 password grant.
type LoginForm struct {
	Username string
	Password string
	Scopes   []string
}

// ParseRefreshForm reads and validates a refresh_token grant. grant_type
// defaults to refresh_token when omitted.
func ParseRefreshForm(r *http.Request) (*RefreshForm, error) {
	if err := parseForm(r); err != nil {
		return nil, err
	}
	f := &RefreshForm{
		GrantType:    r.PostFormValue("grant_type"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scopes:       ParseScopes(r.PostFormValue("scope")),
	}
	if f.GrantType == "" {
		f.GrantType = GrantTypeRefreshToken
	}
	if f.GrantType != GrantTypeRefreshToken {
		return nil, &RequestError{Field: "grant_type", Reason: fmt.Sprintf("must be %q", GrantTypeRefreshToken)}
	}
	if f.RefreshToken == "" {
		return nil, &RequestError{Field: "refresh_token", Reason: "field required"}
	}
	return f, nil
}

// ParseLoginForm reads and validates a password grant.
func ParseLoginForm(r *http.Request) (*LoginForm, error) {
	if err := parseForm(r); err != nil {
		return nil, err
	}
	if gt := r.PostFormValue("grant_type"); gt != "" && gt != "password" {
		return nil, &RequestError{Field: "grant_type", Reason: `must be "password"`}
	}
	f := &LoginForm{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
		Scopes:   ParseScopes(r.PostFormValue("scope")),
	}
	if f.Username == "" {
		return nil, &RequestError{Field: "username", Reason: "field required"}
	}
	if f.Password == "" {
		return nil, &RequestError{Field: "password", Reason: "field required"}
	}
	return f, nil
}

func parseForm(r *http.Request) error {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil {
		return errUnsupportedMediaType
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxFormBytes)
	switch {
	case ctype.Matches(formMediaType):
		if err := r.ParseForm(); err != nil {
			return &RequestError{Field: "body", Reason: "malformed form"}
		}
	case ctype.Matches(multipartMediaType):
		if err := r.ParseMultipartForm(maxFormBytes); err != nil {
			return &RequestError{Field: "body", Reason: "malformed form"}
		}
	default:
		return errUnsupportedMediaType
	}
	return nil
}
