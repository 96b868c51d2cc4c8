package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{ErrInvalidGrant, http.StatusBadRequest, CodeInvalidGrant},
		{fmt.Errorf("backend %q: %w", "x", ErrMisconfigured), http.StatusInternalServerError, CodeRefreshStrategyNotConfigured},
		{ErrBadCredentials, http.StatusBadRequest, CodeLoginBadCredentials},
		{ErrUserNotVerified, http.StatusBadRequest, CodeLoginUserNotVerified},
		{ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{ErrForbidden, http.StatusForbidden, CodeForbidden},
		{&RequestError{Field: "refresh_token", Reason: "field required"}, http.StatusUnprocessableEntity, "refresh_token: field required"},
		{errors.New("redis: connection refused"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, code := ErrorStatus(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("want (%d, %q), got (%d, %q)", tc.status, tc.code, status, code)
			}
		})
	}
}

func TestRequestErrorIs(t *testing.T) {
	err := fmt.Errorf("parse: %w", &RequestError{Field: "grant_type", Reason: "bad"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("RequestError must match ErrInvalidRequest")
	}
}
