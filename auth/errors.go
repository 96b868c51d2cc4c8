package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrDestroyNotSupported is returned by strategies that cannot revoke
	// tokens server-side. Backend.Logout treats it as a successful no-op.
	ErrDestroyNotSupported = errors.New("auth: strategy cannot destroy tokens")

	// ErrLogoutNotSupported is returned by transports with no logout action.
	// Backend.Logout treats it as a successful empty response.
	ErrLogoutNotSupported = errors.New("auth: transport has no logout action")

	// ErrWriteNotSupported is returned by verify-only strategies.
	ErrWriteNotSupported = errors.New("auth: strategy cannot issue tokens")

	// ErrMisconfigured indicates a backend was asked to refresh without a
	// refresh strategy. It is an operator error, not a client error.
	ErrMisconfigured = errors.New("auth: refresh strategy not configured")

	// ErrInvalidGrant indicates the refresh token did not resolve to a user.
	ErrInvalidGrant = errors.New("auth: invalid grant")

	// ErrUnauthorized indicates no backend authenticated the request.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrForbidden indicates the request authenticated but the user does not
	// meet the route's requirements.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrBadCredentials indicates a login with unknown credentials or an
	// inactive user.
	ErrBadCredentials = errors.New("auth: bad credentials")

	// ErrUserNotVerified indicates a login by an unverified user on a route
	// that requires verification.
	ErrUserNotVerified = errors.New("auth: user not verified")

	// ErrInvalidRequest indicates a malformed form submission.
	ErrInvalidRequest = errors.New("auth: invalid request")
)

// ErrorCode is the value of the "detail" field in JSON error bodies.
type ErrorCode string

const (
	CodeInvalidGrant                 ErrorCode = "invalid_grant"
	CodeRefreshStrategyNotConfigured ErrorCode = "refresh_strategy_not_configured"
	CodeLoginBadCredentials          ErrorCode = "LOGIN_BAD_CREDENTIALS"
	CodeLoginUserNotVerified         ErrorCode = "LOGIN_USER_NOT_VERIFIED"
	CodeUnauthorized                 ErrorCode = "Unauthorized"
	CodeForbidden                    ErrorCode = "Forbidden"
	CodeInternal                     ErrorCode = "internal_error"
)

// RequestError describes a malformed form field. It matches
// ErrInvalidRequest under errors.Is.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }

// ErrorStatus maps an error returned by this package to the HTTP status and
// detail code used on the wire. Unknown errors map to 500.
func ErrorStatus(err error) (int, ErrorCode) {
	var reqErr *RequestError
	switch {
	case errors.Is(err, ErrInvalidGrant):
		return http.StatusBadRequest, CodeInvalidGrant
	case errors.Is(err, ErrMisconfigured):
		return http.StatusInternalServerError, CodeRefreshStrategyNotConfigured
	case errors.Is(err, ErrBadCredentials):
		return http.StatusBadRequest, CodeLoginBadCredentials
	case errors.Is(err, ErrUserNotVerified):
		return http.StatusBadRequest, CodeLoginUserNotVerified
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.As(err, &reqErr):
		return http.StatusUnprocessableEntity, ErrorCode(reqErr.Error())
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
