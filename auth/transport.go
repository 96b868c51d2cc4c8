package auth

import (
	"net/http"

	"github.com/invopop/jsonschema"
)

// Transport shapes how tokens travel in requests and responses.
type Transport interface {
	// Token extracts the raw token from r, or "" when none is present.
	Token(r *http.Request) string

	// LoginResponse shapes tok for the wire. It may set headers or cookies
	// on w and returns the JSON body to send, or nil for an empty response.
	LoginResponse(w http.ResponseWriter, tok *TokenResponse) (any, error)

	// LogoutResponse clears client-side state. Transports with nothing to
	// clear return ErrLogoutNotSupported.
	LogoutResponse(w http.ResponseWriter) (any, error)

	// SupportsLogout reports whether LogoutResponse has an effect.
	SupportsLogout() bool

	// Challenge is the WWW-Authenticate value sent with 401 responses, or ""
	// for none.
	Challenge() string

	// LoginResponsesDoc describes successful login responses for API docs.
	LoginResponsesDoc() []ResponseDoc

	// LogoutResponsesDoc describes successful logout responses for API docs.
	LogoutResponsesDoc() []ResponseDoc
}

// RefreshTokenReader is implemented by transports that hand refresh tokens
// to the client outside the response body, such as in a cookie. The refresh
// route reads the grant from it when the request carries one.
type RefreshTokenReader interface {
	// RefreshToken extracts the raw refresh token from r, or "".
	RefreshToken(r *http.Request) string
}

// ResponseDoc describes one documented response of a route.
type ResponseDoc struct {
	Status      int
	Description string
	Schema      *jsonschema.Schema // nil for empty bodies
	Example     any
}

// SchemaFor reflects the JSON schema of T with definitions inlined.
func SchemaFor[T any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(new(T))
}
