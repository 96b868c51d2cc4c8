// Package auth composes pluggable authentication backends for HTTP
// services.
//
// A Backend pairs a Transport (how a credential travels on the wire) with a
// Strategy (how a credential is encoded and verified) under a unique name,
// optionally together with a second Strategy that issues and redeems
// refresh tokens. Backends are immutable after construction and may be
// shared by any number of concurrent requests; Strategy instances are
// produced per request by a StrategyFactory so they can close over
// request-scoped resources.
//
// # Flows
//
// Backend.Login writes an access token (and, when a refresh strategy is
// supplied, a refresh token) and lets the transport shape the response.
// Backend.Logout revokes the token when the strategy can and lets the
// transport clear client state when it can; compositions that cannot do
// either still log out successfully. Backend.Refresh implements the
// refresh_token grant: the refresh strategy resolves the presented token to
// a user and Login re-issues both tokens.
//
// # Multiple backends
//
// An Authenticator probes a priority-ordered list of backends for a request
// and returns the first one that resolves an acceptable user:
//
//	authn, err := auth.NewAuthenticator([]*auth.Backend{cookieBackend, jwtBackend}, userManager)
//	if err != nil { log.Fatal(err) }
//	mux.Handle("GET /me", authn.Middleware(auth.Active())(meHandler))
//
// # Routes
//
// NewRouter mounts login, logout and refresh routes for one backend. Failed
// token checks never reveal which check failed: expired, forged, malformed
// and orphaned tokens all produce the same response.
package auth
