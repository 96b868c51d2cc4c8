// Package users defines the collaborator contracts the authentication layer
// relies on for identity: a User handle, a Manager that resolves user IDs
// embedded in tokens, and a PasswordAuthenticator used by login routes.
//
// Persistence of user records is deliberately outside this module. Callers
// supply their own Manager backed by whatever storage they operate; the
// memoryusers sub-package provides a small concurrency-safe implementation
// for tests and examples.
package users
