package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUserNotExists is returned by a Manager when no user matches the lookup.
var ErrUserNotExists = errors.New("users: user does not exist")

// User is the identity handle returned by a Manager. Implementations should
// be immutable snapshots and safe for concurrent use.
type User interface {
	// ID returns the user's unique identifier.
	ID() uuid.UUID
	// IsActive reports whether the user may authenticate at all.
	IsActive() bool
	// IsVerified reports whether the user completed verification.
	IsVerified() bool
}

// Manager resolves user identifiers extracted from tokens.
type Manager interface {
	// Get returns the user identified by id or ErrUserNotExists.
	Get(ctx context.Context, id uuid.UUID) (User, error)
}

// PasswordAuthenticator verifies login credentials. It returns (nil, nil)
// when the credentials are wrong or the user is unknown, so that callers can
// answer both cases identically.
type PasswordAuthenticator interface {
	AuthenticatePassword(ctx context.Context, username, password string) (User, error)
}

// ParseID parses the string form of a user identifier.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("users: invalid id %q: %w", s, err)
	}
	return id, nil
}

// Lookup resolves the string form of a user identifier through m. A
// malformed id and an unknown user both yield (nil, nil); only storage
// failures surface as errors.
func Lookup(ctx context.Context, m Manager, s string) (User, error) {
	id, err := ParseID(s)
	if err != nil {
		return nil, nil
	}
	u, err := m.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotExists) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}
