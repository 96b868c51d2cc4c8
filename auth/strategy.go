package auth

import (
	"context"

	"github.com/ggoodman/userauth/users"
)

// Strategy encodes users into tokens and decodes tokens back into users.
type Strategy interface {
	// ReadToken resolves token to its data. A missing, malformed, expired,
	// forged or orphaned token yields (nil, nil); errors are reserved for
	// infrastructure failures such as an unreachable token store.
	ReadToken(ctx context.Context, token string, manager users.Manager) (*TokenData, error)

	// WriteToken issues a new token for u. props carries additional claims
	// or fields; strategies ignore keys they do not understand.
	WriteToken(ctx context.Context, u users.User, props map[string]any) (*TokenResponse, error)

	// DestroyToken revokes token. Strategies without server-side state
	// return ErrDestroyNotSupported.
	DestroyToken(ctx context.Context, token string, u users.User) error

	// SupportsDestroy reports whether DestroyToken can revoke tokens.
	SupportsDestroy() bool
}

// StrategyFactory produces a Strategy for one request.
type StrategyFactory func(ctx context.Context) (Strategy, error)

// StaticStrategy returns a factory that always yields s. Suitable for
// stateless strategies that are safe for concurrent use.
func StaticStrategy(s Strategy) StrategyFactory {
	return func(context.Context) (Strategy, error) { return s, nil }
}
