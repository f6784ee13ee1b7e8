package auth

import (
	"context"
	"errors"

	"github.com/natter-auth/auth/pkg/option"
)

// ErrCreateNotSupported is returned by stores that only validate tokens issued elsewhere
// (eg. remotely introspected access tokens).
var ErrCreateNotSupported = errors.New("token store does not support creating tokens")

// ErrRevokeNotSupported is returned by stores that have no backing state to revoke
// (eg. purely stateless signed tokens).
//
// It is distinct from revoking an unknown token, which is a successful no-op.
var ErrRevokeNotSupported = errors.New("token store does not support revoking tokens")

// TokenCreator issues new tokens.
type TokenCreator interface {
	// Create stores the token and returns its identifier.
	//
	// The identifier is unguessable without the store's secret material
	// or drawn from a space of at least 128 bits of entropy.
	Create(ctx context.Context, token Token) (string, error)
}

// TokenReader validates a presented token identifier and reconstructs the record behind it.
type TokenReader interface {
	// Read returns the token identified by tokenID.
	//
	// It returns None for a malformed identifier, an expired or revoked token,
	// a failed signature, MAC or decryption check, and an unsatisfied caveat:
	// a caller cannot distinguish why a token was rejected.
	// An error is returned only for transient infrastructure failures
	// (the caller may retry); it never indicates an invalid token.
	Read(ctx context.Context, tokenID string) (option.Option[Token], error)
}

// TokenRevoker invalidates previously issued tokens.
type TokenRevoker interface {
	// Revoke invalidates the token identified by tokenID.
	//
	// Revoke is idempotent: revoking an unknown or already-revoked token is not an error.
	// Stores that cannot support revocation return ErrRevokeNotSupported.
	Revoke(ctx context.Context, tokenID string) error
}

// TokenStore is the full capability set: a store that issues, validates and revokes tokens.
//
// Callers should generally depend on the narrowest interface they need
// (eg. a validator only needs a TokenReader).
type TokenStore interface {
	TokenCreator
	TokenReader
	TokenRevoker
}
