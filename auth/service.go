package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/natter-auth/auth/pkg/option"
)

// ErrAuthenticationFailed is returned when a request carries no authenticated subject.
//
// This error should only be returned for missing or invalid credentials.
// Any other error (eg. connection problems) should be returned directly.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrPermissionDenied is returned when an authenticated request lacks the
// permissions an operation requires, or tries to grant more than it holds.
var ErrPermissionDenied = errors.New("permission denied")

// TokenService implements session lifecycle on top of a TokenStore:
// login issues a token for an authenticated subject, logout revokes it,
// and Authenticate resolves a presented token back into an Identity.
type TokenService struct {
	Store  TokenStore
	Expiry time.Duration

	Clock  clockwork.Clock
	Logger *zap.Logger
}

func (s TokenService) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}

	return s.Clock
}

func (s TokenService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}

// Login issues a new token bound to the subject authenticated upstream
// (found in the context as an Identity) and returns its identifier.
func (s TokenService) Login(ctx context.Context) (string, error) {
	identity, ok := IdentityFrom(ctx)
	if !ok || identity.Subject == "" {
		return "", ErrAuthenticationFailed
	}

	expiry := s.Expiry
	if expiry == 0 {
		expiry = 10 * time.Minute
	}

	token := NewToken(s.clock().Now().Add(expiry), identity.Subject)

	tokenID, err := s.Store.Create(ctx, token)
	if err != nil {
		return "", err
	}

	s.logger().Debug("issued session token", zap.String("subject", identity.Subject))

	return tokenID, nil
}

// Logout revokes the presented token.
//
// Revoking an unknown token succeeds; a store without revocation support
// returns ErrRevokeNotSupported.
func (s TokenService) Logout(ctx context.Context, tokenID string) error {
	return s.Store.Revoke(ctx, tokenID)
}

// Authenticate resolves a presented token identifier into an Identity.
//
// Invalid tokens of any kind yield None; an error indicates a transient
// infrastructure failure, never an invalid token.
func (s TokenService) Authenticate(ctx context.Context, tokenID string) (option.Option[Identity], error) {
	token, err := s.Store.Read(ctx, tokenID)
	if err != nil {
		return option.None[Identity](), err
	}

	if option.IsNone(token) || token.Value().Expired(s.clock().Now()) {
		return option.None[Identity](), nil
	}

	return option.Some(NewIdentity(token.Value().Subject, token.Value().Attributes)), nil
}
