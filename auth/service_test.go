package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natter-auth/auth/pkg/option"
)

type stubStore struct {
	tokens map[string]Token

	clock clockwork.Clock
}

func newStubStore(clock clockwork.Clock) *stubStore {
	return &stubStore{
		tokens: map[string]Token{},
		clock:  clock,
	}
}

func (s *stubStore) Create(_ context.Context, token Token) (string, error) {
	tokenID := "token-1"

	s.tokens[tokenID] = token.Clone()

	return tokenID, nil
}

func (s *stubStore) Read(_ context.Context, tokenID string) (option.Option[Token], error) {
	token, ok := s.tokens[tokenID]
	if !ok || token.Expired(s.clock.Now()) {
		return option.None[Token](), nil
	}

	return option.Some(token.Clone()), nil
}

func (s *stubStore) Revoke(_ context.Context, tokenID string) error {
	delete(s.tokens, tokenID)

	return nil
}

func TestTokenService_Login(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newStubStore(clock)

	service := TokenService{
		Store:  store,
		Expiry: time.Hour,
		Clock:  clock,
	}

	ctx := WithIdentity(context.Background(), NewIdentity("alice", nil))

	tokenID, err := service.Login(ctx)
	require.NoError(t, err)

	token := store.tokens[tokenID]

	assert.Equal(t, "alice", token.Subject)
	assert.True(t, token.Expiry.Equal(clock.Now().Add(time.Hour)))
}

func TestTokenService_Login_Unauthenticated(t *testing.T) {
	service := TokenService{Store: newStubStore(clockwork.NewFakeClock())}

	_, err := service.Login(context.Background())

	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestTokenService_Authenticate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newStubStore(clock)

	service := TokenService{
		Store:  store,
		Expiry: time.Hour,
		Clock:  clock,
	}

	ctx := WithIdentity(context.Background(), NewIdentity("alice", nil))

	tokenID, err := service.Login(ctx)
	require.NoError(t, err)

	identity, err := service.Authenticate(context.Background(), tokenID)
	require.NoError(t, err)
	require.False(t, option.IsNone(identity))

	assert.Equal(t, "alice", identity.Value().Subject)

	// unknown tokens are rejected without detail
	identity, err = service.Authenticate(context.Background(), "forged")
	require.NoError(t, err)
	assert.True(t, option.IsNone(identity))

	// expiry invalidates without revocation
	clock.Advance(2 * time.Hour)

	identity, err = service.Authenticate(context.Background(), tokenID)
	require.NoError(t, err)
	assert.True(t, option.IsNone(identity))
}

func TestTokenService_Logout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newStubStore(clock)

	service := TokenService{
		Store:  store,
		Expiry: time.Hour,
		Clock:  clock,
	}

	ctx := WithIdentity(context.Background(), NewIdentity("alice", nil))

	tokenID, err := service.Login(ctx)
	require.NoError(t, err)

	require.NoError(t, service.Logout(context.Background(), tokenID))

	identity, err := service.Authenticate(context.Background(), tokenID)
	require.NoError(t, err)

	assert.True(t, option.IsNone(identity))
}
