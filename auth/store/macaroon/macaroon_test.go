package macaroon

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/auth/store/memory"
	"github.com/natter-auth/auth/pkg/option"
)

func testRootKey() []byte {
	return []byte("macaroon-root-key-for-tests-only")
}

func newTestStore(clock clockwork.Clock) *Store {
	inner := memory.NewStore(memory.WithClock(clock))

	return NewStore(testRootKey(), inner, WithClock(clock), WithLocation("https://as.example.com"))
}

func newTestToken(clock clockwork.Clock) auth.Token {
	token := auth.NewToken(clock.Now().Add(time.Hour), "alice")
	token.Attributes[auth.AttributePerms] = "rwd"

	return token
}

func exchangeContext(method string, target string) context.Context {
	return auth.WithExchange(context.Background(), httptest.NewRecorder(), httptest.NewRequest(method, target, nil))
}

func TestStore_RoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	tokenID, err := store.Create(context.Background(), newTestToken(clock))
	require.NoError(t, err)

	readToken, err := store.Read(context.Background(), tokenID)
	require.NoError(t, err)
	require.False(t, option.IsNone(readToken))

	assert.Equal(t, "alice", readToken.Value().Subject)
	assert.Equal(t, "rwd", readToken.Value().Attributes[auth.AttributePerms])
}

func TestStore_MalformedToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	readToken, err := store.Read(context.Background(), "definitely not a macaroon")
	require.NoError(t, err)

	assert.True(t, option.IsNone(readToken))
}

func TestStore_WrongRootKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := memory.NewStore(memory.WithClock(clock))

	store := NewStore(testRootKey(), inner, WithClock(clock))
	otherStore := NewStore([]byte("another-root-key-32-bytes-long!!"), inner, WithClock(clock))

	tokenID, err := store.Create(context.Background(), newTestToken(clock))
	require.NoError(t, err)

	readToken, err := otherStore.Read(context.Background(), tokenID)
	require.NoError(t, err)

	assert.True(t, option.IsNone(readToken))
}

func TestStore_TimeCaveat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	tokenID, err := store.Create(context.Background(), newTestToken(clock))
	require.NoError(t, err)

	bound := clock.Now().Add(5 * time.Minute).Format(time.RFC3339)

	restricted, err := Attenuate(tokenID, "time < "+bound)
	require.NoError(t, err)

	readToken, err := store.Read(context.Background(), restricted)
	require.NoError(t, err)
	assert.False(t, option.IsNone(readToken))

	clock.Advance(10 * time.Minute)

	readToken, err = store.Read(context.Background(), restricted)
	require.NoError(t, err)
	assert.True(t, option.IsNone(readToken))

	// the unrestricted token is unaffected by the caveat
	readToken, err = store.Read(context.Background(), tokenID)
	require.NoError(t, err)
	assert.False(t, option.IsNone(readToken))
}

func TestStore_MethodCaveat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	tokenID, err := store.Create(context.Background(), newTestToken(clock))
	require.NoError(t, err)

	restricted, err := Attenuate(tokenID, "method = GET")
	require.NoError(t, err)

	readToken, err := store.Read(exchangeContext("GET", "/spaces/1/messages"), restricted)
	require.NoError(t, err)
	assert.False(t, option.IsNone(readToken))

	readToken, err = store.Read(exchangeContext("DELETE", "/spaces/1/messages"), restricted)
	require.NoError(t, err)
	assert.True(t, option.IsNone(readToken))

	// no request in context fails closed
	readToken, err = store.Read(context.Background(), restricted)
	require.NoError(t, err)
	assert.True(t, option.IsNone(readToken))
}

func TestStore_SinceCaveat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	tokenID, err := store.Create(context.Background(), newTestToken(clock))
	require.NoError(t, err)

	bound := clock.Now().Add(-24 * time.Hour)

	restricted, err := Attenuate(tokenID, "since > "+bound.Format(time.RFC3339))
	require.NoError(t, err)

	recent := bound.Add(time.Hour).Format(time.RFC3339)

	readToken, err := store.Read(exchangeContext("GET", "/spaces/1/messages?since="+recent), restricted)
	require.NoError(t, err)
	assert.False(t, option.IsNone(readToken))

	old := bound.Add(-time.Hour).Format(time.RFC3339)

	readToken, err = store.Read(exchangeContext("GET", "/spaces/1/messages?since="+old), restricted)
	require.NoError(t, err)
	assert.True(t, option.IsNone(readToken))

	readToken, err = store.Read(exchangeContext("GET", "/spaces/1/messages"), restricted)
	require.NoError(t, err)
	assert.True(t, option.IsNone(readToken))
}

func TestStore_UnknownCaveatFailsClosed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	tokenID, err := store.Create(context.Background(), newTestToken(clock))
	require.NoError(t, err)

	restricted, err := Attenuate(tokenID, "ip = 10.0.0.1")
	require.NoError(t, err)

	readToken, err := store.Read(exchangeContext("GET", "/"), restricted)
	require.NoError(t, err)

	assert.True(t, option.IsNone(readToken))
}

func TestStore_CaveatsCannotBeRemoved(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	tokenID, err := store.Create(context.Background(), newTestToken(clock))
	require.NoError(t, err)

	restricted, err := Attenuate(tokenID, "method = GET")
	require.NoError(t, err)

	// stack a second caveat; both must hold
	restricted, err = Attenuate(restricted, "time < "+clock.Now().Add(5*time.Minute).Format(time.RFC3339))
	require.NoError(t, err)

	readToken, err := store.Read(exchangeContext("GET", "/"), restricted)
	require.NoError(t, err)
	assert.False(t, option.IsNone(readToken))

	clock.Advance(10 * time.Minute)

	readToken, err = store.Read(exchangeContext("GET", "/"), restricted)
	require.NoError(t, err)
	assert.True(t, option.IsNone(readToken))
}

func TestStore_RevokeSkipsCaveats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	tokenID, err := store.Create(context.Background(), newTestToken(clock))
	require.NoError(t, err)

	// attenuated to a method that Revoke's caller is not using
	restricted, err := Attenuate(tokenID, "method = GET")
	require.NoError(t, err)

	err = store.Revoke(context.Background(), restricted)
	require.NoError(t, err)

	readToken, err := store.Read(context.Background(), tokenID)
	require.NoError(t, err)

	assert.True(t, option.IsNone(readToken))
}

func TestStore_RevokeMalformedToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newTestStore(clock)

	assert.NoError(t, store.Revoke(context.Background(), "garbage"))
}
