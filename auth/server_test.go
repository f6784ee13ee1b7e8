package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natter-auth/auth/pkg/option"
)

func TestRequestToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, RequestToken(r))

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set(TokenHeader, "header-token")
	assert.Equal(t, "header-token", RequestToken(r))

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer bearer-token")
	assert.Equal(t, "bearer-token", RequestToken(r))

	// the custom header wins over the bearer token
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set(TokenHeader, "header-token")
	r.Header.Set("Authorization", "Bearer bearer-token")
	assert.Equal(t, "header-token", RequestToken(r))
}

func newTestServer(clock clockwork.Clock) (TokenServer, *stubStore) {
	store := newStubStore(clock)

	return TokenServer{
		Service: TokenService{
			Store:  store,
			Expiry: time.Hour,
			Clock:  clock,
		},
	}, store
}

func TestTokenServer_LoginHandler(t *testing.T) {
	server, _ := newTestServer(clockwork.NewFakeClock())

	r := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	r = r.WithContext(WithIdentity(r.Context(), NewIdentity("alice", nil)))

	w := httptest.NewRecorder()
	server.LoginHandler(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))

	assert.NotEmpty(t, body["token"])
}

func TestTokenServer_LoginHandler_Unauthenticated(t *testing.T) {
	server, _ := newTestServer(clockwork.NewFakeClock())

	w := httptest.NewRecorder()
	server.LoginHandler(w, httptest.NewRequest(http.MethodPost, "/sessions", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenServer_LogoutHandler(t *testing.T) {
	clock := clockwork.NewFakeClock()
	server, store := newTestServer(clock)

	ctx := WithIdentity(context.Background(), NewIdentity("alice", nil))

	tokenID, err := server.Service.Login(ctx)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodDelete, "/sessions", nil)
	r.Header.Set(TokenHeader, tokenID)

	w := httptest.NewRecorder()
	server.LogoutHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.tokens)
}

// statelessStore issues and reads tokens but has nothing to revoke.
type statelessStore struct {
	*stubStore
}

func (s statelessStore) Revoke(context.Context, string) error {
	return ErrRevokeNotSupported
}

func TestTokenServer_LogoutHandler_RevocationUnsupported(t *testing.T) {
	clock := clockwork.NewFakeClock()

	server := TokenServer{
		Service: TokenService{
			Store:  statelessStore{newStubStore(clock)},
			Expiry: time.Hour,
			Clock:  clock,
		},
	}

	ctx := WithIdentity(context.Background(), NewIdentity("alice", nil))

	tokenID, err := server.Service.Login(ctx)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodDelete, "/sessions", nil)
	r.Header.Set(TokenHeader, tokenID)

	w := httptest.NewRecorder()
	server.LogoutHandler(w, r)

	// the token is still valid, so logout must not claim success
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	identity, err := server.Service.Authenticate(context.Background(), tokenID)
	require.NoError(t, err)
	assert.False(t, option.IsNone(identity))
}

func TestTokenServer_LogoutHandler_NoToken(t *testing.T) {
	server, _ := newTestServer(clockwork.NewFakeClock())

	w := httptest.NewRecorder()
	server.LogoutHandler(w, httptest.NewRequest(http.MethodDelete, "/sessions", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenServer_Authenticate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	server, _ := newTestServer(clock)

	ctx := WithIdentity(context.Background(), NewIdentity("alice", nil))

	tokenID, err := server.Service.Login(ctx)
	require.NoError(t, err)

	var seen option.Option[Identity]

	handler := server.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if ok {
			seen = option.Some(identity)
		} else {
			seen = option.None[Identity]()
		}
	}))

	// valid token attaches the identity
	r := httptest.NewRequest("GET", "/spaces", nil)
	r.Header.Set(TokenHeader, tokenID)

	handler.ServeHTTP(httptest.NewRecorder(), r)

	require.False(t, option.IsNone(seen))
	assert.Equal(t, "alice", seen.Value().Subject)

	// invalid token continues unauthenticated
	r = httptest.NewRequest("GET", "/spaces", nil)
	r.Header.Set(TokenHeader, "forged")

	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.True(t, option.IsNone(seen))

	// no token at all continues unauthenticated
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/spaces", nil))

	assert.True(t, option.IsNone(seen))
}

type downStore struct{}

func (downStore) Create(context.Context, Token) (string, error) {
	return "", errors.New("store down")
}

func (downStore) Read(context.Context, string) (option.Option[Token], error) {
	return option.None[Token](), errors.New("store down")
}

func (downStore) Revoke(context.Context, string) error {
	return errors.New("store down")
}

func TestTokenServer_Authenticate_TransientFailure(t *testing.T) {
	server := TokenServer{Service: TokenService{Store: downStore{}}}

	handler := server.Authenticate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("request must not reach the handler")
	}))

	r := httptest.NewRequest("GET", "/spaces", nil)
	r.Header.Set(TokenHeader, "any")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
