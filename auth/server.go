package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// TokenHeader is the request header carrying the session token.
//
// The header is not attached automatically by browsers, so together with the
// cookie-borne session it forms a hash-based double-submit defense against
// cross-site request forgery.
const TokenHeader = "X-CSRF-Token"

// TokenServer exposes the session lifecycle over HTTP.
type TokenServer struct {
	Service TokenService
}

func handleError(err error, w http.ResponseWriter) {
	if errors.Is(err, ErrAuthenticationFailed) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return
	}

	if errors.Is(err, ErrPermissionDenied) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)

		return
	}

	if errors.Is(err, ErrRevokeNotSupported) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

		return
	}

	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// RequestToken extracts the token identifier presented with a request:
// the X-CSRF-Token header, or a bearer Authorization header.
func RequestToken(r *http.Request) string {
	if tokenID := r.Header.Get(TokenHeader); tokenID != "" {
		return tokenID
	}

	if authorization := r.Header.Get("Authorization"); strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimPrefix(authorization, "Bearer ")
	}

	return ""
}

// LoginHandler issues a new session token for the subject authenticated upstream.
func (s TokenServer) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := WithExchange(r.Context(), w, r)

	tokenID, err := s.Service.Login(ctx)
	if err != nil {
		handleError(err, w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"token": tokenID})
}

// LogoutHandler revokes the presented session token.
//
// A store that cannot revoke answers 405: reporting success would leave the
// caller believing a still-valid token is dead.
func (s TokenServer) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	tokenID := RequestToken(r)
	if tokenID == "" {
		handleError(ErrAuthenticationFailed, w)
		return
	}

	ctx := WithExchange(r.Context(), w, r)

	err := s.Service.Logout(ctx, tokenID)
	if err != nil {
		handleError(err, w)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Authenticate is a middleware resolving the presented token into an Identity
// on the request context. Requests with no token, or with a token rejected for
// any reason, continue unauthenticated; downstream authorization fails closed.
func (s TokenServer) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenID := RequestToken(r)
		if tokenID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithExchange(r.Context(), w, r)

		identity, err := s.Service.Authenticate(ctx, tokenID)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		if identity.HasValue() {
			ctx = WithIdentity(ctx, identity.Value())
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
