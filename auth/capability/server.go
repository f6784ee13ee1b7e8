package capability

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/schema"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

var formDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)

	return d
}()

// Server exposes capability minting and sharing over HTTP.
type Server struct {
	Service Service
}

func handleError(err error, w http.ResponseWriter) {
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, auth.ErrPermissionDenied):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Authorize is a middleware resolving a capability token presented in the
// access_token query parameter into permissions on the request context.
// Requests without a valid capability continue unauthorized; downstream
// permission checks fail closed.
func (s Server) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenID := r.URL.Query().Get(QueryParam)
		if tokenID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := auth.WithExchange(r.Context(), w, r)

		token, err := s.Service.resolve(ctx, tokenID, r)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		if !option.IsNone(token) {
			perms, _ := token.Value().Attribute(auth.AttributePerms)

			identity, ok := auth.IdentityFrom(ctx)
			if !ok {
				identity = auth.NewIdentity(token.Value().Subject, token.Value().Attributes)
			}

			ctx = auth.WithIdentity(ctx, identity.GrantPerms(perms))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type shareRequest struct {
	URI   string `schema:"uri,required"`
	User  string `schema:"user"`
	Perms string `schema:"perms,required"`
}

// ShareHandler narrows an existing capability URI and returns a new one.
//
// It accepts a form with the capability uri, the recipient user and the
// requested perms. Asking for permissions the capability does not grant is
// rejected with 403.
func (s Server) ShareHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req shareRequest

	if err := formDecoder.Decode(&req, r.PostForm); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ctx := auth.WithExchange(r.Context(), w, r)

	sharedURI, err := s.Service.share(ctx, req.URI, req.User, req.Perms)
	if err != nil {
		handleError(err, w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"uri": sharedURI.String()})
}

// RequirePerm guards a handler behind a single permission character.
// Requests whose identity does not hold the permission get a 403.
func RequirePerm(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFrom(r.Context())
			if !ok || !strings.Contains(identity.Perms, perm) {
				handleError(auth.ErrPermissionDenied, w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
