// Package capability implements capability URI access control.
//
// A capability URI names a single resource and carries an unguessable token
// granting a fixed set of permissions on it. Possession of the URI is the
// credential; holders can share narrowed copies without involving an
// administrator.
package capability

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

// QueryParam is the query parameter carrying the capability token.
const QueryParam = "access_token"

// Service mints and resolves capability URIs on top of a TokenStore.
type Service struct {
	Store auth.TokenStore

	// BindSubject ties capabilities to the user they were minted for:
	// a bound capability only works for requests authenticated as that user.
	// Unbound capabilities work for anyone holding the URI.
	BindSubject bool

	Clock  clockwork.Clock
	Logger *zap.Logger
}

func (s Service) clock() clockwork.Clock {
	if s.Clock == nil {
		return clockwork.NewRealClock()
	}

	return s.Clock
}

func (s Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}

	return s.Logger
}

// Mint issues a capability URI granting perms on path, valid for ttl.
// The URI is resolved against the request being served.
func (s Service) Mint(ctx context.Context, r *http.Request, path string, perms string, ttl time.Duration) (*url.URL, error) {
	var subject string

	if s.BindSubject {
		identity, ok := auth.IdentityFrom(ctx)
		if !ok || identity.Subject == "" {
			return nil, auth.ErrAuthenticationFailed
		}

		subject = identity.Subject
	}

	token := auth.NewToken(s.clock().Now().Add(ttl), subject)
	token.Attributes[auth.AttributePath] = path
	token.Attributes[auth.AttributePerms] = perms

	tokenID, err := s.Store.Create(ctx, token)
	if err != nil {
		return nil, err
	}

	s.logger().Debug("minted capability",
		zap.String("path", path),
		zap.String("perms", perms),
	)

	capability := r.URL.ResolveReference(&url.URL{Path: path})
	capability.RawQuery = url.Values{QueryParam: {tokenID}}.Encode()

	return capability, nil
}

// resolve validates a capability token against the request being authorized.
//
// The token must name exactly the request path and, for bound capabilities,
// the request must be authenticated as the token's subject. Any failure
// yields None.
func (s Service) resolve(ctx context.Context, tokenID string, r *http.Request) (option.Option[auth.Token], error) {
	readToken, err := s.Store.Read(ctx, tokenID)
	if err != nil {
		return option.None[auth.Token](), err
	}

	if option.IsNone(readToken) {
		return option.None[auth.Token](), nil
	}

	token := readToken.Value()

	if path, ok := token.Attribute(auth.AttributePath); !ok || path != r.URL.Path {
		return option.None[auth.Token](), nil
	}

	if token.Expired(s.clock().Now()) {
		return option.None[auth.Token](), nil
	}

	if s.BindSubject {
		identity, ok := auth.IdentityFrom(ctx)
		if !ok || identity.Subject != token.Subject {
			return option.None[auth.Token](), nil
		}
	}

	return option.Some(token), nil
}

// share narrows a capability: it resolves the capability URI, checks the
// requested permissions are a subset of what the capability grants, and mints
// a fresh capability for the recipient.
func (s Service) share(ctx context.Context, capabilityURI string, user string, perms string) (*url.URL, error) {
	parsedURI, err := url.Parse(capabilityURI)
	if err != nil {
		return nil, auth.ErrPermissionDenied
	}

	tokenID := parsedURI.Query().Get(QueryParam)
	if tokenID == "" {
		return nil, auth.ErrPermissionDenied
	}

	readToken, err := s.Store.Read(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if option.IsNone(readToken) {
		return nil, auth.ErrPermissionDenied
	}

	token := readToken.Value()

	granted, _ := token.Attribute(auth.AttributePerms)

	if !subset(perms, granted) {
		return nil, auth.ErrPermissionDenied
	}

	path, ok := token.Attribute(auth.AttributePath)
	if !ok {
		return nil, auth.ErrPermissionDenied
	}

	var subject string
	if s.BindSubject {
		subject = user
	}

	shared := auth.NewToken(token.Expiry, subject)
	shared.Attributes[auth.AttributePath] = path
	shared.Attributes[auth.AttributePerms] = perms

	sharedID, err := s.Store.Create(ctx, shared)
	if err != nil {
		return nil, err
	}

	sharedURI := *parsedURI
	sharedURI.RawQuery = url.Values{QueryParam: {sharedID}}.Encode()

	return &sharedURI, nil
}

// subset reports whether every permission character in perms is also in granted.
func subset(perms string, granted string) bool {
	for _, perm := range perms {
		if !strings.ContainsRune(granted, perm) {
			return false
		}
	}

	return true
}
