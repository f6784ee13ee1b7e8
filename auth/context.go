package auth

import (
	"context"
	"net/http"

	"golang.org/x/exp/maps"
)

// Exchange carries the HTTP exchange a token operation runs in.
//
// Most stores ignore it, but cookie-backed sessions must write Set-Cookie
// headers and caveat checks must see the request being authorized.
type Exchange struct {
	Writer  http.ResponseWriter
	Request *http.Request
}

type exchangeContextKey struct{}

// WithExchange returns a new context carrying the HTTP exchange.
func WithExchange(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	return context.WithValue(ctx, exchangeContextKey{}, Exchange{Writer: w, Request: r})
}

// ExchangeFrom returns the HTTP exchange stored in the context, if any.
func ExchangeFrom(ctx context.Context) (Exchange, bool) {
	ex, ok := ctx.Value(exchangeContextKey{}).(Exchange)

	return ex, ok
}

// Identity is the authentication outcome of a request.
//
// It is populated once by the authentication middleware and read-only after that:
// downstream authorization only ever sees a valid Identity or none at all,
// never the reason a credential was rejected.
type Identity struct {
	// Subject is the authenticated principal. Empty for subject-independent capabilities.
	Subject string

	// Perms is the permission-character string granted for the requested resource.
	Perms string

	// Scope is the OAuth2 scope granted to the presented token, if any.
	Scope string

	attributes map[string]string
}

// NewIdentity returns an Identity for subject carrying the token's attributes.
func NewIdentity(subject string, attributes map[string]string) Identity {
	return Identity{
		Subject:    subject,
		Perms:      attributes[AttributePerms],
		Scope:      attributes[AttributeScope],
		attributes: maps.Clone(attributes),
	}
}

// Attribute returns a token attribute value and a boolean flag that shows whether the value exists or not.
func (i Identity) Attribute(key string) (string, bool) {
	v, ok := i.attributes[key]

	return v, ok
}

// GrantPerms returns a copy of the identity with perms granted.
// The identity itself is never mutated.
func (i Identity) GrantPerms(perms string) Identity {
	i.Perms = perms

	return i
}

type identityContextKey struct{}

// WithIdentity returns a new context carrying the authenticated identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFrom returns the authenticated identity stored in the context, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)

	return identity, ok
}
