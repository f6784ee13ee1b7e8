package auth

import (
	"time"

	"golang.org/x/exp/maps"
)

// Attribute keys
const (
	// AttributePath is the exact resource path a capability token authorizes.
	AttributePath = "path"

	// AttributePerms is the permission-character string (eg. "rwd") granted by a capability token.
	AttributePerms = "perms"

	// AttributeScope carries the OAuth2 scope granted to an access token.
	AttributeScope = "scope"
)

// Token is the record behind every credential issued by a TokenStore.
//
// A Token has no lifecycle of its own: it is created by TokenCreator.Create,
// observed by TokenReader.Read and invalidated by TokenRevoker.Revoke or by
// reaching its expiry.
type Token struct {
	// Expiry is the instant at (and after) which the token is invalid.
	// It is fixed at creation; no store may extend it.
	Expiry time.Time

	// Subject is the principal the token was issued to.
	// It is empty for subject-independent credentials (eg. anonymously shared capabilities).
	Subject string

	// Attributes are arbitrary string claims attached to the token (eg. "path", "perms", "scope").
	// Every store round-trips the attributes it is given, whatever its wire representation.
	Attributes map[string]string
}

// NewToken returns a Token for subject expiring at expiry.
func NewToken(expiry time.Time, subject string) Token {
	return Token{
		Expiry:     expiry,
		Subject:    subject,
		Attributes: map[string]string{},
	}
}

// Expired reports whether the token is invalid at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.Expiry)
}

// Attribute returns an attribute value and a boolean flag that shows whether the value exists or not.
func (t Token) Attribute(key string) (string, bool) {
	v, ok := t.Attributes[key]

	return v, ok
}

// Clone returns a copy of the token that shares no state with the original.
func (t Token) Clone() Token {
	t.Attributes = maps.Clone(t.Attributes)

	return t
}
