// Package signed provides a TokenStore embedding claims in a signed JWT.
//
// Tokens are self-contained: validation needs no server-side state, which
// also means the store cannot revoke anything. Wrap it (or use the encrypted
// hybrid store) when revocation is required.
package signed

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/libtrust"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

type claims struct {
	jwt.RegisteredClaims

	Attributes map[string]string `json:"attrs,omitempty"`
}

// Store is a signed-JWT auth.TokenStore.
//
// It supports Create and Read; Revoke always returns auth.ErrRevokeNotSupported.
type Store struct {
	issuer   string
	audience string

	method     jwt.SigningMethod
	signingKey libtrust.PrivateKey
	secret     []byte

	keys KeySource

	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for expiry checks.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore returns a Store signing tokens with an asymmetric key.
// The signing algorithm follows the key type (RS256 for RSA keys, ES256 for EC keys).
func NewStore(issuer string, audience string, signingKey libtrust.PrivateKey, opts ...Option) (*Store, error) {
	method, err := detectSigningMethod(signingKey)
	if err != nil {
		return nil, err
	}

	s := &Store{
		issuer:     issuer,
		audience:   audience,
		method:     method,
		signingKey: signingKey,
	}

	return s.applyOptions(opts), nil
}

// NewSymmetricStore returns a Store signing tokens with an HMAC-SHA256 secret.
func NewSymmetricStore(issuer string, audience string, secret []byte, opts ...Option) *Store {
	s := &Store{
		issuer:   issuer,
		audience: audience,
		method:   jwt.SigningMethodHS256,
		secret:   secret,
	}

	return s.applyOptions(opts)
}

// NewVerifier returns a read-only Store validating tokens issued elsewhere
// against keys resolved from a KeySource (typically a remote JWK set).
// Create returns auth.ErrCreateNotSupported.
func NewVerifier(issuer string, audience string, keys KeySource, opts ...Option) *Store {
	s := &Store{
		issuer:   issuer,
		audience: audience,
		keys:     keys,
	}

	return s.applyOptions(opts)
}

func (s *Store) applyOptions(opts []Option) *Store {
	for _, opt := range opts {
		opt(s)
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	return s
}

func detectSigningMethod(signingKey libtrust.PrivateKey) (jwt.SigningMethod, error) {
	switch signingKey.KeyType() {
	case "RSA":
		return jwt.SigningMethodRS256, nil
	case "EC":
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("signed: unsupported signing key type %q", signingKey.KeyType())
	}
}

// Create implements auth.TokenCreator.
func (s *Store) Create(_ context.Context, token auth.Token) (string, error) {
	if s.method == nil {
		return "", auth.ErrCreateNotSupported
	}

	now := s.clock.Now()

	claims := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   token.Subject,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(token.Expiry),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Attributes: token.Attributes,
	}

	signedToken := jwt.NewWithClaims(s.method, claims)

	if s.signingKey != nil {
		signedToken.Header["kid"] = s.signingKey.KeyID()

		return signedToken.SignedString(s.signingKey.CryptoPrivateKey())
	}

	return signedToken.SignedString(s.secret)
}

// Read implements auth.TokenReader.
//
// Signature, issuer, audience and expiry are all verified; any failure
// yields None. Only an unreachable key source is reported as an error.
func (s *Store) Read(ctx context.Context, tokenID string) (option.Option[auth.Token], error) {
	var c claims

	parsedToken, err := jwt.ParseWithClaims(tokenID, &c, s.keyFunc(ctx), jwt.WithoutClaimsValidation())
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return option.None[auth.Token](), err
		}

		return option.None[auth.Token](), nil
	}

	if !parsedToken.Valid {
		return option.None[auth.Token](), nil
	}

	now := s.clock.Now()

	valid := c.VerifyIssuer(s.issuer, true) &&
		c.VerifyAudience(s.audience, true) &&
		c.VerifyExpiresAt(now, true) &&
		c.VerifyNotBefore(now, false)
	if !valid {
		return option.None[auth.Token](), nil
	}

	token := auth.NewToken(c.ExpiresAt.Time, c.Subject)
	for key, value := range c.Attributes {
		token.Attributes[key] = value
	}

	return option.Some(token), nil
}

// Revoke implements auth.TokenRevoker.
//
// A signed token has no backing state: there is nothing to revoke.
func (s *Store) Revoke(_ context.Context, _ string) error {
	return auth.ErrRevokeNotSupported
}

func (s *Store) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		switch {
		case s.secret != nil:
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("signed: unexpected signing method %q", t.Method.Alg())
			}

			return s.secret, nil

		case s.signingKey != nil:
			if t.Method.Alg() != s.method.Alg() {
				return nil, fmt.Errorf("signed: unexpected signing method %q", t.Method.Alg())
			}

			return s.signingKey.PublicKey().CryptoPublicKey(), nil

		default:
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
				// never verify externally issued tokens with a shared secret
				return nil, fmt.Errorf("signed: unexpected signing method %q", t.Method.Alg())
			}

			keyID, _ := t.Header["kid"].(string)

			return s.keys.VerificationKey(ctx, keyID)
		}
	}
}
