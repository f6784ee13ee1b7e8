// Package encrypted provides a TokenStore sealing claims with XChaCha20-Poly1305.
//
// The token carries its own state, but every issued token is also recorded in
// an allow-list store keyed by a random token ID. Revoking deletes the
// allow-list entry, so a sealed token alone is not enough to authenticate.
package encrypted

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

// KeySize is the required encryption key size in bytes.
const KeySize = chacha20poly1305.KeySize

type wireClaims struct {
	ID         string            `json:"jti"`
	Subject    string            `json:"sub"`
	Audience   string            `json:"aud"`
	Expiry     int64             `json:"exp"`
	Attributes map[string]string `json:"attrs,omitempty"`
}

// Store is an encrypted auth.TokenStore with allow-list revocation.
type Store struct {
	aead     cipher.AEAD
	audience string

	allowList auth.TokenStore

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

// NewStore returns a Store sealing tokens with key and recording them in allowList.
func NewStore(key []byte, audience string, allowList auth.TokenStore, opts ...Option) (*Store, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("encrypted: invalid key: %w", err)
	}

	s := &Store{
		aead:      aead,
		audience:  audience,
		allowList: allowList,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	return s, nil
}

// Create implements auth.TokenCreator.
//
// The allow-list entry is created first: if it fails no token is issued.
// The entry carries no attributes, those live only inside the sealed token.
func (s *Store) Create(ctx context.Context, token auth.Token) (string, error) {
	allowID, err := s.allowList.Create(ctx, auth.NewToken(token.Expiry, token.Subject))
	if err != nil {
		return "", err
	}

	claims := wireClaims{
		ID:         allowID,
		Subject:    token.Subject,
		Audience:   s.audience,
		Expiry:     token.Expiry.Unix(),
		Attributes: token.Attributes,
	}

	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Read implements auth.TokenReader.
//
// Decryption, audience and expiry failures yield None without touching the
// allow-list. A valid sealed token missing from the allow-list is revoked
// and yields None as well.
func (s *Store) Read(ctx context.Context, tokenID string) (option.Option[auth.Token], error) {
	claims, ok := s.open(tokenID)
	if !ok {
		return option.None[auth.Token](), nil
	}

	if claims.Audience != s.audience {
		return option.None[auth.Token](), nil
	}

	expiry := time.Unix(claims.Expiry, 0)
	if !s.clock.Now().Before(expiry) {
		return option.None[auth.Token](), nil
	}

	allowed, err := s.allowList.Read(ctx, claims.ID)
	if err != nil {
		return option.None[auth.Token](), err
	}

	if option.IsNone(allowed) {
		return option.None[auth.Token](), nil
	}

	token := auth.NewToken(expiry, claims.Subject)
	for key, value := range claims.Attributes {
		token.Attributes[key] = value
	}

	return option.Some(token), nil
}

// Revoke implements auth.TokenRevoker by deleting the allow-list entry.
// An undecryptable token is a no-op.
func (s *Store) Revoke(ctx context.Context, tokenID string) error {
	claims, ok := s.open(tokenID)
	if !ok {
		return nil
	}

	return s.allowList.Revoke(ctx, claims.ID)
}

func (s *Store) open(tokenID string) (wireClaims, bool) {
	var claims wireClaims

	sealed, err := base64.RawURLEncoding.DecodeString(tokenID)
	if err != nil {
		return claims, false
	}

	if len(sealed) < chacha20poly1305.NonceSizeX {
		return claims, false
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return claims, false
	}

	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return claims, false
	}

	return claims, true
}
