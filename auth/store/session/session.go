// Package session provides a TokenStore bound to a cookie-backed session.
//
// The externally visible token is the SHA-256 digest of the session
// identifier, submitted via a header the browser never attaches on its own.
// Together with the cookie this forms a hash-based double-submit pair: a
// cross-site forger can trigger cookie-bearing requests but cannot supply
// the matching header value.
package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

// DefaultCookieName is the name of the session cookie.
const DefaultCookieName = "session"

func init() {
	// session values are serialized with encoding/gob
	gob.Register(map[string]string{})
}

const (
	valueID      = "id"
	valueSubject = "subject"
	valueExpiry  = "expiry"
	valueAttrs   = "attrs"
)

// Store is a cookie-session-backed auth.TokenStore.
type Store struct {
	cookies sessions.Store
	name    string

	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithCookieName sets the session cookie name.
func WithCookieName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// WithClock sets the clock used for expiry checks.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore returns a new session token store.
// The key pairs authenticate (and optionally encrypt) the session cookie,
// as in sessions.NewCookieStore.
func NewStore(keyPairs [][]byte, opts ...Option) *Store {
	cookies := sessions.NewCookieStore(keyPairs...)
	cookies.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
	}

	s := &Store{
		cookies: cookies,
		name:    DefaultCookieName,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	return s
}

// Create implements auth.TokenCreator.
//
// Any session already tied to the request is invalidated before the new one
// is issued, so a session identifier planted before authentication can never
// be upgraded to an authenticated session.
func (s *Store) Create(ctx context.Context, token auth.Token) (string, error) {
	ex, ok := auth.ExchangeFrom(ctx)
	if !ok {
		return "", fmt.Errorf("session: no http exchange in context")
	}

	if existing, err := s.cookies.Get(ex.Request, s.name); err == nil && !existing.IsNew {
		existing.Options.MaxAge = -1

		if err := existing.Save(ex.Request, ex.Writer); err != nil {
			return "", fmt.Errorf("session: invalidating existing session: %w", err)
		}
	}

	sessionID, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("session: generating session id: %w", err)
	}

	session := sessions.NewSession(s.cookies, s.name)
	session.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
	}
	session.IsNew = true
	session.Values[valueID] = sessionID.String()
	session.Values[valueSubject] = token.Subject
	session.Values[valueExpiry] = token.Expiry.UnixNano()
	session.Values[valueAttrs] = token.Attributes

	if err := session.Save(ex.Request, ex.Writer); err != nil {
		return "", fmt.Errorf("session: saving session: %w", err)
	}

	return tokenFor(sessionID.String()), nil
}

// Read implements auth.TokenReader.
func (s *Store) Read(ctx context.Context, tokenID string) (option.Option[auth.Token], error) {
	ex, ok := auth.ExchangeFrom(ctx)
	if !ok {
		return option.None[auth.Token](), fmt.Errorf("session: no http exchange in context")
	}

	session, sessionOK := s.currentSession(ex, tokenID)
	if !sessionOK {
		return option.None[auth.Token](), nil
	}

	expiryNano, ok := session.Values[valueExpiry].(int64)
	if !ok {
		return option.None[auth.Token](), nil
	}

	expiry := time.Unix(0, expiryNano).UTC()
	if !s.clock.Now().Before(expiry) {
		return option.None[auth.Token](), nil
	}

	subject, _ := session.Values[valueSubject].(string)

	token := auth.NewToken(expiry, subject)

	if attrs, ok := session.Values[valueAttrs].(map[string]string); ok {
		for key, value := range attrs {
			token.Attributes[key] = value
		}
	}

	return option.Some(token), nil
}

// Revoke implements auth.TokenRevoker.
func (s *Store) Revoke(ctx context.Context, tokenID string) error {
	ex, ok := auth.ExchangeFrom(ctx)
	if !ok {
		return fmt.Errorf("session: no http exchange in context")
	}

	session, sessionOK := s.currentSession(ex, tokenID)
	if !sessionOK {
		return nil
	}

	session.Options.MaxAge = -1

	if err := session.Save(ex.Request, ex.Writer); err != nil {
		return fmt.Errorf("session: invalidating session: %w", err)
	}

	return nil
}

// currentSession loads the cookie-borne session and authenticates the
// presented token against it. It returns false for a missing or malformed
// cookie and for a token digest that does not match the session identifier.
func (s *Store) currentSession(ex auth.Exchange, tokenID string) (*sessions.Session, bool) {
	session, err := s.cookies.Get(ex.Request, s.name)
	if err != nil || session.IsNew {
		return nil, false
	}

	sessionID, ok := session.Values[valueID].(string)
	if !ok {
		return nil, false
	}

	if !tokenMatches(sessionID, tokenID) {
		return nil, false
	}

	return session, true
}

// tokenMatches authenticates a presented token against a session identifier.
//
// The comparison is constant-time: validation time does not depend on how
// many leading bytes of a forged token match.
func tokenMatches(sessionID string, tokenID string) bool {
	provided, err := base64.RawURLEncoding.DecodeString(tokenID)
	if err != nil {
		return false
	}

	computed := sha256.Sum256([]byte(sessionID))

	return subtle.ConstantTimeCompare(computed[:], provided) == 1
}

// tokenFor returns the externally visible token for a session identifier.
func tokenFor(sessionID string) string {
	digest := sha256.Sum256([]byte(sessionID))

	return base64.RawURLEncoding.EncodeToString(digest[:])
}
