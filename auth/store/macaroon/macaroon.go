// Package macaroon wraps a TokenStore in macaroons with first-party caveats.
//
// The wrapped store's token ID becomes the macaroon identifier. Anyone holding
// a token can append caveats offline to restrict it before sharing; nobody can
// remove one without breaking the HMAC chain.
package macaroon

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	macaroonpkg "gopkg.in/macaroon.v2"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

// Store is a caveat-appending auth.TokenStore.
type Store struct {
	rootKey  []byte
	location string

	inner auth.TokenStore

	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to evaluate time caveats.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLocation sets the location hint embedded in minted macaroons.
func WithLocation(location string) Option {
	return func(s *Store) {
		s.location = location
	}
}

// NewStore returns a Store minting macaroons over inner's tokens with rootKey.
func NewStore(rootKey []byte, inner auth.TokenStore, opts ...Option) *Store {
	s := &Store{
		rootKey: rootKey,
		inner:   inner,
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
func (s *Store) Create(ctx context.Context, token auth.Token) (string, error) {
	innerID, err := s.inner.Create(ctx, token)
	if err != nil {
		return "", err
	}

	m, err := macaroonpkg.New(s.rootKey, []byte(innerID), s.location, macaroonpkg.V2)
	if err != nil {
		return "", err
	}

	return encode(m)
}

// Read implements auth.TokenReader.
//
// The HMAC chain is verified against the root key and every caveat is
// evaluated against the current request. An unknown caveat fails the token.
func (s *Store) Read(ctx context.Context, tokenID string) (option.Option[auth.Token], error) {
	m, err := decode(tokenID)
	if err != nil {
		return option.None[auth.Token](), nil
	}

	if err := m.Verify(s.rootKey, s.checker(ctx), nil); err != nil {
		return option.None[auth.Token](), nil
	}

	return s.inner.Read(ctx, string(m.Id()))
}

// Revoke implements auth.TokenRevoker.
//
// Revocation deliberately skips caveat checks: holding any attenuation of a
// token is enough to kill the token itself.
func (s *Store) Revoke(ctx context.Context, tokenID string) error {
	m, err := decode(tokenID)
	if err != nil {
		return nil
	}

	return s.inner.Revoke(ctx, string(m.Id()))
}

// Attenuate appends first-party caveats to a token and returns the restricted
// token. It needs no key material and works entirely offline.
func Attenuate(tokenID string, caveats ...string) (string, error) {
	m, err := decode(tokenID)
	if err != nil {
		return "", fmt.Errorf("macaroon: malformed token: %w", err)
	}

	for _, caveat := range caveats {
		if err := m.AddFirstPartyCaveat([]byte(caveat)); err != nil {
			return "", err
		}
	}

	return encode(m)
}

// checker evaluates a single first-party caveat.
//
// Supported forms:
//
//	time < <RFC 3339>    request happens before the bound
//	method = <METHOD>    request uses exactly this HTTP method
//	since > <RFC 3339>   the request's "since" query parameter is after the bound
func (s *Store) checker(ctx context.Context) func(caveat string) error {
	return func(caveat string) error {
		fields := strings.Fields(caveat)
		if len(fields) != 3 {
			return fmt.Errorf("macaroon: unsupported caveat %q", caveat)
		}

		key, op, value := fields[0], fields[1], fields[2]

		switch {
		case key == "time" && op == "<":
			bound, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return fmt.Errorf("macaroon: invalid time caveat %q", caveat)
			}

			if !s.clock.Now().Before(bound) {
				return fmt.Errorf("macaroon: token expired by caveat")
			}

			return nil

		case key == "method" && op == "=":
			ex, ok := auth.ExchangeFrom(ctx)
			if !ok {
				return fmt.Errorf("macaroon: no request to check method caveat against")
			}

			if ex.Request.Method != value {
				return fmt.Errorf("macaroon: method %s not allowed", ex.Request.Method)
			}

			return nil

		case key == "since" && op == ">":
			bound, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return fmt.Errorf("macaroon: invalid since caveat %q", caveat)
			}

			ex, ok := auth.ExchangeFrom(ctx)
			if !ok {
				return fmt.Errorf("macaroon: no request to check since caveat against")
			}

			since, err := time.Parse(time.RFC3339, ex.Request.URL.Query().Get("since"))
			if err != nil {
				return fmt.Errorf("macaroon: missing or invalid since parameter")
			}

			if !since.After(bound) {
				return fmt.Errorf("macaroon: since parameter before caveat bound")
			}

			return nil

		default:
			return fmt.Errorf("macaroon: unsupported caveat %q", caveat)
		}
	}
}

func encode(m *macaroonpkg.Macaroon) (string, error) {
	data, err := m.MarshalBinary()
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decode(tokenID string) (*macaroonpkg.Macaroon, error) {
	data, err := base64.RawURLEncoding.DecodeString(tokenID)
	if err != nil {
		return nil, err
	}

	var m macaroonpkg.Macaroon

	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	return &m, nil
}
