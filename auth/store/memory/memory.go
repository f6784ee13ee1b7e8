// Package memory provides an in-process TokenStore.
//
// It is intended for development setups and as an inner store for wrapper
// stores in tests; tokens do not survive a restart.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

const tokenIDSize = 20

// Store is an in-memory auth.TokenStore guarded by a mutex.
type Store struct {
	entries map[string]auth.Token

	initOnce sync.Once
	mu       sync.RWMutex

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

// NewStore returns a new in-memory token store.
func NewStore(opts ...Option) *Store {
	s := &Store{}

	for _, opt := range opts {
		opt(s)
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	return s
}

func (s *Store) init() {
	s.initOnce.Do(func() {
		if s.entries == nil {
			s.entries = make(map[string]auth.Token)
		}
	})
}

// Create implements auth.TokenCreator.
func (s *Store) Create(_ context.Context, token auth.Token) (string, error) {
	randomBytes := make([]byte, tokenIDSize)

	_, err := io.ReadFull(rand.Reader, randomBytes)
	if err != nil {
		return "", fmt.Errorf("memory: generating token id: %w", err)
	}

	tokenID := base64.RawURLEncoding.EncodeToString(randomBytes)

	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[tokenID] = token.Clone()

	return tokenID, nil
}

// Read implements auth.TokenReader.
func (s *Store) Read(_ context.Context, tokenID string) (option.Option[auth.Token], error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.entries[tokenID]
	if !ok || token.Expired(s.clock.Now()) {
		return option.None[auth.Token](), nil
	}

	return option.Some(token.Clone()), nil
}

// Revoke implements auth.TokenRevoker.
func (s *Store) Revoke(_ context.Context, tokenID string) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, tokenID)

	return nil
}
