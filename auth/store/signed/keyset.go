package signed

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/docker/libtrust"
	"github.com/jonboulle/clockwork"
)

// ErrKeySetUnavailable is returned when verification keys cannot be fetched.
// It signals a transient failure rather than an invalid token.
var ErrKeySetUnavailable = errors.New("signed: key set unavailable")

// KeySource resolves verification keys by key ID.
type KeySource interface {
	VerificationKey(ctx context.Context, keyID string) (crypto.PublicKey, error)
}

// RemoteKeySet fetches verification keys from a JWK set endpoint and caches
// them for a bounded time.
type RemoteKeySet struct {
	url    string
	client *http.Client
	ttl    time.Duration

	clock clockwork.Clock

	mu        sync.Mutex
	keys      map[string]libtrust.PublicKey
	fetchedAt time.Time
}

// RemoteKeySetOption configures a RemoteKeySet.
type RemoteKeySetOption func(*RemoteKeySet)

// WithHTTPClient sets the HTTP client used to fetch the key set.
func WithHTTPClient(client *http.Client) RemoteKeySetOption {
	return func(ks *RemoteKeySet) {
		ks.client = client
	}
}

// WithCacheTTL sets how long a fetched key set is reused before refetching.
func WithCacheTTL(ttl time.Duration) RemoteKeySetOption {
	return func(ks *RemoteKeySet) {
		ks.ttl = ttl
	}
}

// WithKeySetClock sets the clock used for cache freshness checks.
func WithKeySetClock(clock clockwork.Clock) RemoteKeySetOption {
	return func(ks *RemoteKeySet) {
		ks.clock = clock
	}
}

// NewRemoteKeySet returns a RemoteKeySet reading keys from url.
func NewRemoteKeySet(url string, opts ...RemoteKeySetOption) *RemoteKeySet {
	ks := &RemoteKeySet{
		url: url,
	}

	for _, opt := range opts {
		opt(ks)
	}

	if ks.client == nil {
		ks.client = &http.Client{Timeout: 10 * time.Second}
	}

	if ks.ttl == 0 {
		ks.ttl = 5 * time.Minute
	}

	if ks.clock == nil {
		ks.clock = clockwork.NewRealClock()
	}

	return ks
}

// VerificationKey implements KeySource.
func (ks *RemoteKeySet) VerificationKey(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := ks.clock.Now()

	if ks.keys == nil || now.Sub(ks.fetchedAt) > ks.ttl {
		keys, err := ks.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
		}

		ks.keys = keys
		ks.fetchedAt = now
	}

	key, ok := ks.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("signed: unknown key %q", keyID)
	}

	return key.CryptoPublicKey(), nil
}

func (ks *RemoteKeySet) fetch(ctx context.Context) (map[string]libtrust.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Keys []json.RawMessage `json:"keys"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	keys := make(map[string]libtrust.PublicKey, len(body.Keys))

	for _, rawKey := range body.Keys {
		key, err := libtrust.UnmarshalPublicKeyJWK(rawKey)
		if err != nil {
			// skip keys of types we cannot use
			continue
		}

		keys[key.KeyID()] = key
	}

	return keys, nil
}
