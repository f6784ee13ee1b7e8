// Package introspection provides a read-only TokenStore backed by an OAuth2
// token introspection endpoint (RFC 7662).
//
// Tokens are issued and revoked by the authorization server; this store only
// asks it whether a presented token is still active.
package introspection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

// tokens are sent to a remote party, so reject anything outside the RFC 6750
// bearer token charset before it goes on the wire; the repeat is split in two
// because Go's regexp limits a single repeat count to 1000 (still 1-1024 total)
var validToken = regexp.MustCompile(`^[\x20-\x7e]{1,1000}[\x20-\x7e]{0,24}$`)

// Store is a read-only auth.TokenStore asking an authorization server about tokens.
type Store struct {
	endpoint     string
	clientID     string
	clientSecret string

	client *http.Client
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient sets the HTTP client used to call the introspection endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// NewStore returns a Store introspecting tokens at endpoint, authenticating
// with the given client credentials.
func NewStore(endpoint string, clientID string, clientSecret string, opts ...Option) *Store {
	s := &Store{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = &http.Client{Timeout: 10 * time.Second}
	}

	return s
}

// Create implements auth.TokenCreator. Tokens come from the authorization
// server, never from here.
func (s *Store) Create(_ context.Context, _ auth.Token) (string, error) {
	return "", auth.ErrCreateNotSupported
}

// Read implements auth.TokenReader.
//
// An inactive token yields None, as does a request the authorization server
// refuses; only failing to reach the server, or the server failing itself,
// is an error.
func (s *Store) Read(ctx context.Context, tokenID string) (option.Option[auth.Token], error) {
	if !validToken.MatchString(tokenID) {
		return option.None[auth.Token](), nil
	}

	form := url.Values{
		"token":           {tokenID},
		"token_type_hint": {"access_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return option.None[auth.Token](), err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(s.clientID), url.QueryEscape(s.clientSecret))

	resp, err := s.client.Do(req)
	if err != nil {
		return option.None[auth.Token](), fmt.Errorf("introspection: calling endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return option.None[auth.Token](), fmt.Errorf("introspection: unexpected status %d", resp.StatusCode)
	}

	// any other non-200 answer is the authorization server refusing the
	// request; the token is invalid, not the infrastructure
	if resp.StatusCode != http.StatusOK {
		return option.None[auth.Token](), nil
	}

	var body map[string]interface{}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return option.None[auth.Token](), fmt.Errorf("introspection: decoding response: %w", err)
	}

	if active, _ := body["active"].(bool); !active {
		return option.None[auth.Token](), nil
	}

	return option.Some(tokenFromIntrospection(body)), nil
}

// Revoke implements auth.TokenRevoker. Revocation goes through the
// authorization server's own revocation endpoint, not this store.
func (s *Store) Revoke(_ context.Context, _ string) error {
	return auth.ErrRevokeNotSupported
}

func tokenFromIntrospection(body map[string]interface{}) auth.Token {
	var expiry time.Time

	if exp, ok := body["exp"].(float64); ok {
		expiry = time.Unix(int64(exp), 0)
	}

	subject, _ := body["sub"].(string)

	token := auth.NewToken(expiry, subject)

	for key, value := range body {
		switch key {
		case "active", "exp", "sub":
			continue
		}

		if s, ok := value.(string); ok {
			token.Attributes[key] = s
		}
	}

	return token
}
