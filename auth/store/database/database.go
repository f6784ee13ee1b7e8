// Package database provides a TokenStore backed by a SQL database.
//
// Token identifiers are 160 bits of randomness; rows are keyed by the
// SHA-256 digest of the identifier, so reading the database is not enough
// to forge a token. Expired rows are swept on a fixed interval.
package database

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/natter-auth/auth/auth"
	"github.com/natter-auth/auth/pkg/option"
)

const tokenIDSize = 20

// sweepInterval is how often expired rows are deleted.
const sweepInterval = 10 * time.Minute

// Store is a database-backed auth.TokenStore.
//
// The zero value is not usable; construct it with NewStore and release it
// with Close to stop the expiry sweep and close the database.
type Store struct {
	db *sql.DB

	clock  clockwork.Clock
	logger *zap.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for expiry checks and the sweep interval.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore opens (creating it if necessary) the token database at path
// and starts the background expiry sweep.
func NewStore(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database: opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()

		return nil, fmt.Errorf("database: enabling WAL mode: %w", err)
	}

	s := &Store{
		db:        db,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	if err := s.createSchema(); err != nil {
		db.Close()

		return nil, fmt.Errorf("database: creating schema: %w", err)
	}

	go s.sweep()

	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tokens (
			token_digest TEXT PRIMARY KEY,
			subject      TEXT NOT NULL,
			expiry       INTEGER NOT NULL,
			attributes   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tokens_expiry ON tokens(expiry);
	`

	_, err := s.db.Exec(schema)

	return err
}

// Close stops the expiry sweep and closes the database.
func (s *Store) Close() error {
	close(s.stopSweep)
	<-s.sweepDone

	return s.db.Close()
}

// Create implements auth.TokenCreator.
//
// The raw identifier is returned to the caller and never stored.
func (s *Store) Create(ctx context.Context, token auth.Token) (string, error) {
	randomBytes := make([]byte, tokenIDSize)

	_, err := io.ReadFull(rand.Reader, randomBytes)
	if err != nil {
		return "", fmt.Errorf("database: generating token id: %w", err)
	}

	tokenID := base64.RawURLEncoding.EncodeToString(randomBytes)

	attrs, err := json.Marshal(token.Attributes)
	if err != nil {
		return "", fmt.Errorf("database: encoding attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO tokens (token_digest, subject, expiry, attributes) VALUES (?, ?, ?, ?)",
		digest(tokenID),
		token.Subject,
		token.Expiry.UnixNano(),
		string(attrs),
	)
	if err != nil {
		return "", fmt.Errorf("database: inserting token: %w", err)
	}

	return tokenID, nil
}

// Read implements auth.TokenReader.
func (s *Store) Read(ctx context.Context, tokenID string) (option.Option[auth.Token], error) {
	var (
		subject    string
		expiryNano int64
		attrsJSON  string
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT subject, expiry, attributes FROM tokens WHERE token_digest = ?",
		digest(tokenID),
	).Scan(&subject, &expiryNano, &attrsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return option.None[auth.Token](), nil
	}
	if err != nil {
		return option.None[auth.Token](), fmt.Errorf("database: querying token: %w", err)
	}

	token := auth.NewToken(time.Unix(0, expiryNano).UTC(), subject)

	if err := json.Unmarshal([]byte(attrsJSON), &token.Attributes); err != nil {
		return option.None[auth.Token](), fmt.Errorf("database: decoding attributes: %w", err)
	}

	if token.Expired(s.clock.Now()) {
		return option.None[auth.Token](), nil
	}

	return option.Some(token), nil
}

// Revoke implements auth.TokenRevoker.
func (s *Store) Revoke(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE token_digest = ?", digest(tokenID))
	if err != nil {
		return fmt.Errorf("database: deleting token: %w", err)
	}

	return nil
}

// sweep deletes expired rows on a fixed interval until Close is called.
// Expired rows are invalid regardless of deletion timing, so the sweep
// never races with a valid read.
func (s *Store) sweep() {
	defer close(s.sweepDone)

	ticker := s.clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := s.DeleteExpired(context.Background()); err != nil {
				s.logger.Error("deleting expired tokens", zap.Error(err))
			}
		case <-s.stopSweep:
			return
		}
	}
}

// DeleteExpired deletes every token whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM tokens WHERE expiry <= ?",
		s.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("database: deleting expired tokens: %w", err)
	}

	if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
		s.logger.Debug("deleted expired tokens", zap.Int64("count", deleted))
	}

	return nil
}

// digest returns the stored key for a token identifier.
func digest(tokenID string) string {
	hash := sha256.Sum256([]byte(tokenID))

	return base64.RawURLEncoding.EncodeToString(hash[:])
}
