// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all components.
// All queries use parameterized statements (no string concatenation).
// No query relies on multi-statement transactions; every read-then-write is a
// single statement so it stays correct under read committed.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool, pings it, and returns a ready-to-use store.
// Call once at startup from main.go; the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Identities ---

const identityColumns = "id, google_id, email, name, avatar_url, created_at, last_login_at"

// UpsertIdentity inserts a new identity or refreshes the existing one for the same Google subject.
// last_login_at only moves forward; name/avatar are only overwritten with non-NULL values.
// Returns the stored row and whether it was newly created.
// A different subject reusing an existing email fails with a unique violation (23505).
func (s *PostgresStore) UpsertIdentity(ctx context.Context, id uuid.UUID, in IdentityInput, now time.Time) (*Identity, bool, error) {
	var ident Identity
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO identities (id, google_id, email, name, avatar_url, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (google_id) DO UPDATE SET
			email         = EXCLUDED.email,
			name          = COALESCE(EXCLUDED.name, identities.name),
			avatar_url    = COALESCE(EXCLUDED.avatar_url, identities.avatar_url),
			last_login_at = GREATEST(identities.last_login_at, EXCLUDED.last_login_at)
		RETURNING `+identityColumns+`, (xmax = 0) AS inserted`,
		id, in.GoogleID, in.Email, in.Name, in.AvatarURL, now,
	).Scan(
		&ident.ID, &ident.GoogleID, &ident.Email, &ident.Name, &ident.AvatarURL,
		&ident.CreatedAt, &ident.LastLoginAt, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upserting identity: %w", err)
	}
	return &ident, inserted, nil
}

// --- Revocations ---

// CreateRevocation records tokenHash as revoked until expiresAt.
// Revoking the same token twice is a no-op.
func (s *PostgresStore) CreateRevocation(ctx context.Context, tokenHash string, userID uuid.UUID, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO revoked_tokens (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO NOTHING`,
		tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("inserting revocation: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether an unexpired revocation exists for tokenHash.
func (s *PostgresStore) IsTokenRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash = $1 AND expires_at > $2)",
		tokenHash, now,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return exists, nil
}

// DeleteExpiredRevocations removes revocations whose token has expired anyway.
// Returns the number of rows deleted.
func (s *PostgresStore) DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM revoked_tokens WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Usage counters ---

// IncrementUsage adds one to the (userID, day) counter if it is below limit.
// Insert and increment happen in one statement, so concurrent callers cannot
// both pass at limit-1. Returns the counter value and whether the increment happened;
// when refused, the returned count is the current (unchanged) value.
func (s *PostgresStore) IncrementUsage(ctx context.Context, userID uuid.UUID, day time.Time, limit int) (int, bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO usage_counters (user_id, day, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, day) DO UPDATE SET count = usage_counters.count + 1
		WHERE usage_counters.count < $3
		RETURNING count`,
		userID, day, limit,
	).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("incrementing usage: %w", err)
	}

	// Conflict row was at or over the limit -- read it for the caller.
	err = s.pool.QueryRow(ctx,
		"SELECT count FROM usage_counters WHERE user_id = $1 AND day = $2",
		userID, day,
	).Scan(&count)
	if err != nil {
		return 0, false, fmt.Errorf("reading usage: %w", err)
	}
	return count, false, nil
}

// --- Classification cache ---

// GetCacheEntry fetches a cached classification by its key components.
// Returns ErrNotFound on a miss; TTL is the caller's concern.
func (s *PostgresStore) GetCacheEntry(ctx context.Context, urlHash, contentHash, freshness, mode string) (*CacheEntry, error) {
	e := CacheEntry{URLHash: urlHash, ContentHash: contentHash, Freshness: freshness, Mode: mode}
	err := s.pool.QueryRow(ctx, `
		SELECT payload, created_at FROM classification_cache
		WHERE url_hash = $1 AND content_hash = $2 AND freshness = $3 AND mode = $4`,
		urlHash, contentHash, freshness, mode,
	).Scan(&e.Payload, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching cache entry: %w", err)
	}
	return &e, nil
}

// PutCacheEntry stores a classification payload. An existing row for the same
// key is kept; both racers computed an equivalent payload.
func (s *PostgresStore) PutCacheEntry(ctx context.Context, e CacheEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO classification_cache (url_hash, content_hash, freshness, mode, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url_hash, content_hash, freshness, mode) DO NOTHING`,
		e.URLHash, e.ContentHash, e.Freshness, e.Mode, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntry removes a cache row if it was created at or before createdBefore.
// The guard keeps a concurrent fresh write from being deleted by a stale-entry eviction.
func (s *PostgresStore) DeleteCacheEntry(ctx context.Context, urlHash, contentHash, freshness, mode string, createdBefore time.Time) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM classification_cache
		WHERE url_hash = $1 AND content_hash = $2 AND freshness = $3 AND mode = $4 AND created_at <= $5`,
		urlHash, contentHash, freshness, mode, createdBefore)
	if err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}
