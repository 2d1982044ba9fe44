// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (fast path + task queue).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrCacheMiss is returned by Redis lookups when the key is absent.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrNotFound is returned by Postgres lookups that match no row.
var ErrNotFound = errors.New("not found")

// Identity represents a row in the identities table.
// Nullable columns are pointers; nil means SQL NULL.
type Identity struct {
	ID          uuid.UUID
	GoogleID    string
	Email       string
	Name        *string
	AvatarURL   *string
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// IdentityInput is the verified profile data used to create or refresh an Identity.
type IdentityInput struct {
	GoogleID  string
	Email     string
	Name      *string
	AvatarURL *string
}

// RevocationRecord represents a row in the revoked_tokens table.
// TokenHash is the hex SHA-256 of the raw token; raw tokens are never stored.
type RevocationRecord struct {
	TokenHash string
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CacheEntry represents a row in the classification_cache table.
// Payload is the serialized classification result, stored verbatim.
type CacheEntry struct {
	URLHash     string
	ContentHash string
	Freshness   string
	Mode        string
	Payload     []byte
	CreatedAt   time.Time
}
