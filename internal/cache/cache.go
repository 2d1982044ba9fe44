// Package cache memoises classification results by content address.
//
// A key is the hash of the normalized locator, the hash of the normalized
// content, the mode, and an optional client-supplied freshness token. The
// cache is an optimization only: every store error becomes a miss or a no-op.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MGallo-Code/provenance/internal/outcome"
	"github.com/MGallo-Code/provenance/internal/store"
)

// EntryStore persists cache rows. Satisfied by *store.PostgresStore.
type EntryStore interface {
	GetCacheEntry(ctx context.Context, urlHash, contentHash, freshness, mode string) (*store.CacheEntry, error)
	PutCacheEntry(ctx context.Context, e store.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, urlHash, contentHash, freshness, mode string, createdBefore time.Time) error
}

// Key identifies one cache entry.
type Key struct {
	URLHash     string
	ContentHash string
	Freshness   string
	Mode        string
}

// String is the composite form of k, used in logs.
func (k Key) String() string {
	s := k.URLHash + ":" + k.ContentHash + ":" + k.Mode
	if k.Freshness != "" {
		s += ":" + k.Freshness
	}
	return s
}

// DeriveKey normalizes locator and content (trim, lower-case) and hashes each.
// Mode and freshness are used as given.
func DeriveKey(locator, content, mode, freshness string) Key {
	return Key{
		URLHash:     hashNormalized(locator),
		ContentHash: hashNormalized(content),
		Freshness:   freshness,
		Mode:        mode,
	}
}

func hashNormalized(s string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(s))))
	return hex.EncodeToString(sum[:])
}

// Manager reads and writes cache entries with a TTL.
type Manager struct {
	store EntryStore
	ttl   time.Duration
	now   func() time.Time
}

// New returns a Manager treating entries older than ttl as absent.
func New(s EntryStore, ttl time.Duration) *Manager {
	return &Manager{store: s, ttl: ttl, now: time.Now}
}

// Lookup returns the stored payload for k, or a nil value on a miss.
// Stale entries are a miss and are deleted best effort.
func (m *Manager) Lookup(ctx context.Context, k Key) outcome.Outcome[[]byte] {
	e, err := m.store.GetCacheEntry(ctx, k.URLHash, k.ContentHash, k.Freshness, k.Mode)
	if errors.Is(err, store.ErrNotFound) {
		return outcome.Ok[[]byte](nil)
	}
	if err != nil {
		slog.Warn("cache lookup failed, treating as miss", "component", "cache", "key", k.String(), "error", err)
		return outcome.SoftFailure[[]byte](nil, err)
	}

	if m.now().Sub(e.CreatedAt) > m.ttl {
		// Only rows at least as old as the one we saw; a concurrent fresh write survives.
		if err := m.store.DeleteCacheEntry(ctx, k.URLHash, k.ContentHash, k.Freshness, k.Mode, e.CreatedAt); err != nil {
			slog.Warn("stale cache entry eviction failed", "component", "cache", "key", k.String(), "error", err)
		}
		return outcome.Ok[[]byte](nil)
	}
	return outcome.Ok(e.Payload)
}

// Store saves payload under k. A row already present for k is kept.
func (m *Manager) Store(ctx context.Context, k Key, payload []byte) outcome.Outcome[struct{}] {
	err := m.store.PutCacheEntry(ctx, store.CacheEntry{
		URLHash:     k.URLHash,
		ContentHash: k.ContentHash,
		Freshness:   k.Freshness,
		Mode:        k.Mode,
		Payload:     payload,
		CreatedAt:   m.now(),
	})
	if err != nil {
		slog.Warn("cache store failed", "component", "cache", "key", k.String(), "error", err)
		return outcome.SoftFailure(struct{}{}, err)
	}
	return outcome.Ok(struct{}{})
}
