// stores.go
//
// Shared in-memory implementations of the store interfaces consumed by
// token, ratelimit, cache, and the HTTP handlers.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/MGallo-Code/provenance/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Always stateful...every mock keeps maps, like a real store.
// Use *Err fields to inject errors for specific operations.

// --- Clock ---

// Clock is a manually advanced time source. Safe for concurrent use.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a Clock stopped at t.
func NewClock(t time.Time) *Clock { return &Clock{t: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --- Identities ---

// MockIdentityStore implements token.IdentityStore.
type MockIdentityStore struct {
	UpsertErr error

	Identities map[string]*store.Identity // keyed by GoogleID

	mu sync.Mutex
}

// NewMockIdentityStore returns an empty MockIdentityStore.
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{Identities: make(map[string]*store.Identity)}
}

func (m *MockIdentityStore) UpsertIdentity(_ context.Context, id uuid.UUID, in store.IdentityInput, now time.Time) (*store.Identity, bool, error) {
	if m.UpsertErr != nil {
		return nil, false, m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub, ident := range m.Identities {
		if sub != in.GoogleID && ident.Email == in.Email {
			// same error Postgres raises on identities_email_key
			return nil, false, &pgconn.PgError{Code: "23505", ConstraintName: "identities_email_key"}
		}
	}

	if ident, ok := m.Identities[in.GoogleID]; ok {
		ident.Email = in.Email
		if in.Name != nil {
			ident.Name = in.Name
		}
		if in.AvatarURL != nil {
			ident.AvatarURL = in.AvatarURL
		}
		if now.After(ident.LastLoginAt) {
			ident.LastLoginAt = now
		}
		cp := *ident
		return &cp, false, nil
	}

	ident := &store.Identity{
		ID:          id,
		GoogleID:    in.GoogleID,
		Email:       in.Email,
		Name:        in.Name,
		AvatarURL:   in.AvatarURL,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	m.Identities[in.GoogleID] = ident
	cp := *ident
	return &cp, true, nil
}

// --- Revocations ---

// MockRevocationStore implements token.RevocationStore.
type MockRevocationStore struct {
	CreateErr    error
	IsRevokedErr error
	DeleteErr    error

	Records map[string]store.RevocationRecord // keyed by token hash

	LookupCalls  int
	CleanupCalls int

	mu sync.Mutex
}

// NewMockRevocationStore returns an empty MockRevocationStore.
func NewMockRevocationStore() *MockRevocationStore {
	return &MockRevocationStore{Records: make(map[string]store.RevocationRecord)}
}

func (m *MockRevocationStore) CreateRevocation(_ context.Context, tokenHash string, userID uuid.UUID, expiresAt time.Time) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Records[tokenHash]; !ok {
		m.Records[tokenHash] = store.RevocationRecord{TokenHash: tokenHash, UserID: userID, ExpiresAt: expiresAt}
	}
	return nil
}

func (m *MockRevocationStore) IsTokenRevoked(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LookupCalls++
	if m.IsRevokedErr != nil {
		return false, m.IsRevokedErr
	}
	rec, ok := m.Records[tokenHash]
	return ok && rec.ExpiresAt.After(now), nil
}

func (m *MockRevocationStore) DeleteExpiredRevocations(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CleanupCalls++
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	var n int64
	for h, rec := range m.Records {
		if !rec.ExpiresAt.After(now) {
			delete(m.Records, h)
			n++
		}
	}
	return n, nil
}

// MockRevocationCache implements token.RevocationCache.
type MockRevocationCache struct {
	MarkErr      error
	IsRevokedErr error

	Revoked map[string]time.Duration // token hash -> ttl it was stored with

	mu sync.Mutex
}

// NewMockRevocationCache returns an empty MockRevocationCache.
func NewMockRevocationCache() *MockRevocationCache {
	return &MockRevocationCache{Revoked: make(map[string]time.Duration)}
}

func (m *MockRevocationCache) MarkRevoked(_ context.Context, tokenHash string, ttl time.Duration) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.Revoked[tokenHash] = ttl
	m.mu.Unlock()
	return nil
}

func (m *MockRevocationCache) IsRevoked(_ context.Context, tokenHash string) error {
	if m.IsRevokedErr != nil {
		return m.IsRevokedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Revoked[tokenHash]; ok {
		return nil
	}
	return store.ErrCacheMiss
}

// Has reports whether tokenHash is cached.
func (m *MockRevocationCache) Has(tokenHash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Revoked[tokenHash]
	return ok
}

// --- Usage counters ---

type usageKey struct {
	user uuid.UUID
	day  time.Time
}

// MockUsageStore implements ratelimit.UsageStore with the same
// increment-below-limit semantics as the Postgres upsert.
type MockUsageStore struct {
	IncrementErr error

	counts map[usageKey]int
	mu     sync.Mutex
}

// NewMockUsageStore returns an empty MockUsageStore.
func NewMockUsageStore() *MockUsageStore {
	return &MockUsageStore{counts: make(map[usageKey]int)}
}

func (m *MockUsageStore) IncrementUsage(_ context.Context, userID uuid.UUID, day time.Time, limit int) (int, bool, error) {
	if m.IncrementErr != nil {
		return 0, false, m.IncrementErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey{userID, day}
	if m.counts[k] >= limit {
		return m.counts[k], false, nil
	}
	m.counts[k]++
	return m.counts[k], true, nil
}

// Days returns how many distinct day rows exist for userID.
func (m *MockUsageStore) Days(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.counts {
		if k.user == userID {
			n++
		}
	}
	return n
}

// --- Classification cache ---

// MockCacheStore implements cache.EntryStore.
type MockCacheStore struct {
	GetErr    error
	PutErr    error
	DeleteErr error

	entries map[string]store.CacheEntry
	Deletes int

	mu sync.Mutex
}

// NewMockCacheStore returns an empty MockCacheStore.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{entries: make(map[string]store.CacheEntry)}
}

func cacheKey(urlHash, contentHash, freshness, mode string) string {
	return urlHash + "|" + contentHash + "|" + freshness + "|" + mode
}

func (m *MockCacheStore) GetCacheEntry(_ context.Context, urlHash, contentHash, freshness, mode string) (*store.CacheEntry, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cacheKey(urlHash, contentHash, freshness, mode)]
	if !ok {
		return nil, store.ErrNotFound
	}
	e.Payload = append([]byte(nil), e.Payload...)
	return &e, nil
}

func (m *MockCacheStore) PutCacheEntry(_ context.Context, e store.CacheEntry) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cacheKey(e.URLHash, e.ContentHash, e.Freshness, e.Mode)
	if _, ok := m.entries[k]; !ok {
		e.Payload = append([]byte(nil), e.Payload...)
		m.entries[k] = e
	}
	return nil
}

func (m *MockCacheStore) DeleteCacheEntry(_ context.Context, urlHash, contentHash, freshness, mode string, createdBefore time.Time) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes++
	k := cacheKey(urlHash, contentHash, freshness, mode)
	if e, ok := m.entries[k]; ok && !e.CreatedAt.After(createdBefore) {
		delete(m.entries, k)
	}
	return nil
}

// Len returns the number of stored entries.
func (m *MockCacheStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// --- Health ---

// MockHealth implements a CheckHealth dependency.
type MockHealth struct {
	Err error
}

func (m *MockHealth) CheckHealth(context.Context) error { return m.Err }
