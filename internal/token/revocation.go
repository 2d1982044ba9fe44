// revocation.go -- authentication of bearer headers and logout.
package token

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MGallo-Code/provenance/internal/apperr"
	"github.com/MGallo-Code/provenance/internal/store"
	"github.com/gofrs/uuid/v5"
)

// CleanupTask is the task kind that purges expired revocation records.
const CleanupTask = "revocations.cleanup"

// RevocationStore is the durable record of revoked tokens.
// Satisfied by *store.PostgresStore.
type RevocationStore interface {
	CreateRevocation(ctx context.Context, tokenHash string, userID uuid.UUID, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}

// RevocationCache is the fast path in front of RevocationStore. It only ever
// holds positives. Satisfied by *store.RedisRevocationCache.
type RevocationCache interface {
	// MarkRevoked caches tokenHash as revoked for ttl.
	MarkRevoked(ctx context.Context, tokenHash string, ttl time.Duration) error

	// IsRevoked returns nil on a hit, store.ErrCacheMiss on a miss.
	IsRevoked(ctx context.Context, tokenHash string) error
}

// TaskSubmitter queues background work. Satisfied by *tasks.Queue.
type TaskSubmitter interface {
	Submit(ctx context.Context, kind string) error
}

const bearerPrefix = "Bearer "

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMissingCredential
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	if raw == "" {
		return "", ErrMissingCredential
	}
	return raw, nil
}

// authFailed collapses every authentication failure into one opaque error.
// The cause stays reachable through errors.Is for logging.
func authFailed(cause error) error {
	return apperr.Wrap(apperr.KindAuthentication, "authentication failed", cause)
}

// Authenticate verifies an Authorization header and checks revocation.
// Any failure is returned as a single KindAuthentication error.
// A store error while checking revocation also rejects the request.
func (s *Service) Authenticate(ctx context.Context, header string) (*Claims, error) {
	raw, err := BearerToken(header)
	if err != nil {
		return nil, authFailed(err)
	}
	claims, err := s.Verify(raw)
	if err != nil {
		return nil, authFailed(err)
	}

	revoked, err := s.isRevoked(ctx, Fingerprint(raw), claims.ExpiresAt.Time)
	if err != nil {
		return nil, authFailed(err)
	}
	if revoked {
		return nil, authFailed(ErrRevoked)
	}
	return claims, nil
}

// IsRevoked reports whether an unexpired revocation exists for fingerprint.
func (s *Service) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	return s.isRevoked(ctx, fingerprint, time.Time{})
}

// isRevoked checks Redis, then Postgres on a miss or Redis failure.
// A Postgres hit is written back to Redis when expiresAt is known.
func (s *Service) isRevoked(ctx context.Context, fingerprint string, expiresAt time.Time) (bool, error) {
	err := s.cache.IsRevoked(ctx, fingerprint)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		slog.Warn("revocation cache lookup failed, falling back to postgres", "error", err)
	}

	now := s.now()
	revoked, err := s.revocations.IsTokenRevoked(ctx, fingerprint, now)
	if err != nil {
		return false, err
	}
	if revoked && !expiresAt.IsZero() {
		if err := s.cache.MarkRevoked(ctx, fingerprint, expiresAt.Sub(now)); err != nil {
			slog.Warn("failed to repopulate revocation cache", "error", err)
		}
	}
	return revoked, nil
}

// Revoke records raw as revoked until its own expiry. userID must be the token's subject.
// The Postgres write is fail-closed (KindPersistence); the Redis mark and the
// cleanup submission are best effort.
func (s *Service) Revoke(ctx context.Context, raw string, userID uuid.UUID) error {
	claims, err := s.Verify(raw)
	if err != nil {
		return authFailed(err)
	}
	if claims.Subject != userID.String() {
		return authFailed(errors.New("token subject does not match caller"))
	}

	fp := Fingerprint(raw)
	expiresAt := claims.ExpiresAt.Time
	if err := s.revocations.CreateRevocation(ctx, fp, userID, expiresAt); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "logout could not be recorded", err)
	}

	if err := s.cache.MarkRevoked(ctx, fp, expiresAt.Sub(s.now())); err != nil {
		slog.Warn("failed to cache revocation", "error", err, "user_id", userID)
	}
	if err := s.tasks.Submit(ctx, CleanupTask); err != nil {
		slog.Warn("failed to submit revocation cleanup", "error", err)
	}
	return nil
}

// CleanupExpired deletes revocation records whose tokens have expired.
// Lookups already ignore them, so failures are only logged.
func (s *Service) CleanupExpired(ctx context.Context) {
	n, err := s.revocations.DeleteExpiredRevocations(ctx, s.now())
	if err != nil {
		slog.Warn("revocation cleanup failed", "error", err)
		return
	}
	slog.Info("revocation cleanup complete", "deleted", n)
}
