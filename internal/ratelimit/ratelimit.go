// Package ratelimit caps classification requests per identity per calendar day.
//
// It is an abuse guard, not a meter: if the counter store is unavailable the
// request is allowed and the failure is reported as a soft failure.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/MGallo-Code/provenance/internal/outcome"
	"github.com/gofrs/uuid/v5"
)

// UsageStore increments daily counters. Satisfied by *store.PostgresStore.
type UsageStore interface {
	// IncrementUsage adds one to (userID, day) unless it already reached limit.
	IncrementUsage(ctx context.Context, userID uuid.UUID, day time.Time, limit int) (int, bool, error)
}

// Decision is the result of one quota check.
type Decision struct {
	Allowed bool
	// Count is the counter after this call; zero when the store failed.
	Count int
	// RetryAfterSeconds is set when Allowed is false: seconds until the next local midnight.
	RetryAfterSeconds int
}

// Limiter enforces a daily limit in a fixed time zone.
type Limiter struct {
	store UsageStore
	limit int
	loc   *time.Location
	now   func() time.Time
}

// New returns a Limiter allowing limit calls per day, with days split at midnight in loc.
func New(s UsageStore, limit int, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{store: s, limit: limit, loc: loc, now: time.Now}
}

// CheckAndIncrement counts one request for userID against today's window.
// Any store error is a soft failure carrying Decision{Allowed: true}.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID uuid.UUID) outcome.Outcome[Decision] {
	now := l.now().In(l.loc)
	day := windowKey(now)

	count, allowed, err := l.store.IncrementUsage(ctx, userID, day, l.limit)
	if err != nil {
		slog.Warn("usage counter unavailable, allowing request", "component", "ratelimit", "user_id", userID, "error", err)
		return outcome.SoftFailure(Decision{Allowed: true}, err)
	}
	if !allowed {
		return outcome.Ok(Decision{Count: count, RetryAfterSeconds: RetryAfter(now)})
	}
	return outcome.Ok(Decision{Allowed: true, Count: count})
}

// windowKey returns the calendar date of t in t's location, as midnight UTC
// so the DATE column stores exactly that date.
func windowKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RetryAfter returns whole seconds from t until the next midnight in t's
// location, rounded up and clamped to [1, 86400].
func RetryAfter(t time.Time) int {
	y, m, d := t.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
	secs := int((next.Sub(t) + time.Second - 1) / time.Second)
	return min(max(secs, 1), 86400)
}
