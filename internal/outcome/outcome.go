// Package outcome makes fail-open and fail-soft results explicit.
//
// A component that must never block the request path returns an Outcome
// instead of (T, error): the value is always usable, and Failed reports
// whether it is a substitute produced because the real operation broke.
package outcome

// Outcome is either Ok(value) or SoftFailure(fallback, reason).
type Outcome[T any] struct {
	value  T
	reason error
}

// Ok wraps a value produced by a successful operation.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// SoftFailure wraps the fallback value used because reason occurred.
// reason must be non-nil.
func SoftFailure[T any](fallback T, reason error) Outcome[T] {
	return Outcome[T]{value: fallback, reason: reason}
}

// Value returns the wrapped value; for a soft failure this is the fallback.
func (o Outcome[T]) Value() T { return o.value }

// Failed reports whether the value is a fallback.
func (o Outcome[T]) Failed() bool { return o.reason != nil }

// Reason returns the error that caused the soft failure, nil for Ok.
func (o Outcome[T]) Reason() error { return o.reason }
