// Package apperr defines the error kinds reported to API callers.
//
// Every externally visible failure carries a stable Kind plus a human-readable
// message; quota failures also carry a retry delay in seconds.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the machine-readable error category sent to clients.
type Kind string

const (
	KindMalformed                 Kind = "malformed"
	KindValidation                Kind = "validation_failed"
	KindAuthentication            Kind = "authentication_failed"
	KindQuotaExceeded             Kind = "quota_exceeded"
	KindClassificationUnavailable Kind = "classification_unavailable"
	KindPersistence               Kind = "persistence_error"
	KindInternal                  Kind = "internal"
)

// Error is a categorised failure. Err holds the underlying cause for logging
// and errors.Is checks; it is never written to clients.
type Error struct {
	Kind              Kind
	Message           string
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// QuotaExceeded returns a KindQuotaExceeded error carrying the retry delay.
func QuotaExceeded(retryAfterSeconds int) *Error {
	return &Error{
		Kind:              KindQuotaExceeded,
		Message:           "daily request limit reached",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// As extracts an *Error from err. Anything else is reported as KindInternal
// with a generic message so internals never leak.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// KindOf returns the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	return As(err).Kind
}

// HTTPStatus maps a Kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindMalformed, KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindClassificationUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
