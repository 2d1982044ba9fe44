// responses.go -- Package-wide HTTP response helpers.
//
// Every error response has the shape {"error": kind, "message": text}.
// Messages come from apperr values built in this module; causes are logged, never written.
package auth

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MGallo-Code/provenance/internal/apperr"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error      apperr.Kind `json:"error"`
	Message    string      `json:"message"`
	RetryAfter int         `json:"retry_after,omitempty"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its kind's status and writes the error body.
// Foreign errors become a generic 500 so internals never leak.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)

	switch ae.Kind {
	case apperr.KindInternal, apperr.KindPersistence:
		logError(r, "request failed", "kind", ae.Kind, "error", err)
	case apperr.KindAuthentication, apperr.KindClassificationUnavailable:
		logWarn(r, "request failed", "kind", ae.Kind, "error", err)
	default:
		logInfo(r, "request rejected", "kind", ae.Kind, "message", ae.Message)
	}

	body := errorBody{Error: ae.Kind, Message: ae.Message}
	if ae.Kind == apperr.KindQuotaExceeded {
		body.RetryAfter = ae.RetryAfterSeconds
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfterSeconds))
	}
	writeJSON(w, apperr.HTTPStatus(ae.Kind), body)
}

// Malformed returns a 400 for a request body that could not be decoded.
func Malformed(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apperr.New(apperr.KindMalformed, message))
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "not found"})
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}
