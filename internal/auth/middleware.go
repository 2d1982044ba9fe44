// middleware.go

// Bearer token authentication middleware.
package auth

import (
	"context"
	"net/http"

	"github.com/MGallo-Code/provenance/internal/token"
	"github.com/gofrs/uuid/v5"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const claimsKey contextKey = "claims"
const userIDKey contextKey = "user_id"
const rawTokenKey contextKey = "raw_token"

// ClaimsFromContext retrieves the authenticated token's claims.
// Returns nil and false if RequireAuth hasn't run.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.Claims)
	return c, ok
}

// UserIDFromContext retrieves the authenticated identity's ID.
// Returns zero UUID and false if RequireAuth hasn't run.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// RawTokenFromContext retrieves the bearer token as presented.
// Returns "" and false if RequireAuth hasn't run.
func RawTokenFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(rawTokenKey).(string)
	return raw, ok
}

// RequireAuth authenticates the Authorization header (signature, expiry, shape, revocation).
// Injects claims, user_id, and the raw token into context on success; returns 401 on failure.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		claims, err := h.Tokens.Authenticate(r.Context(), header)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		// Authenticate already checked the subject's shape.
		userID, err := claims.UserID()
		if err != nil {
			WriteError(w, r, err)
			return
		}
		raw, _ := token.BearerToken(header)

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, userIDKey, userID)
		ctx = context.WithValue(ctx, rawTokenKey, raw)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
