// handler.go -- HTTP handlers for /auth/* and /analyze.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/provenance/internal/apperr"
	"github.com/MGallo-Code/provenance/internal/classify"
	"github.com/MGallo-Code/provenance/internal/oauth"
	"github.com/MGallo-Code/provenance/internal/token"
	"github.com/gofrs/uuid/v5"
)

// maxBodyBytes caps request bodies. The largest legal body is an /analyze
// payload of 20000 characters plus a URL.
const maxBodyBytes = 256 << 10

// TokenService is the sign-in, authentication, and logout surface.
// Satisfied by *token.Service -- defined here (at consumer) per Go convention.
type TokenService interface {
	SignIn(ctx context.Context, assertion string) (*token.SignInResult, error)
	SignInWithClaims(ctx context.Context, claims *oauth.Claims) (*token.SignInResult, error)
	Authenticate(ctx context.Context, header string) (*token.Claims, error)
	Revoke(ctx context.Context, raw string, userID uuid.UUID) error
}

// Classifier runs one classification request. Satisfied by *classify.Orchestrator.
type Classifier interface {
	Classify(ctx context.Context, userID uuid.UUID, in classify.Input) (*classify.Analysis, error)
}

// HealthChecker pings one backing service.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Handler holds dependencies for every HTTP handler and middleware.
type Handler struct {
	Tokens   TokenService
	Analyzer Classifier
	PS       HealthChecker
	RS       HealthChecker

	// OAuthProviders maps the {provider} URL param to its code-flow provider.
	// Empty when the code flow is not configured.
	OAuthProviders map[string]oauth.Provider
}

// decodeJSON reads a size-capped JSON body into v.
// Any decoding failure is reported as KindMalformed.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperr.Wrap(apperr.KindMalformed, "request body too large", err)
		}
		return apperr.Wrap(apperr.KindMalformed, "error decoding request body", err)
	}
	return nil
}

// userJSON is the public view of an identity.
type userJSON struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

// signInResponse is returned by both sign-in routes.
type signInResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userJSON  `json:"user"`
	IsNewUser bool      `json:"is_new_user"`
}

func writeSignIn(w http.ResponseWriter, r *http.Request, res *token.SignInResult) {
	logInfo(r, "user signed in", "user_id", res.Identity.ID, "is_new_user", res.IsNewUser)
	writeJSON(w, http.StatusOK, signInResponse{
		Token:     res.Token,
		ExpiresAt: res.Claims.ExpiresAt.Time.UTC(),
		User: userJSON{
			ID:        res.Identity.ID.String(),
			Email:     res.Identity.Email,
			Name:      res.Identity.Name,
			AvatarURL: res.Identity.AvatarURL,
		},
		IsNewUser: res.IsNewUser,
	})
}

// SignInGoogle handles POST /auth/google -- exchanges a Google ID token for a session token.
// Returns 200 with the token and identity, 400 for a bad body, 401 for a rejected assertion.
func (h *Handler) SignInGoogle(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Credential string `json:"credential"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := h.Tokens.SignIn(r.Context(), input.Credential)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeSignIn(w, r, res)
}

// Verify handles GET /auth/verify -- returns the claims of the presented token.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, r, errors.New("verify called without claims in context"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		UserID    string    `json:"user_id"`
		Email     string    `json:"email"`
		Name      string    `json:"name,omitempty"`
		IssuedAt  time.Time `json:"issued_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	})
}

// Logout handles POST /auth/logout -- revokes the presented token.
// Fails closed: if the revocation cannot be recorded the caller gets a 500.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	raw, ok2 := RawTokenFromContext(r.Context())
	if !ok || !ok2 {
		WriteError(w, r, errors.New("logout called without session context"))
		return
	}

	if err := h.Tokens.Revoke(r.Context(), raw, userID); err != nil {
		WriteError(w, r, err)
		return
	}
	logInfo(r, "user logged out", "user_id", userID)
	OK(w, "logged out")
}

// Analyze handles POST /analyze -- classifies content for the authenticated identity.
// The result is written exactly as cached so repeated calls return identical bytes.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		WriteError(w, r, errors.New("analyze called without session context"))
		return
	}

	var input classify.Input
	if err := decodeJSON(w, r, &input); err != nil {
		WriteError(w, r, err)
		return
	}

	a, err := h.Analyzer.Classify(r.Context(), userID, input)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	logInfo(r, "content classified", "user_id", userID, "source", a.Source,
		"provider", a.Result.Metadata.Provider)
	writeJSON(w, http.StatusOK, struct {
		Result json.RawMessage `json:"result"`
		Source string          `json:"source"`
	}{a.Payload, a.Source})
}
