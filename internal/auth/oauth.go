// oauth.go -- Server-side OAuth2 code flow: redirect and callback handlers.
// Provider-specific logic lives in internal/oauth/*.go. The callback ends in
// the same sign-in as POST /auth/google.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/provenance/internal/apperr"
	"github.com/MGallo-Code/provenance/internal/oauth"
	"github.com/go-chi/chi/v5"
)

const oauthStateCookieName = "__Host-oauth-state"

// oauthStateCookie is the payload stored in __Host-oauth-state during the OAuth round-trip.
type oauthStateCookie struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// OAuthRedirect handles GET /oauth/{provider} -- generates PKCE + state, stores them in a
// short-lived HttpOnly cookie, and redirects the browser to the provider's consent page.
func (h *Handler) OAuthRedirect(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(r, w)
	if !ok {
		return
	}

	var stateBytes, verifierBytes [32]byte
	if _, err := rand.Read(stateBytes[:]); err != nil {
		WriteError(w, r, err)
		return
	}
	if _, err := rand.Read(verifierBytes[:]); err != nil {
		WriteError(w, r, err)
		return
	}

	state := base64.RawURLEncoding.EncodeToString(stateBytes[:])
	codeVerifier := base64.RawURLEncoding.EncodeToString(verifierBytes[:])
	challenge := sha256.Sum256([]byte(codeVerifier))
	codeChallenge := base64.RawURLEncoding.EncodeToString(challenge[:])

	setOAuthStateCookie(w, state, codeVerifier)
	http.Redirect(w, r, provider.AuthCodeURL(state, codeChallenge), http.StatusFound)
}

// OAuthCallback handles GET /oauth/{provider}/callback -- verifies state, exchanges the
// authorization code for identity claims, then signs the identity in.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(r, w)
	if !ok {
		return
	}

	// Read and immediately clear the state cookie to prevent replay.
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		Malformed(w, r, "missing oauth state")
		return
	}
	clearOAuthStateCookie(w)

	rawJSON, err := base64.RawURLEncoding.DecodeString(stateCookie.Value)
	if err != nil {
		logWarn(r, "oauth callback: bad state cookie encoding", "error", err)
		Malformed(w, r, "invalid oauth state")
		return
	}
	var sc oauthStateCookie
	if err := json.Unmarshal(rawJSON, &sc); err != nil {
		logWarn(r, "oauth callback: bad state cookie json", "error", err)
		Malformed(w, r, "invalid oauth state")
		return
	}

	// Constant-time comparison prevents timing oracle on state value.
	if subtle.ConstantTimeCompare([]byte(sc.State), []byte(r.URL.Query().Get("state"))) != 1 {
		WriteError(w, r, apperr.New(apperr.KindAuthentication, "authentication failed"))
		return
	}

	claims, err := provider.Exchange(r.Context(), r.URL.Query().Get("code"), sc.Verifier)
	if err != nil {
		WriteError(w, r, apperr.Wrap(apperr.KindAuthentication, "authentication failed", err))
		return
	}

	res, err := h.Tokens.SignInWithClaims(r.Context(), claims)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeSignIn(w, r, res)
}

// oauthProvider reads the {provider} URL param and looks it up in OAuthProviders.
// Writes 404 and returns (nil, false) when the provider is not configured.
func (h *Handler) oauthProvider(r *http.Request, w http.ResponseWriter) (oauth.Provider, bool) {
	name := chi.URLParam(r, "provider")
	p, ok := h.OAuthProviders[name]
	if !ok {
		NotFound(w)
		return nil, false
	}
	return p, true
}

// setOAuthStateCookie stores state + PKCE verifier in a short-lived HttpOnly cookie.
func setOAuthStateCookie(w http.ResponseWriter, state, verifier string) {
	payload, _ := json.Marshal(oauthStateCookie{State: state, Verifier: verifier})
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})
}

// clearOAuthStateCookie expires the OAuth state cookie immediately.
func clearOAuthStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
