// provider.go -- Identity provider interface and shared types.
package oauth

import "context"

// Claims holds the normalized identity claims returned by an identity provider.
// All fields are verified server-side; never trust client-supplied values.
// Profile fields (Name, Picture) are optional -- empty string means not provided.
type Claims struct {
	Sub           string // provider-specific stable user ID (e.g. Google "sub")
	Email         string
	EmailVerified bool
	Name          string
	Picture       string   // avatar URL
	Audience      []string // client IDs the assertion was minted for
}

// Provider is a federated identity provider.
//
// Two ways in: VerifyAssertion checks an ID token the client already obtained
// (e.g. Google Identity Services), while AuthCodeURL + Exchange run the
// server-side code flow. PKCE (RFC 7636) is required for the latter: callers
// pass the code_challenge to AuthCodeURL and the matching code_verifier to Exchange.
type Provider interface {
	// Name returns the provider identifier used in URLs and logs.
	Name() string

	// VerifyAssertion verifies a raw ID token and returns its claims.
	VerifyAssertion(ctx context.Context, rawIDToken string) (*Claims, error)

	// AuthCodeURL returns the redirect URL with state and PKCE code_challenge embedded.
	AuthCodeURL(state, codeChallenge string) string

	// Exchange exchanges the authorization code for verified identity claims.
	// The code_verifier must match the code_challenge passed to AuthCodeURL.
	Exchange(ctx context.Context, code, codeVerifier string) (*Claims, error)
}
