// google.go -- Google OAuth2 + OIDC provider implementation.
package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// googleIssuer is the OIDC issuer Google signs ID tokens as.
const googleIssuer = "https://accounts.google.com"

// GoogleProvider implements Provider using Google's OIDC discovery + OAuth2 code flow.
// Uses PKCE (S256) for all authorization requests.
type GoogleProvider struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleProvider creates a GoogleProvider by fetching Google's OIDC discovery document.
// Makes an outbound HTTP request to accounts.google.com at startup; returns an error if unreachable.
// clientSecret and redirectURL may be empty when only VerifyAssertion is used.
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, redirectURL string) (*GoogleProvider, error) {
	p, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("google oidc discovery: %w", err)
	}
	return newGoogleProvider(
		&oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     p.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		p.Verifier(&oidc.Config{ClientID: clientID}),
	), nil
}

// newGoogleProvider assembles a provider from an explicit config and verifier.
func newGoogleProvider(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *GoogleProvider {
	return &GoogleProvider{config: cfg, verifier: verifier}
}

// Name returns "google".
func (p *GoogleProvider) Name() string { return "google" }

// VerifyAssertion checks a Google ID token's signature against Google's JWKS,
// plus aud and exp, and returns its claims.
func (p *GoogleProvider) VerifyAssertion(ctx context.Context, rawIDToken string) (*Claims, error) {
	if rawIDToken == "" {
		return nil, errors.New("empty id token")
	}
	return p.verifyIDToken(ctx, rawIDToken)
}

// AuthCodeURL builds the Google consent page URL with state and PKCE S256 challenge embedded.
func (p *GoogleProvider) AuthCodeURL(state, codeChallenge string) string {
	return p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange trades an authorization code for verified identity claims.
func (p *GoogleProvider) Exchange(ctx context.Context, code, codeVerifier string) (*Claims, error) {
	token, err := p.config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}
	return p.verifyIDToken(ctx, rawIDToken)
}

func (p *GoogleProvider) verifyIDToken(ctx context.Context, rawIDToken string) (*Claims, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}

	var c struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("extracting id token claims: %w", err)
	}

	return &Claims{
		Sub:           c.Sub,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          c.Name,
		Picture:       c.Picture,
		Audience:      idToken.Audience,
	}, nil
}
