// signin.go -- federated sign-in.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MGallo-Code/provenance/internal/apperr"
	"github.com/MGallo-Code/provenance/internal/oauth"
	"github.com/MGallo-Code/provenance/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// IdentityStore persists identities. Satisfied by *store.PostgresStore.
type IdentityStore interface {
	// UpsertIdentity creates or refreshes the identity for in.GoogleID and reports whether it is new.
	UpsertIdentity(ctx context.Context, id uuid.UUID, in store.IdentityInput, now time.Time) (*store.Identity, bool, error)
}

// AssertionVerifier turns a federated identity assertion into verified claims.
// Satisfied by *oauth.GoogleProvider.
type AssertionVerifier interface {
	VerifyAssertion(ctx context.Context, rawIDToken string) (*oauth.Claims, error)
}

// SignInResult is what a successful sign-in hands back to the caller.
type SignInResult struct {
	Token     string
	Claims    *Claims
	Identity  *store.Identity
	IsNewUser bool
}

// SignIn verifies a raw ID token with the identity provider and signs the
// identity in.
func (s *Service) SignIn(ctx context.Context, assertion string) (*SignInResult, error) {
	if assertion == "" {
		return nil, apperr.New(apperr.KindValidation, "credential is required")
	}
	claims, err := s.idp.VerifyAssertion(ctx, assertion)
	if err != nil {
		return nil, authFailed(err)
	}
	return s.SignInWithClaims(ctx, claims)
}

// SignInWithClaims signs in an identity whose provider claims were already
// verified (assertion flow or code flow). It rejects a foreign audience or an
// unverified e-mail, upserts the identity, and issues a token.
func (s *Service) SignInWithClaims(ctx context.Context, claims *oauth.Claims) (*SignInResult, error) {
	if !slices.Contains(claims.Audience, s.audience) {
		return nil, authFailed(fmt.Errorf("assertion audience %v does not include this deployment", claims.Audience))
	}
	if claims.Sub == "" || claims.Email == "" {
		return nil, authFailed(errors.New("assertion missing subject or email"))
	}
	if !claims.EmailVerified {
		return nil, authFailed(errors.New("assertion email is not verified"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating identity id: %w", err)
	}
	ident, isNew, err := s.identities.UpsertIdentity(ctx, id, store.IdentityInput{
		GoogleID:  claims.Sub,
		Email:     strings.ToLower(claims.Email),
		Name:      strOrNil(claims.Name),
		AvatarURL: strOrNil(claims.Picture),
	}, s.now())
	if err != nil {
		// Another subject already holds this email: a client-side conflict, not a fault.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, authFailed(fmt.Errorf("email already bound to another subject: %w", err))
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "sign-in could not be recorded", err)
	}

	raw, tc, err := s.Issue(ident)
	if err != nil {
		return nil, err
	}
	if isNew {
		slog.Info("identity created", "user_id", ident.ID)
	}
	return &SignInResult{Token: raw, Claims: tc, Identity: ident, IsNewUser: isNew}, nil
}

// strOrNil converts an empty string to nil; non-empty strings are returned as a pointer.
// Used to map optional profile fields to nullable DB columns.
func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
