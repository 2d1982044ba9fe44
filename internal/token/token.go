// Package token issues, verifies, and revokes session tokens.
//
// token.go -- signing and verification. A session token is an HS256 JWT in
// compact form carrying {sub, email, name, iat, exp}. Nothing about a live
// token is stored server-side; only revocations are.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MGallo-Code/provenance/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Verification failures. Callers outside this package only ever see them
// wrapped inside an opaque authentication error.
var (
	ErrInvalidSignature  = errors.New("token signature invalid")
	ErrExpired           = errors.New("token expired")
	ErrMalformed         = errors.New("token malformed")
	ErrMissingCredential = errors.New("missing bearer credential")
	ErrRevoked           = errors.New("token revoked")
)

// Claims is the signed payload of a session token. Subject is the identity id.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject as an identity id.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.FromString(c.Subject)
}

// Service owns session tokens and the revocation records behind logout.
type Service struct {
	secret   []byte
	ttl      time.Duration
	audience string

	identities  IdentityStore
	revocations RevocationStore
	cache       RevocationCache
	idp         AssertionVerifier
	tasks       TaskSubmitter

	now func() time.Time
}

// Deps are the collaborators a Service talks to.
type Deps struct {
	Identities  IdentityStore
	Revocations RevocationStore
	Cache       RevocationCache
	IdP         AssertionVerifier
	Tasks       TaskSubmitter
}

// NewService returns a Service signing with secret. ttl is the exact lifetime
// of every issued token; audience is the client id assertions must be minted for.
func NewService(secret []byte, ttl time.Duration, audience string, deps Deps) *Service {
	return &Service{
		secret:      secret,
		ttl:         ttl,
		audience:    audience,
		identities:  deps.Identities,
		revocations: deps.Revocations,
		cache:       deps.Cache,
		idp:         deps.IdP,
		tasks:       deps.Tasks,
		now:         time.Now,
	}
}

// Issue signs a token for ident. iat is truncated to whole seconds so that
// exp - iat is exactly the configured lifetime after encoding.
func (s *Service) Issue(ident *store.Identity) (string, *Claims, error) {
	iat := s.now().Truncate(time.Second)
	claims := &Claims{
		Email: ident.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.ID.String(),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(s.ttl)),
		},
	}
	if ident.Name != nil {
		claims.Name = *ident.Name
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return raw, claims, nil
}

// Verify checks raw's signature, then its expiry, then its shape.
// The signature is recomputed over the signing input and compared in encoded
// form before anything is decoded, so any altered byte is ErrInvalidSignature.
func (s *Service) Verify(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	sig, err := jwt.SigningMethodHS256.Sign(parts[0]+"."+parts[1], s.secret)
	if err != nil {
		return nil, fmt.Errorf("computing signature: %w", err)
	}
	expected := base64.RawURLEncoding.EncodeToString(sig)
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, ErrInvalidSignature
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	_, err = parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrMalformed
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrMalformed
	}
	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime <= 0 || lifetime > s.ttl {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Fingerprint returns the hex SHA-256 of raw. Revocation records store this,
// never the token itself.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
