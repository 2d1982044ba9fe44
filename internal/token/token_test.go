package token

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/provenance/internal/apperr"
	"github.com/MGallo-Code/provenance/internal/oauth"
	"github.com/MGallo-Code/provenance/internal/store"
	"github.com/MGallo-Code/provenance/internal/testutil"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testAudience = "client-123"
	testTTL      = 365 * 24 * time.Hour
)

type fixture struct {
	svc    *Service
	clock  *testutil.Clock
	idents *testutil.MockIdentityStore
	revs   *testutil.MockRevocationStore
	cache  *testutil.MockRevocationCache
	idp    *testutil.MockIdP
	tasks  *testutil.MockTaskQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  testutil.NewClock(time.Date(2026, 4, 2, 10, 30, 15, 123_000_000, time.UTC)),
		idents: testutil.NewMockIdentityStore(),
		revs:   testutil.NewMockRevocationStore(),
		cache:  testutil.NewMockRevocationCache(),
		idp:    testutil.NewMockIdP(),
		tasks:  &testutil.MockTaskQueue{},
	}
	f.svc = NewService([]byte(testSecret), testTTL, testAudience, Deps{
		Identities:  f.idents,
		Revocations: f.revs,
		Cache:       f.cache,
		IdP:         f.idp,
		Tasks:       f.tasks,
	})
	f.svc.now = f.clock.Now
	return f
}

func testIdentity() *store.Identity {
	name := "Ada Lovelace"
	return &store.Identity{ID: uuid.Must(uuid.NewV7()), Email: "ada@example.com", Name: &name}
}

// mustIssue issues a token for ident and fails the test on error.
func (f *fixture) mustIssue(t *testing.T, ident *store.Identity) string {
	t.Helper()
	raw, _, err := f.svc.Issue(ident)
	require.NoError(t, err)
	return raw
}

// --- Issue / Verify ---

func TestIssueVerify(t *testing.T) {
	t.Run("round trip keeps subject and exact lifetime", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		raw, issued, err := f.svc.Issue(ident)
		require.NoError(t, err)

		claims, err := f.svc.Verify(raw)
		require.NoError(t, err)
		assert.Equal(t, ident.ID.String(), claims.Subject)
		assert.Equal(t, "ada@example.com", claims.Email)
		assert.Equal(t, "Ada Lovelace", claims.Name)
		assert.Equal(t, testTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
		assert.Equal(t, issued.ExpiresAt.Unix(), claims.ExpiresAt.Unix())

		id, err := claims.UserID()
		require.NoError(t, err)
		assert.Equal(t, ident.ID, id)
	})

	t.Run("identity without name omits it", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		ident.Name = nil

		claims, err := f.svc.Verify(f.mustIssue(t, ident))
		require.NoError(t, err)
		assert.Empty(t, claims.Name)
	})

	t.Run("every single-byte mutation is an invalid signature", func(t *testing.T) {
		f := newFixture(t)
		raw := f.mustIssue(t, testIdentity())

		for i := 0; i < len(raw); i++ {
			if raw[i] == '.' {
				continue
			}
			repl := byte('A')
			if raw[i] == 'A' {
				repl = 'B'
			}
			mutated := raw[:i] + string(repl) + raw[i+1:]
			_, err := f.svc.Verify(mutated)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("mutating byte %d: got %v, want ErrInvalidSignature", i, err)
			}
		}
	})

	t.Run("token from another secret is an invalid signature", func(t *testing.T) {
		f := newFixture(t)
		other := NewService([]byte("ffffffffffffffffffffffffffffffff"), testTTL, testAudience, Deps{})
		other.now = f.clock.Now
		raw, _, err := other.Issue(testIdentity())
		require.NoError(t, err)

		_, err = f.svc.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		raw := f.mustIssue(t, testIdentity())

		f.clock.Advance(testTTL + time.Second)
		_, err := f.svc.Verify(raw)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("wrong segment count is malformed", func(t *testing.T) {
		f := newFixture(t)
		raw := f.mustIssue(t, testIdentity())

		for _, bad := range []string{"", "abc", strings.Join(strings.Split(raw, ".")[:2], "."), raw + ".extra"} {
			_, err := f.svc.Verify(bad)
			assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
		}
	})

	t.Run("lifetime beyond configured TTL is malformed", func(t *testing.T) {
		f := newFixture(t)
		now := f.clock.Now()
		raw := signRaw(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.Must(uuid.NewV7()).String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(testTTL + time.Hour)),
		}})

		_, err := f.svc.Verify(raw)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("missing subject or issued-at is malformed", func(t *testing.T) {
		f := newFixture(t)
		now := f.clock.Now()
		noSub := signRaw(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}})
		noIat := signRaw(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: uuid.Must(uuid.NewV7()).String(), ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}})
		badSub := signRaw(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "not-a-uuid", IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}})

		for _, raw := range []string{noSub, noIat, badSub} {
			_, err := f.svc.Verify(raw)
			assert.ErrorIs(t, err, ErrMalformed)
		}
	})

	t.Run("correctly signed garbage payload is malformed", func(t *testing.T) {
		f := newFixture(t)
		input := "eyJhbGciOiJIUzI1NiJ9.bm90IGpzb24" // {"alg":"HS256"} . "not json"
		sig, err := jwt.SigningMethodHS256.Sign(input, []byte(testSecret))
		require.NoError(t, err)

		_, err = f.svc.Verify(input + "." + base64.RawURLEncoding.EncodeToString(sig))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

// signRaw signs arbitrary claims with the test secret.
func signRaw(t *testing.T, c Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("token-a"))
	assert.NotEqual(t, a, Fingerprint("token-b"))
	assert.NotContains(t, a, "token-a")
}

// --- IsRevoked ---

func TestIsRevoked(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown fingerprint is not revoked", func(t *testing.T) {
		f := newFixture(t)
		revoked, err := f.svc.IsRevoked(ctx, Fingerprint("never-revoked"))
		require.NoError(t, err)
		assert.False(t, revoked)
		assert.Equal(t, 1, f.revs.LookupCalls)
	})

	t.Run("redis hit skips postgres", func(t *testing.T) {
		f := newFixture(t)
		fp := Fingerprint("cached")
		require.NoError(t, f.cache.MarkRevoked(ctx, fp, time.Hour))

		revoked, err := f.svc.IsRevoked(ctx, fp)
		require.NoError(t, err)
		assert.True(t, revoked)
		assert.Zero(t, f.revs.LookupCalls)
	})

	t.Run("postgres record found on redis miss", func(t *testing.T) {
		f := newFixture(t)
		fp := Fingerprint("durable")
		require.NoError(t, f.revs.CreateRevocation(ctx, fp, uuid.Must(uuid.NewV7()), f.clock.Now().Add(time.Hour)))

		revoked, err := f.svc.IsRevoked(ctx, fp)
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("expired record is not revoked", func(t *testing.T) {
		f := newFixture(t)
		fp := Fingerprint("lapsed")
		require.NoError(t, f.revs.CreateRevocation(ctx, fp, uuid.Must(uuid.NewV7()), f.clock.Now().Add(time.Minute)))
		f.clock.Advance(time.Hour)

		revoked, err := f.svc.IsRevoked(ctx, fp)
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("redis error falls back and postgres error is returned", func(t *testing.T) {
		f := newFixture(t)
		f.cache.IsRevokedErr = errors.New("redis down")
		f.revs.IsRevokedErr = errors.New("postgres down")

		_, err := f.svc.IsRevoked(ctx, Fingerprint("x"))
		assert.Error(t, err)
		assert.Equal(t, 1, f.revs.LookupCalls)
	})
}

// --- Authenticate ---

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid bearer token", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		raw := f.mustIssue(t, ident)

		claims, err := f.svc.Authenticate(ctx, "Bearer "+raw)
		require.NoError(t, err)
		assert.Equal(t, ident.ID.String(), claims.Subject)
	})

	t.Run("every failure is one opaque kind", func(t *testing.T) {
		f := newFixture(t)
		raw := f.mustIssue(t, testIdentity())
		tampered := raw[:len(raw)-1] + "x"
		if strings.HasSuffix(raw, "x") {
			tampered = raw[:len(raw)-1] + "y"
		}

		cases := map[string]struct {
			header string
			cause  error
		}{
			"no header":        {"", ErrMissingCredential},
			"wrong scheme":     {"Basic " + raw, ErrMissingCredential},
			"lowercase scheme": {"bearer " + raw, ErrMissingCredential},
			"empty bearer":     {"Bearer   ", ErrMissingCredential},
			"bad signature":    {"Bearer " + tampered, ErrInvalidSignature},
			"garbage":          {"Bearer abc", ErrMalformed},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := f.svc.Authenticate(ctx, tc.header)
				require.Error(t, err)
				ae := apperr.As(err)
				assert.Equal(t, apperr.KindAuthentication, ae.Kind)
				assert.Equal(t, "authentication failed", ae.Message)
				assert.ErrorIs(t, err, tc.cause)
			})
		}
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		raw := f.mustIssue(t, testIdentity())
		f.clock.Advance(testTTL + time.Minute)

		_, err := f.svc.Authenticate(ctx, "Bearer "+raw)
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("revoked token found in postgres repopulates redis", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		raw := f.mustIssue(t, ident)
		require.NoError(t, f.revs.CreateRevocation(ctx, Fingerprint(raw), ident.ID, f.clock.Now().Add(time.Hour)))

		_, err := f.svc.Authenticate(ctx, "Bearer "+raw)
		assert.ErrorIs(t, err, ErrRevoked)
		assert.True(t, f.cache.Has(Fingerprint(raw)))

		// Second lookup is answered by the cache alone.
		calls := f.revs.LookupCalls
		_, err = f.svc.Authenticate(ctx, "Bearer "+raw)
		assert.ErrorIs(t, err, ErrRevoked)
		assert.Equal(t, calls, f.revs.LookupCalls)
	})

	t.Run("redis failure falls back to postgres", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		raw := f.mustIssue(t, ident)
		f.cache.IsRevokedErr = errors.New("redis down")

		_, err := f.svc.Authenticate(ctx, "Bearer "+raw)
		require.NoError(t, err)

		require.NoError(t, f.revs.CreateRevocation(ctx, Fingerprint(raw), ident.ID, f.clock.Now().Add(time.Hour)))
		_, err = f.svc.Authenticate(ctx, "Bearer "+raw)
		assert.ErrorIs(t, err, ErrRevoked)
	})

	t.Run("postgres failure rejects the request", func(t *testing.T) {
		f := newFixture(t)
		raw := f.mustIssue(t, testIdentity())
		f.revs.IsRevokedErr = errors.New("db down")

		_, err := f.svc.Authenticate(ctx, "Bearer "+raw)
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
		assert.ErrorIs(t, err, f.revs.IsRevokedErr)
	})
}

// --- Revoke ---

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticate fails after revoke while verify still passes", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		raw := f.mustIssue(t, ident)

		require.NoError(t, f.svc.Revoke(ctx, raw, ident.ID))

		_, err := f.svc.Verify(raw)
		assert.NoError(t, err)
		_, err = f.svc.Authenticate(ctx, "Bearer "+raw)
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
		assert.ErrorIs(t, err, ErrRevoked)

		rec, ok := f.revs.Records[Fingerprint(raw)]
		require.True(t, ok)
		assert.Equal(t, ident.ID, rec.UserID)
		assert.True(t, rec.ExpiresAt.Equal(f.clock.Now().Truncate(time.Second).Add(testTTL)))
		assert.Equal(t, []string{CleanupTask}, f.tasks.Submitted())
	})

	t.Run("revocation survives a cold cache", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		raw := f.mustIssue(t, ident)
		f.cache.MarkErr = errors.New("redis down")

		require.NoError(t, f.svc.Revoke(ctx, raw, ident.ID))
		assert.False(t, f.cache.Has(Fingerprint(raw)))

		_, err := f.svc.Authenticate(ctx, "Bearer "+raw)
		assert.ErrorIs(t, err, ErrRevoked)
	})

	t.Run("store failure is a persistence error", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		raw := f.mustIssue(t, ident)
		f.revs.CreateErr = errors.New("db down")

		err := f.svc.Revoke(ctx, raw, ident.ID)
		assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
		assert.False(t, f.cache.Has(Fingerprint(raw)))
		assert.Empty(t, f.tasks.Submitted())
	})

	t.Run("queue failure does not fail logout", func(t *testing.T) {
		f := newFixture(t)
		ident := testIdentity()
		raw := f.mustIssue(t, ident)
		f.tasks.SubmitErr = errors.New("queue full")

		assert.NoError(t, f.svc.Revoke(ctx, raw, ident.ID))
	})

	t.Run("another user's token is rejected", func(t *testing.T) {
		f := newFixture(t)
		raw := f.mustIssue(t, testIdentity())

		err := f.svc.Revoke(ctx, raw, uuid.Must(uuid.NewV7()))
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
		assert.Empty(t, f.revs.Records)
	})
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.Must(uuid.NewV7())
	now := f.clock.Now()
	f.revs.CreateRevocation(ctx, "old", user, now.Add(-time.Minute))
	f.revs.CreateRevocation(ctx, "live", user, now.Add(time.Hour))

	f.svc.CleanupExpired(ctx)
	assert.NotContains(t, f.revs.Records, "old")
	assert.Contains(t, f.revs.Records, "live")

	f.revs.DeleteErr = errors.New("db down")
	f.svc.CleanupExpired(ctx) // logged, not returned
	assert.Equal(t, 2, f.revs.CleanupCalls)
}

// --- SignIn ---

func googleClaims(sub, email string) *oauth.Claims {
	return &oauth.Claims{
		Sub:           sub,
		Email:         email,
		EmailVerified: true,
		Name:          "Grace Hopper",
		Picture:       "https://example.com/grace.png",
		Audience:      []string{testAudience},
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("sign-in, verify, logout, authenticate", func(t *testing.T) {
		f := newFixture(t)
		f.idp.Assertions["assertion-1"] = googleClaims("sub-1", "Grace@Example.com")

		res, err := f.svc.SignIn(ctx, "assertion-1")
		require.NoError(t, err)
		assert.True(t, res.IsNewUser)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, "grace@example.com", res.Identity.Email)
		require.NotNil(t, res.Identity.AvatarURL)

		claims, err := f.svc.Verify(res.Token)
		require.NoError(t, err)
		assert.Equal(t, res.Identity.ID.String(), claims.Subject)
		assert.Equal(t, "Grace Hopper", claims.Name)

		require.NoError(t, f.svc.Revoke(ctx, res.Token, res.Identity.ID))
		_, err = f.svc.Authenticate(ctx, "Bearer "+res.Token)
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	})

	t.Run("returning user keeps id and is not new", func(t *testing.T) {
		f := newFixture(t)
		f.idp.Assertions["a"] = googleClaims("sub-2", "x@example.com")

		first, err := f.svc.SignIn(ctx, "a")
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
		second, err := f.svc.SignIn(ctx, "a")
		require.NoError(t, err)

		assert.False(t, second.IsNewUser)
		assert.Equal(t, first.Identity.ID, second.Identity.ID)
		assert.True(t, second.Identity.LastLoginAt.After(first.Identity.LastLoginAt))
	})

	t.Run("rejections", func(t *testing.T) {
		f := newFixture(t)
		foreign := googleClaims("sub-3", "y@example.com")
		foreign.Audience = []string{"another-client"}
		unverified := googleClaims("sub-4", "z@example.com")
		unverified.EmailVerified = false
		f.idp.Assertions["foreign"] = foreign
		f.idp.Assertions["unverified"] = unverified

		for _, a := range []string{"foreign", "unverified", "unknown"} {
			_, err := f.svc.SignIn(ctx, a)
			assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err), a)
		}
		assert.Empty(t, f.idents.Identities)

		_, err := f.svc.SignIn(ctx, "")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("email held by another subject is an authentication failure", func(t *testing.T) {
		f := newFixture(t)
		f.idp.Assertions["first"] = googleClaims("sub-6", "shared@example.com")
		f.idp.Assertions["second"] = googleClaims("sub-7", "Shared@Example.com")

		_, err := f.svc.SignIn(ctx, "first")
		require.NoError(t, err)
		_, err = f.svc.SignIn(ctx, "second")
		assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
		assert.Len(t, f.idents.Identities, 1)
	})

	t.Run("store failure is a persistence error", func(t *testing.T) {
		f := newFixture(t)
		f.idp.Assertions["a"] = googleClaims("sub-5", "p@example.com")
		f.idents.UpsertErr = errors.New("db down")

		_, err := f.svc.SignIn(ctx, "a")
		assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
	})
}
