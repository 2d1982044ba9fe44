package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/provenance/internal/apperr"
	"github.com/MGallo-Code/provenance/internal/cache"
	"github.com/MGallo-Code/provenance/internal/provider"
	"github.com/MGallo-Code/provenance/internal/ratelimit"
	"github.com/MGallo-Code/provenance/internal/testutil"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://news.example.com/story"

// article returns distinct content of at least MinWords words.
func article(n int) string {
	return fmt.Sprintf("Article %d. ", n) + strings.Repeat("The quick brown fox jumps over the lazy dog again. ", 5)
}

func verdict() *provider.Verdict {
	return &provider.Verdict{
		Classification:  "human-written",
		ConfidenceLevel: "high",
		ConfidenceScore: 0.91,
		KeyIndicators:   []string{"idiosyncratic phrasing"},
		Reasoning:       "Reads like a person wrote it.",
		Model:           "test-model",
	}
}

type fixture struct {
	orch      *Orchestrator
	usage     *testutil.MockUsageStore
	entries   *testutil.MockCacheStore
	primary   *testutil.MockProvider
	secondary *testutil.MockProvider
	clock     *testutil.Clock
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	f := &fixture{
		usage:     testutil.NewMockUsageStore(),
		entries:   testutil.NewMockCacheStore(),
		primary:   &testutil.MockProvider{ProviderName: "openai", Verdict: verdict()},
		secondary: &testutil.MockProvider{ProviderName: "anthropic", Verdict: verdict()},
		clock:     testutil.NewClock(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)),
	}
	resolver := &testutil.MockResolver{Hosts: map[string][]string{
		"news.example.com": {"93.184.216.34"},
	}}
	f.orch = New(
		ratelimit.New(f.usage, limit, time.UTC),
		cache.New(f.entries, time.Hour),
		[]provider.Provider{f.primary, f.secondary},
		resolver,
	)
	f.orch.now = f.clock.Now
	return f
}

func input(text string) Input {
	return Input{URL: testURL, Text: text, Mode: provider.ModeQuick}
}

func TestClassify_FreshThenCached(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	user := uuid.Must(uuid.NewV7())

	first, err := f.orch.Classify(ctx, user, input(article(1)))
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, first.Source)
	assert.Equal(t, "openai", first.Result.Metadata.Provider)
	assert.Equal(t, "test-model", first.Result.Metadata.Model)
	assert.Equal(t, provider.ModeQuick, first.Result.Metadata.Mode)
	assert.Equal(t, WordCount(article(1)), first.Result.Metadata.WordCount)
	assert.True(t, first.Result.Metadata.AnalyzedAt.Equal(f.clock.Now()))
	assert.Equal(t, 1, f.primary.Calls())

	f.clock.Advance(time.Minute)
	// Case and surrounding whitespace do not change the key.
	second, err := f.orch.Classify(ctx, user, input("  "+strings.ToUpper(article(1))+"\n"))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, []byte(first.Payload), []byte(second.Payload), "cached payload must be byte-identical")
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, 1, f.primary.Calls(), "cache hit must not call a provider")
	assert.Equal(t, 0, f.secondary.Calls())
}

func TestClassify_ModeIsPartOfKey(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	user := uuid.Must(uuid.NewV7())

	_, err := f.orch.Classify(ctx, user, input(article(1)))
	require.NoError(t, err)

	deep := input(article(1))
	deep.Mode = provider.ModeDeep
	a, err := f.orch.Classify(ctx, user, deep)
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, a.Source)
	assert.Equal(t, 2, f.primary.Calls())
}

func TestClassify_FreshnessTokenBypassesCache(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	user := uuid.Must(uuid.NewV7())

	_, err := f.orch.Classify(ctx, user, input(article(1)))
	require.NoError(t, err)

	in := input(article(1))
	in.Freshness = "v2"
	a, err := f.orch.Classify(ctx, user, in)
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, a.Source)
}

func TestClassify_Fallback(t *testing.T) {
	ctx := context.Background()

	t.Run("primary error uses secondary", func(t *testing.T) {
		f := newFixture(t, 50)
		f.primary.Err = &provider.StatusError{Provider: "openai", Code: 500}

		a, err := f.orch.Classify(ctx, uuid.Must(uuid.NewV7()), input(article(1)))
		require.NoError(t, err)
		assert.Equal(t, "anthropic", a.Result.Metadata.Provider)
		assert.Equal(t, 1, f.primary.Calls())
		assert.Equal(t, 1, f.secondary.Calls())
	})

	t.Run("primary parse error uses secondary", func(t *testing.T) {
		f := newFixture(t, 50)
		f.primary.Err = &provider.ParseError{Provider: "openai", Reason: "no JSON object in response"}

		a, err := f.orch.Classify(ctx, uuid.Must(uuid.NewV7()), input(article(1)))
		require.NoError(t, err)
		assert.Equal(t, "anthropic", a.Result.Metadata.Provider)
	})

	t.Run("both fail", func(t *testing.T) {
		f := newFixture(t, 50)
		f.primary.Err = errors.New("down")
		f.secondary.Err = errors.New("also down")

		_, err := f.orch.Classify(ctx, uuid.Must(uuid.NewV7()), input(article(1)))
		require.Error(t, err)
		assert.Equal(t, apperr.KindClassificationUnavailable, apperr.KindOf(err))
		assert.Equal(t, 0, f.entries.Len(), "failures are not cached")
	})

	t.Run("only one fallback is tried", func(t *testing.T) {
		f := newFixture(t, 50)
		f.primary.Err = errors.New("down")
		f.secondary.Err = errors.New("also down")
		third := &testutil.MockProvider{ProviderName: "third", Verdict: verdict()}
		f.orch.providers = append(f.orch.providers, third)

		_, err := f.orch.Classify(ctx, uuid.Must(uuid.NewV7()), input(article(1)))
		assert.Equal(t, apperr.KindClassificationUnavailable, apperr.KindOf(err))
		assert.Equal(t, 0, third.Calls())
	})
}

func TestClassify_PrimaryTimeoutFallsBack(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	f := newFixture(t, 50)
	primary := provider.NewOpenAI(provider.Options{
		BaseURL:    slow.URL,
		APIKey:     "k",
		QuickModel: "m",
		Timeout:    50 * time.Millisecond,
	})
	f.orch.providers = []provider.Provider{primary, f.secondary}

	a, err := f.orch.Classify(context.Background(), uuid.Must(uuid.NewV7()), input(article(1)))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", a.Result.Metadata.Provider)
}

func TestClassify_Quota(t *testing.T) {
	ctx := context.Background()

	t.Run("51st call of the day is rejected", func(t *testing.T) {
		f := newFixture(t, 50)
		user := uuid.Must(uuid.NewV7())

		for i := range 50 {
			_, err := f.orch.Classify(ctx, user, input(article(i)))
			require.NoError(t, err, "call %d", i+1)
		}
		_, err := f.orch.Classify(ctx, user, input(article(50)))
		require.Error(t, err)
		ae := apperr.As(err)
		assert.Equal(t, apperr.KindQuotaExceeded, ae.Kind)
		assert.Greater(t, ae.RetryAfterSeconds, 0)
		assert.LessOrEqual(t, ae.RetryAfterSeconds, 86400)
		assert.Equal(t, 50, f.primary.Calls())
	})

	t.Run("cache hits consume quota", func(t *testing.T) {
		f := newFixture(t, 2)
		user := uuid.Must(uuid.NewV7())

		_, err := f.orch.Classify(ctx, user, input(article(1)))
		require.NoError(t, err)
		a, err := f.orch.Classify(ctx, user, input(article(1)))
		require.NoError(t, err)
		assert.Equal(t, SourceCache, a.Source)

		_, err = f.orch.Classify(ctx, user, input(article(1)))
		assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))
	})

	t.Run("validation failure does not consume quota", func(t *testing.T) {
		f := newFixture(t, 1)
		user := uuid.Must(uuid.NewV7())

		bad := input("too short")
		_, err := f.orch.Classify(ctx, user, bad)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Equal(t, 0, f.usage.Days(user))

		_, err = f.orch.Classify(ctx, user, input(article(1)))
		require.NoError(t, err)
	})

	t.Run("usage store down fails open", func(t *testing.T) {
		f := newFixture(t, 1)
		f.usage.IncrementErr = errors.New("connection refused")

		for i := range 3 {
			_, err := f.orch.Classify(ctx, uuid.Must(uuid.NewV7()), input(article(i)))
			require.NoError(t, err)
		}
	})
}

func TestClassify_CacheStoreDown(t *testing.T) {
	f := newFixture(t, 50)
	f.entries.GetErr = errors.New("timeout")
	f.entries.PutErr = errors.New("timeout")
	ctx := context.Background()
	user := uuid.Must(uuid.NewV7())

	for range 2 {
		a, err := f.orch.Classify(ctx, user, input(article(1)))
		require.NoError(t, err)
		assert.Equal(t, SourceFresh, a.Source)
	}
	assert.Equal(t, 2, f.primary.Calls())
}

func TestClassify_NilIndicatorsEncodeAsEmptyList(t *testing.T) {
	f := newFixture(t, 50)
	v := verdict()
	v.KeyIndicators = nil
	f.primary.Verdict = v

	a, err := f.orch.Classify(context.Background(), uuid.Must(uuid.NewV7()), input(article(1)))
	require.NoError(t, err)
	assert.Contains(t, string(a.Payload), `"keyIndicators":[]`)
}
