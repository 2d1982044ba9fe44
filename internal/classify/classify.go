// Package classify runs one classification request end to end:
// validate, quota, cache, providers with fallback, cache store.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MGallo-Code/provenance/internal/apperr"
	"github.com/MGallo-Code/provenance/internal/cache"
	"github.com/MGallo-Code/provenance/internal/metrics"
	"github.com/MGallo-Code/provenance/internal/outcome"
	"github.com/MGallo-Code/provenance/internal/provider"
	"github.com/MGallo-Code/provenance/internal/ratelimit"
	"github.com/gofrs/uuid/v5"
)

// Result sources.
const (
	SourceCache = "cache"
	SourceFresh = "fresh"
)

// QuotaChecker is satisfied by *ratelimit.Limiter.
type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context, userID uuid.UUID) outcome.Outcome[ratelimit.Decision]
}

// ResultCache is satisfied by *cache.Manager.
type ResultCache interface {
	Lookup(ctx context.Context, k cache.Key) outcome.Outcome[[]byte]
	Store(ctx context.Context, k cache.Key, payload []byte) outcome.Outcome[struct{}]
}

// Metadata describes how a result was produced.
type Metadata struct {
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Mode       string    `json:"mode"`
	LatencyMs  int64     `json:"latencyMs"`
	AnalyzedAt time.Time `json:"analyzedAt"`
	WordCount  int       `json:"wordCount"`
}

// Result is the canonical classification stored in the cache and returned to callers.
type Result struct {
	Classification  string   `json:"classification"`
	ConfidenceLevel string   `json:"confidenceLevel"`
	ConfidenceScore float64  `json:"confidenceScore"`
	KeyIndicators   []string `json:"keyIndicators"`
	Reasoning       string   `json:"reasoning"`
	Metadata        Metadata `json:"metadata"`
}

// Analysis is what Classify returns. Payload is the serialized Result exactly
// as cached, so repeated calls within the TTL return identical bytes.
type Analysis struct {
	Result  Result
	Payload json.RawMessage
	Source  string
}

// Orchestrator sequences the classification pipeline.
type Orchestrator struct {
	quota     QuotaChecker
	cache     ResultCache
	providers []provider.Provider
	resolver  Resolver
	now       func() time.Time
}

// New returns an Orchestrator. providers[0] is the primary; only providers[1]
// is ever tried as a fallback.
func New(quota QuotaChecker, c ResultCache, providers []provider.Provider, r Resolver) *Orchestrator {
	return &Orchestrator{
		quota:     quota,
		cache:     c,
		providers: providers,
		resolver:  r,
		now:       time.Now,
	}
}

// Classify validates in, charges one unit of userID's daily quota, and
// returns a cached result or a fresh one from the providers.
// A cache hit still consumes quota.
func (o *Orchestrator) Classify(ctx context.Context, userID uuid.UUID, in Input) (*Analysis, error) {
	if err := Validate(ctx, o.resolver, in); err != nil {
		return nil, err
	}

	q := o.quota.CheckAndIncrement(ctx, userID)
	if q.Failed() {
		metrics.SoftFailure("ratelimit")
	}
	if d := q.Value(); !d.Allowed {
		metrics.QuotaRejection()
		return nil, apperr.QuotaExceeded(d.RetryAfterSeconds)
	}

	key := cache.DeriveKey(in.URL, in.Text, in.Mode, in.Freshness)
	if a := o.fromCache(ctx, key); a != nil {
		metrics.ClassifyRequest(SourceCache)
		return a, nil
	}

	text := strings.TrimSpace(in.Text)
	verdict, name, latency, err := o.callProviders(ctx, provider.Request{
		Instruction: provider.Instruction(in.Mode),
		Content:     text,
		Mode:        in.Mode,
	})
	if err != nil {
		return nil, err
	}

	result := Result{
		Classification:  verdict.Classification,
		ConfidenceLevel: verdict.ConfidenceLevel,
		ConfidenceScore: verdict.ConfidenceScore,
		KeyIndicators:   verdict.KeyIndicators,
		Reasoning:       verdict.Reasoning,
		Metadata: Metadata{
			Provider:   name,
			Model:      verdict.Model,
			Mode:       in.Mode,
			LatencyMs:  latency.Milliseconds(),
			AnalyzedAt: o.now().UTC(),
			WordCount:  WordCount(text),
		},
	}
	if result.KeyIndicators == nil {
		result.KeyIndicators = []string{}
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}

	if s := o.cache.Store(ctx, key, payload); s.Failed() {
		metrics.SoftFailure("cache")
	}
	metrics.ClassifyRequest(SourceFresh)
	return &Analysis{Result: result, Payload: payload, Source: SourceFresh}, nil
}

// fromCache returns the cached analysis for key, or nil on a miss.
// An entry that no longer decodes is treated as a miss.
func (o *Orchestrator) fromCache(ctx context.Context, key cache.Key) *Analysis {
	hit := o.cache.Lookup(ctx, key)
	if hit.Failed() {
		metrics.SoftFailure("cache")
	}
	payload := hit.Value()
	if payload == nil {
		return nil
	}
	var r Result
	if err := json.Unmarshal(payload, &r); err != nil {
		slog.Warn("undecodable cache entry, treating as miss", "component", "cache", "key", key.String(), "error", err)
		return nil
	}
	return &Analysis{Result: r, Payload: payload, Source: SourceCache}
}

// callProviders tries the primary provider, then at most one fallback.
func (o *Orchestrator) callProviders(ctx context.Context, req provider.Request) (*provider.Verdict, string, time.Duration, error) {
	candidates := o.providers
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}

	var errs []error
	for _, p := range candidates {
		start := o.now()
		v, err := p.Classify(ctx, req)
		latency := o.now().Sub(start)
		metrics.ProviderCall(p.Name(), err == nil)
		if err == nil {
			return v, p.Name(), latency, nil
		}
		slog.Warn("provider failed", "component", "classify", "provider", p.Name(),
			"latency_ms", latency.Milliseconds(), "error", err)
		errs = append(errs, err)
	}
	return nil, "", 0, apperr.Wrap(apperr.KindClassificationUnavailable,
		"no classification provider is available", errors.Join(errs...))
}
