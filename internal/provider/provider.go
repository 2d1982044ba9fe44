// Package provider adapts external classification APIs to one contract.
//
// Every adapter sends the same instruction and content, decodes the raw
// response as an untyped document, walks its own path to the generated text,
// and hands that text to ParseVerdict. Nothing about a response's shape is
// assumed at the type level.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/MGallo-Code/provenance/internal/config"
)

// Modes accepted by Classify.
const (
	ModeQuick = "quick"
	ModeDeep  = "deep"
)

// Request is one classification call.
type Request struct {
	Instruction string
	Content     string
	Mode        string
}

// Verdict is the canonical result a provider produced.
// Model is filled in by the adapter, not parsed from the response text.
type Verdict struct {
	Classification  string   `json:"classification"`
	ConfidenceLevel string   `json:"confidenceLevel"`
	ConfidenceScore float64  `json:"confidenceScore"`
	KeyIndicators   []string `json:"keyIndicators"`
	Reasoning       string   `json:"reasoning"`
	Model           string   `json:"-"`
}

// Provider classifies content through one external API.
type Provider interface {
	// Name identifies the provider in result metadata, logs, and metrics.
	Name() string

	// Classify returns a verdict or an error. Timeouts, non-2xx statuses
	// (*StatusError), and unusable response bodies (*ParseError) are all errors.
	Classify(ctx context.Context, req Request) (*Verdict, error)
}

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string // truncated
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, e.Body)
}

// ParseError means the provider answered but not with a usable verdict.
type ParseError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FromConfig builds the adapter named by cfg.Name.
func FromConfig(cfg config.ProviderConfig, timeout time.Duration, rps int) (Provider, error) {
	opts := Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		QuickModel: cfg.QuickModel,
		DeepModel:  cfg.DeepModel,
		Timeout:    timeout,
		RPS:        rps,
	}
	switch cfg.Name {
	case "openai":
		return NewOpenAI(opts), nil
	case "anthropic":
		return NewAnthropic(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}
