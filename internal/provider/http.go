// http.go -- shared outbound HTTP plumbing for the adapters.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// maxResponseBytes caps how much of a provider response body is read.
const maxResponseBytes = 1 << 20

// Options configures an adapter. Zero Timeout or RPS fall back to defaults.
type Options struct {
	BaseURL    string
	APIKey     string
	QuickModel string
	DeepModel  string
	Timeout    time.Duration
	RPS        int
	Client     *http.Client // nil = a fresh client
}

// client is embedded by every adapter: pacing, timeout, JSON in, untyped JSON out.
type client struct {
	name       string
	baseURL    string
	apiKey     string
	quickModel string
	deepModel  string
	timeout    time.Duration
	limiter    *rate.Limiter
	http       *http.Client
}

func newClient(name string, opts Options) client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = 5
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{}
	}
	return client{
		name:       name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		quickModel: opts.QuickModel,
		deepModel:  opts.DeepModel,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		http:       hc,
	}
}

// Name returns the provider name.
func (c *client) Name() string { return c.name }

// model picks the model for mode; deep falls back to the quick model if unset.
func (c *client) model(mode string) string {
	if mode == ModeDeep && c.deepModel != "" {
		return c.deepModel
	}
	return c.quickModel
}

// postJSON sends payload to path and decodes the 2xx response as an untyped document.
// The whole call, including waiting on the limiter, is bounded by the adapter timeout.
func (c *client) postJSON(ctx context.Context, path string, headers map[string]string, payload any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: waiting for rate limiter: %w", c.name, err)
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", c.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Provider: c.name, Code: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &ParseError{Provider: c.name, Reason: "response body is not a JSON object", Err: err}
	}
	return doc, nil
}

// maxErrorBody bounds the response text kept in a StatusError.
const maxErrorBody = 200

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
