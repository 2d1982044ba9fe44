// fakes.go
//
// Fakes for outbound collaborators: identity provider, task queue,
// classification providers, DNS.
package testutil

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MGallo-Code/provenance/internal/oauth"
	"github.com/MGallo-Code/provenance/internal/provider"
)

// --- Identity provider ---

// MockIdP implements oauth.Provider. Assertions and codes map to canned claims.
type MockIdP struct {
	VerifyErr   error
	ExchangeErr error

	Assertions map[string]*oauth.Claims // raw ID token -> claims
	Codes      map[string]*oauth.Claims // authorization code -> claims

	// LastVerifier records the code_verifier passed to the last Exchange.
	LastVerifier string
}

// NewMockIdP returns a MockIdP with empty maps.
func NewMockIdP() *MockIdP {
	return &MockIdP{
		Assertions: make(map[string]*oauth.Claims),
		Codes:      make(map[string]*oauth.Claims),
	}
}

func (m *MockIdP) Name() string { return "google" }

func (m *MockIdP) VerifyAssertion(_ context.Context, raw string) (*oauth.Claims, error) {
	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	c, ok := m.Assertions[raw]
	if !ok {
		return nil, errors.New("invalid id token")
	}
	cp := *c
	return &cp, nil
}

func (m *MockIdP) AuthCodeURL(state, codeChallenge string) string {
	return "https://idp.example.test/auth?state=" + state + "&code_challenge=" + codeChallenge
}

func (m *MockIdP) Exchange(_ context.Context, code, codeVerifier string) (*oauth.Claims, error) {
	m.LastVerifier = codeVerifier
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	c, ok := m.Codes[code]
	if !ok {
		return nil, errors.New("invalid code")
	}
	cp := *c
	return &cp, nil
}

// --- Task queue ---

// MockTaskQueue records submitted task kinds.
type MockTaskQueue struct {
	SubmitErr error

	mu        sync.Mutex
	submitted []string
}

func (m *MockTaskQueue) Submit(_ context.Context, kind string) error {
	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	m.mu.Lock()
	m.submitted = append(m.submitted, kind)
	m.mu.Unlock()
	return nil
}

// Submitted returns the kinds submitted so far.
func (m *MockTaskQueue) Submitted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.submitted...)
}

// --- Classification providers ---

// MockProvider implements provider.Provider with a canned verdict or error.
type MockProvider struct {
	ProviderName string
	Verdict      *provider.Verdict
	Err          error
	// Delay blocks each call until it elapses or ctx is done.
	Delay time.Duration

	calls atomic.Int32
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) Classify(ctx context.Context, _ provider.Request) (*provider.Verdict, error) {
	m.calls.Add(1)
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	v := *m.Verdict
	v.KeyIndicators = append([]string(nil), m.Verdict.KeyIndicators...)
	return &v, nil
}

// Calls returns how many times Classify ran.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// --- DNS ---

// MockResolver maps hosts to addresses; unknown hosts fail to resolve.
type MockResolver struct {
	Hosts map[string][]string
}

func (m *MockResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := m.Hosts[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, s := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out, nil
}
