package classify

import (
	"context"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/MGallo-Code/provenance/internal/apperr"
	"github.com/MGallo-Code/provenance/internal/provider"
)

// Payload bounds.
const (
	MaxURLLength     = 2048
	MaxContentLength = 20000 // runes, after trimming
	MinWords         = 30
	MaxFreshness     = 128
)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Input is one classification request as received from a caller.
type Input struct {
	URL       string `json:"url"`
	Text      string `json:"text"`
	Mode      string `json:"mode"`
	Freshness string `json:"freshness,omitempty"`
}

// sharedAddressSpace is RFC 6598 carrier-grade NAT, not covered by netip.IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

func invalid(msg string) error {
	return apperr.New(apperr.KindValidation, msg)
}

// Validate checks in against the payload rules, including that the URL's host
// resolves only to public addresses. Every failure is KindValidation.
func Validate(ctx context.Context, r Resolver, in Input) error {
	if strings.TrimSpace(in.URL) == "" {
		return invalid("url is required")
	}
	if len(in.URL) > MaxURLLength {
		return invalid("url is too long")
	}
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return invalid("url must be an absolute http or https URL")
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return invalid("text is required")
	}
	if utf8.RuneCountInString(text) > MaxContentLength {
		return invalid("text is too long")
	}
	if WordCount(text) < MinWords {
		return invalid("text is too short to classify")
	}

	if in.Mode != provider.ModeQuick && in.Mode != provider.ModeDeep {
		return invalid("mode must be quick or deep")
	}
	if len(in.Freshness) > MaxFreshness {
		return invalid("freshness is too long")
	}

	return checkPublicHost(ctx, r, u.Hostname())
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

func checkPublicHost(ctx context.Context, r Resolver, host string) error {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return invalid("url must point to a public host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if !isPublic(addr) {
			return invalid("url must point to a public host")
		}
		return nil
	}

	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return invalid("url host does not resolve")
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok || !isPublic(addr) {
			return invalid("url must point to a public host")
		}
	}
	return nil
}

func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback(), addr.IsPrivate(), addr.IsUnspecified(),
		addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast(), addr.IsMulticast(),
		addr.IsInterfaceLocalMulticast():
		return false
	case sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}
