package guard

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/agenticmail/toolgate/internal/domain/policy"
)

// defaultBlockedRanges are always rejected for hosts absent from the
// allow-list: loopback, link-local (covers the 169.254.169.254 cloud
// metadata endpoint), RFC1918 private ranges, and their IPv6 equivalents.
var defaultBlockedRanges = mustParseCIDRs([]string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
})

// LookupFunc resolves a hostname to its addresses. The default uses the
// system resolver; tests inject a fixed mapping.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// SSRFGuard validates outbound network targets against an SSRF policy.
// Hosts are resolved at validation time, never from a cached resolution,
// to defeat DNS rebinding between check and use.
type SSRFGuard struct {
	lookup LookupFunc
}

// NewSSRFGuard creates an SSRFGuard using the system resolver.
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{lookup: func(ctx context.Context, host string) ([]net.IP, error) {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		ips := make([]net.IP, len(addrs))
		for i, a := range addrs {
			ips[i] = a.IP
		}
		return ips, nil
	}}
}

// NewSSRFGuardWithLookup creates an SSRFGuard with a custom resolver.
func NewSSRFGuardWithLookup(lookup LookupFunc) *SSRFGuard {
	return &SSRFGuard{lookup: lookup}
}

// Validate checks a URL (or bare host) against the SSRF policy.
// An explicit allow-list entry overrides the implicit CIDR blocks for that
// host; a non-empty allow-list rejects every host not on it.
func (g *SSRFGuard) Validate(ctx context.Context, rawURL string, pol policy.SSRFPolicy) error {
	if !pol.Enabled {
		return nil
	}
	host, err := extractHost(rawURL)
	if err != nil || host == "" {
		return &SSRFBlockedError{URL: rawURL, Reason: "unparseable_target"}
	}

	if hostAllowed(host, pol.AllowedHosts) {
		return nil
	}
	if len(pol.AllowedHosts) > 0 {
		return &SSRFBlockedError{URL: rawURL, Host: host, Reason: "host_not_in_allowlist"}
	}

	blocked := append([]*net.IPNet(nil), defaultBlockedRanges...)
	for _, c := range pol.BlockedCidrs {
		_, ipnet, err := net.ParseCIDR(strings.TrimSpace(c))
		if err != nil {
			return &SSRFBlockedError{URL: rawURL, Host: host, Reason: "invalid_blocked_cidr"}
		}
		blocked = append(blocked, ipnet)
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ips, err = g.lookup(ctx, host)
		if err != nil || len(ips) == 0 {
			return &SSRFBlockedError{URL: rawURL, Host: host, Reason: "resolution_failed"}
		}
	}

	for _, ip := range ips {
		for _, ipnet := range blocked {
			if ipnet.Contains(ip) {
				return &SSRFBlockedError{URL: rawURL, Host: host, IP: ip.String(), Reason: "blocked_ip_range"}
			}
		}
	}
	return nil
}

// extractHost parses the hostname out of a URL, host:port pair, or bare host.
func extractHost(raw string) (string, error) {
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", err
		}
		return u.Hostname(), nil
	}
	if h, _, err := net.SplitHostPort(raw); err == nil {
		return h, nil
	}
	return strings.Trim(raw, "[]"), nil
}

// hostAllowed checks the allow-list with case-insensitive exact matching.
func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), host) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			panic("guard: bad built-in CIDR " + c)
		}
		nets = append(nets, ipnet)
	}
	return nets
}
