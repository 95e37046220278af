package guard

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/agenticmail/toolgate/internal/domain/policy"
)

// fixedLookup resolves from a static map and fails for unknown hosts.
func fixedLookup(hosts map[string][]string) LookupFunc {
	return func(_ context.Context, host string) ([]net.IP, error) {
		addrs, ok := hosts[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		ips := make([]net.IP, len(addrs))
		for i, a := range addrs {
			ips[i] = net.ParseIP(a)
		}
		return ips, nil
	}
}

func TestSSRFGuard_Disabled(t *testing.T) {
	t.Parallel()
	g := NewSSRFGuard()
	err := g.Validate(context.Background(), "http://169.254.169.254/", policy.SSRFPolicy{Enabled: false})
	if err != nil {
		t.Errorf("disabled guard should allow everything, got %v", err)
	}
}

func TestSSRFGuard_DefaultBlockedRanges(t *testing.T) {
	t.Parallel()
	g := NewSSRFGuardWithLookup(fixedLookup(map[string][]string{
		"public.example.com":   {"93.184.216.34"},
		"internal.example.com": {"10.0.0.5"},
		"rebind.example.com":   {"93.184.216.34", "127.0.0.1"},
	}))
	pol := policy.SSRFPolicy{Enabled: true}

	tests := []struct {
		name       string
		url        string
		wantReason string
	}{
		{name: "public host", url: "https://public.example.com/data"},
		{name: "loopback literal", url: "http://127.0.0.1:8080/", wantReason: "blocked_ip_range"},
		{name: "cloud metadata", url: "http://169.254.169.254/latest/meta-data/", wantReason: "blocked_ip_range"},
		{name: "rfc1918 literal", url: "http://192.168.1.10/", wantReason: "blocked_ip_range"},
		{name: "cgnat literal", url: "http://100.64.0.1/", wantReason: "blocked_ip_range"},
		{name: "ipv6 loopback", url: "http://[::1]/", wantReason: "blocked_ip_range"},
		{name: "host resolving private", url: "http://internal.example.com/", wantReason: "blocked_ip_range"},
		{name: "one bad address blocks all", url: "http://rebind.example.com/", wantReason: "blocked_ip_range"},
		{name: "unresolvable host", url: "http://nxdomain.example.com/", wantReason: "resolution_failed"},
		{name: "bare host no scheme", url: "public.example.com"},
		{name: "host port pair", url: "public.example.com:443"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := g.Validate(context.Background(), tt.url, pol)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			var se *SSRFBlockedError
			if !errors.As(err, &se) {
				t.Fatalf("expected SSRFBlockedError, got %v", err)
			}
			if se.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", se.Reason, tt.wantReason)
			}
		})
	}
}

func TestSSRFGuard_Allowlist(t *testing.T) {
	t.Parallel()
	g := NewSSRFGuardWithLookup(fixedLookup(map[string][]string{
		"api.example.com": {"93.184.216.34"},
	}))
	pol := policy.SSRFPolicy{
		Enabled:      true,
		AllowedHosts: []string{"Metadata.Internal", "api.example.com"},
	}

	// Allow-list entries skip resolution and CIDR checks entirely, even
	// for hosts that would resolve into a blocked range.
	if err := g.Validate(context.Background(), "http://metadata.internal/", pol); err != nil {
		t.Errorf("allow-listed host should pass without resolution, got %v", err)
	}
	if err := g.Validate(context.Background(), "https://api.example.com/v1", pol); err != nil {
		t.Errorf("allow-listed host should pass, got %v", err)
	}

	// A non-empty allow-list denies everything else.
	err := g.Validate(context.Background(), "https://other.example.com/", pol)
	var se *SSRFBlockedError
	if !errors.As(err, &se) {
		t.Fatalf("expected SSRFBlockedError, got %v", err)
	}
	if se.Reason != "host_not_in_allowlist" {
		t.Errorf("reason = %q, want host_not_in_allowlist", se.Reason)
	}
}

func TestSSRFGuard_CustomBlockedCidrs(t *testing.T) {
	t.Parallel()
	g := NewSSRFGuardWithLookup(fixedLookup(nil))
	pol := policy.SSRFPolicy{
		Enabled:      true,
		BlockedCidrs: []string{"93.184.0.0/16"},
	}

	err := g.Validate(context.Background(), "http://93.184.216.34/", pol)
	var se *SSRFBlockedError
	if !errors.As(err, &se) {
		t.Fatalf("expected SSRFBlockedError, got %v", err)
	}
	if se.Reason != "blocked_ip_range" {
		t.Errorf("reason = %q, want blocked_ip_range", se.Reason)
	}

	// Unparseable admin CIDR fails closed.
	bad := policy.SSRFPolicy{Enabled: true, BlockedCidrs: []string{"not-a-cidr"}}
	err = g.Validate(context.Background(), "http://8.8.8.8/", bad)
	if !errors.As(err, &se) || se.Reason != "invalid_blocked_cidr" {
		t.Errorf("expected invalid_blocked_cidr, got %v", err)
	}
}

func TestSSRFGuard_UnparseableTarget(t *testing.T) {
	t.Parallel()
	g := NewSSRFGuardWithLookup(fixedLookup(nil))
	pol := policy.SSRFPolicy{Enabled: true}

	err := g.Validate(context.Background(), "http://%zz/", pol)
	var se *SSRFBlockedError
	if !errors.As(err, &se) {
		t.Fatalf("expected SSRFBlockedError, got %v", err)
	}
	if se.Reason != "unparseable_target" {
		t.Errorf("reason = %q, want unparseable_target", se.Reason)
	}
}
