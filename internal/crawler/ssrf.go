package crawler

import (
	"context"
	"net"
	"strings"

	"go.uber.org/zap"
)

var privateNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// IsPrivateIP reports whether ip falls in a private, loopback or link-local range.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// SSRFGuard rejects hosts that resolve to internal addresses. Hosts that
// fail to resolve are allowed through; the fetch then fails on its own.
type SSRFGuard struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewSSRFGuard builds a guard. A nil resolver uses net.DefaultResolver.
func NewSSRFGuard(resolver Resolver, logger *zap.Logger) *SSRFGuard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSRFGuard{resolver: resolver, logger: logger}
}

// Check resolves host and returns an *SSRFError if any address is internal.
func (g *SSRFGuard) Check(ctx context.Context, host string) error {
	host = strings.Trim(strings.ToLower(host), "[]")
	if host == "" {
		host = "localhost"
	}
	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return &SSRFError{Host: host, IP: ip}
		}
		return nil
	}
	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		g.logger.Debug("dns lookup failed; allowing fetch", zap.String("host", host), zap.Error(err))
		return nil
	}
	for _, a := range addrs {
		if IsPrivateIP(a.IP) {
			return &SSRFError{Host: host, IP: a.IP}
		}
	}
	return nil
}

// CheckURL runs Check against the host of rawURL.
func (g *SSRFGuard) CheckURL(ctx context.Context, rawURL string) error {
	return g.Check(ctx, hostOf(rawURL))
}
