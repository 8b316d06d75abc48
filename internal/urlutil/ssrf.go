package urlutil

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// internalHostPatterns are the reserved TLD-style suffixes the SSRF
// guard refuses outright, matched with glob rather than a bespoke
// suffix check so the pattern set reads the same way it's specified.
var internalHostPatterns = compileGlobs("*.local", "*.internal", "*.test", "*.example")

func compileGlobs(patterns ...string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, glob.MustCompile(p))
	}
	return out
}

// Resolver abstracts DNS resolution so tests can substitute a fake.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var defaultResolver Resolver = net.DefaultResolver

// IsInternal resolves the host of raw and reports whether it is
// loopback, link-local, RFC1918, unique-local IPv6, matches a reserved
// hostname pattern, or is unresolvable. Crawls refuse seed URLs for
// which this predicate is true.
func IsInternal(raw string) bool {
	return isInternalWithResolver(raw, defaultResolver)
}

func isInternalWithResolver(raw string, resolver Resolver) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())

	for _, g := range internalHostPatterns {
		if g.Match(host) {
			return true
		}
	}

	if ip, ok := hostIsIP(host); ok {
		return isInternalIP(ip)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return true
	}
	for _, a := range addrs {
		if isInternalIP(a.IP) {
			return true
		}
	}
	return false
}

func isInternalIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	if ip4 := ip.To4(); ip4 == nil {
		// IPv6 unique local addresses, fc00::/7.
		if len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc {
			return true
		}
	}
	return false
}
