// Package urlutil implements the URL Canonicalizer & Path Mapper (C1):
// canonical-form normalization, a deterministic batch-id hash, the
// collision-free local path mapping, and the SSRF guard.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	whatwgurl "github.com/nlnwa/whatwg-url/url"
)

var parser = whatwgurl.NewParser()

// defaultPorts maps a scheme to the port considered default for it; a
// canonical URL never carries a default port explicitly.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Canonicalize normalizes a URL per the canonical-form rules: default a
// missing scheme to http, lowercase the host, drop the fragment, strip a
// default port, and remove a single trailing slash except at the root.
// Two URLs that canonicalize identically are the same resource.
func Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("canonicalize: empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := parser.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize: parse %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme())
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("canonicalize: %q has no host", raw)
	}

	port := u.Port()
	if port != "" && defaultPorts[scheme] == port {
		port = ""
	}

	path := u.Pathname()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" {
		b.WriteString(":")
		b.WriteString(port)
	}
	b.WriteString(path)
	if q := u.Search(); q != "" {
		b.WriteString(q)
	}
	// Fragment is deliberately dropped.

	return b.String(), nil
}

// GenerateBatchID returns a deterministic identifier for a seed URL,
// derived from its canonical form so that two seeds canonicalizing to
// the same resource share a batch id.
func GenerateBatchID(seedURL string) (string, error) {
	canon, err := Canonicalize(seedURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canon))
	return "dl_" + hex.EncodeToString(sum[:])[:12], nil
}

// SanitizeDownloadID applies the download_id sanitization rule from the
// external interface: any run of characters outside [A-Za-z0-9_-]
// becomes a single underscore; an empty result falls back to a
// dl_<8 hex> id taken from the SHA-256 of fallbackEntropy, so the same
// fallback bytes always give the same id. This is
// the single sanitization implementation; workflow.Coordinator calls it
// rather than keeping its own copy.
func SanitizeDownloadID(raw string, fallbackEntropy []byte) string {
	var b strings.Builder
	lastWasReplacement := false
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
			lastWasReplacement = false
			continue
		}
		if !lastWasReplacement {
			b.WriteRune('_')
			lastWasReplacement = true
		}
	}
	result := b.String()
	if result != "" {
		return result
	}
	sum := sha256.Sum256(fallbackEntropy)
	return "dl_" + hex.EncodeToString(sum[:])[:8]
}

// hostIsIP reports whether host parses as an IP literal (as opposed to a
// DNS name), used by the SSRF guard to short-circuit DNS resolution.
func hostIsIP(host string) (net.IP, bool) {
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip, ip != nil
}
