// Package fetch implements the two Fetcher variants (C2 HTTP, C3
// Browser) behind one capability interface, injected into the crawl
// engine.
package fetch

import (
	"context"
	"regexp"
	"strings"

	"docretriever/internal/models"
)

// Fetcher performs a single safe fetch of url into targetPath, honoring
// force/max size/allowed-base confinement, and reports the outcome as a
// FetchResult. Implementations never return a non-nil error for outcomes
// the caller should record per-URL (timeouts, 4xx/5xx, disk errors) —
// those are encoded in the result's Status/ErrorMessage. A non-nil error
// return is reserved for programmer errors (nil client, bad arguments).
type Fetcher interface {
	Fetch(ctx context.Context, url, targetPath string, force bool) (models.FetchResult, error)
}

// linkAttrRE matches href= and src= attribute values, mirroring the
// restrained regex the original fetcher uses rather than a full DOM
// parse, since link discovery only needs the raw attribute text.
var linkAttrRE = regexp.MustCompile(`(?i)(?:href|src)\s*=\s*["']([^"']+)["']`)

// extractLinks scans content (at most the first 1 MiB, enforced by the
// caller) for href=/src= attribute values, filtering out fragments and
// javascript:/mailto:/data: schemes, and de-duplicating.
func extractLinks(content string) []string {
	matches := linkAttrRE.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		link := strings.TrimSpace(m[1])
		if link == "" {
			continue
		}
		if strings.HasPrefix(link, "#") ||
			strings.HasPrefix(strings.ToLower(link), "javascript:") ||
			strings.HasPrefix(strings.ToLower(link), "mailto:") ||
			strings.HasPrefix(strings.ToLower(link), "data:") {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	return links
}
