// Package config defines the small set of path/timeout/concurrency
// knobs the core consumes, as a static defaults table the submitter
// overrides field-by-field — the same shape the teacher used for its
// model-selection table (a code-defined map plus a Defaults-style
// accessor), with no environment or file loading. Loading configuration
// from the environment is the out-of-scope API/CLI adapter's job.
package config

import "time"

// Config holds the knobs the download-and-index subsystem and searcher
// consume. Defaults returns a fully populated Config; callers override
// individual fields on it.
type Config struct {
	// BaseDir is the process-wide root: <base>/task_status.db,
	// <base>/index/, <base>/content/.
	BaseDir string

	// DefaultWebDepth replaces a website/browser request's depth when that
	// depth is zero or negative, so an explicit depth of 0 is treated the
	// same as an omitted one.
	DefaultWebDepth int

	MaxFileSizeBytes int64

	TimeoutRequests time.Duration
	TimeoutBrowser  time.Duration

	MaxConcurrentHTTPRequests    int
	MaxConcurrentBrowserContexts int

	// DocExtensions is the fixed documentation file-type set the git
	// fetcher enumerates.
	DocExtensions []string

	// SearchableExtensions is the fixed extension set the searcher will
	// open during Phase 1 filtering.
	SearchableExtensions []string

	// PathAllowedExtensions is the allow-list url_to_local_path consults
	// when choosing whether to keep a URL's original extension.
	PathAllowedExtensions []string
}

// Defaults returns the core's baseline configuration. Every numeric
// default here mirrors a concrete value named in the component design
// (§4.2-§4.4): 50 concurrent HTTP fetches, 4 concurrent browser
// contexts, depth 5, 10 MiB file cap.
func Defaults() Config {
	return Config{
		BaseDir:                      "./downloads",
		DefaultWebDepth:              5,
		MaxFileSizeBytes:             10 * 1024 * 1024,
		TimeoutRequests:              30 * time.Second,
		TimeoutBrowser:               30 * time.Second,
		MaxConcurrentHTTPRequests:    50,
		MaxConcurrentBrowserContexts: 4,
		DocExtensions:                []string{".md", ".rst", ".html", ".htm", ".txt"},
		SearchableExtensions:         []string{".html", ".htm", ".md", ".rst", ".txt", ".json", ".xml"},
		PathAllowedExtensions: []string{
			".html", ".htm", ".txt", ".js", ".css", ".json", ".xml", ".md",
			".rst", ".pdf", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp",
			".ico", ".woff", ".woff2", ".ttf", ".otf", ".eot", ".yaml", ".yml",
		},
	}
}

// WithBaseDir returns a copy of c rooted at dir.
func (c Config) WithBaseDir(dir string) Config {
	c.BaseDir = dir
	return c
}
