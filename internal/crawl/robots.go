package crawl

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	robotsCacheTTL         = 30 * time.Minute
	robotsNegativeCacheTTL = 10 * time.Minute
	robotsUserAgent        = "docretriever-crawler/1.0"
)

type robotsCacheEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	failed    bool
}

// RobotsChecker caches parsed robots.txt per host and single-flights
// concurrent fetches for the same host, grounded on the teacher's
// requests_crawler.go::isAllowedByRobots.
type RobotsChecker struct {
	client *http.Client
	logger *log.Logger

	mu              sync.Mutex
	cache           map[string]*robotsCacheEntry
	fetchInProgress map[string]chan struct{}
}

// NewRobotsChecker builds a checker sharing client for robots.txt
// fetches.
func NewRobotsChecker(client *http.Client, logger *log.Logger) *RobotsChecker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &RobotsChecker{
		client:          client,
		logger:          logger,
		cache:           make(map[string]*robotsCacheEntry),
		fetchInProgress: make(map[string]chan struct{}),
	}
}

// Allowed reports whether rawURL may be fetched per the host's
// robots.txt. On any fetch/parse failure it fails open (returns true),
// matching the teacher's "no usable robots data" behavior.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host

	if allowed, ok := r.checkCache(host, parsed.Path); ok {
		return allowed
	}

	r.mu.Lock()
	if ch, fetching := r.fetchInProgress[host]; fetching {
		r.mu.Unlock()
		select {
		case <-ch:
			if allowed, ok := r.checkCache(host, parsed.Path); ok {
				return allowed
			}
			return true
		case <-ctx.Done():
			return true
		}
	}
	ch := make(chan struct{})
	r.fetchInProgress[host] = ch
	r.mu.Unlock()

	data, fetchErr := r.fetch(ctx, parsed.Scheme, host)

	r.mu.Lock()
	if fetchErr != nil {
		r.cache[host] = &robotsCacheEntry{fetchedAt: time.Now(), failed: true}
	} else {
		r.cache[host] = &robotsCacheEntry{data: data, fetchedAt: time.Now()}
	}
	close(ch)
	delete(r.fetchInProgress, host)
	r.mu.Unlock()

	if fetchErr != nil {
		r.logger.Printf("robots.txt unavailable for %s: %v (failing open)", host, fetchErr)
		return true
	}
	return testGroup(data, parsed.Path)
}

func (r *RobotsChecker) checkCache(host, path string) (allowed bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, present := r.cache[host]
	if !present {
		return false, false
	}
	age := time.Since(entry.fetchedAt)
	if entry.failed {
		if age < robotsNegativeCacheTTL {
			return true, true
		}
		return false, false
	}
	if age < robotsCacheTTL && entry.data != nil {
		return testGroup(entry.data, path), true
	}
	return false, false
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	robotsURL := scheme + "://" + host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", robotsUserAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return robotstxt.FromBytes(nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, err
	}
	return robotstxt.FromBytes(body)
}

func testGroup(data *robotstxt.RobotsData, path string) bool {
	group := data.FindGroup(robotsUserAgent)
	if group == nil {
		group = data.FindGroup("*")
	}
	return group.Test(path)
}
