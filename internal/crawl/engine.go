// Package crawl implements the recursive crawl engine (C4): a same-host
// bounded-depth BFS frontier that drives either the HTTP or Browser
// fetcher (C2/C3) per URL, respecting robots.txt, and emitting one
// IndexRecord per attempted fetch. Each frontier level is dispatched
// across a bounded worker pool, the same jobs-channel-plus-fixed-workers
// shape the teacher's requests crawler uses for its own parallel fetch.
package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/mmcdole/gofeed"

	"docretriever/internal/fetch"
	"docretriever/internal/models"
	"docretriever/internal/urlutil"
)

// Recorder receives one IndexRecord per attempted fetch, in completion
// order. Implementations (the JSONL index writer) must be safe to call
// concurrently.
type Recorder interface {
	Record(models.IndexRecord)
}

// Engine drives the recursive crawl for one DownloadRequest.
type Engine struct {
	Fetcher     fetch.Fetcher
	Robots      *RobotsChecker
	BaseDir     string
	Recorder    Recorder
	MaxDepth    int
	AllowedExts []string
	Logger      *log.Logger

	// Concurrency bounds how many URLs in a frontier level are fetched at
	// once, per spec.md §5's semaphore-bounded task-per-request model:
	// MaxConcurrentHTTPRequests (default 50) for the HTTP fetcher,
	// MaxConcurrentBrowserContexts (default 4) for the browser fetcher.
	Concurrency int

	// AllowPrivateHosts opts a batch out of the SSRF guard on followed
	// links, for operators who deliberately point the crawler at an
	// intranet documentation host.
	AllowPrivateHosts bool

	// seenHint is a probabilistic pre-filter in front of the exact
	// visited set: a miss proves the URL is new; a hit still requires
	// the authoritative map lookup under seenMu, which guards both the
	// hint and the map as one atomic test-and-set since link discovery
	// now runs concurrently across a level's workers.
	seenHint *bitset.BitSet
	seenMu   sync.Mutex
	visited  map[string]struct{}
}

// NewEngine builds a crawl engine for one batch, dispatching up to
// concurrency URLs per frontier level in parallel.
func NewEngine(fetcher fetch.Fetcher, robots *RobotsChecker, baseDir string, recorder Recorder, maxDepth int, allowedExts []string, logger *log.Logger, concurrency int) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "crawl: ", log.LstdFlags)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{
		Fetcher:     fetcher,
		Robots:      robots,
		BaseDir:     baseDir,
		Recorder:    recorder,
		MaxDepth:    maxDepth,
		AllowedExts: allowedExts,
		Logger:      logger,
		Concurrency: concurrency,
		seenHint:    bitset.New(1 << 20),
		visited:     make(map[string]struct{}),
	}
}

type frontierEntry struct {
	url   string
	depth int
}

// Run crawls from seedURL to completion or until ctx is cancelled,
// staying within the seed's host and MaxDepth hops. One frontier level
// is in flight at a time, but within a level every entry is fetched
// concurrently, bounded by e.Concurrency.
func (e *Engine) Run(ctx context.Context, seedURL string) error {
	canonicalSeed, err := urlutil.Canonicalize(seedURL)
	if err != nil {
		return err
	}
	seedParsed, err := url.Parse(canonicalSeed)
	if err != nil {
		return err
	}
	host := seedParsed.Host

	e.testAndSet(canonicalSeed)
	level := []frontierEntry{{url: canonicalSeed, depth: 0}}

	for len(level) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		level = e.runLevel(ctx, level, host)
	}
	return nil
}

// runLevel fetches every entry in level across a bounded pool of
// e.Concurrency workers, the same fixed-worker-reading-a-jobs-channel
// shape as the teacher's requests crawler, and returns the deduplicated
// next level discovered from their links.
func (e *Engine) runLevel(ctx context.Context, level []frontierEntry, host string) []frontierEntry {
	jobs := make(chan frontierEntry)

	var wg sync.WaitGroup
	var nextMu sync.Mutex
	var next []frontierEntry
	var panicOnce sync.Once
	var workerPanic any

	worker := func() {
		defer wg.Done()
		// A worker panic is captured, the remaining jobs are drained, and the
		// panic is raised again on the caller's goroutine after wg.Wait.
		defer func() {
			if r := recover(); r != nil {
				panicOnce.Do(func() { workerPanic = r })
				for range jobs {
				}
			}
		}()
		for entry := range jobs {
			links := e.visitOne(ctx, entry.url)
			if entry.depth >= e.MaxDepth {
				continue
			}
			for _, raw := range links {
				abs := resolveLink(entry.url, raw)
				if abs == "" {
					continue
				}
				canon, err := urlutil.Canonicalize(abs)
				if err != nil {
					continue
				}
				parsed, err := url.Parse(canon)
				if err != nil || parsed.Host != host {
					continue
				}
				if !e.AllowPrivateHosts && urlutil.IsInternal(canon) {
					continue
				}
				if e.testAndSet(canon) {
					continue
				}
				nextMu.Lock()
				next = append(next, frontierEntry{url: canon, depth: entry.depth + 1})
				nextMu.Unlock()
			}
		}
	}

	for i := 0; i < e.Concurrency; i++ {
		wg.Add(1)
		go worker()
	}

	go func() {
		defer close(jobs)
		for _, entry := range level {
			select {
			case jobs <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	if workerPanic != nil {
		panic(workerPanic)
	}
	return next
}

// visitOne fetches a single URL (subject to robots.txt), records the
// outcome, and returns the links discovered for further enqueuing.
func (e *Engine) visitOne(ctx context.Context, canonicalURL string) []string {
	record := models.IndexRecord{
		OriginalURL:  canonicalURL,
		CanonicalURL: canonicalURL,
		Timestamp:    time.Now().UTC(),
	}

	if !e.Robots.Allowed(ctx, canonicalURL) {
		record.FetchStatus = models.FetchFailedRobotsTxt
		e.Recorder.Record(record)
		return nil
	}

	localPath, err := urlutil.URLToLocalPath(e.BaseDir, canonicalURL, e.AllowedExts)
	if err != nil {
		record.FetchStatus = models.FetchFailed
		record.ErrorMessage = err.Error()
		e.Recorder.Record(record)
		return nil
	}
	absBase, err := filepath.Abs(e.BaseDir)
	if err != nil {
		record.FetchStatus = models.FetchFailed
		record.ErrorMessage = err.Error()
		e.Recorder.Record(record)
		return nil
	}
	relPath, err := filepath.Rel(absBase, localPath)
	if err != nil {
		record.FetchStatus = models.FetchFailed
		record.ErrorMessage = err.Error()
		e.Recorder.Record(record)
		return nil
	}

	result, err := e.Fetcher.Fetch(ctx, canonicalURL, relPath, false)
	if err != nil {
		e.Logger.Printf("fetch %s: %v", canonicalURL, err)
		record.FetchStatus = models.FetchFailed
		record.ErrorMessage = err.Error()
		e.Recorder.Record(record)
		return nil
	}

	record.FetchStatus = result.Status
	record.ContentType = result.ContentType
	record.ContentMD5 = result.ContentMD5
	record.ErrorMessage = result.ErrorMessage
	if result.Status == models.FetchSuccess || result.Status == models.FetchSkipped {
		record.LocalPath = relPath
	}
	e.Recorder.Record(record)

	links := result.DetectedLinks
	if feedLinks := discoverFeedLinks(canonicalURL, localPath); len(feedLinks) > 0 {
		links = append(links, feedLinks...)
	}
	return links
}

// discoverFeedLinks augments link discovery for fetched pages that turn
// out to be Atom/RSS feeds: gofeed pulls the entry links, which the
// href/src regex in internal/fetch would otherwise miss inside <link>
// elements. Only files saved under a .html/.htm local path are parsed; a
// feed stored with another extension, such as .xml, is not.
func discoverFeedLinks(sourceURL, localPath string) []string {
	if !strings.HasSuffix(localPath, ".html") && !strings.HasSuffix(localPath, ".htm") {
		return nil
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil
	}
	fp := gofeed.NewParser()
	feed, err := fp.ParseString(string(data))
	if err != nil || feed == nil {
		return nil
	}
	links := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link != "" {
			links = append(links, item.Link)
		}
	}
	return links
}

func resolveLink(base, link string) string {
	baseParsed, err := url.Parse(base)
	if err != nil {
		return ""
	}
	refParsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return baseParsed.ResolveReference(refParsed).String()
}

// testAndSet reports whether canonicalURL was already seen, checking the
// bitset hint and falling through to the authoritative map only on a
// hit, then marking it seen if not — all under one lock acquisition, so
// concurrent workers racing on the same discovered URL still dedupe
// exactly once.
func (e *Engine) testAndSet(canonicalURL string) bool {
	h := hashURL(canonicalURL)
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	if e.seenHint.Test(h) {
		if _, ok := e.visited[canonicalURL]; ok {
			return true
		}
	}
	e.seenHint.Set(h)
	e.visited[canonicalURL] = struct{}{}
	return false
}

func hashURL(u string) uint {
	sum := sha256.Sum256([]byte(u))
	return uint(binary.BigEndian.Uint32(sum[:4])) % (1 << 20)
}
