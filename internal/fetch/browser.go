package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"docretriever/internal/models"
)

// blockedResourcePatterns are the non-essential resource types the
// browser fetcher blocks before navigation: images, media, fonts, and
// stylesheets never contribute to the extracted documentation text.
var blockedResourcePatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.mp4", "*.webm", "*.mp3", "*.wav",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot",
	"*.css",
}

// BrowserFetcher implements Fetcher (C3): each fetch gets its own
// headless-Chrome allocator and tab, and the number of tabs one
// BrowserFetcher runs at once is bounded by sem (default <= 4). The bound
// is per fetcher instance, not process-wide: the workflow coordinator
// builds a new BrowserFetcher for each batch.
type BrowserFetcher struct {
	AllowedBase string
	Timeout     time.Duration
	ExecOpts    []chromedp.ExecAllocatorOption
	sem         chan struct{}
	Logger      *log.Logger
}

// NewBrowserFetcher builds a browser fetcher bounded to maxConcurrent
// simultaneous tabs.
func NewBrowserFetcher(allowedBase string, maxConcurrent int, timeout time.Duration, logger *log.Logger) *BrowserFetcher {
	if logger == nil {
		logger = log.New(os.Stderr, "fetch(browser): ", log.LstdFlags)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	return &BrowserFetcher{
		AllowedBase: allowedBase,
		Timeout:     timeout,
		ExecOpts:    opts,
		sem:         make(chan struct{}, maxConcurrent),
		Logger:      logger,
	}
}

// Fetch navigates to fetchURL in a fresh browser tab, waits for
// DOM-content-loaded, serializes the rendered HTML, and applies the same
// path-confinement/atomic-write/link-extraction contract as HTTPFetcher.
func (f *BrowserFetcher) Fetch(parentCtx context.Context, fetchURL, targetPath string, force bool) (models.FetchResult, error) {
	var result models.FetchResult

	target, err := confine(f.AllowedBase, targetPath)
	if err != nil {
		result.Status = models.FetchFailed
		result.ErrorMessage = err.Error()
		return result, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		result.Status = models.FetchFailed
		result.ErrorMessage = fmt.Sprintf("create parent dir: %v", err)
		return result, nil
	}
	if !force {
		if _, statErr := os.Stat(target); statErr == nil {
			result.Status = models.FetchSkipped
			return result, nil
		}
	}

	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-parentCtx.Done():
		result.Status = models.FetchFailedRequest
		result.ErrorMessage = "cancelled waiting for browser context slot"
		return result, nil
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancelTimeout := context.WithTimeout(parentCtx, timeout)
	defer cancelTimeout()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(runCtx, f.ExecOpts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var mainStatus int64
	var mainContentType string
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok {
			if e.Type == network.ResourceTypeDocument && mainStatus == 0 {
				mainStatus = e.Response.Status
				mainContentType = e.Response.MimeType
			}
		}
	})

	var html string
	err = chromedp.Run(tabCtx,
		network.Enable(),
		network.SetBlockedURLs(blockedResourcePatterns),
		chromedp.Navigate(fetchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		result.Status = models.FetchFailedRequest
		if mainStatus != 0 {
			result.HTTPStatus = int(mainStatus)
		}
		result.ErrorMessage = err.Error()
		return result, nil
	}
	if mainStatus == 0 {
		result.Status = models.FetchFailedRequest
		result.ErrorMessage = "no main navigation response observed"
		return result, nil
	}
	result.HTTPStatus = int(mainStatus)
	result.ContentType = mainContentType
	if mainStatus < 200 || mainStatus >= 300 {
		result.Status = models.FetchFailedRequest
		result.ErrorMessage = fmt.Sprintf("http %d", mainStatus)
		return result, nil
	}

	if !force {
		if _, statErr := os.Stat(target); statErr == nil {
			result.Status = models.FetchSkipped
			return result, nil
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "*.tmp")
	if err != nil {
		result.Status = models.FetchFailed
		result.ErrorMessage = fmt.Sprintf("create temp file: %v", err)
		return result, nil
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(html); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		result.Status = models.FetchFailed
		result.ErrorMessage = fmt.Sprintf("write rendered html: %v", err)
		return result, nil
	}
	tmp.Close()

	if !force {
		if _, statErr := os.Stat(target); statErr == nil {
			os.Remove(tmpPath)
			result.Status = models.FetchSkipped
			return result, nil
		}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		result.Status = models.FetchFailed
		result.ErrorMessage = fmt.Sprintf("atomic rename: %v", err)
		return result, nil
	}

	sum := md5.Sum([]byte(html))
	result.ContentMD5 = hex.EncodeToString(sum[:])
	result.Status = models.FetchSuccess
	result.DetectedLinks = extractLinks(html)
	return result, nil
}
