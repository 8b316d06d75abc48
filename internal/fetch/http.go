package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docretriever/internal/models"
)

// HTTPFetcher implements Fetcher (C2) over a shared, connection-pooled
// http.Client — one client per batch, mirroring the shared httpClient in
// the teacher's requests_crawler.go.
type HTTPFetcher struct {
	Client      *http.Client
	AllowedBase string
	MaxSize     int64
	Logger      *log.Logger
}

// NewHTTPFetcher builds a fetcher with a pooled client tuned the way the
// teacher's requests crawler tunes its shared client: bounded dial and
// handshake timeouts, idle connection reuse.
func NewHTTPFetcher(allowedBase string, maxSize int64, timeout time.Duration, logger *log.Logger) *HTTPFetcher {
	if logger == nil {
		logger = log.New(os.Stderr, "fetch(http): ", log.LstdFlags)
	}
	return &HTTPFetcher{
		AllowedBase: allowedBase,
		MaxSize:     maxSize,
		Logger:      logger,
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

const userAgent = "docretriever-crawler/1.0"

// Fetch performs a single safe HTTP GET: path confinement, a
// Content-Length pre-check, a streamed write to a sibling temp file with
// incremental MD5 and a max-size enforcement, and an atomic rename with
// a TOCTOU re-check.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, targetPath string, force bool) (models.FetchResult, error) {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = models.FetchFailedRequest
		result.ErrorMessage = err.Error()
		return result, nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		result.Status = models.FetchFailedRequest
		result.ErrorMessage = err.Error()
		return result, nil
	}
	defer resp.Body.Close()
	result.HTTPStatus = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Status = models.FetchFailedRequest
		result.ErrorMessage = fmt.Sprintf("http %d", resp.StatusCode)
		return result, nil
	}

	if f.MaxSize > 0 {
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, convErr := strconv.ParseInt(cl, 10, 64); convErr == nil && n > f.MaxSize {
				result.Status = models.FetchFailedRequest
				result.ErrorMessage = fmt.Sprintf("content-length %d exceeds max %d", n, f.MaxSize)
				return result, nil
			}
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "*.tmp")
	if err != nil {
		result.Status = models.FetchFailed
		result.ErrorMessage = fmt.Sprintf("create temp file: %v", err)
		return result, nil
	}
	tmpPath := tmp.Name()
	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			os.Remove(tmpPath)
		}
	}()

	hasher := md5.New()
	written, err := streamWithLimit(tmp, resp.Body, hasher, f.MaxSize)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		result.Status = models.FetchFailed
		if errors.Is(err, errSizeExceeded) {
			result.Status = models.FetchFailedRequest
		}
		result.ErrorMessage = fmt.Sprintf("stream body (%d bytes written): %v", written, err)
		return result, nil
	}

	// TOCTOU re-check: if the target appeared during the download and
	// force is false, drop the temp file and report skipped.
	if !force {
		if _, statErr := os.Stat(target); statErr == nil {
			result.Status = models.FetchSkipped
			return result, nil
		}
	}

	if err := os.Rename(tmpPath, target); err != nil {
		result.Status = models.FetchFailed
		result.ErrorMessage = fmt.Sprintf("atomic rename: %v", err)
		return result, nil
	}
	cleanupTemp = false

	result.Status = models.FetchSuccess
	result.ContentMD5 = hex.EncodeToString(hasher.Sum(nil))

	if sample, readErr := readSample(target, 1024*1024); readErr == nil {
		result.DetectedLinks = extractLinks(sample)
	} else {
		f.Logger.Printf("link extraction skipped for %s: %v", target, readErr)
	}

	return result, nil
}

var errSizeExceeded = errors.New("body exceeds max_size during streaming")

// streamWithLimit copies src into dst while also feeding a hasher,
// enforcing maxSize (0 = unbounded) during the copy rather than after.
func streamWithLimit(dst io.Writer, src io.Reader, hasher io.Writer, maxSize int64) (int64, error) {
	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if maxSize > 0 && total > maxSize {
				return total, errSizeExceeded
			}
			if _, wErr := dst.Write(buf[:n]); wErr != nil {
				return total, wErr
			}
			hasher.Write(buf[:n])
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, readErr
		}
	}
}

func readSample(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// confine resolves targetPath against allowedBase (treating a relative
// targetPath as relative to it) and fails if the result escapes the
// base directory.
func confine(allowedBase, targetPath string) (string, error) {
	absBase, err := filepath.Abs(allowedBase)
	if err != nil {
		return "", fmt.Errorf("resolve allowed base: %w", err)
	}
	var candidate string
	if filepath.IsAbs(targetPath) {
		candidate = filepath.Clean(targetPath)
	} else {
		candidate = filepath.Join(absBase, targetPath)
	}
	rel, err := filepath.Rel(absBase, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("target path %q escapes allowed base %q", targetPath, absBase)
	}
	return candidate, nil
}
