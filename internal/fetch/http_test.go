package fetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docretriever/internal/models"
)

func TestHTTPFetcherSuccessWritesFileAndExtractsLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/other">next</a></body></html>`))
	}))
	defer srv.Close()

	base := t.TempDir()
	f := NewHTTPFetcher(base, 1<<20, 5*time.Second, nil)

	result, err := f.Fetch(t.Context(), srv.URL, "page.html", false)
	require.NoError(t, err)
	assert.Equal(t, models.FetchSuccess, result.Status)
	assert.Equal(t, 200, result.HTTPStatus)
	assert.NotEmpty(t, result.ContentMD5)
	assert.Contains(t, result.DetectedLinks, "/other")

	data, err := os.ReadFile(filepath.Join(base, "page.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "next")
}

func TestHTTPFetcherSkipsExistingWithoutForce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "page.html"), []byte("stale"), 0o644))

	f := NewHTTPFetcher(base, 0, 5*time.Second, nil)
	result, err := f.Fetch(t.Context(), srv.URL, "page.html", false)
	require.NoError(t, err)
	assert.Equal(t, models.FetchSkipped, result.Status)

	data, err := os.ReadFile(filepath.Join(base, "page.html"))
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))
}

func TestHTTPFetcherForceOverwritesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "page.html"), []byte("stale"), 0o644))

	f := NewHTTPFetcher(base, 0, 5*time.Second, nil)
	result, err := f.Fetch(t.Context(), srv.URL, "page.html", true)
	require.NoError(t, err)
	assert.Equal(t, models.FetchSuccess, result.Status)

	data, err := os.ReadFile(filepath.Join(base, "page.html"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestHTTPFetcherNon2xxReportsFailedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	base := t.TempDir()
	f := NewHTTPFetcher(base, 0, 5*time.Second, nil)
	result, err := f.Fetch(t.Context(), srv.URL, "missing.html", false)
	require.NoError(t, err)
	assert.Equal(t, models.FetchFailedRequest, result.Status)
	assert.Equal(t, 404, result.HTTPStatus)

	_, statErr := os.Stat(filepath.Join(base, "missing.html"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestHTTPFetcherEnforcesMaxSizeDuringStreaming(t *testing.T) {
	payload := strings.Repeat("a", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing the headers first sends the body chunked, with no
		// Content-Length, so the limit is hit while streaming rather than
		// by the Content-Length pre-check.
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	base := t.TempDir()
	f := NewHTTPFetcher(base, 10, 5*time.Second, nil)
	result, err := f.Fetch(t.Context(), srv.URL, "big.html", false)
	require.NoError(t, err)
	assert.Equal(t, models.FetchFailedRequest, result.Status)

	entries, _ := os.ReadDir(base)
	assert.Empty(t, entries, "temp file must not survive a size-limit failure")
}

func TestConfineRejectsPathEscape(t *testing.T) {
	base := t.TempDir()
	_, err := confine(base, "../../etc/passwd")
	assert.Error(t, err)
}
