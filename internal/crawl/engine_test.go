package crawl

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docretriever/internal/fetch"
	"docretriever/internal/models"
	"docretriever/internal/urlutil"
)

type memRecorder struct {
	mu      sync.Mutex
	records []models.IndexRecord
}

func (m *memRecorder) Record(r models.IndexRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func (m *memRecorder) byURL(u string) (models.IndexRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.CanonicalURL == u {
			return r, true
		}
	}
	return models.IndexRecord{}, false
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/page2">p2</a><a href="/private">priv</a></body></html>`))
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>leaf page, no more links</body></html>`))
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("should never be fetched"))
	})
	return httptest.NewServer(mux)
}

func TestEngineCrawlsSameHostRespectingRobots(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	base := t.TempDir()
	httpFetcher := fetch.NewHTTPFetcher(base, 0, 0, nil)
	robots := NewRobotsChecker(srv.Client(), log.Default())
	rec := &memRecorder{}

	eng := NewEngine(httpFetcher, robots, base, rec, 3, []string{".html"}, nil, 4)
	eng.AllowPrivateHosts = true
	require.NoError(t, eng.Run(context.Background(), srv.URL+"/"))

	assert.GreaterOrEqual(t, rec.count(), 2)

	root, ok := rec.byURL(mustCanon(t, srv.URL+"/"))
	require.True(t, ok)
	assert.Equal(t, models.FetchSuccess, root.FetchStatus)
	assert.False(t, filepath.IsAbs(root.LocalPath), "local_path must be relative to the batch root, got %q", root.LocalPath)

	page2, ok := rec.byURL(mustCanon(t, srv.URL+"/page2"))
	require.True(t, ok)
	assert.Equal(t, models.FetchSuccess, page2.FetchStatus)
	assert.False(t, filepath.IsAbs(page2.LocalPath), "local_path must be relative to the batch root, got %q", page2.LocalPath)

	private, privateRecorded := rec.byURL(mustCanon(t, srv.URL+"/private"))
	require.True(t, privateRecorded, "disallowed links are still recorded, just never fetched")
	assert.Equal(t, models.FetchFailedRobotsTxt, private.FetchStatus)
	assert.Empty(t, private.LocalPath)
}

func mustCanon(t *testing.T, raw string) string {
	t.Helper()
	c, err := urlutil.Canonicalize(raw)
	require.NoError(t, err)
	return c
}
