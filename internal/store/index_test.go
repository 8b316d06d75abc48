package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docretriever/internal/models"
)

func TestIndexWriterAppendsAndReadTolerant(t *testing.T) {
	base := t.TempDir()
	w, err := NewIndexWriter(base, "dl_abc123")
	require.NoError(t, err)

	w.Record(models.IndexRecord{
		OriginalURL:  "https://example.com/a",
		CanonicalURL: "https://example.com/a",
		FetchStatus:  models.FetchSuccess,
		Timestamp:    time.Now().UTC(),
	})
	w.Record(models.IndexRecord{
		OriginalURL:  "https://example.com/b",
		CanonicalURL: "https://example.com/b",
		FetchStatus:  models.FetchFailedRequest,
		Timestamp:    time.Now().UTC(),
	})
	require.NoError(t, w.Close())

	// Append a malformed line directly; readers must skip it, not fail.
	path := filepath.Join(base, "index", "dl_abc123.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := ReadIndex(base, "dl_abc123")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "https://example.com/a", records[0].OriginalURL)
	assert.Equal(t, models.FetchFailedRequest, records[1].FetchStatus)
}

func TestReadIndexMissingReturnsNotFound(t *testing.T) {
	base := t.TempDir()
	_, err := ReadIndex(base, "dl_missing")
	assert.Error(t, err)
}
