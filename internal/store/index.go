// Package store implements the Index & Task-Status Store (C6): an
// append-only JSONL index per batch, and an embedded relational
// task-status table.
package store

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"docretriever/internal/errors"
	"docretriever/internal/models"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// IndexWriter appends IndexRecords to <base>/index/<download_id>.jsonl.
// Appends are serialized so each line is a complete JSON object even
// under concurrent Record calls from crawl/gitdoc workers.
type IndexWriter struct {
	mu   sync.Mutex
	file *os.File
}

// NewIndexWriter opens (creating if necessary) the JSONL index file for
// downloadID under baseDir/index.
func NewIndexWriter(baseDir, downloadID string) (*IndexWriter, error) {
	dir := filepath.Join(baseDir, "index")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewIOError("create index dir", err)
	}
	path := filepath.Join(dir, downloadID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.NewIOError("open index file", err)
	}
	return &IndexWriter{file: f}, nil
}

// Record appends one IndexRecord as a single JSON line. Write errors are
// not swallowed here — Record itself has no error return to keep it
// satisfying the engine's fire-and-forget Recorder interface, so failures
// panic, and workflow.Coordinator.Submit recovers the panic and marks the
// batch failed: an unwritable index is a BatchFatalError condition by
// spec.md 4.6.
func (w *IndexWriter) Record(rec models.IndexRecord) {
	line, err := jsonAPI.Marshal(rec)
	if err != nil {
		panic(errors.NewIOError("marshal index record", err))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		panic(errors.NewIOError("append index record", err))
	}
}

// Close flushes and closes the underlying file.
func (w *IndexWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadIndex reads every parseable line from the JSONL index file for
// downloadID, skipping malformed lines rather than failing the whole
// read, per spec.md 4.6's "readers must tolerate and skip unparsable
// lines".
func ReadIndex(baseDir, downloadID string) ([]models.IndexRecord, error) {
	path := filepath.Join(baseDir, "index", downloadID+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("index for " + downloadID)
		}
		return nil, errors.NewIOError("open index file", err)
	}
	defer f.Close()

	var records []models.IndexRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec models.IndexRecord
		if err := jsonAPI.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
