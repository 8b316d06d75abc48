// Package gitdoc implements the Git Documentation Fetcher (C5): a
// shallow (optionally sparse) clone of a repository followed by a walk
// of the working tree for documentation files, grounded on the
// teacher's os/exec usage in tools/crawler for invoking external
// binaries.
package gitdoc

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"docretriever/internal/errors"
	"docretriever/internal/models"
)

// docExtensions is the fixed documentation extension set from spec.md
// 4.5.
var docExtensions = map[string]struct{}{
	".md":   {},
	".rst":  {},
	".html": {},
	".htm":  {},
	".txt":  {},
}

// Recorder receives one IndexRecord per enumerated documentation file.
type Recorder interface {
	Record(models.IndexRecord)
}

// Fetcher clones a repository and enumerates its documentation files.
type Fetcher struct {
	GitBinary string
	Logger    *log.Logger
}

// NewFetcher builds a Fetcher, probing for the git executable on PATH.
func NewFetcher(logger *log.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "gitdoc: ", log.LstdFlags)
	}
	path, err := exec.LookPath("git")
	if err != nil {
		return nil, errors.NewIOError("probe git executable", err)
	}
	return &Fetcher{GitBinary: path, Logger: logger}, nil
}

// Run clones repoURL (sparse to docPath when non-empty) into
// <batchRoot>/repo, re-cloning if force is true and a clone already
// exists, then emits one IndexRecord per documentation file found.
func (f *Fetcher) Run(ctx context.Context, repoURL, docPath, batchRoot string, force bool, recorder Recorder) error {
	repoDir := filepath.Join(batchRoot, "repo")

	if force {
		if _, err := os.Stat(repoDir); err == nil {
			if err := os.RemoveAll(repoDir); err != nil {
				return errors.NewIOError("remove existing clone", err)
			}
		}
	} else if _, err := os.Stat(repoDir); err == nil {
		return f.enumerate(repoURL, repoDir, batchRoot, recorder)
	}

	if err := os.MkdirAll(filepath.Dir(repoDir), 0o755); err != nil {
		return errors.NewIOError("create batch root", err)
	}

	if docPath == "" {
		if err := f.plainClone(ctx, repoURL, repoDir); err != nil {
			return err
		}
	} else {
		if err := f.sparseClone(ctx, repoURL, repoDir, docPath); err != nil {
			return err
		}
	}

	return f.enumerate(repoURL, repoDir, batchRoot, recorder)
}

func (f *Fetcher) plainClone(ctx context.Context, repoURL, repoDir string) error {
	return f.run(ctx, "", f.GitBinary, "clone", "--depth", "1", repoURL, repoDir)
}

func (f *Fetcher) sparseClone(ctx context.Context, repoURL, repoDir, docPath string) error {
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return errors.NewIOError("create repo dir", err)
	}
	steps := [][]string{
		{"init"},
		{"remote", "add", "origin", repoURL},
		{"sparse-checkout", "init", "--cone"},
		{"sparse-checkout", "set", docPath},
		{"fetch", "--depth", "1", "origin", "HEAD"},
		{"checkout", "FETCH_HEAD"},
	}
	for _, args := range steps {
		if err := f.run(ctx, repoDir, f.GitBinary, args...); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) run(ctx context.Context, dir string, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		f.Logger.Printf("git %s failed: %v: %s", strings.Join(args, " "), err, stderr.String())
		return errors.NewBatchFatalError("", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String()), "")
	}
	return nil
}

// enumerate walks repoDir for files with a documentation extension and
// emits one IndexRecord per file, with local_path relative to batchRoot.
func (f *Fetcher) enumerate(repoURL, repoDir, batchRoot string, recorder Recorder) error {
	now := time.Now().UTC()
	return filepath.WalkDir(repoDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := docExtensions[ext]; !ok {
			return nil
		}
		relToRepo, err := filepath.Rel(repoDir, path)
		if err != nil {
			return nil
		}
		relToBatch, err := filepath.Rel(batchRoot, path)
		if err != nil {
			return nil
		}
		url := fmt.Sprintf("git+%s#%s", repoURL, filepath.ToSlash(relToRepo))
		recorder.Record(models.IndexRecord{
			OriginalURL:  url,
			CanonicalURL: url,
			LocalPath:    relToBatch,
			FetchStatus:  models.FetchSuccess,
			Timestamp:    now,
		})
		return nil
	})
}
