// Package workflow implements the Workflow Coordinator: it validates a
// DownloadRequest, dispatches it to the crawl engine or the git fetcher,
// drives the task-status state machine, and recovers panics into a
// BatchFatalError the way the teacher's chat command wraps a recovered
// panic before responding.
package workflow

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"docretriever/internal/config"
	"docretriever/internal/crawl"
	"docretriever/internal/errors"
	"docretriever/internal/fetch"
	"docretriever/internal/gitdoc"
	"docretriever/internal/models"
	"docretriever/internal/store"
	"docretriever/internal/urlutil"
)

// Coordinator dispatches validated DownloadRequests to the appropriate
// fetch subsystem and records their lifecycle in the task-status store.
type Coordinator struct {
	Config     config.Config
	TaskStatus *store.TaskStatusStore
	Logger     *log.Logger

	// AllowPrivateHosts opts out of the SSRF guard, for operators who
	// deliberately point the crawler at an intranet documentation host.
	AllowPrivateHosts bool
}

// NewCoordinator builds a Coordinator rooted at cfg.BaseDir, opening the
// shared task-status store.
func NewCoordinator(cfg config.Config, logger *log.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "workflow: ", log.LstdFlags)
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, errors.NewIOError("create base dir", err)
	}
	ts, err := store.OpenTaskStatusStore(cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	return &Coordinator{Config: cfg, TaskStatus: ts, Logger: logger}, nil
}

// Close closes the task-status store.
func (c *Coordinator) Close() error {
	return c.TaskStatus.Close()
}

// Validate applies the request-shape rules from spec.md §6, defaulting
// depth and download_id, and rejecting SSRF-blocked URLs. A
// website/browser Depth of 0 or less counts as omitted and becomes
// Config.DefaultWebDepth.
func (c *Coordinator) Validate(req *models.DownloadRequest) error {
	switch req.Kind {
	case models.SourceGit:
		if req.RepoURL == "" {
			return errors.NewValidationError("repo_url", "required for kind=git")
		}
		if req.URL != "" {
			return errors.NewValidationError("url", "disallowed for kind=git")
		}
	case models.SourceWebsite, models.SourceBrowser:
		if req.URL == "" {
			return errors.NewValidationError("url", "required for kind=website/browser")
		}
		if req.RepoURL != "" || req.DocPath != "" {
			return errors.NewValidationError("repo_url/doc_path", "disallowed for kind=website/browser")
		}
		if req.Depth <= 0 {
			req.Depth = c.Config.DefaultWebDepth
		}
		if !c.AllowPrivateHosts && urlutil.IsInternal(req.URL) {
			return errors.NewValidationError("url", "resolves to an internal/reserved address")
		}
	default:
		return errors.NewValidationError("kind", fmt.Sprintf("unknown source kind %q", req.Kind))
	}

	seed := req.URL
	if seed == "" {
		seed = req.RepoURL
	}
	req.DownloadID = urlutil.SanitizeDownloadID(req.DownloadID, []byte(seed))

	if req.TimeoutRequests <= 0 {
		req.TimeoutRequests = c.Config.TimeoutRequests
	}
	if req.TimeoutBrowser <= 0 {
		req.TimeoutBrowser = c.Config.TimeoutBrowser
	}
	if req.MaxFileSizeBytes <= 0 {
		req.MaxFileSizeBytes = c.Config.MaxFileSizeBytes
	}
	return nil
}

// Submit validates req, registers it as pending, then runs it
// synchronously to completion, updating the task-status store through
// running → completed/failed. A panic anywhere in the dispatched work is
// recovered into a BatchFatalError and recorded against the batch
// instead of crashing the caller.
func (c *Coordinator) Submit(ctx context.Context, req models.DownloadRequest) (err error) {
	if verr := c.Validate(&req); verr != nil {
		return verr
	}

	now := time.Now().UTC()
	if err := c.TaskStatus.InsertOrReplace(models.TaskStatus{
		DownloadID: req.DownloadID,
		Status:     models.StatusPending,
		StartTime:  now,
	}); err != nil {
		return err
	}

	if err := c.TaskStatus.Update(req.DownloadID, models.StatusRunning, "dispatching", nil, ""); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			trace := string(debug.Stack())
			if len(trace) > 4096 {
				trace = trace[:4096]
			}
			batchErr := errors.NewBatchFatalError(req.DownloadID, fmt.Errorf("panic: %v", r), trace)
			end := time.Now().UTC()
			_ = c.TaskStatus.Update(req.DownloadID, models.StatusFailed, "panic recovered", &end, batchErr.Error())
			err = batchErr
		}
	}()

	runErr := c.run(ctx, req)
	end := time.Now().UTC()
	if runErr != nil {
		_ = c.TaskStatus.Update(req.DownloadID, models.StatusFailed, "batch failed", &end, runErr.Error())
		return runErr
	}
	return c.TaskStatus.Update(req.DownloadID, models.StatusCompleted, "batch completed", &end, "")
}

func (c *Coordinator) run(ctx context.Context, req models.DownloadRequest) error {
	batchRoot := filepath.Join(c.Config.BaseDir, "content", req.DownloadID)
	if err := os.MkdirAll(batchRoot, 0o755); err != nil {
		return errors.NewIOError("create batch content root", err)
	}

	indexWriter, err := store.NewIndexWriter(c.Config.BaseDir, req.DownloadID)
	if err != nil {
		return err
	}
	defer indexWriter.Close()

	switch req.Kind {
	case models.SourceGit:
		gf, err := gitdoc.NewFetcher(c.Logger)
		if err != nil {
			return errors.NewBatchFatalError(req.DownloadID, err, "")
		}
		if err := gf.Run(ctx, req.RepoURL, req.DocPath, batchRoot, req.Force, indexWriter); err != nil {
			return err
		}
	case models.SourceWebsite, models.SourceBrowser:
		var fetcher fetch.Fetcher
		concurrency := c.Config.MaxConcurrentHTTPRequests
		if req.Kind == models.SourceWebsite {
			fetcher = fetch.NewHTTPFetcher(batchRoot, req.MaxFileSizeBytes, req.TimeoutRequests, c.Logger)
		} else {
			concurrency = c.Config.MaxConcurrentBrowserContexts
			fetcher = fetch.NewBrowserFetcher(batchRoot, c.Config.MaxConcurrentBrowserContexts, req.TimeoutBrowser, c.Logger)
		}
		robots := crawl.NewRobotsChecker(&http.Client{Timeout: req.TimeoutRequests}, c.Logger)
		engine := crawl.NewEngine(fetcher, robots, batchRoot, indexWriter, req.Depth, c.Config.PathAllowedExtensions, c.Logger, concurrency)
		engine.AllowPrivateHosts = c.AllowPrivateHosts
		if err := engine.Run(ctx, req.URL); err != nil {
			return err
		}
	default:
		return errors.NewValidationError("kind", fmt.Sprintf("unknown source kind %q", req.Kind))
	}
	return nil
}
