// Package models defines the wire and in-process data shapes shared
// across the download-and-index subsystem and the two-phase searcher:
// DownloadRequest, TaskStatus, IndexRecord, ContentBlock, and
// SearchResultItem.
package models

import "time"

// SourceKind is the tagged-variant discriminant for DownloadRequest.
type SourceKind string

const (
	SourceGit     SourceKind = "git"
	SourceWebsite SourceKind = "website"
	SourceBrowser SourceKind = "browser"
)

// DownloadRequest is the tagged request the Workflow Coordinator
// dispatches to either the git fetcher or the recursive crawl engine.
type DownloadRequest struct {
	Kind SourceKind

	// git
	RepoURL string
	DocPath string

	// website / browser
	URL   string
	Depth int

	Force      bool
	DownloadID string

	TimeoutRequests  time.Duration
	TimeoutBrowser   time.Duration
	MaxFileSizeBytes int64
}

// TaskStatusValue is the closed enum backing TaskStatus.Status.
type TaskStatusValue string

const (
	StatusPending   TaskStatusValue = "pending"
	StatusRunning   TaskStatusValue = "running"
	StatusCompleted TaskStatusValue = "completed"
	StatusFailed    TaskStatusValue = "failed"
)

// TaskStatus records the lifecycle of one batch. One row per
// download_id in the task-status store.
type TaskStatus struct {
	DownloadID   string
	Status       TaskStatusValue
	Message      string
	StartTime    time.Time
	EndTime      *time.Time
	ErrorDetails string
}

// FetchStatus is the closed enum recorded per attempted fetch.
type FetchStatus string

const (
	FetchSuccess          FetchStatus = "success"
	FetchSkipped          FetchStatus = "skipped"
	FetchFailedRequest    FetchStatus = "failed_request"
	FetchFailedRobotsTxt  FetchStatus = "failed_robotstxt"
	FetchFailed           FetchStatus = "failed"
)

// FetchResult is the outcome of a single fetcher invocation (C2/C3). A
// fetcher never throws past its own boundary — every outcome, including
// failure, is described here.
type FetchResult struct {
	Status        FetchStatus
	HTTPStatus    int
	ContentType   string
	ContentMD5    string
	DetectedLinks []string
	ErrorMessage  string
}

// IndexRecord is one JSON object appended per attempted fetch, in crawl
// completion order.
type IndexRecord struct {
	OriginalURL   string      `json:"original_url"`
	CanonicalURL  string      `json:"canonical_url"`
	LocalPath     string      `json:"local_path,omitempty"`
	FetchStatus   FetchStatus `json:"fetch_status"`
	ContentType   string      `json:"content_type,omitempty"`
	ContentMD5    string      `json:"content_md5,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// BlockType is the closed enum backing ContentBlock.Type.
type BlockType string

const (
	BlockText BlockType = "text"
	BlockCode BlockType = "code"
	BlockJSON BlockType = "json"
)

// ContentBlock is produced transiently by the advanced searcher. It
// references only its own string content and never holds a file open
// across a suspension point.
type ContentBlock struct {
	Type      BlockType
	Content   string
	Language  string
	BlockType string
	StartLine int
	EndLine   int
	SourceURL string
	Metadata  map[string]any
}

// SearchResultItem is one surviving snippet returned by the searcher.
type SearchResultItem struct {
	OriginalURL      string
	LocalPath        string
	ContentPreview   string
	MatchDetails     string
	SelectorMatched  string
	ContentBlock     *ContentBlock
	CodeBlockScore   *float64
	JSONMatchInfo    map[string]any
	SearchContext    string
}

// SearchRequest is the input to the two-phase searcher.
type SearchRequest struct {
	DownloadID      string
	ScanKeywords    []string
	ExtractSelector string
	ExtractKeywords []string
	Limit           int
}
