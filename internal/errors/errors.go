// Package errors defines the error kinds the core distinguishes, generalized
// from the kinds this file originally held for the Ollama client
// (APIError/NetworkError/ValidationError) into the taxonomy the
// download-and-index subsystem needs: validation failures, per-URL fetch
// failures, robots.txt policy refusals, local I/O failures, and
// batch-fatal errors.
package errors

import "fmt"

// ValidationError represents a malformed request or invalid search
// parameter. It is surfaced directly to the submitter; no state is
// recorded for it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// FetchError represents a transient fetch failure: timeout, transport
// error, or non-2xx response. Recorded per URL as failed_request; the
// batch continues.
type FetchError struct {
	URL        string
	HTTPStatus int
	Err        error
}

func (e *FetchError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("fetch %s: http %d: %v", e.URL, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func NewFetchError(url string, httpStatus int, err error) *FetchError {
	return &FetchError{URL: url, HTTPStatus: httpStatus, Err: err}
}

// PolicyError represents a robots.txt disallow. Recorded as
// failed_robotstxt; the batch continues.
type PolicyError struct {
	URL    string
	Policy string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s disallowed by %s", e.URL, e.Policy)
}

func NewPolicyError(url, policy string) *PolicyError {
	return &PolicyError{URL: url, Policy: policy}
}

// IOError represents a local filesystem failure: path escape, write
// error, or temp-rename error. Recorded as failed for that URL; the
// batch continues unless the index itself is unwritable.
type IOError struct {
	Operation string
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error during %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func NewIOError(operation string, err error) *IOError {
	return &IOError{Operation: operation, Err: err}
}

// BatchFatalError wraps an unrecoverable error that moves a batch to
// failed: a git command failure, an unrecoverable filesystem or database
// error, or a recovered panic. Trace is a truncated stack, capped by the
// caller before wrapping.
type BatchFatalError struct {
	DownloadID string
	Err        error
	Trace      string
}

func (e *BatchFatalError) Error() string {
	return fmt.Sprintf("batch %s failed: %v", e.DownloadID, e.Err)
}

func (e *BatchFatalError) Unwrap() error { return e.Err }

func NewBatchFatalError(downloadID string, err error, trace string) *BatchFatalError {
	return &BatchFatalError{DownloadID: downloadID, Err: err, Trace: trace}
}

// NotFoundError represents a search-time "index not found" failure, kept
// distinct from other I/O errors per the error handling design.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.What) }

func NewNotFoundError(what string) *NotFoundError {
	return &NotFoundError{What: what}
}
