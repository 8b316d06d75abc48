package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"docretriever/internal/errors"
	"docretriever/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS download_status (
	download_id  TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	start_time   DATETIME NOT NULL,
	end_time     DATETIME,
	error_details TEXT NOT NULL DEFAULT ''
);
`

// TaskStatusStore is the embedded relational task-status table at
// <base>/task_status.db. All operations are serialized through a single
// mutex: modernc.org/sqlite's pure-Go driver does not itself arbitrate
// writer concurrency the way a server database would.
type TaskStatusStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenTaskStatusStore opens (creating if necessary) the database at
// baseDir/task_status.db and ensures the download_status table exists.
func OpenTaskStatusStore(baseDir string) (*TaskStatusStore, error) {
	path := filepath.Join(baseDir, "task_status.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewIOError("open task status db", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewIOError("create download_status table", err)
	}
	return &TaskStatusStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *TaskStatusStore) Close() error {
	return s.db.Close()
}

// InsertOrReplace records a new submission as pending. It refuses to
// clobber a batch that is currently running, enforcing spec.md 4.6's
// "a running batch cannot accept a new submission with the same
// download_id."
func (s *TaskStatusStore) InsertOrReplace(task models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingStatus string
	err := s.db.QueryRow(`SELECT status FROM download_status WHERE download_id = ?`, task.DownloadID).Scan(&existingStatus)
	switch {
	case err == sql.ErrNoRows:
		// no prior row, fall through to insert
	case err != nil:
		return errors.NewIOError("check existing task status", err)
	case models.TaskStatusValue(existingStatus) == models.StatusRunning:
		return errors.NewValidationError("download_id", fmt.Sprintf("batch %s is already running", task.DownloadID))
	}

	_, err = s.db.Exec(`
		INSERT INTO download_status (download_id, status, message, start_time, end_time, error_details)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			error_details = excluded.error_details
	`, task.DownloadID, string(task.Status), task.Message, task.StartTime, nullableTime(task.EndTime), task.ErrorDetails)
	if err != nil {
		return errors.NewIOError("insert_or_replace task status", err)
	}
	return nil
}

// Update applies a lifecycle transition. Transitions are monotonic: once
// a batch is in a terminal state (completed/failed) every further update
// is rejected, and a running batch cannot move back to pending.
func (s *TaskStatusStore) Update(downloadID string, status models.TaskStatusValue, message string, endTime *time.Time, errorDetails string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var currentStatus string
	err := s.db.QueryRow(`SELECT status FROM download_status WHERE download_id = ?`, downloadID).Scan(&currentStatus)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("task " + downloadID)
	}
	if err != nil {
		return errors.NewIOError("read task status for update", err)
	}
	if isTerminal(models.TaskStatusValue(currentStatus)) {
		return errors.NewValidationError("status", fmt.Sprintf("batch %s already in terminal state %s", downloadID, currentStatus))
	}
	if models.TaskStatusValue(currentStatus) == models.StatusRunning && status == models.StatusPending {
		return errors.NewValidationError("status", fmt.Sprintf("batch %s cannot move from running back to pending", downloadID))
	}

	_, err = s.db.Exec(`
		UPDATE download_status
		SET status = ?, message = ?, end_time = ?, error_details = ?
		WHERE download_id = ?
	`, string(status), message, nullableTime(endTime), errorDetails, downloadID)
	if err != nil {
		return errors.NewIOError("update task status", err)
	}
	return nil
}

// Get returns the current TaskStatus for downloadID.
func (s *TaskStatusStore) Get(downloadID string) (models.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task models.TaskStatus
	var endTime sql.NullTime
	err := s.db.QueryRow(`
		SELECT download_id, status, message, start_time, end_time, error_details
		FROM download_status WHERE download_id = ?
	`, downloadID).Scan(&task.DownloadID, &task.Status, &task.Message, &task.StartTime, &endTime, &task.ErrorDetails)
	if err == sql.ErrNoRows {
		return models.TaskStatus{}, errors.NewNotFoundError("task " + downloadID)
	}
	if err != nil {
		return models.TaskStatus{}, errors.NewIOError("get task status", err)
	}
	if endTime.Valid {
		task.EndTime = &endTime.Time
	}
	return task, nil
}

func isTerminal(s models.TaskStatusValue) bool {
	return s == models.StatusCompleted || s == models.StatusFailed
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
