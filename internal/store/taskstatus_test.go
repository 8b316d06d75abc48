package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docretriever/internal/models"
)

func TestTaskStatusLifecycle(t *testing.T) {
	base := t.TempDir()
	s, err := OpenTaskStatusStore(base)
	require.NoError(t, err)
	defer s.Close()

	start := time.Now().UTC()
	require.NoError(t, s.InsertOrReplace(models.TaskStatus{
		DownloadID: "dl_1",
		Status:     models.StatusPending,
		StartTime:  start,
	}))

	got, err := s.Get("dl_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.EndTime)

	require.NoError(t, s.Update("dl_1", models.StatusRunning, "crawling", nil, ""))
	got, err = s.Get("dl_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)

	end := time.Now().UTC()
	require.NoError(t, s.Update("dl_1", models.StatusCompleted, "done", &end, ""))
	got, err = s.Get("dl_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
}

func TestTaskStatusRefusesResubmissionWhileRunning(t *testing.T) {
	base := t.TempDir()
	s, err := OpenTaskStatusStore(base)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.InsertOrReplace(models.TaskStatus{
		DownloadID: "dl_2",
		Status:     models.StatusPending,
		StartTime:  time.Now().UTC(),
	}))
	require.NoError(t, s.Update("dl_2", models.StatusRunning, "", nil, ""))

	err = s.InsertOrReplace(models.TaskStatus{
		DownloadID: "dl_2",
		Status:     models.StatusPending,
		StartTime:  time.Now().UTC(),
	})
	assert.Error(t, err)
}

func TestTaskStatusRejectsTransitionFromTerminalState(t *testing.T) {
	base := t.TempDir()
	s, err := OpenTaskStatusStore(base)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.InsertOrReplace(models.TaskStatus{
		DownloadID: "dl_3",
		Status:     models.StatusPending,
		StartTime:  time.Now().UTC(),
	}))
	require.NoError(t, s.Update("dl_3", models.StatusFailed, "boom", nil, "boom"))

	err = s.Update("dl_3", models.StatusRunning, "retry", nil, "")
	assert.Error(t, err)
}

func TestTaskStatusGetMissingReturnsNotFound(t *testing.T) {
	base := t.TempDir()
	s, err := OpenTaskStatusStore(base)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("dl_nonexistent")
	assert.Error(t, err)
}
