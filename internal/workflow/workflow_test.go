package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docretriever/internal/config"
	"docretriever/internal/models"
	"docretriever/internal/store"
)

func TestValidateDefaultsDepthAndSanitizesDownloadID(t *testing.T) {
	c := &Coordinator{Config: config.Defaults(), AllowPrivateHosts: true}
	req := models.DownloadRequest{Kind: models.SourceWebsite, URL: "https://docs.example.com/", DownloadID: "my repo!!"}
	require.NoError(t, c.Validate(&req))
	assert.Equal(t, 5, req.Depth)
	assert.Equal(t, "my_repo_", req.DownloadID)
}

func TestValidateGitRejectsURLField(t *testing.T) {
	c := &Coordinator{Config: config.Defaults()}
	req := models.DownloadRequest{Kind: models.SourceGit, RepoURL: "https://github.com/a/b.git", URL: "https://example.com"}
	assert.Error(t, c.Validate(&req))
}

func TestValidateWebsiteRejectsInternalHost(t *testing.T) {
	c := &Coordinator{Config: config.Defaults()}
	req := models.DownloadRequest{Kind: models.SourceWebsite, URL: "http://127.0.0.1/secret"}
	assert.Error(t, c.Validate(&req))
}

func TestValidateEmptyDownloadIDFallsBackToHashBasedID(t *testing.T) {
	c := &Coordinator{Config: config.Defaults()}
	req := models.DownloadRequest{Kind: models.SourceGit, RepoURL: "https://github.com/a/b.git"}
	require.NoError(t, c.Validate(&req))
	assert.Regexp(t, `^dl_[0-9a-f]{8}$`, req.DownloadID)
}

func TestSubmitRefusesResubmissionWhileRunningIsEnforcedByStore(t *testing.T) {
	base := t.TempDir()
	ts, err := store.OpenTaskStatusStore(base)
	require.NoError(t, err)
	defer ts.Close()

	cfg := config.Defaults().WithBaseDir(base)
	c := &Coordinator{Config: cfg, TaskStatus: ts, AllowPrivateHosts: true}

	require.NoError(t, ts.InsertOrReplace(models.TaskStatus{DownloadID: "dl_running"}))
	require.NoError(t, ts.Update("dl_running", models.StatusRunning, "", nil, ""))

	req := models.DownloadRequest{Kind: models.SourceWebsite, URL: "https://docs.example.com/", DownloadID: "dl_running"}
	err = c.Submit(context.Background(), req)
	assert.Error(t, err)
}

func TestSubmitWebsiteCompletesAndRecordsIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>leaf</body></html>`))
	}))
	defer srv.Close()

	base := t.TempDir()
	ts, err := store.OpenTaskStatusStore(base)
	require.NoError(t, err)
	defer ts.Close()

	cfg := config.Defaults().WithBaseDir(base)
	c := &Coordinator{Config: cfg, TaskStatus: ts, AllowPrivateHosts: true}

	req := models.DownloadRequest{Kind: models.SourceWebsite, URL: srv.URL + "/", DownloadID: "dl_done", Depth: 1}
	require.NoError(t, c.Submit(context.Background(), req))

	status, err := ts.Get("dl_done")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)

	records, err := store.ReadIndex(base, "dl_done")
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, models.FetchSuccess, records[0].FetchStatus)
}
