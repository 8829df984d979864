package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certctl/internal/execution"
)

// testClient points a Client at an httptest server.
func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

const runTreeJSON = `{
	"id": 42,
	"title": "nightly",
	"state": "executing",
	"project_id": 1,
	"test_suite_executions": [
		{
			"id": 100,
			"state": "executing",
			"test_suite_metadata": {"title": "FirstChipToolSuite", "public_id": "FirstChipToolSuite"},
			"test_case_executions": [
				{
					"id": 200,
					"state": "passed",
					"public_id": "TC-ACE-1.1",
					"test_case_metadata": {"title": "Access Control Cluster", "public_id": "TC-ACE-1.1"},
					"test_step_executions": [
						{"id": 300, "title": "Start chip-tool", "state": "passed"},
						{"id": 301, "title": "Commission device", "state": "pending"}
					]
				}
			]
		}
	]
}`

func TestCreateRun(t *testing.T) {
	var gotBody createRunBody

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/test_run_executions/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(runTreeJSON))
	}))

	selection := TestSelection{
		"SDK YAML Tests": {"FirstChipToolSuite": {"TC-ACE-1.1": 1}},
	}
	run, err := client.CreateRun(context.Background(), RunCreate{Title: "nightly", ProjectID: 1}, selection)
	require.NoError(t, err)

	assert.Equal(t, "nightly", gotBody.TestRunExecutionIn.Title)
	assert.Equal(t, 1, gotBody.TestRunExecutionIn.ProjectID)
	assert.Equal(t, selection, gotBody.SelectedTests)

	assert.Equal(t, 42, run.ID)
	assert.Equal(t, execution.StateExecuting, run.State)
	require.Len(t, run.Suites, 1)
	suite := run.Suites[0]
	assert.Equal(t, "FirstChipToolSuite", suite.Title)
	require.Len(t, suite.Cases, 1)
	assert.Equal(t, "TC-ACE-1.1", suite.Cases[0].PublicID)
	require.Len(t, suite.Cases[0].Steps, 2)
	assert.Equal(t, execution.StatePending, suite.Cases[0].Steps[1].State)
}

func TestFetchRun(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/test_run_executions/42", r.URL.Path)
		w.Write([]byte(runTreeJSON))
	}))

	run, err := client.FetchRun(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, run.ID)
	assert.Equal(t, "nightly", run.Title)
}

func TestBackendErrorDetail(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "project not found"}`))
	}))

	_, err := client.CreateRun(context.Background(), RunCreate{Title: "x", ProjectID: 999}, nil)
	require.Error(t, err)

	var serr *SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnprocessableEntity, serr.StatusCode)
	assert.Contains(t, serr.Error(), "project not found")
	assert.Contains(t, serr.Error(), "create test run execution")
}

func TestRunnerStatus(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/test_run_executions/status", r.URL.Path)
		w.Write([]byte(`{"state": "running", "test_run_execution_id": 42}`))
	}))

	status, err := client.RunnerStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", status.State)
	require.NotNil(t, status.TestRunExecutionID)
	assert.Equal(t, 42, *status.TestRunExecutionID)
}

func TestAbort(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/test_run_executions/abort_testing", r.URL.Path)
		w.Write([]byte(`{"detail": "Testing aborted"}`))
	}))

	detail, err := client.Abort(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Testing aborted", detail)
}

func TestRunHistoryPagination(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("skip"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[{"id": 1, "title": "first", "state": "passed"}]`))
	}))

	runs, err := client.RunHistory(context.Background(), 10, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "first", runs[0].Title)
}

func TestRunLogDownload(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/test_run_executions/42/log", r.URL.Path)
		w.Write([]byte("INFO | starting\n"))
	}))

	log, err := client.RunLog(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "INFO | starting\n", log)
}

func TestProjectsRoundTrip(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"id": 3, "name": "matter-lab"}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		default:
			w.Write([]byte(`[{"id": 3, "name": "matter-lab"}]`))
		}
	}))

	created, err := client.CreateProject(context.Background(), ProjectCreate{Name: "matter-lab"})
	require.NoError(t, err)
	assert.Equal(t, 3, created.ID)

	projects, err := client.Projects(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, projects, 1)

	require.NoError(t, client.DeleteProject(context.Background(), 3))
}

func TestFeedURL(t *testing.T) {
	client := NewClient("example.com:8000")
	assert.Equal(t, "ws://example.com:8000/api/v1/ws", client.FeedURL())
}

func TestSubmissionErrorsAreNotRetried(t *testing.T) {
	calls := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.StartRun(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "run submissions must not be replayed")
}
