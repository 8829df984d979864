// Package api is the typed client for the certification backend's REST
// API. The live feed itself lives in internal/stream; everything
// request/response shaped goes through here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"certctl/internal/execution"
	"certctl/pkg/logging"
)

const clientSubsystem = "api-client"

// SubmissionError is a fatal backend rejection: surfaced immediately,
// never retried.
type SubmissionError struct {
	Operation  string
	StatusCode int
	Detail     string
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("failed to %s", e.Operation)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Client talks to one backend instance.
type Client struct {
	baseURL string
	// reads retries transient failures; writes must not retry, since a
	// replayed submission could start a second run.
	reads  *retryablehttp.Client
	writes *retryablehttp.Client
}

// NewClient builds a client for the given backend host (host or
// host:port, no scheme).
func NewClient(hostname string) *Client {
	reads := retryablehttp.NewClient()
	reads.RetryMax = 3
	reads.RetryWaitMin = 250 * time.Millisecond
	reads.RetryWaitMax = 2 * time.Second
	reads.Logger = nil

	writes := retryablehttp.NewClient()
	writes.RetryMax = 0
	writes.Logger = nil

	return &Client{
		baseURL: fmt.Sprintf("http://%s/api/v1", hostname),
		reads:   reads,
		writes:  writes,
	}
}

// FeedURL returns the websocket endpoint for the live update feed.
func (c *Client) FeedURL() string {
	return "ws" + c.baseURL[len("http"):] + "/ws"
}

func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, method, path string, body any, out any, operation string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return &SubmissionError{Operation: operation, Detail: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SubmissionError{Operation: operation, StatusCode: resp.StatusCode, Detail: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SubmissionError{Operation: operation, StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &SubmissionError{Operation: operation, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("decoding response: %v", err)}
		}
	}
	return nil
}

// errorDetail pulls the backend's {"detail": ...} message out of an error
// body, falling back to the raw body.
func errorDetail(data []byte) string {
	var wrapper struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Detail != nil {
		return fmt.Sprintf("%v", wrapper.Detail)
	}
	return string(data)
}

// CreateRun registers a new run execution from the selected tests.
func (c *Client) CreateRun(ctx context.Context, in RunCreate, selection TestSelection) (*execution.RunExecution, error) {
	var wire runExecutionWire
	body := createRunBody{TestRunExecutionIn: in, SelectedTests: selection}
	if err := c.do(ctx, c.writes, http.MethodPost, "/test_run_executions/", body, &wire, "create test run execution"); err != nil {
		return nil, err
	}
	return wire.toExecution(), nil
}

// StartRun asks the backend to begin executing a created run.
func (c *Client) StartRun(ctx context.Context, runID int) (*execution.RunExecution, error) {
	var wire runExecutionWire
	path := fmt.Sprintf("/test_run_executions/%d/start", runID)
	if err := c.do(ctx, c.writes, http.MethodPost, path, nil, &wire, "start test run execution"); err != nil {
		return nil, err
	}
	return wire.toExecution(), nil
}

// FetchRun reads the full run tree, used to seed and resynchronize the
// mirror. Satisfies stream.SnapshotFetcher.
func (c *Client) FetchRun(ctx context.Context, runID int) (*execution.RunExecution, error) {
	var wire runExecutionWire
	path := fmt.Sprintf("/test_run_executions/%d", runID)
	if err := c.do(ctx, c.reads, http.MethodGet, path, nil, &wire, "fetch test run execution"); err != nil {
		return nil, err
	}
	return wire.toExecution(), nil
}

// Abort cancels whatever the backend's runner is currently executing.
func (c *Client) Abort(ctx context.Context) (string, error) {
	var out map[string]any
	if err := c.do(ctx, c.writes, http.MethodPost, "/test_run_executions/abort_testing", nil, &out, "abort testing"); err != nil {
		return "", err
	}
	if detail, ok := out["detail"].(string); ok {
		return detail, nil
	}
	return "Testing aborted", nil
}

// RunnerStatus reads the backend runner's current state.
func (c *Client) RunnerStatus(ctx context.Context) (*RunnerStatus, error) {
	var out RunnerStatus
	if err := c.do(ctx, c.reads, http.MethodGet, "/test_run_executions/status", nil, &out, "get test runner status"); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunHistory lists past run executions. Zero skip/limit use the backend
// defaults.
func (c *Client) RunHistory(ctx context.Context, skip, limit int) ([]RunSummary, error) {
	path := "/test_run_executions/"
	sep := "?"
	if skip > 0 {
		path += fmt.Sprintf("%sskip=%d", sep, skip)
		sep = "&"
	}
	if limit > 0 {
		path += fmt.Sprintf("%slimit=%d", sep, limit)
	}
	var out []RunSummary
	if err := c.do(ctx, c.reads, http.MethodGet, path, nil, &out, "fetch test run execution history"); err != nil {
		return nil, err
	}
	return out, nil
}

// RunLog downloads a run's execution log as plain text.
func (c *Client) RunLog(ctx context.Context, runID int) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/test_run_executions/%d/log?json_entries=false&download=false", c.baseURL, runID), nil)
	if err != nil {
		return "", fmt.Errorf("building log request: %w", err)
	}
	resp, err := c.reads.Do(req)
	if err != nil {
		return "", &SubmissionError{Operation: "fetch test run execution log", Detail: err.Error()}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{Operation: "fetch test run execution log", StatusCode: resp.StatusCode, Detail: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubmissionError{Operation: "fetch test run execution log", StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	return string(data), nil
}

// TestCollections lists the available test collections.
func (c *Client) TestCollections(ctx context.Context) (*TestCollections, error) {
	var out TestCollections
	if err := c.do(ctx, c.reads, http.MethodGet, "/test_collections/", nil, &out, "get available tests"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Projects lists projects, optionally a single one by id.
func (c *Client) Projects(ctx context.Context, id int) ([]Project, error) {
	if id > 0 {
		var p Project
		path := fmt.Sprintf("/projects/%d", id)
		if err := c.do(ctx, c.reads, http.MethodGet, path, nil, &p, "fetch project"); err != nil {
			return nil, err
		}
		return []Project{p}, nil
	}
	var out []Project
	if err := c.do(ctx, c.reads, http.MethodGet, "/projects/", nil, &out, "list projects"); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProject registers a new project.
func (c *Client) CreateProject(ctx context.Context, in ProjectCreate) (*Project, error) {
	var out Project
	if err := c.do(ctx, c.writes, http.MethodPost, "/projects/", in, &out, "create project"); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProject replaces a project's config.
func (c *Client) UpdateProject(ctx context.Context, id int, in ProjectCreate) (*Project, error) {
	var out Project
	path := fmt.Sprintf("/projects/%d", id)
	if err := c.do(ctx, c.writes, http.MethodPut, path, in, &out, "update project"); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, id int) error {
	path := fmt.Sprintf("/projects/%d", id)
	if err := c.do(ctx, c.writes, http.MethodDelete, path, nil, nil, "delete project"); err != nil {
		return err
	}
	logging.Debug(clientSubsystem, "deleted project %d", id)
	return nil
}
