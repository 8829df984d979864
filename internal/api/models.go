package api

import (
	"time"

	"certctl/internal/execution"
)

// TestSelection is the nested selection map the backend expects:
// collection name -> suite id -> case id -> iterations.
type TestSelection map[string]map[string]map[string]int

// RunCreate is the payload for creating a run execution.
type RunCreate struct {
	Title     string `json:"title"`
	ProjectID int    `json:"project_id"`
}

type createRunBody struct {
	TestRunExecutionIn RunCreate     `json:"test_run_execution_in"`
	SelectedTests      TestSelection `json:"selected_tests"`
}

// Wire shapes for the run execution tree, as served by the backend.

type runExecutionWire struct {
	ID                  int                 `json:"id"`
	Title               string              `json:"title"`
	State               string              `json:"state"`
	ProjectID           int                 `json:"project_id"`
	OperatorID          int                 `json:"operator_id"`
	CreatedAt           *time.Time          `json:"created_at"`
	StartedAt           *time.Time          `json:"started_at"`
	CompletedAt         *time.Time          `json:"completed_at"`
	TestSuiteExecutions []suiteExecutionWire `json:"test_suite_executions"`
}

type suiteExecutionWire struct {
	ID                 int                `json:"id"`
	State              string             `json:"state"`
	StartedAt          *time.Time         `json:"started_at"`
	CompletedAt        *time.Time         `json:"completed_at"`
	Metadata           metadataWire       `json:"test_suite_metadata"`
	TestCaseExecutions []caseExecutionWire `json:"test_case_executions"`
}

type caseExecutionWire struct {
	ID                 int                `json:"id"`
	State              string             `json:"state"`
	PublicID           string             `json:"public_id"`
	StartedAt          *time.Time         `json:"started_at"`
	CompletedAt        *time.Time         `json:"completed_at"`
	Errors             []string           `json:"errors"`
	Metadata           metadataWire       `json:"test_case_metadata"`
	TestStepExecutions []stepExecutionWire `json:"test_step_executions"`
}

type stepExecutionWire struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Errors      []string   `json:"errors"`
	Failures    []string   `json:"failures"`
}

type metadataWire struct {
	Title    string `json:"title"`
	PublicID string `json:"public_id"`
}

// toExecution converts the wire tree into the mirror's node types.
// Unknown states fall back to PENDING rather than failing the whole
// snapshot; the feed will correct individual nodes.
func (w *runExecutionWire) toExecution() *execution.RunExecution {
	run := &execution.RunExecution{
		ID:          w.ID,
		Title:       w.Title,
		ProjectID:   w.ProjectID,
		OperatorID:  w.OperatorID,
		State:       parseStateOrPending(w.State),
		CreatedAt:   deref(w.CreatedAt),
		StartedAt:   deref(w.StartedAt),
		CompletedAt: deref(w.CompletedAt),
	}
	for si, sw := range w.TestSuiteExecutions {
		suite := &execution.SuiteExecution{
			ID:          sw.ID,
			Index:       si,
			Title:       sw.Metadata.Title,
			State:       parseStateOrPending(sw.State),
			StartedAt:   deref(sw.StartedAt),
			CompletedAt: deref(sw.CompletedAt),
		}
		for ci, cw := range sw.TestCaseExecutions {
			publicID := cw.PublicID
			if publicID == "" {
				publicID = cw.Metadata.PublicID
			}
			tc := &execution.CaseExecution{
				ID:          cw.ID,
				Index:       ci,
				PublicID:    publicID,
				Title:       cw.Metadata.Title,
				State:       parseStateOrPending(cw.State),
				StartedAt:   deref(cw.StartedAt),
				CompletedAt: deref(cw.CompletedAt),
				Errors:      cw.Errors,
			}
			for sti, stw := range cw.TestStepExecutions {
				tc.Steps = append(tc.Steps, &execution.StepExecution{
					ID:          stw.ID,
					Index:       sti,
					Title:       stw.Title,
					State:       parseStateOrPending(stw.State),
					StartedAt:   deref(stw.StartedAt),
					CompletedAt: deref(stw.CompletedAt),
					Errors:      stw.Errors,
					Failures:    stw.Failures,
				})
			}
			suite.Cases = append(suite.Cases, tc)
		}
		run.Suites = append(run.Suites, suite)
	}
	return run
}

func parseStateOrPending(raw string) execution.TestState {
	state, err := execution.ParseTestState(raw)
	if err != nil {
		return execution.StatePending
	}
	return state
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// RunSummary is one row of the run execution history listing.
type RunSummary struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
	Error string `json:"error"`
}

// RunnerStatus reports the backend test runner's overall state and the
// active run, if any.
type RunnerStatus struct {
	State              string `json:"state"`
	TestRunExecutionID *int   `json:"test_run_execution_id"`
}

// Project is a backend project record.
type Project struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	CreatedAt *time.Time     `json:"created_at"`
	Config    map[string]any `json:"config,omitempty"`
}

// ProjectCreate is the payload for creating or updating a project.
type ProjectCreate struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// TestCollections is the available-tests tree: collections of suites of
// cases. Kept loosely typed; the CLI only lists it.
type TestCollections struct {
	TestCollections map[string]TestCollection `json:"test_collections"`
}

// TestCollection is one named group of test suites.
type TestCollection struct {
	Name       string               `json:"name"`
	PathName   string               `json:"path_name"`
	TestSuites map[string]TestSuite `json:"test_suites"`
}

// TestSuite is one suite inside a collection.
type TestSuite struct {
	Metadata  map[string]any      `json:"metadata"`
	TestCases map[string]TestCase `json:"test_cases"`
}

// TestCase is one selectable case inside a suite.
type TestCase struct {
	Metadata map[string]any `json:"metadata"`
}
