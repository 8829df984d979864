package execution

import (
	"fmt"
	"time"
)

// Path addresses one node in the run tree by hierarchy indexes. Indexes
// below the addressed level are -1. The run itself is addressed with all
// three indexes absent.
type Path struct {
	RunID int
	Suite int
	Case  int
	Step  int
}

// RunPath addresses the run node itself.
func RunPath(runID int) Path {
	return Path{RunID: runID, Suite: -1, Case: -1, Step: -1}
}

// SuitePath addresses a suite by index.
func SuitePath(runID, suite int) Path {
	return Path{RunID: runID, Suite: suite, Case: -1, Step: -1}
}

// CasePath addresses a case by suite and case index.
func CasePath(runID, suite, caseIdx int) Path {
	return Path{RunID: runID, Suite: suite, Case: caseIdx, Step: -1}
}

// StepPath addresses a step by suite, case and step index.
func StepPath(runID, suite, caseIdx, step int) Path {
	return Path{RunID: runID, Suite: suite, Case: caseIdx, Step: step}
}

// Level returns the hierarchy level the path addresses.
func (p Path) Level() Level {
	switch {
	case p.Step >= 0:
		return LevelStep
	case p.Case >= 0:
		return LevelCase
	case p.Suite >= 0:
		return LevelSuite
	}
	return LevelRun
}

// String makes Path satisfy the fmt.Stringer interface.
func (p Path) String() string {
	switch p.Level() {
	case LevelStep:
		return fmt.Sprintf("run %d/suite %d/case %d/step %d", p.RunID, p.Suite, p.Case, p.Step)
	case LevelCase:
		return fmt.Sprintf("run %d/suite %d/case %d", p.RunID, p.Suite, p.Case)
	case LevelSuite:
		return fmt.Sprintf("run %d/suite %d", p.RunID, p.Suite)
	}
	return fmt.Sprintf("run %d", p.RunID)
}

// ExecutionUpdate is one decoded state transition reported by the backend.
// It is the only value the store mutates the tree in response to.
type ExecutionUpdate struct {
	Path      Path
	State     TestState
	Timestamp time.Time
	Errors    []string
	Failures  []string
}

// ChangeNotification reports one externally observable node transition.
// Notifications are emitted in apply order and the renderer must consume
// them without reordering or dropping.
type ChangeNotification struct {
	ID        string
	Path      Path
	Level     Level
	Title     string
	OldState  TestState
	NewState  TestState
	Errors    []string
	Failures  []string
	Timestamp time.Time
}

// InvalidTransitionError reports a state change the backend asked for that
// is unreachable from the node's current state. The store logs it, leaves
// the node untouched and keeps monitoring.
type InvalidTransitionError struct {
	Path Path
	From TestState
	To   TestState
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s at %s", e.From, e.To, e.Path)
}
