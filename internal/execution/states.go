package execution

import (
	"fmt"
	"strings"
)

// TestState is the lifecycle state shared by every level of the execution
// hierarchy (run, suite, case, step).
type TestState string

const (
	StatePending       TestState = "pending"
	StateExecuting     TestState = "executing"
	StatePassed        TestState = "passed"
	StateFailed        TestState = "failed"
	StateError         TestState = "error"
	StateCancelled     TestState = "cancelled"
	StateNotApplicable TestState = "not_applicable"
)

// String makes TestState satisfy the fmt.Stringer interface.
func (s TestState) String() string {
	return string(s)
}

// IsTerminal reports whether the state is final. Terminal nodes never
// transition again.
func (s TestState) IsTerminal() bool {
	switch s {
	case StatePassed, StateFailed, StateError, StateCancelled, StateNotApplicable:
		return true
	}
	return false
}

// IsValid reports whether s is a known state.
func (s TestState) IsValid() bool {
	switch s {
	case StatePending, StateExecuting, StatePassed, StateFailed, StateError, StateCancelled, StateNotApplicable:
		return true
	}
	return false
}

// ParseTestState normalizes a wire-level state string. The backend's
// "pending_actuation" is reported while it waits on device actuation and is
// treated as executing for mirroring purposes.
func ParseTestState(raw string) (TestState, error) {
	switch strings.ToLower(raw) {
	case "pending":
		return StatePending, nil
	case "executing", "pending_actuation":
		return StateExecuting, nil
	case "passed":
		return StatePassed, nil
	case "failed":
		return StateFailed, nil
	case "error":
		return StateError, nil
	case "cancelled":
		return StateCancelled, nil
	case "not_applicable":
		return StateNotApplicable, nil
	}
	return "", fmt.Errorf("unknown test state %q", raw)
}

// CanTransition reports whether a node may move from one state to the
// other. Re-asserting the current state is always allowed (and is a no-op
// at the store level); leaving a terminal state never is.
func CanTransition(from, to TestState) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if from == StateExecuting && to == StatePending {
		return false
	}
	return true
}

// precedence orders terminal states worst-first for parent aggregation.
// Lower value wins.
var precedence = map[TestState]int{
	StateError:         0,
	StateFailed:        1,
	StateCancelled:     2,
	StatePassed:        3,
	StateNotApplicable: 4,
}

// worseOf returns the higher-precedence (worse) of two terminal states.
func worseOf(a, b TestState) TestState {
	if precedence[b] < precedence[a] {
		return b
	}
	return a
}

// AggregateTerminal derives a parent's terminal state from its children's
// terminal states: ERROR > FAILED > CANCELLED > PASSED > NOT_APPLICABLE.
// A parent passes only when every child passed or was not applicable.
func AggregateTerminal(children []TestState) TestState {
	result := StateNotApplicable
	for _, c := range children {
		result = worseOf(result, c)
	}
	return result
}
