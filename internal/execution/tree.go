package execution

import "time"

// Level identifies the depth of a node in the execution hierarchy.
type Level string

const (
	LevelRun   Level = "run"
	LevelSuite Level = "suite"
	LevelCase  Level = "case"
	LevelStep  Level = "step"
)

// String makes Level satisfy the fmt.Stringer interface.
func (l Level) String() string {
	return string(l)
}

// RunExecution mirrors a single remote test run. It owns its suites in
// declared execution order; that order is fixed at creation time and the
// renderer depends on it.
type RunExecution struct {
	ID          int
	Title       string
	ProjectID   int
	OperatorID  int
	State       TestState
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Suites      []*SuiteExecution
}

// SuiteExecution mirrors one suite within a run.
type SuiteExecution struct {
	ID          int
	Index       int
	Title       string
	State       TestState
	StartedAt   time.Time
	CompletedAt time.Time
	Cases       []*CaseExecution
}

// CaseExecution mirrors one test case within a suite. PublicID is the
// certification-facing identifier, e.g. "TC-ACE-1.1".
type CaseExecution struct {
	ID          int
	Index       int
	PublicID    string
	Title       string
	State       TestState
	StartedAt   time.Time
	CompletedAt time.Time
	Errors      []string
	Steps       []*StepExecution
}

// StepExecution mirrors one step within a case. Failures are assertion
// mismatches; Errors are execution faults.
type StepExecution struct {
	ID          int
	Index       int
	Title       string
	State       TestState
	StartedAt   time.Time
	CompletedAt time.Time
	Errors      []string
	Failures    []string
}

// Clone returns a deep copy of the run tree. Snapshots handed out by the
// store are clones, so readers never alias live mutable state.
func (r *RunExecution) Clone() *RunExecution {
	if r == nil {
		return nil
	}
	out := *r
	out.Suites = make([]*SuiteExecution, len(r.Suites))
	for i, s := range r.Suites {
		out.Suites[i] = s.clone()
	}
	return &out
}

func (s *SuiteExecution) clone() *SuiteExecution {
	out := *s
	out.Cases = make([]*CaseExecution, len(s.Cases))
	for i, c := range s.Cases {
		out.Cases[i] = c.clone()
	}
	return &out
}

func (c *CaseExecution) clone() *CaseExecution {
	out := *c
	out.Errors = append([]string(nil), c.Errors...)
	out.Steps = make([]*StepExecution, len(c.Steps))
	for i, st := range c.Steps {
		cp := *st
		cp.Errors = append([]string(nil), st.Errors...)
		cp.Failures = append([]string(nil), st.Failures...)
		out.Steps[i] = &cp
	}
	return &out
}

// Counts tallies node states at one hierarchy level.
type Counts struct {
	Passed        int
	Failed        int
	Errored       int
	Cancelled     int
	NotApplicable int
	Pending       int
}

// Total returns the number of counted nodes.
func (c Counts) Total() int {
	return c.Passed + c.Failed + c.Errored + c.Cancelled + c.NotApplicable + c.Pending
}

func (c *Counts) add(s TestState) {
	switch s {
	case StatePassed:
		c.Passed++
	case StateFailed:
		c.Failed++
	case StateError:
		c.Errored++
	case StateCancelled:
		c.Cancelled++
	case StateNotApplicable:
		c.NotApplicable++
	default:
		c.Pending++
	}
}

// Summary holds per-level state tallies for a run snapshot.
type Summary struct {
	RunState TestState
	Suites   Counts
	Cases    Counts
	Steps    Counts
}

// Summarize walks the tree and tallies every level.
func (r *RunExecution) Summarize() Summary {
	sum := Summary{RunState: r.State}
	for _, s := range r.Suites {
		sum.Suites.add(s.State)
		for _, c := range s.Cases {
			sum.Cases.add(c.State)
			for _, st := range c.Steps {
				sum.Steps.add(st.State)
			}
		}
	}
	return sum
}
