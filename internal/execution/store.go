package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"certctl/pkg/logging"
)

const logSubsystem = "tree-store"

// MaxChildIndex bounds the child index an update may address. Placeholder
// creation allocates up to the addressed index, so an unbounded index
// would let one update grow the tree without limit.
const MaxChildIndex = 10000

// Metrics tracks store activity for the final summary.
type Metrics struct {
	UpdatesApplied     int64
	Notifications      int64
	InvalidTransitions int64
	DecodeErrors       int64
	Resyncs            int64
	LastApplied        time.Time
}

// Anomalies returns the total count of recovered backend anomalies.
func (m Metrics) Anomalies() int64 {
	return m.InvalidTransitions + m.DecodeErrors
}

// Store is the client-local mirror of one remote run execution. It is the
// single source of truth for run state: all mutation goes through Apply or
// Resync, all reads through Snapshot or the returned notifications.
//
// The store expects a single writer (the consumer goroutine); concurrent
// readers are safe and always see a consistent tree.
type Store struct {
	mu      sync.RWMutex
	runID   int
	run     *RunExecution
	metrics Metrics

	done     chan struct{}
	finished bool
}

// NewStore creates an empty mirror for the given run id.
func NewStore(runID int) *Store {
	return &Store{
		runID: runID,
		done:  make(chan struct{}),
	}
}

// Done is closed once the run's root node reaches a terminal state.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Terminal reports whether the root node has reached a terminal state.
func (s *Store) Terminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run != nil && s.run.State.IsTerminal()
}

// Snapshot returns a deep copy of the current tree, or nil if no update
// has been applied yet.
func (s *Store) Snapshot() *RunExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.Clone()
}

// Metrics returns a copy of the store's counters.
func (s *Store) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// RecordDecodeError counts a malformed feed message that was skipped.
func (s *Store) RecordDecodeError() {
	s.mu.Lock()
	s.metrics.DecodeErrors++
	s.mu.Unlock()
}

// Apply inserts or updates the node addressed by the update, creating
// PENDING placeholders for any node referenced before being announced.
// It returns one ordered notification per node whose observable state
// changed; a re-assertion of the current state returns none.
//
// An unreachable transition is rejected: the tree keeps its last valid
// state, the anomaly is counted and an *InvalidTransitionError returned.
// Apply never panics on backend input.
func (s *Store) Apply(u ExecutionUpdate) ([]ChangeNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Path.RunID != s.runID {
		s.metrics.InvalidTransitions++
		return nil, fmt.Errorf("update for run %d applied to mirror of run %d", u.Path.RunID, s.runID)
	}
	if !u.State.IsValid() {
		s.metrics.InvalidTransitions++
		return nil, fmt.Errorf("update with unknown state %q at %s", u.State, u.Path)
	}
	if u.Path.Suite > MaxChildIndex || u.Path.Case > MaxChildIndex || u.Path.Step > MaxChildIndex {
		s.metrics.InvalidTransitions++
		err := fmt.Errorf("update index exceeds %d at %s", MaxChildIndex, u.Path)
		logging.Warn(logSubsystem, "ignoring inconsistent update: %v", err)
		return nil, err
	}
	s.ensureRun()

	target := s.ensureNode(u.Path)
	if !CanTransition(target.state(), u.State) {
		s.metrics.InvalidTransitions++
		err := &InvalidTransitionError{Path: u.Path, From: target.state(), To: u.State}
		logging.Warn(logSubsystem, "ignoring inconsistent update: %v", err)
		return nil, err
	}

	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var notes []ChangeNotification

	// A parent explicitly reported CANCELLED or ERROR drags every
	// untouched descendant to CANCELLED before the parent line is shown.
	if u.Path.Level() != LevelStep && (u.State == StateCancelled || u.State == StateError) {
		notes = append(notes, s.cancelDescendants(u.Path, ts)...)
	}

	if note, changed := s.setState(target, u.Path, u.State, ts, u.Errors, u.Failures); changed {
		notes = append(notes, note)
	}

	notes = append(notes, s.aggregateAncestors(u.Path, ts)...)

	s.metrics.UpdatesApplied++
	s.metrics.Notifications += int64(len(notes))
	s.metrics.LastApplied = ts
	s.checkFinished()
	return notes, nil
}

// Resync replaces the mirror with a full backend snapshot, as after a
// reconnect. The result is identical to replaying the snapshot into an
// empty store; notifications are emitted in document order for every node
// whose state differs from the previous mirror (unseen nodes count as
// PENDING).
func (s *Store) Resync(snapshot *RunExecution) []ChangeNotification {
	if snapshot == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.run
	s.run = snapshot.Clone()
	s.runID = s.run.ID

	notes := diffTrees(old, s.run)
	s.metrics.Resyncs++
	s.metrics.Notifications += int64(len(notes))
	s.checkFinished()
	return notes
}

// node is the level-independent view the store mutates through.
type node interface {
	state() TestState
	setStateValue(TestState)
	stamps() (started, completed time.Time)
	setStarted(time.Time)
	setCompleted(time.Time)
	label() string
	addErrors([]string)
	addFailures([]string)
	errs() []string
	fails() []string
}

func (s *Store) ensureRun() {
	if s.run == nil {
		s.run = &RunExecution{ID: s.runID, State: StatePending, CreatedAt: time.Now()}
	}
}

// ensureNode walks the path, growing each sequence with PENDING
// placeholders so a child may be referenced before its announcement.
func (s *Store) ensureNode(p Path) node {
	if p.Suite < 0 {
		return (*runNode)(s.run)
	}
	for len(s.run.Suites) <= p.Suite {
		s.run.Suites = append(s.run.Suites, &SuiteExecution{Index: len(s.run.Suites), State: StatePending})
	}
	suite := s.run.Suites[p.Suite]
	if p.Case < 0 {
		return (*suiteNode)(suite)
	}
	for len(suite.Cases) <= p.Case {
		suite.Cases = append(suite.Cases, &CaseExecution{Index: len(suite.Cases), State: StatePending})
	}
	tc := suite.Cases[p.Case]
	if p.Step < 0 {
		return (*caseNode)(tc)
	}
	for len(tc.Steps) <= p.Step {
		tc.Steps = append(tc.Steps, &StepExecution{Index: len(tc.Steps), State: StatePending})
	}
	return (*stepNode)(tc.Steps[p.Step])
}

// setState performs the actual mutation and timestamp bookkeeping. It
// reports whether the node's observable state changed.
func (s *Store) setState(n node, p Path, to TestState, ts time.Time, errs, fails []string) (ChangeNotification, bool) {
	n.addErrors(errs)
	n.addFailures(fails)

	from := n.state()
	if from == to {
		return ChangeNotification{}, false
	}
	n.setStateValue(to)

	started, _ := n.stamps()
	if started.IsZero() && (to == StateExecuting || to.IsTerminal()) {
		n.setStarted(ts)
	}
	if to.IsTerminal() {
		n.setCompleted(ts)
	}

	return ChangeNotification{
		ID:        uuid.NewString(),
		Path:      p,
		Level:     p.Level(),
		Title:     n.label(),
		OldState:  from,
		NewState:  to,
		Errors:    append([]string(nil), n.errs()...),
		Failures:  append([]string(nil), n.fails()...),
		Timestamp: ts,
	}, true
}

// cancelDescendants forces every non-terminal node below the path to
// CANCELLED, in document order.
func (s *Store) cancelDescendants(p Path, ts time.Time) []ChangeNotification {
	var notes []ChangeNotification
	cancel := func(n node, np Path) {
		if n.state().IsTerminal() {
			return
		}
		if note, changed := s.setState(n, np, StateCancelled, ts, nil, nil); changed {
			notes = append(notes, note)
		}
	}

	forSuite := func(suite *SuiteExecution, si int) {
		for ci, tc := range suite.Cases {
			for sti, st := range tc.Steps {
				cancel((*stepNode)(st), StepPath(p.RunID, si, ci, sti))
			}
			cancel((*caseNode)(tc), CasePath(p.RunID, si, ci))
		}
		cancel((*suiteNode)(suite), SuitePath(p.RunID, si))
	}

	switch p.Level() {
	case LevelRun:
		for si, suite := range s.run.Suites {
			forSuite(suite, si)
		}
	case LevelSuite:
		if p.Suite < len(s.run.Suites) {
			suite := s.run.Suites[p.Suite]
			for ci, tc := range suite.Cases {
				for sti, st := range tc.Steps {
					cancel((*stepNode)(st), StepPath(p.RunID, p.Suite, ci, sti))
				}
				cancel((*caseNode)(tc), CasePath(p.RunID, p.Suite, ci))
			}
		}
	case LevelCase:
		if p.Suite < len(s.run.Suites) && p.Case < len(s.run.Suites[p.Suite].Cases) {
			tc := s.run.Suites[p.Suite].Cases[p.Case]
			for sti, st := range tc.Steps {
				cancel((*stepNode)(st), StepPath(p.RunID, p.Suite, p.Case, sti))
			}
		}
	}
	return notes
}

// aggregateAncestors recomputes derived state for every ancestor of the
// path, bottom-up, and returns the resulting notifications.
func (s *Store) aggregateAncestors(p Path, ts time.Time) []ChangeNotification {
	var notes []ChangeNotification

	if p.Case >= 0 && p.Step >= 0 && p.Suite < len(s.run.Suites) && p.Case < len(s.run.Suites[p.Suite].Cases) {
		tc := s.run.Suites[p.Suite].Cases[p.Case]
		states := make([]TestState, len(tc.Steps))
		for i, st := range tc.Steps {
			states[i] = st.State
		}
		notes = append(notes, s.applyDerived((*caseNode)(tc), CasePath(p.RunID, p.Suite, p.Case), states, ts)...)
	}
	if p.Suite >= 0 && p.Suite < len(s.run.Suites) {
		suite := s.run.Suites[p.Suite]
		states := make([]TestState, len(suite.Cases))
		for i, c := range suite.Cases {
			states[i] = c.State
		}
		notes = append(notes, s.applyDerived((*suiteNode)(suite), SuitePath(p.RunID, p.Suite), states, ts)...)
	}
	if p.Level() != LevelRun {
		states := make([]TestState, len(s.run.Suites))
		for i, su := range s.run.Suites {
			states[i] = su.State
		}
		notes = append(notes, s.applyDerived((*runNode)(s.run), RunPath(p.RunID), states, ts)...)
	}
	return notes
}

// applyDerived moves a parent to the state implied by its children, if
// that differs and is reachable. A terminal parent is never downgraded.
func (s *Store) applyDerived(n node, p Path, children []TestState, ts time.Time) []ChangeNotification {
	derived, ok := deriveState(n.state(), children)
	if !ok || derived == n.state() || !CanTransition(n.state(), derived) {
		return nil
	}
	if note, changed := s.setState(n, p, derived, ts, nil, nil); changed {
		return []ChangeNotification{note}
	}
	return nil
}

// deriveState computes a parent's state from its children. With no
// children there is nothing to derive. While any child is unfinished the
// parent is EXECUTING as soon as anything has started; once all children
// are terminal the worst-first precedence applies.
func deriveState(current TestState, children []TestState) (TestState, bool) {
	if len(children) == 0 {
		return current, false
	}
	allTerminal := true
	anyStarted := false
	for _, c := range children {
		if !c.IsTerminal() {
			allTerminal = false
		}
		if c != StatePending {
			anyStarted = true
		}
	}
	switch {
	case allTerminal:
		return AggregateTerminal(children), true
	case anyStarted:
		return StateExecuting, true
	}
	return current, false
}

func (s *Store) checkFinished() {
	if !s.finished && s.run != nil && s.run.State.IsTerminal() {
		s.finished = true
		close(s.done)
	}
}

// diffTrees emits one notification per node whose state differs between
// the old and new trees, in document order. Nodes absent from the old
// tree count as PENDING, so a fresh snapshot of a completed run reports
// every terminal node exactly once.
func diffTrees(old, next *RunExecution) []ChangeNotification {
	var notes []ChangeNotification
	note := func(p Path, title string, from, to TestState, errs, fails []string, ts time.Time) {
		if from == to {
			return
		}
		if ts.IsZero() {
			ts = time.Now()
		}
		notes = append(notes, ChangeNotification{
			ID:        uuid.NewString(),
			Path:      p,
			Level:     p.Level(),
			Title:     title,
			OldState:  from,
			NewState:  to,
			Errors:    append([]string(nil), errs...),
			Failures:  append([]string(nil), fails...),
			Timestamp: ts,
		})
	}

	oldState := func(si, ci, sti int) TestState {
		if old == nil {
			return StatePending
		}
		if si < 0 {
			return old.State
		}
		if si >= len(old.Suites) {
			return StatePending
		}
		if ci < 0 {
			return old.Suites[si].State
		}
		if ci >= len(old.Suites[si].Cases) {
			return StatePending
		}
		if sti < 0 {
			return old.Suites[si].Cases[ci].State
		}
		if sti >= len(old.Suites[si].Cases[ci].Steps) {
			return StatePending
		}
		return old.Suites[si].Cases[ci].Steps[sti].State
	}

	for si, suite := range next.Suites {
		note(SuitePath(next.ID, si), suite.Title, oldState(si, -1, -1), suite.State, nil, nil, suite.CompletedAt)
		for ci, tc := range suite.Cases {
			title := tc.Title
			if tc.PublicID != "" {
				title = tc.PublicID
			}
			note(CasePath(next.ID, si, ci), title, oldState(si, ci, -1), tc.State, tc.Errors, nil, tc.CompletedAt)
			for sti, st := range tc.Steps {
				note(StepPath(next.ID, si, ci, sti), st.Title, oldState(si, ci, sti), st.State, st.Errors, st.Failures, st.CompletedAt)
			}
		}
	}
	from := StatePending
	if old != nil {
		from = old.State
	}
	note(RunPath(next.ID), next.Title, from, next.State, nil, nil, next.CompletedAt)
	return notes
}

// appendUnique unions new strings into a set-like slice, preserving
// insertion order.
func appendUnique(dst []string, add []string) []string {
	for _, a := range add {
		seen := false
		for _, d := range dst {
			if d == a {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, a)
		}
	}
	return dst
}

// Level adapters. Each wraps one concrete node type with the shared
// mutation surface.

type runNode RunExecution

func (n *runNode) state() TestState               { return n.State }
func (n *runNode) setStateValue(s TestState)      { n.State = s }
func (n *runNode) stamps() (time.Time, time.Time) { return n.StartedAt, n.CompletedAt }
func (n *runNode) setStarted(t time.Time)         { n.StartedAt = t }
func (n *runNode) setCompleted(t time.Time)       { n.CompletedAt = t }
func (n *runNode) label() string                  { return n.Title }
func (n *runNode) addErrors([]string)             {}
func (n *runNode) addFailures([]string)           {}
func (n *runNode) errs() []string                 { return nil }
func (n *runNode) fails() []string                { return nil }

type suiteNode SuiteExecution

func (n *suiteNode) state() TestState               { return n.State }
func (n *suiteNode) setStateValue(s TestState)      { n.State = s }
func (n *suiteNode) stamps() (time.Time, time.Time) { return n.StartedAt, n.CompletedAt }
func (n *suiteNode) setStarted(t time.Time)         { n.StartedAt = t }
func (n *suiteNode) setCompleted(t time.Time)       { n.CompletedAt = t }
func (n *suiteNode) label() string                  { return n.Title }
func (n *suiteNode) addErrors([]string)             {}
func (n *suiteNode) addFailures([]string)           {}
func (n *suiteNode) errs() []string                 { return nil }
func (n *suiteNode) fails() []string                { return nil }

type caseNode CaseExecution

func (n *caseNode) state() TestState               { return n.State }
func (n *caseNode) setStateValue(s TestState)      { n.State = s }
func (n *caseNode) stamps() (time.Time, time.Time) { return n.StartedAt, n.CompletedAt }
func (n *caseNode) setStarted(t time.Time)         { n.StartedAt = t }
func (n *caseNode) setCompleted(t time.Time)       { n.CompletedAt = t }
func (n *caseNode) label() string {
	if n.PublicID != "" {
		return n.PublicID
	}
	return n.Title
}
func (n *caseNode) addErrors(e []string) { n.Errors = appendUnique(n.Errors, e) }
func (n *caseNode) addFailures([]string) {}
func (n *caseNode) errs() []string       { return n.Errors }
func (n *caseNode) fails() []string      { return nil }

type stepNode StepExecution

func (n *stepNode) state() TestState               { return n.State }
func (n *stepNode) setStateValue(s TestState)      { n.State = s }
func (n *stepNode) stamps() (time.Time, time.Time) { return n.StartedAt, n.CompletedAt }
func (n *stepNode) setStarted(t time.Time)         { n.StartedAt = t }
func (n *stepNode) setCompleted(t time.Time)       { n.CompletedAt = t }
func (n *stepNode) label() string                  { return n.Title }
func (n *stepNode) addErrors(e []string)           { n.Errors = appendUnique(n.Errors, e) }
func (n *stepNode) addFailures(f []string)         { n.Failures = appendUnique(n.Failures, f) }
func (n *stepNode) errs() []string                 { return n.Errors }
func (n *stepNode) fails() []string                { return n.Failures }
