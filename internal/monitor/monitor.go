// Package monitor drives one run end to end: it feeds the live stream
// into the state mirror, forwards change notifications to the renderer
// and maps the terminal state to the process exit code.
package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"certctl/internal/execution"
	"certctl/internal/render"
	"certctl/internal/stream"
	"certctl/pkg/logging"
)

const monitorSubsystem = "run-monitor"

// Process exit codes for the run command.
const (
	ExitPassed       = 0
	ExitFailed       = 1
	ExitError        = 2
	ExitAborted      = 3
	ExitDisconnected = 4
)

// ExitCodeFor maps a terminal run state to the process exit code. A
// non-terminal state means the run never finished and counts as aborted.
func ExitCodeFor(state execution.TestState) int {
	switch state {
	case execution.StatePassed, execution.StateNotApplicable:
		return ExitPassed
	case execution.StateFailed:
		return ExitFailed
	case execution.StateError:
		return ExitError
	case execution.StateCancelled:
		return ExitAborted
	}
	return ExitAborted
}

// Backend is the slice of the API client the monitor needs.
type Backend interface {
	stream.SnapshotFetcher
	Abort(ctx context.Context) (string, error)
}

// Config bounds the monitor's stream and abort behavior.
type Config struct {
	Stream       stream.Config
	AbortTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AbortTimeout <= 0 {
		c.AbortTimeout = 30 * time.Second
	}
	return c
}

// Monitor mirrors and renders one run execution.
type Monitor struct {
	cfg      Config
	runID    int
	backend  Backend
	store    *execution.Store
	renderer *render.Renderer
	runLog   *logging.RunLog

	mu        sync.Mutex
	cancelRun context.CancelFunc
	abortOnce sync.Once
}

// New prepares a monitor for the given run. runLog may be nil when no
// per-run log file is wanted.
func New(cfg Config, runID int, backend Backend, renderer *render.Renderer, runLog *logging.RunLog) *Monitor {
	return &Monitor{
		cfg:      cfg.withDefaults(),
		runID:    runID,
		backend:  backend,
		store:    execution.NewStore(runID),
		renderer: renderer,
		runLog:   runLog,
	}
}

// Store exposes the state mirror for summaries and tests.
func (m *Monitor) Store() *execution.Store {
	return m.store
}

// Run monitors the run until it reaches a terminal state, the reconnect
// budget is exhausted or ctx is cancelled. It returns the process exit
// code; err carries detail for non-zero infrastructure outcomes.
func (m *Monitor) Run(ctx context.Context, initial *execution.RunExecution) (int, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancelRun = cancel
	m.mu.Unlock()

	for _, note := range m.store.Resync(initial) {
		m.renderer.Notify(note)
	}
	if m.store.Terminal() {
		return ExitCodeFor(m.store.Snapshot().State), nil
	}

	session := stream.NewSession(m.cfg.Stream, m.runID, m.backend)

	var outcome stream.SessionOutcome
	var sessionErr error

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		outcome, sessionErr = session.Run(gctx)
		return nil
	})
	g.Go(func() error {
		m.consume(session.Events())
		return nil
	})
	g.Wait()

	switch outcome {
	case stream.OutcomeCompleted:
		return ExitCodeFor(m.store.Snapshot().State), nil
	case stream.OutcomeDisconnected:
		logging.Error(monitorSubsystem, sessionErr, "giving up on run %d", m.runID)
		return ExitDisconnected, sessionErr
	}
	if m.store.Terminal() {
		return ExitCodeFor(m.store.Snapshot().State), nil
	}
	return ExitAborted, sessionErr
}

// consume applies feed items to the mirror in arrival order and forwards
// every resulting notification to the renderer.
func (m *Monitor) consume(items <-chan stream.FeedItem) {
	for item := range items {
		switch {
		case item.Snapshot != nil:
			notes := m.store.Resync(item.Snapshot)
			if len(notes) > 0 {
				m.renderer.Resynced(m.runID)
			}
			for _, note := range notes {
				m.renderer.Notify(note)
			}

		case item.DecodeErr != nil:
			m.store.RecordDecodeError()
			logging.Warn(monitorSubsystem, "skipping feed message: %v", item.DecodeErr)

		case item.Message != nil:
			m.handleMessage(item.Message)
		}
	}
}

func (m *Monitor) handleMessage(msg *stream.Message) {
	switch msg.Kind {
	case stream.KindUpdate:
		notes, err := m.store.Apply(*msg.Update)
		if err != nil {
			// Already counted and logged by the store; rendering continues
			// from the last consistent state.
			return
		}
		for _, note := range notes {
			m.renderer.Notify(note)
		}

	case stream.KindLogRecords:
		if m.runLog == nil {
			return
		}
		for _, rec := range msg.LogRecords {
			m.runLog.AppendRaw(rec.Level, rec.Timestamp, rec.Message)
		}

	case stream.KindPrompt:
		m.renderer.Notice("operator prompt declined (unattended mode): " + msg.Prompt.Prompt)
		logging.Info(monitorSubsystem, "declined prompt %d: %s", msg.Prompt.MessageID, msg.Prompt.Prompt)

	case stream.KindTimeout:
		logging.Debug(monitorSubsystem, "prompt timeout notification received")

	case stream.KindUnknown:
		logging.Debug(monitorSubsystem, "skipping unknown feed message type %q", msg.RawType)
	}
}

func (m *Monitor) stop() {
	m.mu.Lock()
	cancel := m.cancelRun
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
