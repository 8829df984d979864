package monitor

import (
	"context"
	"errors"
	"time"

	"certctl/pkg/logging"
)

// ErrAbortTimeout reports that the backend acknowledged the abort but the
// run did not reach a terminal state within the configured window.
var ErrAbortTimeout = errors.New("timed out waiting for cancellation to complete")

// Abort requests backend-side cancellation of the monitored run, then
// waits a bounded time for the cancellation cascade to arrive over the
// feed. Safe to call from a signal handler; repeated calls are no-ops.
//
// On timeout the monitor is stopped so Run returns instead of hanging on
// a backend that never confirms.
func (m *Monitor) Abort(ctx context.Context) error {
	var err error
	m.abortOnce.Do(func() {
		m.renderer.Notice("abort requested, cancelling test run...")
		logging.Info(monitorSubsystem, "requesting abort of run %d", m.runID)

		detail, aerr := m.backend.Abort(ctx)
		if aerr != nil {
			logging.Error(monitorSubsystem, aerr, "abort request failed for run %d", m.runID)
			m.stop()
			err = aerr
			return
		}
		if detail != "" {
			m.renderer.Notice(detail)
		}

		timer := time.NewTimer(m.cfg.AbortTimeout)
		defer timer.Stop()
		select {
		case <-m.store.Done():
		case <-timer.C:
			logging.Warn(monitorSubsystem, "run %d did not confirm cancellation within %s", m.runID, m.cfg.AbortTimeout)
			m.stop()
			err = ErrAbortTimeout
		case <-ctx.Done():
			m.stop()
			err = ctx.Err()
		}
	})
	return err
}
