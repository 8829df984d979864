package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"certctl/internal/execution"
	"certctl/pkg/logging"
)

const sessionSubsystem = "feed-session"

// SessionOutcome is the terminal result of a feed session.
type SessionOutcome int

const (
	// OutcomeCompleted: the backend signalled the run reached a terminal
	// state (or the stream ended gracefully).
	OutcomeCompleted SessionOutcome = iota
	// OutcomeDisconnected: the connection was lost and the reconnect
	// policy was exhausted.
	OutcomeDisconnected
	// OutcomeAborted: the session context was cancelled locally.
	OutcomeAborted
)

// String makes SessionOutcome satisfy the fmt.Stringer interface.
func (o SessionOutcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDisconnected:
		return "disconnected"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ConnectionError reports that connectivity could not be (re)established
// within the configured retry budget.
type ConnectionError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection lost after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FeedItem is one unit delivered by the session to the consumer. Exactly
// one field is set: a decoded message, a full resync snapshot (after a
// reconnect), or a decode failure for anomaly accounting.
type FeedItem struct {
	Message   *Message
	Snapshot  *execution.RunExecution
	DecodeErr *DecodeError
}

// SnapshotFetcher refetches the full run tree for post-reconnect resync.
type SnapshotFetcher interface {
	FetchRun(ctx context.Context, runID int) (*execution.RunExecution, error)
}

// Config bounds the session's heartbeat and reconnect behavior.
type Config struct {
	FeedURL             string
	HeartbeatTimeout    time.Duration
	MaxReconnects       int
	MaxReconnectElapsed time.Duration
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.MaxReconnectElapsed <= 0 {
		c.MaxReconnectElapsed = 2 * time.Minute
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	return c
}

// feedConn is the slice of *websocket.Conn the session uses, split out so
// tests can drive the session with a scripted connection.
type feedConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

type dialFunc func(ctx context.Context) (feedConn, error)

// Session mirrors one run's live feed. Create with NewSession, consume
// Events from a single goroutine, and read the terminal outcome from Run.
type Session struct {
	cfg     Config
	runID   int
	fetcher SnapshotFetcher
	out     chan FeedItem
	dial    dialFunc
}

// NewSession prepares a session for the given run. Open the feed by
// calling Run.
func NewSession(cfg Config, runID int, fetcher SnapshotFetcher) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:     cfg,
		runID:   runID,
		fetcher: fetcher,
		out:     make(chan FeedItem, 64),
	}
	s.dial = func(ctx context.Context) (feedConn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.FeedURL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return s
}

// Events delivers feed items in arrival order. The channel is closed when
// Run returns.
func (s *Session) Events() <-chan FeedItem {
	return s.out
}

// Run drives the feed until a terminal condition: graceful stream end,
// reconnect-budget exhaustion, or context cancellation. On reconnect the
// mirror is resynchronized with a full snapshot rather than assuming
// delta continuity.
func (s *Session) Run(ctx context.Context) (SessionOutcome, error) {
	defer close(s.out)

	sessionID := uuid.NewString()
	attempts := 0
	burstStart := time.Time{}
	backoff := s.cfg.InitialBackoff
	connected := false

	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeAborted, ctx.Err()
			}
			attempts++
			logging.Warn(sessionSubsystem, "connect attempt %d failed (session %s): %v", attempts, sessionID, err)
			if burstStart.IsZero() {
				burstStart = time.Now()
			}
			if attempts > s.cfg.MaxReconnects || time.Since(burstStart) > s.cfg.MaxReconnectElapsed {
				return OutcomeDisconnected, &ConnectionError{Attempts: attempts, Err: err}
			}
			if !sleepCtx(ctx, backoff) {
				return OutcomeAborted, ctx.Err()
			}
			backoff = nextBackoff(backoff, s.cfg.MaxBackoff)
			continue
		}

		if connected {
			// Messages may have been lost while disconnected; discard
			// delta continuity and refresh from a full snapshot.
			snapshot, err := s.fetcher.FetchRun(ctx, s.runID)
			if err != nil {
				conn.Close()
				if ctx.Err() != nil {
					return OutcomeAborted, ctx.Err()
				}
				attempts++
				logging.Warn(sessionSubsystem, "resync fetch failed (session %s): %v", sessionID, err)
				if attempts > s.cfg.MaxReconnects || time.Since(burstStart) > s.cfg.MaxReconnectElapsed {
					return OutcomeDisconnected, &ConnectionError{Attempts: attempts, Err: err}
				}
				if !sleepCtx(ctx, backoff) {
					return OutcomeAborted, ctx.Err()
				}
				backoff = nextBackoff(backoff, s.cfg.MaxBackoff)
				continue
			}
			if !s.emit(ctx, FeedItem{Snapshot: snapshot}) {
				conn.Close()
				return OutcomeAborted, ctx.Err()
			}
			if snapshot != nil && snapshot.State.IsTerminal() {
				conn.Close()
				return OutcomeCompleted, nil
			}
			logging.Info(sessionSubsystem, "reconnected and resynchronized run %d", s.runID)
		}
		connected = true
		attempts = 0
		burstStart = time.Time{}
		backoff = s.cfg.InitialBackoff

		switch res := s.consume(ctx, conn); res {
		case readCompleted:
			return OutcomeCompleted, nil
		case readAborted:
			return OutcomeAborted, ctx.Err()
		case readLost:
			burstStart = time.Now()
			logging.Warn(sessionSubsystem, "feed connection lost for run %d, reconnecting", s.runID)
		}
	}
}

type readResult int

const (
	readCompleted readResult = iota
	readLost
	readAborted
)

func (s *Session) consume(ctx context.Context, conn feedConn) readResult {
	// Unblock the read when the session is cancelled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	resetDeadline := func() {
		conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
	}
	resetDeadline()
	conn.SetPingHandler(func(string) error {
		resetDeadline()
		return conn.WriteMessage(websocket.PongMessage, nil)
	})
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return readAborted
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return readCompleted
			}
			return readLost
		}
		resetDeadline()

		if messageType != websocket.TextMessage {
			derr := &DecodeError{Field: "message", Err: fmt.Errorf("got binary frame, expected text")}
			if !s.emit(ctx, FeedItem{DecodeErr: derr}) {
				return readAborted
			}
			continue
		}

		msg, err := Decode(s.runID, raw)
		if err != nil {
			derr, ok := err.(*DecodeError)
			if !ok {
				derr = &DecodeError{Field: "message", Err: err}
			}
			if !s.emit(ctx, FeedItem{DecodeErr: derr}) {
				return readAborted
			}
			continue
		}

		if msg.Kind == KindPrompt && msg.Prompt != nil {
			if reply, err := promptDecline(msg.Prompt.MessageID); err == nil {
				if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
					logging.Warn(sessionSubsystem, "failed to decline prompt %d: %v", msg.Prompt.MessageID, err)
				}
			}
		}

		if !s.emit(ctx, FeedItem{Message: &msg}) {
			return readAborted
		}

		// A terminal run-level update is the graceful end of the stream.
		if msg.Kind == KindUpdate && msg.Update != nil &&
			msg.Update.Path.Level() == execution.LevelRun && msg.Update.State.IsTerminal() {
			conn.Close()
			return readCompleted
		}
	}
}

// emit forwards one item in order, blocking (never dropping) until the
// consumer takes it or the session is cancelled.
func (s *Session) emit(ctx context.Context, item FeedItem) bool {
	select {
	case s.out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}
