package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certctl/internal/execution"
)

type frame struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn is a scripted feed connection. Reads deliver the queued
// frames in order and then block until the connection is closed.
type fakeConn struct {
	frames chan frame

	mu      sync.Mutex
	written [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(frames ...frame) *fakeConn {
	c := &fakeConn{
		frames: make(chan frame, len(frames)+1),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) writtenMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetPingHandler(func(string) error) {}
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeFetcher struct {
	mu        sync.Mutex
	snapshots []*execution.RunExecution
	err       error
	calls     int
}

func (f *fakeFetcher) FetchRun(ctx context.Context, runID int) (*execution.RunExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.snapshots) == 0 {
		return &execution.RunExecution{ID: runID, State: execution.StateExecuting}, nil
	}
	snap := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return snap, nil
}

func testSessionConfig() Config {
	return Config{
		FeedURL:             "ws://test/api/v1/ws",
		HeartbeatTimeout:    time.Second,
		MaxReconnects:       2,
		MaxReconnectElapsed: 5 * time.Second,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          2 * time.Millisecond,
	}
}

func textFrame(raw string) frame {
	return frame{messageType: websocket.TextMessage, data: []byte(raw)}
}

func stepUpdateRaw(state string) string {
	return fmt.Sprintf(`{"type":"test_update","payload":{"body":{"state":%q,"test_suite_execution_index":0,"test_case_execution_index":0,"test_step_execution_index":0}}}`, state)
}

func runUpdateRaw(runID int, state string) string {
	return fmt.Sprintf(`{"type":"test_update","payload":{"body":{"state":%q,"test_run_execution_id":%d}}}`, state, runID)
}

// runSession drives Run in the background and drains Events in order.
func runSession(t *testing.T, s *Session) ([]FeedItem, SessionOutcome, error) {
	t.Helper()
	var (
		outcome SessionOutcome
		err     error
	)
	done := make(chan struct{})
	go func() {
		outcome, err = s.Run(context.Background())
		close(done)
	}()

	var items []FeedItem
	for item := range s.Events() {
		items = append(items, item)
	}
	<-done
	return items, outcome, err
}

func TestSessionDeliversInOrderAndCompletes(t *testing.T) {
	conn := newFakeConn(
		textFrame(stepUpdateRaw("executing")),
		textFrame(stepUpdateRaw("passed")),
		textFrame(runUpdateRaw(7, "passed")),
	)

	s := NewSession(testSessionConfig(), 7, &fakeFetcher{})
	s.dial = func(ctx context.Context) (feedConn, error) { return conn, nil }

	items, outcome, err := runSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	require.Len(t, items, 3)
	assert.Equal(t, execution.StateExecuting, items[0].Message.Update.State)
	assert.Equal(t, execution.StatePassed, items[1].Message.Update.State)
	assert.Equal(t, execution.LevelRun, items[2].Message.Update.Path.Level())
}

func TestSessionReconnectsWithSnapshotResync(t *testing.T) {
	first := newFakeConn(
		textFrame(stepUpdateRaw("executing")),
		frame{err: errors.New("connection reset")},
	)
	second := newFakeConn(
		textFrame(runUpdateRaw(7, "failed")),
	)

	fetcher := &fakeFetcher{}
	s := NewSession(testSessionConfig(), 7, fetcher)

	conns := []feedConn{first, second}
	s.dial = func(ctx context.Context) (feedConn, error) {
		conn := conns[0]
		if len(conns) > 1 {
			conns = conns[1:]
		}
		return conn, nil
	}

	items, outcome, err := runSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 1, fetcher.calls, "exactly one resync fetch after the reconnect")

	require.Len(t, items, 3)
	assert.NotNil(t, items[0].Message)
	assert.NotNil(t, items[1].Snapshot, "snapshot resync precedes resumed messages")
	assert.NotNil(t, items[2].Message)
}

func TestSessionCompletesOnTerminalResyncSnapshot(t *testing.T) {
	first := newFakeConn(frame{err: errors.New("connection reset")})

	fetcher := &fakeFetcher{snapshots: []*execution.RunExecution{
		{ID: 7, State: execution.StatePassed},
	}}
	s := NewSession(testSessionConfig(), 7, fetcher)

	dials := 0
	s.dial = func(ctx context.Context) (feedConn, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return newFakeConn(), nil
	}

	items, outcome, err := runSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	require.Len(t, items, 1)
	require.NotNil(t, items[0].Snapshot)
	assert.True(t, items[0].Snapshot.State.IsTerminal())
}

func TestSessionGivesUpAfterRetryBudget(t *testing.T) {
	dialErr := errors.New("connection refused")
	s := NewSession(testSessionConfig(), 7, &fakeFetcher{})

	dials := 0
	s.dial = func(ctx context.Context) (feedConn, error) {
		dials++
		return nil, dialErr
	}

	_, outcome, err := runSession(t, s)
	assert.Equal(t, OutcomeDisconnected, outcome)

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.Attempts, "initial attempt plus two reconnects")
	assert.Equal(t, 3, dials)
}

func TestSessionDeclinesPrompts(t *testing.T) {
	conn := newFakeConn(
		textFrame(`{"type":"prompt_request","payload":{"prompt":"press the button","timeout":5,"message_id":9}}`),
		textFrame(runUpdateRaw(7, "cancelled")),
	)

	s := NewSession(testSessionConfig(), 7, &fakeFetcher{})
	s.dial = func(ctx context.Context) (feedConn, error) { return conn, nil }

	items, outcome, err := runSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, items, 2)

	written := conn.writtenMessages()
	require.Len(t, written, 1)
	assert.Contains(t, string(written[0]), `"message_id":9`)
	assert.Contains(t, string(written[0]), `"status_code":-1`)
}

func TestSessionReportsBinaryFramesAsDecodeErrors(t *testing.T) {
	conn := newFakeConn(
		frame{messageType: websocket.BinaryMessage, data: []byte{0x01}},
		textFrame(runUpdateRaw(7, "passed")),
	)

	s := NewSession(testSessionConfig(), 7, &fakeFetcher{})
	s.dial = func(ctx context.Context) (feedConn, error) { return conn, nil }

	items, outcome, err := runSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, items, 2)
	assert.NotNil(t, items[0].DecodeErr)
}

func TestSessionAbortedByContext(t *testing.T) {
	conn := newFakeConn()

	s := NewSession(testSessionConfig(), 7, &fakeFetcher{})
	s.dial = func(ctx context.Context) (feedConn, error) { return conn, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var outcome SessionOutcome
	go func() {
		outcome, _ = s.Run(ctx)
		close(done)
	}()

	cancel()
	for range s.Events() {
	}
	<-done
	assert.Equal(t, OutcomeAborted, outcome)
}
