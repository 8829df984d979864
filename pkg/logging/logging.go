// Package logging provides subsystem-tagged logging for certctl, plus the
// per-run log file written alongside a monitored test run.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SlogLevel maps our level onto log/slog's.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	runLog        *RunLog
)

// Init configures the process-wide logger. Call once at startup; before
// that, logging falls back to stderr at INFO.
func Init(level LogLevel, output io.Writer) {
	opts := &slog.HandlerOptions{Level: level.SlogLevel()}
	handler := slog.NewTextHandler(output, opts)

	mu.Lock()
	defaultLogger = slog.New(handler)
	mu.Unlock()
	slog.SetDefault(defaultLogger)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	mu.RLock()
	logger := defaultLogger
	rl := runLog
	mu.RUnlock()

	if rl != nil {
		rl.Append(level, msg)
	}

	if logger == nil {
		fmt.Fprintf(os.Stderr, "%s [%s] %s: %s\n", time.Now().Format(time.RFC3339), level, subsystem, msg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error: %v\n", err)
		}
		return
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// RunLog is the per-run log file the monitor writes backend log records
// and local anomalies to, mirroring the backend's own run log layout.
type RunLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenRunLog creates the run log file for a run title under dir, creating
// the directory if needed, and registers it as the active run sink.
func OpenRunLog(dir, title string) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run log directory: %w", err)
	}
	name := fmt.Sprintf("test_run_%s.log", sanitizeTitle(title))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	rl := &RunLog{file: f, path: path}

	mu.Lock()
	runLog = rl
	mu.Unlock()
	return rl, nil
}

// Path returns the run log file location.
func (r *RunLog) Path() string {
	return r.path
}

// Append writes one formatted entry to the run log.
func (r *RunLog) Append(level LogLevel, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	fmt.Fprintf(r.file, "%-8s | %s | %s\n", level, time.Now().Format("2006-01-02 15:04:05.000"), message)
}

// AppendRaw writes a backend-supplied log record verbatim, keeping the
// backend's own level string.
func (r *RunLog) AppendRaw(level, timestamp, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	fmt.Fprintf(r.file, "%-8s | %s | %s\n", level, timestamp, message)
}

// Close detaches the run log from the logging package and closes the file.
func (r *RunLog) Close() error {
	mu.Lock()
	if runLog == r {
		runLog = nil
	}
	mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func sanitizeTitle(title string) string {
	replacer := strings.NewReplacer("/", "-", " ", "_", ":", "-")
	return replacer.Replace(title)
}
