// Package comlog records the raw serial conversation with each modem as a
// line-oriented, timestamped transcript. Every command sent, every response
// line received and every connection event becomes one direction-tagged line,
// so a failing inspection can be replayed from the transcript alone.
//
// The destination is any io.Writer — typically os.Stdout during development
// or a RotatingFile in production.
package comlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// timeFormat is the timestamp prefix of every transcript line.
const timeFormat = "2006-01-02 15:04:05.000"

// Direction tags marking which side of the conversation a line belongs to.
const (
	dirTX     = "TX>"
	dirRX     = "RX<"
	dirStatus = "--"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config controls Logger behaviour.
type Config struct {
	// Writer is the transcript destination. nil defaults to os.Stdout.
	Writer io.Writer

	// Now supplies timestamps. Defaults to time.Now; tests inject a fixed
	// clock here.
	Now func() time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// Logger
// ─────────────────────────────────────────────────────────────────────────────

// Logger writes the transcript. It holds a mutex so concurrent device
// goroutines produce un-interleaved lines.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	now    func() time.Time
	logger *slog.Logger
}

// New constructs a transcript logger.
//
//   - cfg.Writer defaults to os.Stdout when nil.
//   - cfg.Now defaults to time.Now when nil.
//   - logger defaults to a no-op writer when nil.
func New(cfg Config, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Logger{w: w, now: now, logger: logger}
}

// TX records a command written to the modem.
func (l *Logger) TX(port, command string) {
	l.write(port, dirTX, command)
}

// RX records the response lines read back from the modem, one transcript
// line per response line.
func (l *Logger) RX(port string, lines []string) {
	if len(lines) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.now().Format(timeFormat)
	for _, line := range lines {
		if err := l.emit(ts, port, dirRX, line); err != nil {
			return
		}
	}
}

// Status records a connection or lifecycle event (opened, closed, retry).
func (l *Logger) Status(port, message string) {
	l.write(port, dirStatus, message)
}

// Statusf is Status with formatting.
func (l *Logger) Statusf(port, format string, args ...any) {
	l.write(port, dirStatus, fmt.Sprintf(format, args...))
}

func (l *Logger) write(port, dir, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.emit(l.now().Format(timeFormat), port, dir, text)
}

// emit writes one transcript line. Callers hold the mutex.
func (l *Logger) emit(ts, port, dir, text string) error {
	if _, err := fmt.Fprintf(l.w, "%s [%s] %s %s\n", ts, port, dir, text); err != nil {
		l.logger.Error("comlog: write failed", "port", port, "error", err.Error())
		return err
	}
	return nil
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
