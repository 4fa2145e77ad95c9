// Package executor implements single-device AT command execution: it turns
// one command string into one classified models.CommandResponse, with
// timeout, retry with exponential backoff, echo handling and an append-only
// execution history.
//
// Protocol-level failure (ERROR, timeout) is represented in the response
// value, never raised; Execute fails hard only when the underlying transport
// is closed or broken.
package executor

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/veenone/modem-inspector-sub000/models"
	"github.com/veenone/modem-inspector-sub000/transport/serialport"
)

// ─────────────────────────────────────────────────────────────────────────────
// Options
// ─────────────────────────────────────────────────────────────────────────────

// Options configures executor defaults. Zero-value fields fall back to the
// documented defaults.
type Options struct {
	// DefaultTimeout bounds one read phase. Default 30s.
	DefaultTimeout time.Duration

	// RetryCount is the number of retries after the first attempt. Zero
	// disables retries; negative values fall back to 3, the standard
	// inspection default.
	RetryCount int

	// RetryBaseDelay is the backoff base: the sleep before retry k
	// (1-indexed) is RetryBaseDelay * 2^(k-1). Default 1s.
	RetryBaseDelay time.Duration

	// Sleep is the function used for backoff waits. Defaults to time.Sleep;
	// tests substitute a recorder.
	Sleep func(time.Duration)
}

func (o *Options) defaults() {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.RetryCount < 0 {
		o.RetryCount = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
}

// terminator is the read boundary for all terminal states. Vendor error
// lines are returned instead of OK and end the read phase the same way.
const terminator = "OK"

// ─────────────────────────────────────────────────────────────────────────────
// Executor
// ─────────────────────────────────────────────────────────────────────────────

// Executor drives one transport. It owns the transport exclusively; commands
// issued sequentially preserve issue order.
type Executor struct {
	transport serialport.Transport
	opts      Options
	logger    *slog.Logger

	histMu  sync.Mutex
	history []models.CommandResponse
}

// New creates an executor over transport.
func New(transport serialport.Transport, opts Options, logger *slog.Logger) *Executor {
	opts.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Executor{
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

// Override carries per-call replacements for the executor defaults. Nil
// fields keep the default.
type Override struct {
	Timeout *time.Duration
	Retry   *int
}

// Timeout wraps d for use as an Override field.
func Timeout(d time.Duration) *time.Duration { return &d }

// Retry wraps n for use as an Override field.
func Retry(n int) *int { return &n }

// Execute sends command and returns its classified response. Attempts run
// until a terminator line arrives or retries are exhausted; each timed-out
// attempt is followed by an exponential backoff sleep. The resulting response
// is appended to the history.
//
// An error is returned only for transport faults (closed port, I/O failure);
// ERROR and timeout outcomes are represented in the response value.
func (e *Executor) Execute(command string, ov Override) (models.CommandResponse, error) {
	timeout := e.opts.DefaultTimeout
	if ov.Timeout != nil {
		timeout = *ov.Timeout
	}
	retries := e.opts.RetryCount
	if ov.Retry != nil {
		retries = *ov.Retry
	}

	resp, err := e.executeWithRetry(command, timeout, retries)
	if err != nil {
		return models.CommandResponse{}, err
	}

	e.histMu.Lock()
	e.history = append(e.history, resp)
	e.histMu.Unlock()

	e.logger.Debug("executed",
		"command", command,
		"status", string(resp.Status),
		"retries", resp.RetryCount,
		"duration_ms", resp.Duration.Milliseconds(),
	)
	return resp, nil
}

// ExecuteBatch runs commands in sequence, continuing past per-command
// failures. A command whose execution failed hard contributes a synthetic
// Error response carrying the transport fault's message.
func (e *Executor) ExecuteBatch(commands []string, ov Override) []models.CommandResponse {
	responses := make([]models.CommandResponse, 0, len(commands))
	for _, cmd := range commands {
		resp, err := e.Execute(cmd, ov)
		if err != nil {
			e.logger.Warn("batch command failed hard", "command", cmd, "error", err.Error())
			resp = models.NewErrorResponse(cmd, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

// History returns a snapshot copy of every response produced so far.
func (e *Executor) History() []models.CommandResponse {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	out := make([]models.CommandResponse, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory empties the history wholesale.
func (e *Executor) ClearHistory() {
	e.histMu.Lock()
	e.history = nil
	e.histMu.Unlock()
}

// Transport returns the transport this executor owns.
func (e *Executor) Transport() serialport.Transport { return e.transport }

// ─────────────────────────────────────────────────────────────────────────────
// Retry loop
// ─────────────────────────────────────────────────────────────────────────────

func (e *Executor) executeWithRetry(command string, timeout time.Duration, retries int) (models.CommandResponse, error) {
	start := time.Now()
	var lastTimeout error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// Backoff before retry k is base * 2^(k-1).
			delay := e.opts.RetryBaseDelay * (1 << (attempt - 1))
			e.logger.Debug("retrying after timeout",
				"command", command, "attempt", attempt, "backoff", delay)
			e.opts.Sleep(delay)
		}

		attemptStart := time.Now()
		if _, err := e.transport.Send(command); err != nil {
			return models.CommandResponse{}, err
		}

		lines, err := e.transport.ReadUntil(terminator, timeout)
		if err != nil {
			if errors.Is(err, serialport.ErrReadTimeout) {
				lastTimeout = err
				continue
			}
			return models.CommandResponse{}, err
		}

		return models.NewCommandResponse(command, lines, attempt, time.Since(attemptStart)), nil
	}

	e.logger.Warn("command timed out on every attempt",
		"command", command, "retries", retries, "timeout", timeout)
	return models.NewTimeoutResponse(command, retries, time.Since(start), lastTimeout), nil
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
