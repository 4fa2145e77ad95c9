// Package serialport implements the line-oriented serial channel that carries
// AT commands to a modem.
//
// Pipeline position:
//
//	at/executor → transport/serialport → tty device
//
// The Transport interface is the contract the executor and orchestrator
// consume; SerialTransport is the production implementation over a real tty
// (github.com/allbin/go-serial). Tests substitute in-memory fakes.
package serialport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Transport interface
// ─────────────────────────────────────────────────────────────────────────────

// Transport is a line-oriented command/response channel to one modem.
// A Transport is exclusively owned by one executor and never shared across
// concurrent writers. Implementations must append the CR/LF terminator in
// Send themselves.
type Transport interface {
	// Open establishes the connection. Opening an already-open transport is
	// a no-op.
	Open() error

	// Close releases the connection. Safe to call repeatedly.
	Close() error

	// Connected reports whether the transport is currently open.
	Connected() bool

	// Send writes one command line (CR/LF appended) and returns the byte
	// count written.
	Send(cmd string) (int, error)

	// ReadUntil reads response lines until one contains terminator or an
	// error terminator line arrives, or the deadline elapses. Empty lines
	// are skipped. On deadline expiry it returns ErrReadTimeout.
	ReadUntil(terminator string, timeout time.Duration) ([]string, error)

	// Flush discards pending data in both directions.
	Flush() error
}

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

// ErrReadTimeout marks a ReadUntil deadline expiry. Callers distinguish it
// from hard I/O failure to drive the retry loop.
var ErrReadTimeout = errors.New("serialport: read timeout")

// ErrClosed is returned by Send / ReadUntil / Flush on a transport that is
// not open.
var ErrClosed = errors.New("serialport: port not open")

// PortError wraps a transport-level failure with the port it occurred on.
// Fatal to that device only.
type PortError struct {
	Port string
	Op   string
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("serialport: %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// ─────────────────────────────────────────────────────────────────────────────
// Terminator detection
// ─────────────────────────────────────────────────────────────────────────────

// IsTerminatorLine reports whether line ends a response: it contains the
// requested terminator (normally "OK") or is one of the vendor error
// terminators, which arrive instead of OK.
func IsTerminatorLine(line, terminator string) bool {
	if terminator != "" && strings.Contains(line, terminator) {
		return true
	}
	upper := strings.ToUpper(strings.TrimSpace(line))
	return upper == "ERROR" ||
		strings.HasPrefix(upper, "+CME ERROR") ||
		strings.HasPrefix(upper, "+CMS ERROR")
}
