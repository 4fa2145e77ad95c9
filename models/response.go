// Package models defines the core data structures shared across all layers of
// the Modem Inspector. These types represent the canonical in-memory form of
// every command execution result; every other package depends on this package
// and nothing here depends on any other internal package.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Response status
// ─────────────────────────────────────────────────────────────────────────────

// ResponseStatus is the outcome of one AT command execution.
type ResponseStatus string

const (
	// StatusSuccess means the modem answered with an OK terminator and no
	// error line.
	StatusSuccess ResponseStatus = "success"

	// StatusError means the response contained ERROR, +CME ERROR or
	// +CMS ERROR.
	StatusError ResponseStatus = "error"

	// StatusTimeout means no terminator arrived within the deadline on any
	// attempt.
	StatusTimeout ResponseStatus = "timeout"
)

// ─────────────────────────────────────────────────────────────────────────────
// CommandResponse
// ─────────────────────────────────────────────────────────────────────────────

// CommandResponse is the immutable record of one AT command execution. Status
// is derived from the raw lines at construction time and never set
// independently: a response with StatusError always contains an error line,
// and a StatusTimeout response always has empty Raw lines. Fields are set
// once by the constructors below and read-only afterwards.
type CommandResponse struct {
	// Command is the AT command string that was sent, e.g. "AT+CGMI".
	Command string `json:"command"`

	// Raw holds the response lines from the modem with the echo stripped.
	Raw []string `json:"raw"`

	// Status classifies the outcome.
	Status ResponseStatus `json:"status"`

	// ErrorCode is the numeric code from +CME ERROR / +CMS ERROR, when present.
	ErrorCode string `json:"error_code,omitempty"`

	// ErrorMessage is a human-readable error description, when present.
	ErrorMessage string `json:"error_message,omitempty"`

	// RetryCount is the number of retries actually performed (0 when the
	// first attempt succeeded).
	RetryCount int `json:"retry_count"`

	// Duration is the wall-clock time from command send to classification.
	Duration time.Duration `json:"duration_ns"`

	// Timestamp is when the response value was created.
	Timestamp time.Time `json:"timestamp"`
}

// NewCommandResponse builds a response from captured lines. It strips the
// command echo (one line at most) and classifies the remainder:
//
//   - a line equal to "ERROR"            → StatusError, generic message
//   - a line starting "+CME ERROR"       → StatusError, code after ":"
//   - a line starting "+CMS ERROR"       → StatusError, code after ":"
//   - otherwise                          → StatusSuccess
//
// Matching is case-insensitive. The first error line wins; later OK lines do
// not override it, and scanning still covers every line so a trailing error
// after payload output is caught.
func NewCommandResponse(command string, lines []string, retries int, dur time.Duration) CommandResponse {
	lines = stripEcho(command, lines)

	resp := CommandResponse{
		Command:    command,
		Raw:        lines,
		Status:     StatusSuccess,
		RetryCount: retries,
		Duration:   dur,
		Timestamp:  time.Now(),
	}

	for _, line := range lines {
		if resp.Status == StatusError {
			break
		}
		upper := strings.ToUpper(line)
		switch {
		case upper == "ERROR":
			resp.Status = StatusError
			resp.ErrorMessage = "Generic ERROR response"
		case strings.HasPrefix(upper, "+CME ERROR"):
			resp.Status = StatusError
			resp.ErrorCode, resp.ErrorMessage = splitErrorCode(line, "CME")
		case strings.HasPrefix(upper, "+CMS ERROR"):
			resp.Status = StatusError
			resp.ErrorCode, resp.ErrorMessage = splitErrorCode(line, "CMS")
		}
	}
	return resp
}

// NewTimeoutResponse builds the terminal response after every attempt timed
// out. Raw is empty and RetryCount carries the configured maximum.
func NewTimeoutResponse(command string, maxRetries int, dur time.Duration, cause error) CommandResponse {
	msg := fmt.Sprintf("Timeout after %d retries", maxRetries)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return CommandResponse{
		Command:      command,
		Raw:          []string{},
		Status:       StatusTimeout,
		ErrorMessage: msg,
		RetryCount:   maxRetries,
		Duration:     dur,
		Timestamp:    time.Now(),
	}
}

// NewErrorResponse builds a synthetic error response for a command whose
// execution failed hard (transport fault) rather than returning a protocol
// error. Batch and fan-out callers use it to keep failures as data.
func NewErrorResponse(command string, cause error) CommandResponse {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return CommandResponse{
		Command:      command,
		Raw:          []string{msg},
		Status:       StatusError,
		ErrorMessage: msg,
		Timestamp:    time.Now(),
	}
}

// IsSuccessful reports whether the command completed with StatusSuccess.
func (r CommandResponse) IsSuccessful() bool {
	return r.Status == StatusSuccess
}

// Text joins the raw response lines with newlines.
func (r CommandResponse) Text() string {
	return strings.Join(r.Raw, "\n")
}

func (r CommandResponse) String() string {
	switch r.Status {
	case StatusError:
		if r.ErrorCode != "" {
			return fmt.Sprintf("[%s] %s (%s: %s)", r.Status, r.Command, r.ErrorCode, r.ErrorMessage)
		}
		return fmt.Sprintf("[%s] %s (%s)", r.Status, r.Command, r.ErrorMessage)
	case StatusTimeout:
		return fmt.Sprintf("[%s] %s (after %d retries)", r.Status, r.Command, r.RetryCount)
	default:
		return fmt.Sprintf("[%s] %s -> %d lines (%s)", r.Status, r.Command, len(r.Raw), r.Duration)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// stripEcho drops the first line when it case-insensitively equals the sent
// command. Exactly one line is removed; a second occurrence of the same text
// is payload and stays.
func stripEcho(command string, lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	if strings.EqualFold(strings.TrimSpace(lines[0]), strings.TrimSpace(command)) {
		return lines[1:]
	}
	return lines
}

// splitErrorCode extracts the code after the first ":" of an error line.
func splitErrorCode(line, kind string) (code, message string) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) < 2 {
		return "", fmt.Sprintf("%s Error (no code)", kind)
	}
	code = strings.TrimSpace(parts[1])
	return code, fmt.Sprintf("%s Error: %s", kind, code)
}
