package serialport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	serial "github.com/allbin/go-serial"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the serial line parameters for one device. Zero-value fields
// fall back to the usual modem defaults (115200 8N1, no flow control).
type Config struct {
	BaudRate    int
	DataBits    int
	Parity      string // "N", "E" or "O"
	StopBits    int
	FlowControl bool
}

func (c *Config) withDefaults() {
	if c.BaudRate <= 0 {
		c.BaudRate = 115200
	}
	if c.DataBits <= 0 {
		c.DataBits = 8
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.StopBits <= 0 {
		c.StopBits = 1
	}
}

func (c Config) options() []serial.Option {
	parity := serial.ParityNone
	switch strings.ToUpper(c.Parity) {
	case "E":
		parity = serial.ParityEven
	case "O":
		parity = serial.ParityOdd
	}
	flow := serial.FlowControlNone
	if c.FlowControl {
		flow = serial.FlowControlRTSCTS
	}
	return []serial.Option{
		serial.WithBaudRate(c.BaudRate),
		serial.WithDataBits(c.DataBits),
		serial.WithStopBits(c.StopBits),
		serial.WithParity(parity),
		serial.WithFlowControl(flow),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SerialTransport
// ─────────────────────────────────────────────────────────────────────────────

// SerialTransport is the production Transport over a tty device. All methods
// hold an internal mutex; the transport itself is still meant for a single
// logical owner (one executor).
type SerialTransport struct {
	device string
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	port    serial.Port
	pending []byte // bytes read past the last consumed line
}

// NewSerialTransport builds an unopened transport for device.
func NewSerialTransport(device string, cfg Config, logger *slog.Logger) *SerialTransport {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &SerialTransport{device: device, cfg: cfg, logger: logger}
}

// Device returns the tty path this transport talks to.
func (t *SerialTransport) Device() string { return t.device }

// Open opens the tty. Port-unavailable conditions are wrapped in a PortError
// so callers can treat them as fatal to this device only.
func (t *SerialTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}
	p, err := serial.Open(t.device, t.cfg.options()...)
	if err != nil {
		return &PortError{Port: t.device, Op: "open", Err: err}
	}
	t.port = p
	t.pending = nil
	t.logger.Debug("serialport: opened", "device", t.device, "baud", t.cfg.BaudRate)
	return nil
}

// Close closes the tty and drops buffered partial input.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.pending = nil
	if err != nil {
		t.logger.Warn("serialport: close error", "device", t.device, "error", err.Error())
	}
	return err
}

// Connected reports whether the tty is open.
func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Send writes cmd followed by CR/LF.
func (t *SerialTransport) Send(cmd string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return 0, ErrClosed
	}
	n, err := t.port.Write([]byte(cmd + "\r\n"))
	if err != nil {
		return n, &PortError{Port: t.device, Op: "write", Err: err}
	}
	if err := t.port.DrainOutput(); err != nil {
		return n, &PortError{Port: t.device, Op: "drain", Err: err}
	}
	return n, nil
}

// ReadUntil reads lines until a terminator line arrives or the deadline
// elapses. Empty lines are skipped; the terminator line itself is included in
// the returned slice.
func (t *SerialTransport) ReadUntil(terminator string, timeout time.Duration) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var lines []string
	buf := make([]byte, 256)
	for {
		// Drain complete lines already buffered before blocking on the tty.
		for {
			line, ok := t.nextLine()
			if !ok {
				break
			}
			if line == "" {
				continue
			}
			lines = append(lines, line)
			if IsTerminatorLine(line, terminator) {
				return lines, nil
			}
		}

		n, err := t.port.ReadContext(ctx, buf)
		if n > 0 {
			t.pending = append(t.pending, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, serial.ErrReadTimeout) {
				return lines, fmt.Errorf("%w: no %q within %s on %s", ErrReadTimeout, terminator, timeout, t.device)
			}
			return lines, &PortError{Port: t.device, Op: "read", Err: err}
		}
	}
}

// Flush discards pending data in both directions.
func (t *SerialTransport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return ErrClosed
	}
	t.pending = nil
	if err := t.port.FlushInput(); err != nil {
		return &PortError{Port: t.device, Op: "flush", Err: err}
	}
	if err := t.port.FlushOutput(); err != nil {
		return &PortError{Port: t.device, Op: "flush", Err: err}
	}
	return nil
}

// nextLine pops one CR/LF-delimited line from the pending buffer.
func (t *SerialTransport) nextLine() (string, bool) {
	for i, b := range t.pending {
		if b == '\n' {
			line := strings.TrimRight(string(t.pending[:i]), "\r")
			t.pending = t.pending[i+1:]
			return strings.TrimSpace(line), true
		}
	}
	return "", false
}

// ─────────────────────────────────────────────────────────────────────────────
// Port discovery
// ─────────────────────────────────────────────────────────────────────────────

// ListPorts enumerates serial devices available on the system.
func ListPorts() ([]string, error) {
	return serial.ListPorts()
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
