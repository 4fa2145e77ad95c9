// Package orchestrator coordinates command execution across a fleet of
// modems. Each registered device carries its own transport and executor;
// fan-out operations run against all connected devices through a bounded
// worker pool and collect per-device results.
//
// Pipeline position:
//
//	plugin catalog → sequence → orchestrator → at/executor → transport
package orchestrator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/veenone/modem-inspector-sub000/at/executor"
	"github.com/veenone/modem-inspector-sub000/models"
	"github.com/veenone/modem-inspector-sub000/transport/serialport"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Options configures the orchestrator.
type Options struct {
	// MaxWorkers bounds how many devices are operated on concurrently during
	// a fan-out call (default 4).
	MaxWorkers int

	// Executor configures the per-device executor (timeout, retries, backoff).
	Executor executor.Options

	// Serial is the port configuration handed to the default dialer.
	Serial serialport.Config

	// Dial creates the transport for a device port. Defaults to opening a
	// serial port with the Serial configuration. Tests inject fakes here.
	Dial func(port string) (serialport.Transport, error)
}

func (o *Options) defaults() {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 4
	}
	if o.Dial == nil {
		serial := o.Serial
		o.Dial = func(port string) (serialport.Transport, error) {
			return serialport.NewSerialTransport(port, serial, nil), nil
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// BatchCommand
// ─────────────────────────────────────────────────────────────────────────────

// BatchCommand is one entry of a fan-out batch. Timeout and Retry override
// the executor defaults for this command only when non-nil.
type BatchCommand struct {
	Text    string
	Timeout *time.Duration
	Retry   *int
}

func (b BatchCommand) override() executor.Override {
	return executor.Override{Timeout: b.Timeout, Retry: b.Retry}
}

// ─────────────────────────────────────────────────────────────────────────────
// Orchestrator
// ─────────────────────────────────────────────────────────────────────────────

// device pairs a transport with its executor.
type device struct {
	transport serialport.Transport
	exec      *executor.Executor
}

// Orchestrator manages the device registry and fans commands out to every
// connected device. The registry mutex guards membership only; command
// execution and history bookkeeping are synchronized inside each executor, so
// fan-out tasks on distinct devices never contend.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	devices map[string]*device // port → device
}

// New creates an orchestrator with an empty device registry.
func New(opts Options, logger *slog.Logger) *Orchestrator {
	opts.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Orchestrator{
		opts:    opts,
		logger:  logger,
		devices: make(map[string]*device),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

// AddDevice registers a device by port name. The transport is created
// immediately but not opened; call ConnectAll (or Connect) afterwards.
// Registering an already-registered port is an error.
func (o *Orchestrator) AddDevice(port string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.devices[port]; ok {
		return fmt.Errorf("device %s already registered", port)
	}
	transport, err := o.opts.Dial(port)
	if err != nil {
		return fmt.Errorf("dial %s: %w", port, err)
	}
	o.devices[port] = &device{
		transport: transport,
		exec:      executor.New(transport, o.opts.Executor, o.logger),
	}
	o.logger.Debug("device registered", "port", port)
	return nil
}

// RemoveDevice unregisters a device, closing its transport if connected.
func (o *Orchestrator) RemoveDevice(port string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	dev, ok := o.devices[port]
	if !ok {
		return fmt.Errorf("device %s is not registered", port)
	}
	delete(o.devices, port)
	if dev.transport.Connected() {
		if err := dev.transport.Close(); err != nil {
			return fmt.Errorf("close %s: %w", port, err)
		}
	}
	return nil
}

// Device returns the executor for a registered port, for single-device
// operations outside the fan-out path.
func (o *Orchestrator) Device(port string) (*executor.Executor, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	dev, ok := o.devices[port]
	if !ok {
		return nil, fmt.Errorf("device %s is not registered", port)
	}
	return dev.exec, nil
}

// Ports lists the registered port names in sorted order.
func (o *Orchestrator) Ports() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ports := make([]string, 0, len(o.devices))
	for port := range o.devices {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}

// ConnectionStatus reports, per registered port, whether its transport is
// currently connected.
func (o *Orchestrator) ConnectionStatus() map[string]bool {
	status := make(map[string]bool)
	var resMu sync.Mutex
	o.forEach(func(port string, dev *device) {
		resMu.Lock()
		status[port] = dev.transport.Connected()
		resMu.Unlock()
	}, nil)
	return status
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection fan-out
// ─────────────────────────────────────────────────────────────────────────────

// ConnectAll opens every registered device concurrently and reports per-port
// success. A device that fails to open stays registered; retry by calling
// ConnectAll again.
func (o *Orchestrator) ConnectAll() map[string]bool {
	results := make(map[string]bool)
	var resMu sync.Mutex

	o.forEach(func(port string, dev *device) {
		ok := true
		if !dev.transport.Connected() {
			if err := dev.transport.Open(); err != nil {
				o.logger.Warn("connect failed", "port", port, "error", err.Error())
				ok = false
			}
		}
		resMu.Lock()
		results[port] = ok
		resMu.Unlock()
	}, func(port string) {
		resMu.Lock()
		results[port] = false
		resMu.Unlock()
	})
	return results
}

// DisconnectAll closes every connected device and reports per-port success.
func (o *Orchestrator) DisconnectAll() map[string]bool {
	results := make(map[string]bool)
	var resMu sync.Mutex

	o.forEach(func(port string, dev *device) {
		ok := true
		if dev.transport.Connected() {
			if err := dev.transport.Close(); err != nil {
				o.logger.Warn("disconnect failed", "port", port, "error", err.Error())
				ok = false
			}
		}
		resMu.Lock()
		results[port] = ok
		resMu.Unlock()
	}, func(port string) {
		resMu.Lock()
		results[port] = false
		resMu.Unlock()
	})
	return results
}

// ─────────────────────────────────────────────────────────────────────────────
// Command fan-out
// ─────────────────────────────────────────────────────────────────────────────

// ExecuteOnAll sends one command to every connected device and returns the
// responses keyed by port. Devices that are not connected are skipped and
// absent from the map. The call blocks until every device has finished.
func (o *Orchestrator) ExecuteOnAll(command string, ov executor.Override) map[string]models.CommandResponse {
	results := make(map[string]models.CommandResponse)
	var resMu sync.Mutex

	o.forEach(func(port string, dev *device) {
		if !dev.transport.Connected() {
			return
		}
		resp, err := dev.exec.Execute(command, ov)
		if err != nil {
			resp = models.NewErrorResponse(command, err)
		}
		resMu.Lock()
		results[port] = resp
		resMu.Unlock()
	}, func(port string) {
		resMu.Lock()
		results[port] = models.NewErrorResponse(command, fmt.Errorf("device task panicked"))
		resMu.Unlock()
	})
	return results
}

// ExecuteBatchOnAll sends an ordered batch to every connected device and
// returns per-port response slices in batch order. Per-command timeout and
// retry overrides are honored. A hard transport failure mid-batch produces an
// error response for that command and the batch continues. Unconnected
// devices are absent from the map.
func (o *Orchestrator) ExecuteBatchOnAll(commands []BatchCommand) map[string][]models.CommandResponse {
	results := make(map[string][]models.CommandResponse)
	var resMu sync.Mutex

	o.forEach(func(port string, dev *device) {
		if !dev.transport.Connected() {
			return
		}
		responses := make([]models.CommandResponse, 0, len(commands))
		for _, cmd := range commands {
			resp, err := dev.exec.Execute(cmd.Text, cmd.override())
			if err != nil {
				resp = models.NewErrorResponse(cmd.Text, err)
			}
			responses = append(responses, resp)
		}
		resMu.Lock()
		results[port] = responses
		resMu.Unlock()
	}, func(port string) {
		resMu.Lock()
		delete(results, port)
		resMu.Unlock()
	})
	return results
}

// ─────────────────────────────────────────────────────────────────────────────
// Worker pool
// ─────────────────────────────────────────────────────────────────────────────

// forEach runs fn once per registered device through a semaphore bounded at
// MaxWorkers and blocks until every task returns. A panicking task is
// recovered, logged, and reported to onPanic so the caller can record a
// per-device failure instead of losing the whole fan-out.
func (o *Orchestrator) forEach(fn func(port string, dev *device), onPanic func(port string)) {
	o.mu.RLock()
	snapshot := make(map[string]*device, len(o.devices))
	for port, dev := range o.devices {
		snapshot[port] = dev
	}
	o.mu.RUnlock()

	sem := make(chan struct{}, o.opts.MaxWorkers)
	var wg sync.WaitGroup

	for port, dev := range snapshot {
		wg.Add(1)
		sem <- struct{}{}
		go func(port string, dev *device) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("device task panicked", "port", port, "panic", fmt.Sprint(r))
					if onPanic != nil {
						onPanic(port)
					}
				}
			}()
			fn(port, dev)
		}(port, dev)
	}
	wg.Wait()
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
