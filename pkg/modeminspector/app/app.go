// Package app wires the modem inspection pipeline stages together.
//
// Inspection path:
//
//	Catalog (plugin discovery) → sequence (run-list) →
//	Orchestrator (device fan-out) → at/executor → at/parser → Result
//
// The Inspector owns the catalog, the device orchestrator, the parser engine
// and the optional communication transcript. Reporting beyond the Result
// values is the caller's concern.
package app

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/veenone/modem-inspector-sub000/at/executor"
	"github.com/veenone/modem-inspector-sub000/at/parser"
	"github.com/veenone/modem-inspector-sub000/comlog"
	"github.com/veenone/modem-inspector-sub000/models"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/orchestrator"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/plugin"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/sequence"
)

// identityCommands is the fixed probe batch for modem identification.
var identityCommands = []string{"AT+CGMI", "AT+CGMM", "AT+CGMR", "AT+CGSN"}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the top-level settings for an Inspector. Zero-value fields
// fall back to documented defaults.
type Config struct {
	// PluginDirs are the directories scanned for plugin definitions.
	// Empty falls back to plugin.DirsFromEnv().
	PluginDirs []string

	// Orchestrator configures the device fleet (workers, executor, dialer).
	Orchestrator orchestrator.Options

	// Transcript, when non-nil, receives the raw serial conversation.
	Transcript *comlog.Logger
}

// ─────────────────────────────────────────────────────────────────────────────
// Result types
// ─────────────────────────────────────────────────────────────────────────────

// CommandRecord is the outcome of one command on one device: the raw
// response together with the structured value its parser extracted.
type CommandRecord struct {
	Command     string                 `json:"command"`
	Category    string                 `json:"category"`
	Description string                 `json:"description,omitempty"`
	Response    models.CommandResponse `json:"response"`
	Parsed      any                    `json:"parsed,omitempty"`
	Critical    bool                   `json:"critical,omitempty"`
}

// Result is one device's full inspection outcome.
type Result struct {
	Port             string          `json:"port"`
	Plugin           string          `json:"plugin"`
	StartedAt        time.Time       `json:"started_at"`
	Duration         time.Duration   `json:"duration"`
	Records          []CommandRecord `json:"records"`
	CriticalFailures []string        `json:"critical_failures,omitempty"`
}

// Succeeded reports whether every critical command of the run succeeded.
func (r *Result) Succeeded() bool { return len(r.CriticalFailures) == 0 }

// ─────────────────────────────────────────────────────────────────────────────
// Inspector
// ─────────────────────────────────────────────────────────────────────────────

// Inspector composes the inspection pipeline. Create one with New, load the
// plugin catalog with LoadPlugins, register devices, then run IdentifyAll /
// Inspect.
type Inspector struct {
	cfg    Config
	logger *slog.Logger

	catalog *plugin.Catalog
	orch    *orchestrator.Orchestrator
	engine  *parser.Engine
}

// New constructs an Inspector. It does not touch the filesystem or any
// serial port — call LoadPlugins and ConnectAll for that.
func New(cfg Config, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	dirs := cfg.PluginDirs
	if len(dirs) == 0 {
		dirs = plugin.DirsFromEnv()
	}
	return &Inspector{
		cfg:     cfg,
		logger:  logger,
		catalog: plugin.NewCatalog(dirs, logger),
		orch:    orchestrator.New(cfg.Orchestrator, logger),
		engine:  parser.NewEngine(logger),
	}
}

// Catalog exposes the plugin catalog for listing and validation.
func (i *Inspector) Catalog() *plugin.Catalog { return i.catalog }

// Orchestrator exposes the device fleet for registration and connection.
func (i *Inspector) Orchestrator() *orchestrator.Orchestrator { return i.orch }

// Engine exposes the parser engine so callers can register custom parsers.
func (i *Inspector) Engine() *parser.Engine { return i.engine }

// LoadPlugins discovers plugin definitions from the configured directories.
func (i *Inspector) LoadPlugins() []*plugin.Definition {
	defs := i.catalog.Discover()
	i.logger.Info("app: plugins loaded", "count", len(defs))
	return defs
}

// AddDevices registers the given ports and connects them all, reporting
// per-port success the way ConnectAll does.
func (i *Inspector) AddDevices(ports []string) (map[string]bool, error) {
	for _, port := range ports {
		if err := i.orch.AddDevice(port); err != nil {
			return nil, err
		}
	}
	connected := i.orch.ConnectAll()
	for port, ok := range connected {
		if ok {
			i.transcriptStatus(port, "port opened")
		} else {
			i.transcriptStatus(port, "port open failed")
		}
	}
	return connected, nil
}

// Close disconnects every device.
func (i *Inspector) Close() {
	for port, ok := range i.orch.DisconnectAll() {
		if ok {
			i.transcriptStatus(port, "port closed")
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Identification
// ─────────────────────────────────────────────────────────────────────────────

// IdentifyAll probes every connected device with the standard identification
// commands and returns the assembled identities keyed by port. Devices that
// answer nothing still appear, with only the Port field set.
func (i *Inspector) IdentifyAll() map[string]models.ModemIdentity {
	batch := make([]orchestrator.BatchCommand, 0, len(identityCommands))
	for _, cmd := range identityCommands {
		batch = append(batch, orchestrator.BatchCommand{Text: cmd})
	}
	results := i.orch.ExecuteBatchOnAll(batch)

	identities := make(map[string]models.ModemIdentity, len(results))
	for port, responses := range results {
		id := models.ModemIdentity{Port: port}
		for n, resp := range responses {
			i.transcriptExchange(port, resp)
			if !resp.IsSuccessful() {
				continue
			}
			value := payloadLine(resp)
			switch identityCommands[n] {
			case "AT+CGMI":
				id.Manufacturer = value
			case "AT+CGMM":
				id.Model = value
			case "AT+CGMR":
				id.Revision = value
			case "AT+CGSN":
				id.Serial = value
			}
		}
		identities[port] = id
	}
	return identities
}

// DetectPlugin matches an identity against the catalog. It returns nil when
// nothing matches.
func (i *Inspector) DetectPlugin(id models.ModemIdentity) *plugin.Definition {
	def := i.catalog.SelectAuto(id.Manufacturer, id.Model)
	if def != nil {
		i.logger.Info("app: plugin detected",
			"port", id.Port, "plugin", def.Key())
	} else {
		i.logger.Warn("app: no plugin matched",
			"port", id.Port, "manufacturer", id.Manufacturer, "model", id.Model)
	}
	return def
}

// ─────────────────────────────────────────────────────────────────────────────
// Init sequence
// ─────────────────────────────────────────────────────────────────────────────

// RunInit executes the plugin's init sequence on every connected device and
// reports per-port failure. A successful response that does not contain the
// declared expected substring is logged and tolerated; an error or timeout
// marks the port but the remaining commands still run.
func (i *Inspector) RunInit(def *plugin.Definition) map[string]error {
	failures := make(map[string]error)
	for _, ic := range def.Connection.InitSequence {
		if ic.Cmd == "" {
			continue
		}
		results := i.orch.ExecuteOnAll(ic.Cmd, executor.Override{})
		for port, resp := range results {
			i.transcriptExchange(port, resp)
			if !resp.IsSuccessful() {
				if failures[port] == nil {
					failures[port] = fmt.Errorf("init %s: %s", ic.Cmd, resp.ErrorMessage)
				}
				continue
			}
			if ic.Expected != "" && !strings.Contains(resp.Text(), ic.Expected) {
				i.logger.Warn("app: init response mismatch",
					"port", port, "command", ic.Cmd, "expected", ic.Expected)
			}
		}
	}
	return failures
}

// ─────────────────────────────────────────────────────────────────────────────
// Inspection
// ─────────────────────────────────────────────────────────────────────────────

// Inspect runs the plugin's command sequence on every connected device,
// parses successful responses, and returns per-port results. Unconnected
// devices are absent from the map.
func (i *Inspector) Inspect(def *plugin.Definition, opts sequence.Options) map[string]*Result {
	steps := sequence.Resolve(def, opts)
	batch := sequence.Batch(steps)
	started := time.Now()

	i.logger.Info("app: inspection started",
		"plugin", def.Key(), "commands", len(batch))

	raw := i.orch.ExecuteBatchOnAll(batch)

	out := make(map[string]*Result, len(raw))
	for port, responses := range raw {
		result := &Result{
			Port:      port,
			Plugin:    def.Key(),
			StartedAt: started,
			Records:   make([]CommandRecord, 0, len(responses)),
		}
		for n, resp := range responses {
			step := steps[n]
			i.transcriptExchange(port, resp)

			record := CommandRecord{
				Command:     step.Command.Cmd,
				Category:    step.Category,
				Description: step.Command.Description,
				Response:    resp,
				Critical:    step.Command.Critical,
			}
			if resp.IsSuccessful() {
				record.Parsed = i.parseStep(def, step, resp)
			} else if step.Command.Critical {
				result.CriticalFailures = append(result.CriticalFailures, step.Command.Cmd)
			}
			result.Records = append(result.Records, record)
		}
		result.Duration = time.Since(started)
		out[port] = result
	}

	i.logger.Info("app: inspection finished",
		"plugin", def.Key(), "devices", len(out),
		"duration_ms", time.Since(started).Milliseconds())
	return out
}

// parseStep applies the command's declared parser, if any.
func (i *Inspector) parseStep(def *plugin.Definition, step sequence.Step, resp models.CommandResponse) any {
	if step.Command.Parser == "" {
		return nil
	}
	pd, ok := def.Parser(step.Command.Parser)
	if !ok {
		// Semantic validation warns about this at load time; degrade to raw.
		return i.engine.Parse(resp, nil)
	}
	return i.engine.Parse(resp, &pd)
}

// SortedPorts returns the result map's ports in stable order, for rendering.
func SortedPorts[V any](m map[string]V) []string {
	ports := make([]string, 0, len(m))
	for port := range m {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}

// ─────────────────────────────────────────────────────────────────────────────
// Transcript helpers
// ─────────────────────────────────────────────────────────────────────────────

func (i *Inspector) transcriptStatus(port, message string) {
	if i.cfg.Transcript != nil {
		i.cfg.Transcript.Status(port, message)
	}
}

func (i *Inspector) transcriptExchange(port string, resp models.CommandResponse) {
	if i.cfg.Transcript == nil {
		return
	}
	i.cfg.Transcript.TX(port, resp.Command)
	i.cfg.Transcript.RX(port, resp.Raw)
	if resp.Status != models.StatusSuccess {
		i.cfg.Transcript.Statusf(port, "%s: %s", resp.Command, resp.ErrorMessage)
	}
}

// payloadLine returns the first non-empty line of a response that is not the
// terminator, which is where identification commands put their answer.
func payloadLine(resp models.CommandResponse) string {
	for _, line := range resp.Raw {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.EqualFold(trimmed, "OK") {
			continue
		}
		return trimmed
	}
	return ""
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
