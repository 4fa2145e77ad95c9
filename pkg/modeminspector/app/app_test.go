package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veenone/modem-inspector-sub000/at/executor"
	"github.com/veenone/modem-inspector-sub000/comlog"
	"github.com/veenone/modem-inspector-sub000/models"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/orchestrator"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/plugin"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/sequence"
	"github.com/veenone/modem-inspector-sub000/transport/serialport"
)

// ── Fake modem ───────────────────────────────────────────────────────────────

// fakeModem answers commands from a canned table, behaving like a transport
// whose device echoes nothing.
type fakeModem struct {
	mu      sync.Mutex
	open    bool
	answers map[string][]string // command → response lines
	last    string
	writes  []string
}

func (f *fakeModem) Open() error  { f.mu.Lock(); f.open = true; f.mu.Unlock(); return nil }
func (f *fakeModem) Close() error { f.mu.Lock(); f.open = false; f.mu.Unlock(); return nil }
func (f *fakeModem) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}
func (f *fakeModem) Flush() error { return nil }

func (f *fakeModem) Send(cmd string) (int, error) {
	f.mu.Lock()
	f.last = cmd
	f.writes = append(f.writes, cmd)
	f.mu.Unlock()
	return len(cmd) + 2, nil
}

func (f *fakeModem) ReadUntil(terminator string, timeout time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lines, ok := f.answers[f.last]; ok {
		return lines, nil
	}
	return []string{"ERROR"}, nil
}

func quectelModem() *fakeModem {
	return &fakeModem{answers: map[string][]string{
		"AT":       {"OK"},
		"ATE0":     {"OK"},
		"AT+CGMI":  {"Quectel", "OK"},
		"AT+CGMM":  {"EC200U-CN", "OK"},
		"AT+CGMR":  {"EC200UCNAAR03A01M08", "OK"},
		"AT+CGSN":  {"861234567890123", "OK"},
		"AT+CSQ":   {"+CSQ: 25,99", "OK"},
		"AT+COPS?": {`+COPS: 0,0,"Carrier",7`, "OK"},
	}}
}

const testPluginYAML = `
metadata:
  vendor: quectel
  model: ec200u
  category: lte_cat1
  version: 1.0.0
  variants:
    - EC200U-CN
    - EC200U-EU
connection:
  init_sequence:
    - cmd: ATE0
      expected: OK
commands:
  basic:
    - cmd: AT+CGMI
      description: Manufacturer
      critical: true
      quick: true
    - cmd: AT+CFUN?
      description: Functionality level
      critical: true
  network:
    - cmd: AT+CSQ
      description: Signal quality
      parser: signal_quality
      quick: true
parsers:
  signal_quality:
    type: regex
    pattern: '\+CSQ: (\d+),(\d+)'
    groups: [rssi, ber]
`

// testInspector wires an Inspector over fake modems, with the test plugin on
// disk for the catalog to discover.
func testInspector(t *testing.T, modems map[string]*fakeModem) *Inspector {
	t.Helper()
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "quectel_ec200u.yaml"), testPluginYAML); err != nil {
		t.Fatalf("write plugin: %v", err)
	}

	insp := New(Config{
		PluginDirs: []string{dir},
		Orchestrator: orchestrator.Options{
			MaxWorkers: 2,
			Executor: executor.Options{
				DefaultTimeout: 100 * time.Millisecond,
				RetryCount:     0,
				Sleep:          func(time.Duration) {},
			},
			Dial: func(port string) (serialport.Transport, error) {
				m, ok := modems[port]
				if !ok {
					return nil, fmt.Errorf("no modem on %s", port)
				}
				return m, nil
			},
		},
	}, nil)

	if defs := insp.LoadPlugins(); len(defs) != 1 {
		t.Fatalf("LoadPlugins = %d definitions, want 1", len(defs))
	}
	ports := make([]string, 0, len(modems))
	for port := range modems {
		ports = append(ports, port)
	}
	if _, err := insp.AddDevices(ports); err != nil {
		t.Fatalf("AddDevices: %v", err)
	}
	return insp
}

func mustPlugin(t *testing.T, insp *Inspector) *plugin.Definition {
	t.Helper()
	def, ok := insp.Catalog().Get("quectel", "ec200u")
	if !ok {
		t.Fatal("test plugin missing from catalog")
	}
	return def
}

// ── Identification ───────────────────────────────────────────────────────────

func TestIdentifyAll(t *testing.T) {
	insp := testInspector(t, map[string]*fakeModem{
		"/dev/ttyUSB0": quectelModem(),
	})
	defer insp.Close()

	ids := insp.IdentifyAll()
	id, ok := ids["/dev/ttyUSB0"]
	if !ok {
		t.Fatalf("ids = %v", ids)
	}
	if id.Manufacturer != "Quectel" || id.Model != "EC200U-CN" {
		t.Errorf("identity = %+v", id)
	}
	if id.Serial != "861234567890123" {
		t.Errorf("serial = %q", id.Serial)
	}
}

func TestIdentifyAll_SilentFieldsLeftEmpty(t *testing.T) {
	modem := quectelModem()
	delete(modem.answers, "AT+CGSN") // answers ERROR
	insp := testInspector(t, map[string]*fakeModem{"/dev/ttyUSB0": modem})
	defer insp.Close()

	id := insp.IdentifyAll()["/dev/ttyUSB0"]
	if id.Serial != "" {
		t.Errorf("serial = %q, want empty for failed probe", id.Serial)
	}
	if id.Manufacturer != "Quectel" {
		t.Errorf("manufacturer = %q", id.Manufacturer)
	}
}

func TestDetectPlugin(t *testing.T) {
	insp := testInspector(t, map[string]*fakeModem{"/dev/ttyUSB0": quectelModem()})
	defer insp.Close()

	def := insp.DetectPlugin(models.ModemIdentity{
		Port: "/dev/ttyUSB0", Manufacturer: "Quectel", Model: "EC200U-CN",
	})
	if def == nil || def.Key() != "quectel.ec200u" {
		t.Errorf("DetectPlugin = %v", def)
	}

	if def := insp.DetectPlugin(models.ModemIdentity{Manufacturer: "Acme", Model: "X1"}); def != nil {
		t.Errorf("unknown modem matched %v", def)
	}
}

// ── Init sequence ────────────────────────────────────────────────────────────

func TestRunInit(t *testing.T) {
	good := quectelModem()
	bad := quectelModem()
	delete(bad.answers, "ATE0") // answers ERROR
	insp := testInspector(t, map[string]*fakeModem{
		"/dev/ttyUSB0": good,
		"/dev/ttyUSB1": bad,
	})
	defer insp.Close()

	failures := insp.RunInit(mustPlugin(t, insp))
	if err := failures["/dev/ttyUSB0"]; err != nil {
		t.Errorf("healthy device init failed: %v", err)
	}
	if err := failures["/dev/ttyUSB1"]; err == nil {
		t.Error("failing device must be reported")
	}
}

// ── Inspection ───────────────────────────────────────────────────────────────

func TestInspect_ParsesAndFlagsCriticalFailures(t *testing.T) {
	insp := testInspector(t, map[string]*fakeModem{"/dev/ttyUSB0": quectelModem()})
	defer insp.Close()

	results := insp.Inspect(mustPlugin(t, insp), sequence.Options{})
	result, ok := results["/dev/ttyUSB0"]
	if !ok {
		t.Fatalf("results = %v", results)
	}
	if len(result.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(result.Records))
	}

	// AT+CFUN? is critical and the fake answers ERROR.
	if result.Succeeded() {
		t.Error("critical failure must mark the result")
	}
	if len(result.CriticalFailures) != 1 || result.CriticalFailures[0] != "AT+CFUN?" {
		t.Errorf("critical failures = %v", result.CriticalFailures)
	}

	// AT+CSQ parses through the declared regex parser.
	var csq *CommandRecord
	for n := range result.Records {
		if result.Records[n].Command == "AT+CSQ" {
			csq = &result.Records[n]
		}
	}
	if csq == nil {
		t.Fatal("AT+CSQ record missing")
	}
	parsed, ok := csq.Parsed.(map[string]any)
	if !ok {
		t.Fatalf("parsed = %T", csq.Parsed)
	}
	if parsed["rssi"] != 25 || parsed["ber"] != 99 {
		t.Errorf("parsed = %#v", parsed)
	}
}

func TestInspect_QuickScan(t *testing.T) {
	insp := testInspector(t, map[string]*fakeModem{"/dev/ttyUSB0": quectelModem()})
	defer insp.Close()

	results := insp.Inspect(mustPlugin(t, insp), sequence.Options{QuickOnly: true})
	result := results["/dev/ttyUSB0"]
	if len(result.Records) != 2 {
		t.Fatalf("records = %d, want quick commands only", len(result.Records))
	}
	if result.Records[0].Command != "AT+CGMI" || result.Records[1].Command != "AT+CSQ" {
		t.Errorf("commands = %v, %v", result.Records[0].Command, result.Records[1].Command)
	}
	if !result.Succeeded() {
		t.Errorf("quick scan skips AT+CFUN?, so no critical failures: %v", result.CriticalFailures)
	}
}

func TestInspect_UnconnectedDeviceOmitted(t *testing.T) {
	good := quectelModem()
	insp := testInspector(t, map[string]*fakeModem{"/dev/ttyUSB0": good})
	defer insp.Close()

	if err := insp.Orchestrator().AddDevice("/dev/ttyUSB9"); err == nil {
		// ttyUSB9 has no fake, so the dialer rejects it; if it somehow
		// registered it must still be absent from results below.
		t.Log("unexpected registration accepted")
	}

	results := insp.Inspect(mustPlugin(t, insp), sequence.Options{})
	if _, present := results["/dev/ttyUSB9"]; present {
		t.Error("unregistered device present in results")
	}
	if len(results) != 1 {
		t.Errorf("results = %d devices, want 1", len(results))
	}
}

// ── Transcript ───────────────────────────────────────────────────────────────

func TestInspect_WritesTranscript(t *testing.T) {
	var buf strings.Builder
	transcript := comlog.New(comlog.Config{Writer: &buf}, nil)

	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "quectel_ec200u.yaml"), testPluginYAML); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	modem := quectelModem()
	insp := New(Config{
		PluginDirs: []string{dir},
		Transcript: transcript,
		Orchestrator: orchestrator.Options{
			Executor: executor.Options{
				DefaultTimeout: 100 * time.Millisecond,
				Sleep:          func(time.Duration) {},
			},
			Dial: func(string) (serialport.Transport, error) { return modem, nil },
		},
	}, nil)
	insp.LoadPlugins()
	if _, err := insp.AddDevices([]string{"/dev/ttyUSB0"}); err != nil {
		t.Fatalf("AddDevices: %v", err)
	}
	defer insp.Close()

	insp.Inspect(mustPlugin(t, insp), sequence.Options{Categories: []string{"network"}})

	out := buf.String()
	if !strings.Contains(out, "TX> AT+CSQ") {
		t.Errorf("transcript missing TX line:\n%s", out)
	}
	if !strings.Contains(out, "RX< +CSQ: 25,99") {
		t.Errorf("transcript missing RX line:\n%s", out)
	}
	if !strings.Contains(out, "-- port opened") {
		t.Errorf("transcript missing status line:\n%s", out)
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestSortedPorts(t *testing.T) {
	m := map[string]int{"/dev/ttyUSB1": 1, "/dev/ttyUSB0": 0}
	ports := SortedPorts(m)
	if len(ports) != 2 || ports[0] != "/dev/ttyUSB0" {
		t.Errorf("SortedPorts = %v", ports)
	}
}
