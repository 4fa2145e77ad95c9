package sequence

import (
	"testing"
	"time"

	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/plugin"
)

func testDefinition(t *testing.T) *plugin.Definition {
	t.Helper()
	def, schemaErrs, err := plugin.Parse([]byte(`
metadata:
  vendor: quectel
  model: ec200u
  category: lte_cat1
  version: 1.0.0
commands:
  basic:
    - cmd: AT
      description: Attention check
      quick: true
    - cmd: AT+CGMI
      description: Manufacturer
      critical: true
      quick: true
    - cmd: AT+CGSN
      description: Serial number
  network:
    - cmd: AT+COPS?
      description: Operator selection
      timeout: 10
    - cmd: AT+CSQ
      description: Signal quality
      quick: true
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(schemaErrs) > 0 {
		t.Fatalf("Parse schema errors: %v", schemaErrs)
	}
	return def
}

func commands(steps []Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Command.Cmd)
	}
	return out
}

func TestResolve_DeclaredOrder(t *testing.T) {
	steps := Resolve(testDefinition(t), Options{})
	want := []string{"AT", "AT+CGMI", "AT+CGSN", "AT+COPS?", "AT+CSQ"}
	got := commands(steps)
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands = %v, want %v (declared order)", got, want)
		}
	}
	if steps[3].Category != "network" {
		t.Errorf("AT+COPS? category = %q", steps[3].Category)
	}
}

func TestResolve_CategoryFilter(t *testing.T) {
	steps := Resolve(testDefinition(t), Options{Categories: []string{"network"}})
	got := commands(steps)
	if len(got) != 2 || got[0] != "AT+COPS?" || got[1] != "AT+CSQ" {
		t.Errorf("commands = %v", got)
	}
}

func TestResolve_QuickOnly(t *testing.T) {
	steps := Resolve(testDefinition(t), Options{QuickOnly: true})
	got := commands(steps)
	want := []string{"AT", "AT+CGMI", "AT+CSQ"}
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands = %v, want %v", got, want)
		}
	}
}

func TestResolve_NilDefinition(t *testing.T) {
	if steps := Resolve(nil, Options{}); steps != nil {
		t.Errorf("Resolve(nil) = %v", steps)
	}
}

func TestBatch_TimeoutOverride(t *testing.T) {
	steps := Resolve(testDefinition(t), Options{})
	batch := Batch(steps)
	if len(batch) != len(steps) {
		t.Fatalf("batch = %d entries, want %d", len(batch), len(steps))
	}

	for _, bc := range batch {
		switch bc.Text {
		case "AT+COPS?":
			if bc.Timeout == nil || *bc.Timeout != 10*time.Second {
				t.Errorf("AT+COPS? timeout = %v, want 10s", bc.Timeout)
			}
		default:
			if bc.Timeout != nil {
				t.Errorf("%s timeout = %v, want executor default", bc.Text, *bc.Timeout)
			}
		}
	}
}

func TestCriticalCommands(t *testing.T) {
	steps := Resolve(testDefinition(t), Options{})
	critical := CriticalCommands(steps)
	if len(critical) != 1 || critical[0] != "AT+CGMI" {
		t.Errorf("critical = %v", critical)
	}
}
