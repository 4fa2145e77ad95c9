package plugin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validPluginYAML = `
metadata:
  vendor: quectel
  model: ec200u
  category: lte_cat1
  version: 1.0.0
  variants:
    - EC200U-CN
    - EC200U-EU
connection:
  default_baud: 115200
  data_bits: 8
  parity: N
  stop_bits: 1
  flow_control: false
  init_sequence:
    - cmd: ATE0
      expected: OK
commands:
  basic:
    - cmd: AT
      description: Test command
      category: basic
      timeout: 5
      critical: true
      quick: true
    - cmd: AT+CGMI
      description: Manufacturer
      category: basic
      quick: true
  network:
    - cmd: AT+CSQ
      description: Signal quality
      category: network
      parser: signal_quality
parsers:
  signal_quality:
    type: regex
    pattern: '\+CSQ: (\d+),(\d+)'
    groups: [rssi, ber]
validation:
  required_responses: [AT, AT+CGMI]
  expected_manufacturer: Quectel
`

func writePlugin(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ── Parse / Load ─────────────────────────────────────────────────────────────

func TestParse_Valid(t *testing.T) {
	def, schemaErrs, err := Parse([]byte(validPluginYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(schemaErrs) > 0 {
		t.Fatalf("schema errors: %v", schemaErrs)
	}
	if def.Key() != "quectel.ec200u" {
		t.Errorf("Key = %q", def.Key())
	}
	if got := def.Commands.Categories(); len(got) != 2 || got[0] != "basic" || got[1] != "network" {
		t.Errorf("Categories = %v, want declaration order [basic network]", got)
	}
	if def.Commands.Len() != 3 {
		t.Errorf("Len = %d, want 3", def.Commands.Len())
	}
	p, ok := def.Parser("signal_quality")
	if !ok {
		t.Fatal("parser signal_quality not found")
	}
	if p.Type != ParserRegex || p.Name != "signal_quality" {
		t.Errorf("parser = %+v", p)
	}
	if got := def.InitCommands(); len(got) != 1 || got[0] != "ATE0" {
		t.Errorf("InitCommands = %v", got)
	}
}

func TestParse_ConnectionDefaults(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: 1.0.0}
commands:
  basic:
    - {cmd: AT, description: test, category: basic}
`
	def, schemaErrs, err := Parse([]byte(yaml))
	if err != nil || len(schemaErrs) > 0 {
		t.Fatalf("Parse: %v %v", err, schemaErrs)
	}
	c := def.Connection
	if c.DefaultBaud != 115200 || c.DataBits != 8 || c.Parity != "N" || c.StopBits != 1 {
		t.Errorf("connection defaults = %+v", c)
	}
}

func TestLoad_SetsProvenance(t *testing.T) {
	dir := t.TempDir()
	path := writePlugin(t, dir, "ec200u.yaml", validPluginYAML)
	def, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def.FilePath != path {
		t.Errorf("FilePath = %q, want %q", def.FilePath, path)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writePlugin(t, dir, "bad.yaml", "metadata: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}

// ── Schema validation ────────────────────────────────────────────────────────

func TestValidateSchema_MissingVersion(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other}
commands:
  basic:
    - {cmd: AT, description: test, category: basic}
`
	_, schemaErrs, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(schemaErrs) == 0 {
		t.Fatal("missing version passed schema validation")
	}
	found := false
	for _, e := range schemaErrs {
		if strings.Contains(e, "version") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not reference version", schemaErrs)
	}
}

func TestValidateSchema_InvalidCategory(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: invalid_category, version: 1.0.0}
commands:
  basic:
    - {cmd: AT, description: test, category: basic}
`
	dir := t.TempDir()
	path := writePlugin(t, dir, "p.yaml", yaml)
	ok, errs, warnings := ValidateFile(path)
	if ok {
		t.Fatal("invalid category passed validation")
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none for schema failure", warnings)
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e, "category") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors %v do not reference category", errs)
	}
}

func TestValidateSchema_BaudRange(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: 1.0.0}
connection: {default_baud: 1200}
commands:
  basic:
    - {cmd: AT, description: test, category: basic}
`
	_, schemaErrs, _ := Parse([]byte(yaml))
	if len(schemaErrs) == 0 {
		t.Fatal("baud 1200 passed schema validation")
	}
}

func TestValidateSchema_NonATCommand(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: 1.0.0}
commands:
  basic:
    - {cmd: HELLO, description: test, category: basic}
`
	_, schemaErrs, _ := Parse([]byte(yaml))
	if len(schemaErrs) == 0 {
		t.Fatal("non-AT command passed schema validation")
	}
}

func TestValidateSchema_BadVersionFormat(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: "1.0"}
commands:
  basic:
    - {cmd: AT, description: test, category: basic}
`
	_, schemaErrs, _ := Parse([]byte(yaml))
	if len(schemaErrs) == 0 {
		t.Fatal("version 1.0 passed schema validation")
	}
}

// ── Semantic validation ──────────────────────────────────────────────────────

func TestValidate_DuplicateCommand(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: 1.0.0}
commands:
  basic:
    - {cmd: AT+CSQ, description: a, category: basic}
  network:
    - {cmd: AT+CSQ, description: b, category: network}
`
	def, schemaErrs, err := Parse([]byte(yaml))
	if err != nil || len(schemaErrs) > 0 {
		t.Fatalf("Parse: %v %v", err, schemaErrs)
	}
	warnings := Validate(def)
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "duplicate") && strings.Contains(w, "basic") && strings.Contains(w, "network") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v missing duplicate citing both categories", warnings)
	}
}

func TestValidate_UndefinedParser(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: 1.0.0}
commands:
  basic:
    - {cmd: AT+CSQ, description: a, category: basic, parser: nonexistent}
`
	def, _, _ := Parse([]byte(yaml))
	warnings := Validate(def)
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "undefined parser") && strings.Contains(w, "nonexistent") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v missing undefined parser reference", warnings)
	}
}

func TestValidate_CategoryMismatch(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: 1.0.0}
commands:
  basic:
    - {cmd: AT, description: a, category: network}
`
	def, _, _ := Parse([]byte(yaml))
	warnings := Validate(def)
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "network") && strings.Contains(w, "basic") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v missing category mismatch", warnings)
	}
}

func TestValidate_BadRegexPattern(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: 1.0.0}
commands:
  basic:
    - {cmd: AT, description: a, category: basic}
parsers:
  broken:
    type: regex
    pattern: '([unclosed'
`
	def, schemaErrs, err := Parse([]byte(yaml))
	if err != nil || len(schemaErrs) > 0 {
		t.Fatalf("Parse: %v %v", err, schemaErrs)
	}
	warnings := Validate(def)
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "broken") && strings.Contains(w, "regex") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v missing bad regex finding", warnings)
	}
}

func TestValidate_InitSequenceNonAT(t *testing.T) {
	yaml := `
metadata: {vendor: v, model: m, category: other, version: 1.0.0}
connection:
  init_sequence:
    - {cmd: HELLO}
commands:
  basic:
    - {cmd: AT, description: a, category: basic}
`
	def, _, _ := Parse([]byte(yaml))
	warnings := Validate(def)
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "init sequence") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v missing init sequence finding", warnings)
	}
}

// ── Generator round trip ─────────────────────────────────────────────────────

func TestGenerate_RoundTrip(t *testing.T) {
	def := Generate(GeneratorOptions{Vendor: "myvendor", Model: "mymodel", Category: "iot"})
	data, err := Marshal(def)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, schemaErrs, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of generated template: %v", err)
	}
	if len(schemaErrs) != 0 {
		t.Fatalf("generated template has schema errors: %v", schemaErrs)
	}
	if parsed.Key() != "myvendor.mymodel" {
		t.Errorf("Key = %q", parsed.Key())
	}
	if parsed.Commands.Len() != def.Commands.Len() {
		t.Errorf("command count %d != %d after round trip", parsed.Commands.Len(), def.Commands.Len())
	}
	if warnings := Validate(parsed); len(warnings) != 0 {
		t.Errorf("generated template has semantic warnings: %v", warnings)
	}
}

func TestGenerate_InvalidCategoryFallsBack(t *testing.T) {
	def := Generate(GeneratorOptions{Vendor: "v", Model: "m", Category: "bogus"})
	if def.Metadata.Category != "other" {
		t.Errorf("Category = %q, want other", def.Metadata.Category)
	}
}

func TestWriteTemplate_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	if err := WriteTemplate(GeneratorOptions{Vendor: "v", Model: "m"}, path); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	if err := WriteTemplate(GeneratorOptions{Vendor: "v", Model: "m"}, path); err == nil {
		t.Fatal("WriteTemplate overwrote an existing file")
	}
}
