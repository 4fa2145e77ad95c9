package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Template generation
// ─────────────────────────────────────────────────────────────────────────────

// GeneratorOptions selects the identity of a generated plugin template.
type GeneratorOptions struct {
	Vendor   string
	Model    string
	Category string // defaults to "other"
	Author   string
}

// universalCommands are the 3GPP commands every generated template carries.
func universalCommands() ([]string, map[string][]CommandDefinition) {
	basic := []CommandDefinition{
		{Cmd: "AT", Description: "Test command - verifies modem responsiveness", Category: "basic", Timeout: 5, Critical: true, Quick: true},
		{Cmd: "AT+CGMI", Description: "Request manufacturer identification", Category: "basic", Timeout: 5, Critical: true, Quick: true},
		{Cmd: "AT+CGMM", Description: "Request model identification", Category: "basic", Timeout: 5, Quick: true},
		{Cmd: "AT+CGMR", Description: "Request revision identification", Category: "basic", Timeout: 5, Quick: true},
		{Cmd: "AT+CGSN", Description: "Request IMEI", Category: "basic", Timeout: 5, Quick: true},
	}
	network := []CommandDefinition{
		{Cmd: "AT+CSQ", Description: "Signal quality report", Category: "network", Timeout: 5, Parser: "signal_quality", Quick: true},
		{Cmd: "AT+COPS?", Description: "Operator selection (current network)", Category: "network", Timeout: 10},
		{Cmd: "AT+CREG?", Description: "Network registration status", Category: "network", Timeout: 5, Quick: true},
	}
	return []string{"basic", "network"}, map[string][]CommandDefinition{
		"basic":   basic,
		"network": network,
	}
}

// Generate builds a starter definition for the given vendor/model. The result
// passes schema validation with zero errors, so a generated file round-trips
// cleanly through ValidateFile.
func Generate(opts GeneratorOptions) *Definition {
	category := opts.Category
	if category == "" || !ValidCategory(category) {
		category = "other"
	}
	order, byCategory := universalCommands()

	return &Definition{
		Metadata: Metadata{
			Vendor:   opts.Vendor,
			Model:    opts.Model,
			Category: category,
			Version:  "1.0.0",
			Author:   opts.Author,
		},
		Connection: Connection{
			DefaultBaud: 115200,
			DataBits:    8,
			Parity:      "N",
			StopBits:    1,
			InitSequence: []InitCommand{
				{Cmd: "ATE0", Expected: "OK"},
			},
		},
		Commands: NewCommandSet(order, byCategory),
		Parsers: map[string]ParserDefinition{
			"signal_quality": {
				Name:    "signal_quality",
				Type:    ParserRegex,
				Pattern: `\+CSQ: (\d+),(\d+)`,
				Groups:  []string{"rssi", "ber"},
			},
		},
		Validation: &Validation{
			RequiredResponses: []string{"AT", "AT+CGMI"},
		},
	}
}

// Marshal serializes a definition to plugin-file YAML.
func Marshal(d *Definition) ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("plugin: marshal %s: %w", d.Key(), err)
	}
	return data, nil
}

// WriteTemplate generates a starter plugin and writes it to path, creating
// parent directories as needed. It refuses to overwrite an existing file.
func WriteTemplate(opts GeneratorOptions, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("plugin: %s already exists", path)
	}
	def := Generate(opts)
	data, err := Marshal(def)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("plugin: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("plugin: write %s: %w", path, err)
	}
	return nil
}
