package plugin

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SchemaError is the fatal outcome of loading one definition file: the file
// failed structural validation and was not loaded. One file's SchemaError
// never aborts a discovery pass.
type SchemaError struct {
	Path   string
	Errors []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("plugin: %s: %d schema error(s): %s", e.Path, len(e.Errors), joinFirst(e.Errors))
}

func joinFirst(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0]
}

// Load reads, schema-validates and builds the typed definition from one YAML
// file. Schema failure yields a *SchemaError and no definition. Semantic
// warnings do not block loading; collect them separately via Validate.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	def, schemaErrs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	if len(schemaErrs) > 0 {
		return nil, &SchemaError{Path: path, Errors: schemaErrs}
	}
	def.FilePath = path
	return def, nil
}

// Parse decodes raw YAML into a typed definition and runs schema validation.
// A YAML syntax failure is returned as err; schema violations come back in
// schemaErrs with a nil definition. Connection defaults are applied before
// validation so an omitted connection block validates against the defaults.
func Parse(data []byte) (def *Definition, schemaErrs []string, err error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, nil, fmt.Errorf("invalid YAML syntax: %w", err)
	}
	d.Connection.withDefaults()

	// Parser names live as map keys in the file; copy them onto the values.
	for name, p := range d.Parsers {
		p.Name = name
		if p.Type == "" {
			p.Type = ParserNone
		}
		d.Parsers[name] = p
	}

	if errs := ValidateSchema(&d); len(errs) > 0 {
		return nil, errs, nil
	}
	return &d, nil, nil
}

// ValidateFile runs both validation layers against one file.
// ok is false when schema validation failed (errs non-empty); warnings carry
// the non-fatal semantic findings of a schema-valid file.
func ValidateFile(path string) (ok bool, errs []string, warnings []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, []string{fmt.Sprintf("failed to read file: %v", err)}, nil
	}
	def, schemaErrs, err := Parse(data)
	if err != nil {
		return false, []string{err.Error()}, nil
	}
	if len(schemaErrs) > 0 {
		return false, schemaErrs, nil
	}
	return true, nil, Validate(def)
}
