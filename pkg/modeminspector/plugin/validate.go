package plugin

import (
	"fmt"
	"regexp"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Schema validation — structural, fatal per file
// ─────────────────────────────────────────────────────────────────────────────

var (
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	atPattern      = regexp.MustCompile(`^AT`)
)

// Baud rates a plugin may declare.
const (
	MinBaud = 9600
	MaxBaud = 921600
)

// ValidateSchema checks the structural correctness of a definition against
// the fixed plugin schema. Every violation is reported; an empty slice means
// the definition is loadable.
func ValidateSchema(d *Definition) []string {
	var errs []string

	if d.Metadata.Vendor == "" {
		errs = append(errs, "metadata.vendor: required field is missing")
	}
	if d.Metadata.Model == "" {
		errs = append(errs, "metadata.model: required field is missing")
	}
	if d.Metadata.Category == "" {
		errs = append(errs, "metadata.category: required field is missing")
	} else if !ValidCategory(d.Metadata.Category) {
		errs = append(errs, fmt.Sprintf("metadata.category: %q is not one of %s",
			d.Metadata.Category, strings.Join(Categories, ", ")))
	}
	if d.Metadata.Version == "" {
		errs = append(errs, "metadata.version: required field is missing")
	} else if !versionPattern.MatchString(d.Metadata.Version) {
		errs = append(errs, fmt.Sprintf("metadata.version: %q is not a semantic version (X.Y.Z)", d.Metadata.Version))
	}

	if d.Connection.DefaultBaud < MinBaud || d.Connection.DefaultBaud > MaxBaud {
		errs = append(errs, fmt.Sprintf("connection.default_baud: %d outside allowed range %d-%d",
			d.Connection.DefaultBaud, MinBaud, MaxBaud))
	}
	if d.Connection.DataBits < 5 || d.Connection.DataBits > 8 {
		errs = append(errs, fmt.Sprintf("connection.data_bits: %d outside allowed range 5-8", d.Connection.DataBits))
	}
	switch d.Connection.Parity {
	case "N", "E", "O":
	default:
		errs = append(errs, fmt.Sprintf("connection.parity: %q is not one of N, E, O", d.Connection.Parity))
	}
	if d.Connection.StopBits < 1 || d.Connection.StopBits > 2 {
		errs = append(errs, fmt.Sprintf("connection.stop_bits: %d outside allowed range 1-2", d.Connection.StopBits))
	}

	for _, cat := range d.Commands.Categories() {
		for i, cmd := range d.Commands.Get(cat) {
			if cmd.Cmd == "" {
				errs = append(errs, fmt.Sprintf("commands.%s[%d].cmd: required field is missing", cat, i))
				continue
			}
			if !atPattern.MatchString(cmd.Cmd) {
				errs = append(errs, fmt.Sprintf("commands.%s[%d].cmd: %q does not match the AT command pattern", cat, i, cmd.Cmd))
			}
		}
	}

	for _, name := range sortedParserNames(d.Parsers) {
		if p := d.Parsers[name]; !p.Type.Valid() {
			errs = append(errs, fmt.Sprintf("parsers.%s.type: %q is not one of regex, json, custom, none", name, p.Type))
		}
	}

	return errs
}

// ─────────────────────────────────────────────────────────────────────────────
// Semantic validation — advisory, never blocks loading
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs the semantic checks beyond schema: cross-references and
// consistency rules that tolerate partially specified plugins. Findings come
// back as warnings; none is fatal.
func Validate(d *Definition) []string {
	var warnings []string

	// Duplicate command strings across categories.
	seen := make(map[string]string)
	for _, cmd := range d.Commands.All() {
		if prev, dup := seen[cmd.Cmd]; dup {
			warnings = append(warnings, fmt.Sprintf(
				"duplicate command %q in categories %q and %q", cmd.Cmd, prev, cmd.Category))
		} else {
			seen[cmd.Cmd] = cmd.Category
		}
	}

	// Parser references must resolve. Soft invariant: a dangling reference
	// degrades to raw output at parse time, so it warns instead of failing.
	for _, cmd := range d.Commands.All() {
		if cmd.Parser == "" {
			continue
		}
		if _, ok := d.Parsers[cmd.Parser]; !ok {
			warnings = append(warnings, fmt.Sprintf(
				"command %q references undefined parser %q", cmd.Cmd, cmd.Parser))
		}
	}

	// Non-AT command strings.
	for _, cmd := range d.Commands.All() {
		if !strings.HasPrefix(cmd.Cmd, "AT") {
			warnings = append(warnings, fmt.Sprintf(
				"command %q does not start with 'AT' (non-standard format)", cmd.Cmd))
		}
	}

	// Category field vs. the bucket the command is stored under. Advisory
	// only; the command still runs under its declared bucket.
	for _, cat := range d.Commands.Categories() {
		for _, cmd := range d.Commands.Get(cat) {
			if cmd.Category != cat {
				warnings = append(warnings, fmt.Sprintf(
					"command %q has category %q but is in %q group", cmd.Cmd, cmd.Category, cat))
			}
		}
	}

	// Init sequence commands.
	for i, ic := range d.Connection.InitSequence {
		if !strings.HasPrefix(ic.Cmd, "AT") {
			warnings = append(warnings, fmt.Sprintf(
				"init sequence command #%d %q does not start with 'AT'", i+1, ic.Cmd))
		}
	}

	// Regex parser patterns must compile.
	for _, name := range sortedParserNames(d.Parsers) {
		p := d.Parsers[name]
		if p.Type == ParserRegex && p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				warnings = append(warnings, fmt.Sprintf(
					"parser %q has invalid regex pattern: %v", name, err))
			}
		}
	}

	return warnings
}
