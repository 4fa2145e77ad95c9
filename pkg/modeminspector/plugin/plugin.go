// Package plugin provides the declarative vendor/model definitions that drive
// modem inspection: which AT commands to run, how to connect, and how to
// parse the responses.
//
// Definitions are YAML files, one per vendor/model. Loading validates them in
// two independent layers: structural schema validation (fatal for that file)
// and semantic validation (non-fatal warnings). The Catalog owns all loaded
// definitions behind a copy-on-replace snapshot so readers never observe a
// partially rebuilt cache.
package plugin

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Enumerations
// ─────────────────────────────────────────────────────────────────────────────

// ParserType selects the extraction strategy applied to a successful
// response.
type ParserType string

const (
	ParserRegex  ParserType = "regex"
	ParserJSON   ParserType = "json"
	ParserCustom ParserType = "custom"
	ParserNone   ParserType = "none"
)

// Valid reports whether t is a known parser type.
func (t ParserType) Valid() bool {
	switch t {
	case ParserRegex, ParserJSON, ParserCustom, ParserNone:
		return true
	}
	return false
}

// Categories a plugin may declare in its metadata.
var Categories = []string{"5g_highperf", "lte_cat1", "automotive", "iot", "nbiot", "other"}

// ValidCategory reports whether c is one of the declared plugin categories.
func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Definition model
// ─────────────────────────────────────────────────────────────────────────────

// Metadata identifies and versions a plugin.
type Metadata struct {
	Vendor         string   `yaml:"vendor"`
	Model          string   `yaml:"model"`
	Category       string   `yaml:"category"`
	Version        string   `yaml:"version"` // semantic "X.Y.Z"
	Author         string   `yaml:"author,omitempty"`
	CompatibleWith string   `yaml:"compatible_with,omitempty"`
	Variants       []string `yaml:"variants,omitempty"`
}

// InitCommand is one step of a connection init sequence.
type InitCommand struct {
	Cmd      string `yaml:"cmd"`
	Expected string `yaml:"expected,omitempty"`
}

// Connection holds the serial defaults declared by a plugin.
type Connection struct {
	DefaultBaud  int           `yaml:"default_baud"`
	DataBits     int           `yaml:"data_bits"`
	Parity       string        `yaml:"parity"`
	StopBits     int           `yaml:"stop_bits"`
	FlowControl  bool          `yaml:"flow_control"`
	InitSequence []InitCommand `yaml:"init_sequence,omitempty"`
}

func (c *Connection) withDefaults() {
	if c.DefaultBaud == 0 {
		c.DefaultBaud = 115200
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
}

// CommandDefinition is one AT command as declared by a plugin. Immutable
// after load; owned by the Catalog.
type CommandDefinition struct {
	Cmd            string `yaml:"cmd"`
	Description    string `yaml:"description"`
	Category       string `yaml:"category"`
	Timeout        int    `yaml:"timeout,omitempty"` // seconds, 0 = executor default
	Parser         string `yaml:"parser,omitempty"`
	Critical       bool   `yaml:"critical,omitempty"`
	Quick          bool   `yaml:"quick,omitempty"`
	ExpectedFormat string `yaml:"expected_format,omitempty"`
}

// ParserDefinition describes one response extraction strategy.
type ParserDefinition struct {
	Name         string     `yaml:"-"`
	Type         ParserType `yaml:"type"`
	Pattern      string     `yaml:"pattern,omitempty"`
	Groups       []string   `yaml:"groups,omitempty"`
	JSONPath     string     `yaml:"json_path,omitempty"`
	Module       string     `yaml:"module,omitempty"`
	Function     string     `yaml:"function,omitempty"`
	Unit         string     `yaml:"unit,omitempty"`
	OutputFormat string     `yaml:"output_format,omitempty"`
}

// Validation carries the optional hardware-validation rules.
type Validation struct {
	RequiredResponses    []string            `yaml:"required_responses,omitempty"`
	ExpectedManufacturer string              `yaml:"expected_manufacturer,omitempty"`
	ExpectedModelPattern string              `yaml:"expected_model_pattern,omitempty"`
	ExpectedValues       map[string][]string `yaml:"expected_values,omitempty"`
}

// Definition is one fully loaded plugin. Immutable after load.
type Definition struct {
	Metadata   Metadata                    `yaml:"metadata"`
	Connection Connection                  `yaml:"connection"`
	Commands   CommandSet                  `yaml:"commands"`
	Parsers    map[string]ParserDefinition `yaml:"parsers,omitempty"`
	Validation *Validation                 `yaml:"validation,omitempty"`

	// FilePath is the provenance of this definition; empty for generated
	// definitions.
	FilePath string `yaml:"-"`
}

// Key returns the case-folded "vendor.model" cache key.
func (d *Definition) Key() string {
	return strings.ToLower(d.Metadata.Vendor) + "." + strings.ToLower(d.Metadata.Model)
}

// Parser looks up a parser definition by name.
func (d *Definition) Parser(name string) (ParserDefinition, bool) {
	p, ok := d.Parsers[name]
	return p, ok
}

// InitCommands returns the command strings of the init sequence.
func (d *Definition) InitCommands() []string {
	out := make([]string, 0, len(d.Connection.InitSequence))
	for _, ic := range d.Connection.InitSequence {
		if ic.Cmd != "" {
			out = append(out, ic.Cmd)
		}
	}
	return out
}

func (d *Definition) String() string {
	return fmt.Sprintf("Plugin(%s.%s v%s, %d commands)",
		d.Metadata.Vendor, d.Metadata.Model, d.Metadata.Version, len(d.Commands.All()))
}

// ─────────────────────────────────────────────────────────────────────────────
// CommandSet — category → ordered command lists, declaration order preserved
// ─────────────────────────────────────────────────────────────────────────────

// CommandSet groups commands by category name. Both the category order and
// the command order within each category follow the YAML declaration order.
type CommandSet struct {
	order      []string
	byCategory map[string][]CommandDefinition
}

// NewCommandSet builds a set from explicit category/commands pairs, keeping
// the given order. Used by the generator and by tests.
func NewCommandSet(categories []string, byCategory map[string][]CommandDefinition) CommandSet {
	return CommandSet{order: categories, byCategory: byCategory}
}

// Categories returns category names in declaration order.
func (s CommandSet) Categories() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Get returns the ordered commands of one category.
func (s CommandSet) Get(category string) []CommandDefinition {
	return s.byCategory[category]
}

// All flattens every category's commands in declaration order.
func (s CommandSet) All() []CommandDefinition {
	var out []CommandDefinition
	for _, cat := range s.order {
		out = append(out, s.byCategory[cat]...)
	}
	return out
}

// Len counts commands across all categories.
func (s CommandSet) Len() int {
	n := 0
	for _, cmds := range s.byCategory {
		n += len(cmds)
	}
	return n
}

// UnmarshalYAML decodes the commands mapping while preserving the key order
// of the YAML document.
func (s *CommandSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("commands: expected a mapping, got %s", nodeKind(node))
	}
	s.order = nil
	s.byCategory = make(map[string][]CommandDefinition)

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		category := keyNode.Value

		var cmds []CommandDefinition
		if err := valNode.Decode(&cmds); err != nil {
			return fmt.Errorf("commands.%s: %w", category, err)
		}
		// A command's own category defaults to the bucket it sits in.
		for j := range cmds {
			if cmds[j].Category == "" {
				cmds[j].Category = category
			}
		}
		if _, dup := s.byCategory[category]; !dup {
			s.order = append(s.order, category)
		}
		s.byCategory[category] = append(s.byCategory[category], cmds...)
	}
	return nil
}

// MarshalYAML emits the mapping in declaration order.
func (s CommandSet) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, cat := range s.order {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: cat}
		valNode := &yaml.Node{}
		if err := valNode.Encode(s.byCategory[cat]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	default:
		return "node"
	}
}

// sortedParserNames returns parser names in a stable order for deterministic
// validation output.
func sortedParserNames(parsers map[string]ParserDefinition) []string {
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
