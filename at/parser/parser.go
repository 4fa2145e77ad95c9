// Package parser implements the response extraction stage: it turns a
// successful models.CommandResponse into structured data according to a
// plugin's parser definition.
//
// Pipeline position:
//
//	at/executor → at/parser → inspection result
//
// Graceful degradation is the package contract: no parsing failure ever
// propagates as an error. Whenever a parser is missing, misconfigured or
// fails to match, Parse returns the raw response text unchanged and reports
// the problem to the logger.
package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/veenone/modem-inspector-sub000/models"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/plugin"
)

// ─────────────────────────────────────────────────────────────────────────────
// Custom parser registry
// ─────────────────────────────────────────────────────────────────────────────

// Func is a registered custom extraction function. It receives the raw
// response text and returns its structured result.
type Func func(raw string) (any, error)

// ─────────────────────────────────────────────────────────────────────────────
// Engine
// ─────────────────────────────────────────────────────────────────────────────

// Engine dispatches responses to the extraction strategy named by a parser
// definition. Custom parsers come from a closed registry populated with
// Register at startup — a plugin file can only name functions that were
// explicitly registered, never arbitrary code. Safe for concurrent use.
type Engine struct {
	logger *slog.Logger

	mu       sync.Mutex
	registry map[string]Func
	resolved map[string]Func // identifier → handle cache
}

// NewEngine constructs an engine with an empty custom registry.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Engine{
		logger:   logger,
		registry: make(map[string]Func),
		resolved: make(map[string]Func),
	}
}

// Register adds a custom parser under the "module.function" identifier that
// plugin definitions reference. Registering an identifier twice replaces the
// earlier function.
func (e *Engine) Register(module, function string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[module+"."+function] = fn
	delete(e.resolved, module+"."+function)
}

// Parse extracts structured data from resp according to def. It returns the
// raw response text unchanged when def is nil, the response was not
// successful, or any step of the extraction fails.
func (e *Engine) Parse(resp models.CommandResponse, def *plugin.ParserDefinition) any {
	raw := resp.Text()

	if def == nil {
		return raw
	}
	if !resp.IsSuccessful() {
		return raw
	}

	var result any
	switch def.Type {
	case plugin.ParserRegex:
		result = e.parseRegex(raw, def)
	case plugin.ParserJSON:
		result = e.parseJSON(raw, def)
	case plugin.ParserCustom:
		result = e.parseCustom(raw, def)
	case plugin.ParserNone:
		return raw
	default:
		e.logger.Warn("unknown parser type, returning raw response",
			"parser", def.Name, "type", string(def.Type))
		return raw
	}

	if def.Unit != "" {
		result = appendUnits(result, def.Unit)
	}
	return result
}

// ─────────────────────────────────────────────────────────────────────────────
// Regex extraction
// ─────────────────────────────────────────────────────────────────────────────

// parseRegex searches raw with the definition's pattern (multiline, dot
// matches newline). Declared group names map positionally to capture groups
// 1..N with int→float→string coercion; group indexes beyond what the pattern
// captured are skipped. Without declared groups, named pattern groups are
// used, else synthesized group_N keys.
func (e *Engine) parseRegex(raw string, def *plugin.ParserDefinition) any {
	if def.Pattern == "" {
		return raw
	}
	re, err := regexp.Compile("(?sm)" + def.Pattern)
	if err != nil {
		e.logger.Warn("parser failed, returning raw response",
			"parser", def.Name, "error", fmt.Sprintf("invalid regex pattern: %v", err))
		return raw
	}
	match := re.FindStringSubmatch(raw)
	if match == nil {
		return raw
	}

	if len(def.Groups) > 0 {
		result := make(map[string]any)
		for idx, name := range def.Groups {
			gi := idx + 1 // declared names are 1-indexed against the groups
			if gi >= len(match) {
				continue
			}
			result[name] = coerce(match[gi])
		}
		return result
	}

	// Fall back to the pattern's own named groups.
	names := re.SubexpNames()
	named := make(map[string]any)
	for i, name := range names {
		if name != "" && i < len(match) {
			named[name] = match[i]
		}
	}
	if len(named) > 0 {
		return named
	}

	// Last resort: synthesize group_N keys from every captured group.
	result := make(map[string]any)
	for i := 1; i < len(match); i++ {
		result[fmt.Sprintf("group_%d", i)] = match[i]
	}
	return result
}

// coerce attempts int then float conversion, keeping the string otherwise.
func coerce(s string) any {
	if !strings.Contains(s, ".") {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// JSON extraction
// ─────────────────────────────────────────────────────────────────────────────

// parseJSON parses the first JSON value found in raw (skipping any leading
// echo or noise) and optionally descends a dotted path. Any failure returns
// raw unchanged.
func (e *Engine) parseJSON(raw string, def *plugin.ParserDefinition) any {
	start := strings.IndexAny(raw, "{[")
	if start == -1 {
		return raw
	}

	// Decode only the first JSON value; trailing lines such as the OK
	// terminator follow the payload.
	var parsed any
	dec := json.NewDecoder(strings.NewReader(raw[start:]))
	if err := dec.Decode(&parsed); err != nil {
		return raw
	}

	if def.JSONPath != "" {
		for _, key := range strings.Split(def.JSONPath, ".") {
			obj, ok := parsed.(map[string]any)
			if !ok {
				return raw
			}
			parsed, ok = obj[key]
			if !ok {
				return raw
			}
		}
	}
	return parsed
}

// ─────────────────────────────────────────────────────────────────────────────
// Custom extraction
// ─────────────────────────────────────────────────────────────────────────────

// parseCustom resolves the registered function named by the definition,
// caching the handle for reuse, and invokes it. Resolution or invocation
// failure degrades to the raw text.
func (e *Engine) parseCustom(raw string, def *plugin.ParserDefinition) any {
	if def.Module == "" || def.Function == "" {
		e.logger.Warn("parser failed, returning raw response",
			"parser", def.Name, "error", "custom parser requires module and function")
		return raw
	}
	key := def.Module + "." + def.Function

	e.mu.Lock()
	fn, ok := e.resolved[key]
	if !ok {
		fn, ok = e.registry[key]
		if ok {
			e.resolved[key] = fn
		}
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Warn("parser failed, returning raw response",
			"parser", def.Name, "error", fmt.Sprintf("custom parser %q is not registered", key))
		return raw
	}

	result, err := fn(raw)
	if err != nil {
		e.logger.Warn("parser failed, returning raw response",
			"parser", def.Name, "error", fmt.Sprintf("custom parser %q: %v", key, err))
		return raw
	}
	return result
}

// ─────────────────────────────────────────────────────────────────────────────
// Units
// ─────────────────────────────────────────────────────────────────────────────

// appendUnits adds a "<key>_unit" sibling for every numeric value of a map
// result.
func appendUnits(result any, unit string) any {
	m, ok := result.(map[string]any)
	if !ok {
		return result
	}
	var numeric []string
	for key, value := range m {
		switch value.(type) {
		case int, int64, float64:
			numeric = append(numeric, key)
		}
	}
	for _, key := range numeric {
		m[key+"_unit"] = unit
	}
	return m
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
