package plugin

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
)

// ─────────────────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────────────────

// Catalog owns every loaded plugin definition, keyed by case-folded
// "vendor.model". The definition map is copy-on-replace: readers take the
// current snapshot without locking, and Reload swaps in a complete new map
// atomically — a reader sees either the old or the new map, never a partial
// rebuild.
type Catalog struct {
	dirs   []string
	logger *slog.Logger

	snapshot atomic.Pointer[map[string]*Definition]
}

// NewCatalog creates a catalog over the given plugin directories. No files
// are read until Discover or Reload is called.
func NewCatalog(dirs []string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	c := &Catalog{dirs: dirs, logger: logger}
	empty := make(map[string]*Definition)
	c.snapshot.Store(&empty)
	return c
}

// DirsFromEnv returns the plugin search directories: the colon-separated
// MODEM_INSPECTOR_PLUGIN_DIRS environment variable, or the documented
// default.
func DirsFromEnv() []string {
	if v := os.Getenv("MODEM_INSPECTOR_PLUGIN_DIRS"); v != "" {
		return strings.Split(v, ":")
	}
	return []string{"/etc/modem-inspector/plugins"}
}

// Discover walks every configured directory recursively for .yaml/.yml
// definition files and loads them into a fresh snapshot. A file that fails to
// parse or schema-validate is skipped and logged; one bad file never aborts
// the pass. Returns the successfully loaded definitions.
func (c *Catalog) Discover() []*Definition {
	next := make(map[string]*Definition)
	var loaded []*Definition

	for _, dir := range c.dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			// Missing directories are tolerated to allow partial deployments.
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				c.logger.Warn("plugin: walk error", "path", path, "error", err.Error())
				return nil
			}
			if d.IsDir() || !isDefinitionFile(path) {
				return nil
			}
			def, err := Load(path)
			if err != nil {
				c.logger.Warn("plugin: skipping file", "path", path, "error", err.Error())
				return nil
			}
			if warnings := Validate(def); len(warnings) > 0 {
				for _, w := range warnings {
					c.logger.Warn("plugin: semantic warning", "path", path, "warning", w)
				}
			}
			next[def.Key()] = def
			loaded = append(loaded, def)
			return nil
		})
		if err != nil {
			c.logger.Warn("plugin: directory walk failed", "dir", dir, "error", err.Error())
		}
	}

	c.snapshot.Store(&next)
	c.logger.Info("plugin: discovery complete", "dirs", len(c.dirs), "plugins", len(next))
	return loaded
}

// Reload clears and rebuilds the cache atomically.
func (c *Catalog) Reload() []*Definition {
	return c.Discover()
}

// Get looks up a definition by vendor and model, case-insensitively.
func (c *Catalog) Get(vendor, model string) (*Definition, bool) {
	snap := *c.snapshot.Load()
	def, ok := snap[strings.ToLower(vendor)+"."+strings.ToLower(model)]
	return def, ok
}

// All returns every cached definition, sorted by key for deterministic
// output.
func (c *Catalog) All() []*Definition {
	snap := *c.snapshot.Load()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Definition, 0, len(keys))
	for _, k := range keys {
		out = append(out, snap[k])
	}
	return out
}

// List filters the cached definitions by vendor and/or category. Empty
// filter values match everything.
func (c *Catalog) List(vendor, category string) []*Definition {
	var out []*Definition
	for _, def := range c.All() {
		if vendor != "" && !strings.EqualFold(def.Metadata.Vendor, vendor) {
			continue
		}
		if category != "" && !strings.EqualFold(def.Metadata.Category, category) {
			continue
		}
		out = append(out, def)
	}
	return out
}

// SelectAuto matches a plugin against the raw manufacturer/model strings read
// from a device (AT+CGMI / AT+CGMM). First pass requires the plugin's vendor
// to be a substring of the manufacturer and its model a substring of the
// model, both case-folded. Second pass accepts a vendor-only match when one
// of the declared model variants is a substring of the model string. Returns
// nil when nothing matches.
func (c *Catalog) SelectAuto(manufacturer, model string) *Definition {
	manufacturer = strings.ToLower(manufacturer)
	model = strings.ToLower(model)

	defs := c.All()
	for _, def := range defs {
		vendorMatch := strings.Contains(manufacturer, strings.ToLower(def.Metadata.Vendor))
		modelMatch := strings.Contains(model, strings.ToLower(def.Metadata.Model))
		if vendorMatch && modelMatch {
			return def
		}
	}
	for _, def := range defs {
		if !strings.Contains(manufacturer, strings.ToLower(def.Metadata.Vendor)) {
			continue
		}
		for _, variant := range def.Metadata.Variants {
			if strings.Contains(model, strings.ToLower(variant)) {
				return def
			}
		}
	}
	return nil
}

// Len returns the number of cached definitions.
func (c *Catalog) Len() int {
	return len(*c.snapshot.Load())
}

func (c *Catalog) String() string {
	return fmt.Sprintf("Catalog(%d dirs, %d plugins)", len(c.dirs), c.Len())
}

func isDefinitionFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
