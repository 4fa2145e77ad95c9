// Package sequence resolves a plugin definition into the ordered run-list of
// commands an inspection will execute. It applies category and quick-scan
// filtering and turns per-command timeout declarations into executor
// overrides, producing orchestrator.BatchCommand values ready for fan-out.
package sequence

import (
	"time"

	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/orchestrator"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/plugin"
)

// Options filters the resolved run-list.
type Options struct {
	// Categories restricts the run to the named command categories. Empty
	// means every category, in the order the plugin declares them.
	Categories []string

	// QuickOnly keeps only commands flagged quick.
	QuickOnly bool
}

// Step is one resolved command together with the plugin metadata the
// inspection needs afterwards: which parser to apply and whether a failure
// is critical.
type Step struct {
	Command  plugin.CommandDefinition
	Category string
}

// Resolve walks the plugin's commands in declared category order and returns
// the filtered, ordered run-list. Commands whose category filter excludes
// them are dropped; order within a category is preserved.
func Resolve(def *plugin.Definition, opts Options) []Step {
	if def == nil {
		return nil
	}

	wanted := make(map[string]bool, len(opts.Categories))
	for _, c := range opts.Categories {
		wanted[c] = true
	}

	var steps []Step
	for _, category := range def.Commands.Categories() {
		if len(wanted) > 0 && !wanted[category] {
			continue
		}
		for _, cmd := range def.Commands.Get(category) {
			if opts.QuickOnly && !cmd.Quick {
				continue
			}
			steps = append(steps, Step{Command: cmd, Category: category})
		}
	}
	return steps
}

// Batch converts a resolved run-list into the batch the orchestrator fans
// out. A command's timeout declaration (seconds) becomes a per-command
// override; zero leaves the executor default in place.
func Batch(steps []Step) []orchestrator.BatchCommand {
	batch := make([]orchestrator.BatchCommand, 0, len(steps))
	for _, step := range steps {
		bc := orchestrator.BatchCommand{Text: step.Command.Cmd}
		if step.Command.Timeout > 0 {
			d := time.Duration(step.Command.Timeout) * time.Second
			bc.Timeout = &d
		}
		batch = append(batch, bc)
	}
	return batch
}

// CriticalCommands returns the command strings of the steps flagged critical,
// for failure reporting after a run.
func CriticalCommands(steps []Step) []string {
	var critical []string
	for _, step := range steps {
		if step.Command.Critical {
			critical = append(critical, step.Command.Cmd)
		}
	}
	return critical
}
