package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veenone/modem-inspector-sub000/at/executor"
	"github.com/veenone/modem-inspector-sub000/comlog"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/app"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/orchestrator"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/plugin"
	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/sequence"
	"github.com/veenone/modem-inspector-sub000/transport/serialport"
)

var (
	inspectPorts      []string
	inspectPlugin     string
	inspectAuto       bool
	inspectWorkers    int
	inspectTimeout    time.Duration
	inspectRetries    int
	inspectQuick      bool
	inspectCategories []string
	inspectBaud       int
	inspectComlog     string
	inspectPretty     bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Run a plugin's command sequence against connected modems",
	Long: `Inspect connects to the given serial ports, runs the selected plugin's
command sequence on every modem concurrently, and prints the results as JSON.

Select a plugin explicitly with --plugin vendor.model, or use --auto to probe
each modem's identity and match it against the catalog.

Example usage:
  modeminspector inspect --port /dev/ttyUSB0 --plugin quectel.ec200u
  modeminspector inspect --port /dev/ttyUSB0 --port /dev/ttyUSB1 --auto --quick
  modeminspector inspect --port /dev/ttyUSB0 --auto --category network --comlog modem.log`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringSliceVarP(&inspectPorts, "port", "p", nil, "Serial port to inspect (repeatable)")
	inspectCmd.Flags().StringVar(&inspectPlugin, "plugin", "", "Plugin to run, as vendor.model")
	inspectCmd.Flags().BoolVar(&inspectAuto, "auto", false, "Auto-detect the plugin from the modem identity")
	inspectCmd.Flags().IntVar(&inspectWorkers, "workers", 4, "Max devices inspected concurrently")
	inspectCmd.Flags().DurationVar(&inspectTimeout, "timeout", 30*time.Second, "Default per-command timeout")
	inspectCmd.Flags().IntVar(&inspectRetries, "retries", 3, "Retries per command after a timeout")
	inspectCmd.Flags().BoolVar(&inspectQuick, "quick", false, "Run only commands flagged quick")
	inspectCmd.Flags().StringSliceVar(&inspectCategories, "category", nil, "Restrict to a command category (repeatable)")
	inspectCmd.Flags().IntVar(&inspectBaud, "baud", 115200, "Serial baud rate")
	inspectCmd.Flags().StringVar(&inspectComlog, "comlog", "", "Write the raw serial transcript to this file")
	inspectCmd.Flags().BoolVar(&inspectPretty, "pretty", false, "Indent the JSON output")

	_ = inspectCmd.MarkFlagRequired("port")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if inspectPlugin == "" && !inspectAuto {
		return fmt.Errorf("either --plugin or --auto is required")
	}

	cfg := app.Config{
		PluginDirs: flagPluginDirs,
		Orchestrator: orchestrator.Options{
			MaxWorkers: inspectWorkers,
			Executor: executor.Options{
				DefaultTimeout: inspectTimeout,
				RetryCount:     inspectRetries,
			},
			Serial: serialport.Config{BaudRate: inspectBaud},
		},
	}

	if inspectComlog != "" {
		transcript, err := comlog.NewRotatingFile(comlog.RotateConfig{FilePath: inspectComlog}, logger)
		if err != nil {
			return err
		}
		defer transcript.Close()
		cfg.Transcript = comlog.New(comlog.Config{Writer: transcript}, logger)
	}

	insp := app.New(cfg, logger)
	if defs := insp.LoadPlugins(); len(defs) == 0 {
		return fmt.Errorf("no plugins found; check --plugin.dir or MODEM_INSPECTOR_PLUGIN_DIRS")
	}

	connected, err := insp.AddDevices(inspectPorts)
	if err != nil {
		return err
	}
	defer insp.Close()

	anyUp := false
	for port, ok := range connected {
		if ok {
			anyUp = true
		} else {
			logger.Warn("port not connected, skipping", "port", port)
		}
	}
	if !anyUp {
		return fmt.Errorf("no ports could be opened")
	}

	def, err := selectPlugin(insp)
	if err != nil {
		return err
	}

	if failures := insp.RunInit(def); len(failures) > 0 {
		for port, ferr := range failures {
			logger.Warn("init sequence failed", "port", port, "error", ferr.Error())
		}
	}

	results := insp.Inspect(def, sequence.Options{
		Categories: inspectCategories,
		QuickOnly:  inspectQuick,
	})

	return printJSON(results, inspectPretty)
}

// selectPlugin resolves --plugin, or identifies the modems and matches the
// catalog when --auto is set. With several modems the first successful match
// wins; mixed fleets need one inspect invocation per plugin.
func selectPlugin(insp *app.Inspector) (*plugin.Definition, error) {
	if inspectPlugin != "" {
		vendor, model, ok := splitPluginKey(inspectPlugin)
		if !ok {
			return nil, fmt.Errorf("invalid --plugin %q (expected vendor.model)", inspectPlugin)
		}
		def, found := insp.Catalog().Get(vendor, model)
		if !found {
			return nil, fmt.Errorf("plugin %s not found in catalog", inspectPlugin)
		}
		return def, nil
	}

	identities := insp.IdentifyAll()
	for _, port := range app.SortedPorts(identities) {
		if def := insp.DetectPlugin(identities[port]); def != nil {
			return def, nil
		}
	}
	return nil, fmt.Errorf("auto-detection matched no plugin")
}

func splitPluginKey(key string) (vendor, model string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:], i > 0 && i < len(key)-1
		}
	}
	return "", "", false
}

func printJSON(v any, pretty bool) error {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
