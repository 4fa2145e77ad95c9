// Command modeminspector inspects cellular modems over their AT command
// interface.
//
// Plugin YAML files describe each modem family's command set; the inspector
// fans commands out to every connected serial port and prints the collected
// results as JSON. Plugin directories come from --plugin.dir flags or the
// MODEM_INSPECTOR_PLUGIN_DIRS environment variable.
//
// Usage:
//
//	modeminspector inspect --port /dev/ttyUSB0 --auto
//	modeminspector plugins list
//	modeminspector plugins validate quectel_ec200u.yaml
//	modeminspector plugins generate --vendor quectel --model ec200u
//	modeminspector ports
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagLogLevel   string
	flagLogFormat  string
	flagPluginDirs []string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modeminspector",
	Short: "AT-command modem inspection tool",
	Long: `modeminspector probes cellular modems over serial AT interfaces.

Modem families are described by YAML plugins that declare the commands to
run, how long each may take, and how to parse the responses. Inspections
fan out over all configured ports concurrently.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = buildLogger(flagLogLevel, flagLogFormat)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log.level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log.fmt", "text", "Log format: json, text")
	rootCmd.PersistentFlags().StringSliceVar(&flagPluginDirs, "plugin.dir", nil, "Plugin directory (repeatable; default from MODEM_INSPECTOR_PLUGIN_DIRS)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "modeminspector: %v\n", err)
		os.Exit(1)
	}
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}
