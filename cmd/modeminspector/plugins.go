package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veenone/modem-inspector-sub000/pkg/modeminspector/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List, validate and generate modem plugins",
}

// ── plugins list ─────────────────────────────────────────────────────────────

var (
	listVendor   string
	listCategory string
)

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the plugins discovered in the configured directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := plugin.NewCatalog(pluginDirs(), logger)
		catalog.Discover()

		defs := catalog.List(listVendor, listCategory)
		if len(defs) == 0 {
			fmt.Println("No plugins found")
			return nil
		}
		for _, def := range defs {
			fmt.Printf("%-25s %-12s v%-8s %3d commands  %s\n",
				def.Key(), def.Metadata.Category, def.Metadata.Version,
				def.Commands.Len(), def.FilePath)
		}
		return nil
	},
}

// ── plugins validate ─────────────────────────────────────────────────────────

var pluginsValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate plugin files and report errors and warnings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := false
		for _, path := range args {
			ok, errs, warnings := plugin.ValidateFile(path)
			switch {
			case !ok:
				failed = true
				fmt.Printf("%s: INVALID\n", path)
				for _, e := range errs {
					fmt.Printf("  error: %s\n", e)
				}
			case len(warnings) > 0:
				fmt.Printf("%s: OK (%d warnings)\n", path, len(warnings))
				for _, w := range warnings {
					fmt.Printf("  warning: %s\n", w)
				}
			default:
				fmt.Printf("%s: OK\n", path)
			}
		}
		if failed {
			return fmt.Errorf("validation failed")
		}
		return nil
	},
}

// ── plugins generate ─────────────────────────────────────────────────────────

var (
	genVendor   string
	genModel    string
	genCategory string
	genAuthor   string
	genOutput   string
)

var pluginsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a starter plugin for a new modem",
	Long: `Generate writes a plugin skeleton pre-filled with the universal AT
command set (identification, signal quality, registration). Edit the result
to add vendor-specific commands and parsers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := plugin.GeneratorOptions{
			Vendor:   genVendor,
			Model:    genModel,
			Category: genCategory,
			Author:   genAuthor,
		}
		out := genOutput
		if out == "" {
			out = fmt.Sprintf("%s_%s.yaml", genVendor, genModel)
		}
		if err := plugin.WriteTemplate(opts, out); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
	pluginsCmd.AddCommand(pluginsListCmd, pluginsValidateCmd, pluginsGenerateCmd)

	pluginsListCmd.Flags().StringVar(&listVendor, "vendor", "", "Filter by vendor")
	pluginsListCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category")

	pluginsGenerateCmd.Flags().StringVar(&genVendor, "vendor", "", "Modem vendor (required)")
	pluginsGenerateCmd.Flags().StringVar(&genModel, "model", "", "Modem model (required)")
	pluginsGenerateCmd.Flags().StringVar(&genCategory, "category", "other", "Device category")
	pluginsGenerateCmd.Flags().StringVar(&genAuthor, "author", "", "Plugin author")
	pluginsGenerateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "Output file (default <vendor>_<model>.yaml)")
	_ = pluginsGenerateCmd.MarkFlagRequired("vendor")
	_ = pluginsGenerateCmd.MarkFlagRequired("model")
}

// pluginDirs resolves the plugin search path from flags or the environment.
func pluginDirs() []string {
	if len(flagPluginDirs) > 0 {
		return flagPluginDirs
	}
	return plugin.DirsFromEnv()
}
