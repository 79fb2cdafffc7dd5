// Package app provides the entry point for the family task sync CLI.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aemtliapp/aemtli-sync/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "aemtli-sync",
	DisableAutoGenTag: true,
	Short:             "Family task sync service",
	Long: `aemtli-sync keeps a family's shared task list in sync through a managed
record store: it discovers or creates the family share, mirrors tasks and
members into a local cache and resets the task list every day.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for the sync service.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error("Error binding config flag", "error", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			slog.Error("Error retrieving format flag", "error", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				slog.Error("Error formatting version info as JSON", "error", err)
				return
			}
			fmt.Println(string(output))
		} else {
			slog.Info("aemtli-sync version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
