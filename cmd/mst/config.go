package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/milestep/milestep/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the current settings",
	Long: `Write the effective configuration (defaults, the loaded file and MST_*
environment overrides) to a YAML file, by default ~/.milestep/config.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if path == "" {
			path = cfgFile
		}
		if path == "" {
			path = config.DefaultPath()
		}

		if err := config.WriteFile(path, cfg, force); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "storage.db_path:                %s\n", cfg.Storage.DBPath)
		fmt.Fprintf(out, "remote.url:                     %s\n", cfg.Remote.URL)
		fmt.Fprintf(out, "remote.timeout_sec:             %d\n", cfg.Remote.TimeoutSec)
		fmt.Fprintf(out, "relay.port:                     %d\n", cfg.Relay.Port)
		fmt.Fprintf(out, "relay.db_path:                  %s\n", cfg.Relay.DBPath)
		fmt.Fprintf(out, "inbox.dir:                      %s\n", cfg.Inbox.Dir)
		fmt.Fprintf(out, "tracker.default_steps_per_unit: %d\n", cfg.Tracker.DefaultStepsPerUnit)
		fmt.Fprintf(out, "app.log_path:                   %s\n", cfg.App.LogPath)
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "file to write (default: --config or ~/.milestep/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
