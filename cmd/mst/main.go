// Command mst is a personal activity tracker: log daily distance, calories
// and weight, view weekly/monthly/yearly summaries, and share one data set
// across devices through a relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/milestep/milestep/internal/config"
)

var (
	cfgFile string
	quiet   bool

	cfg     *config.Config
	logging *config.Logging
)

var rootCmd = &cobra.Command{
	Use:   "mst",
	Short: "mst - personal activity tracker",
	Long: `mst records one entry per day (distance, steps, calories, weight) and
summarizes them by week, month and year.

Data lives in a local SQLite cache. When remote.url points at a relay
(see 'mst relay'), every install sharing a sync code sees the same data.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logging, err = config.SetupLogging(cfg.App, quiet)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.milestep/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress log output on stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "track", Title: "Tracking:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

// run executes the command line and closes the log file afterwards, whether
// or not the command failed.
func run() error {
	defer func() {
		if logging != nil {
			_ = logging.Close()
			logging = nil
		}
	}()
	return rootCmd.Execute()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
