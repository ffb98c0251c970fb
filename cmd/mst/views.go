package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/milestep/milestep/internal/period"
	"github.com/milestep/milestep/internal/tracker"
	"github.com/milestep/milestep/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "views",
	Short:   "List logged days, most recent first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := snapshot(cmd)
		if err != nil {
			return err
		}
		records := snap.Records
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}
		fmt.Fprint(out, ui.New(out).Records(records))
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:       "summary [weekly|monthly|yearly]",
	GroupID:   "views",
	Short:     "Show totals for the current week, month or year",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"weekly", "monthly", "yearly"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		g, err := granularityArg(args)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := snapshot(cmd)
		if err != nil {
			return err
		}

		now := time.Now()
		sum := snap.Summary(now, g)
		avgs := snap.Averages(now)

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Label    string `json:"label"`
				Summary  any    `json:"summary"`
				Averages any    `json:"averages"`
			}{period.For(now, g).Label(now), sum, avgs})
		}
		fmt.Fprint(out, ui.New(out).Summary(period.For(now, g).Label(now), sum, avgs.For(g)))
		return nil
	},
}

var chartCmd = &cobra.Command{
	Use:       "chart [weekly|monthly|yearly]",
	GroupID:   "views",
	Short:     "Chart distance per day (or per month for yearly)",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"weekly", "monthly", "yearly"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		g, err := granularityArg(args)
		if err != nil {
			return err
		}

		snap, err := snapshot(cmd)
		if err != nil {
			return err
		}

		now := time.Now()
		fmt.Fprint(out, ui.New(out).Chart(period.For(now, g).Label(now), snap.Buckets(now, g), snap.Averages(now).For(g)))
		return nil
	},
}

// snapshot opens the tracker, syncs it when a relay is configured, and
// returns its state.
func snapshot(cmd *cobra.Command) (tracker.Snapshot, error) {
	var snap tracker.Snapshot
	ctx := cmd.Context()
	err := withApp(ctx, true, func(a *app) error {
		var err error
		snap, err = a.session.Snapshot(ctx)
		return err
	})
	return snap, err
}

func granularityArg(args []string) (period.Granularity, error) {
	if len(args) == 0 {
		return period.Weekly, nil
	}
	return period.Parse(args[0])
}

func init() {
	listCmd.Flags().IntP("limit", "n", 0, "show at most n records (0 = all)")
	listCmd.Flags().Bool("json", false, "output JSON")
	summaryCmd.Flags().Bool("json", false, "output JSON")

	rootCmd.AddCommand(listCmd, summaryCmd, chartCmd)
}
