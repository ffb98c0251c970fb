package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/milestep/milestep/internal/reconcile"
	"github.com/milestep/milestep/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	GroupID: "track",
	Short:   "Show or change settings",
	Long: `Show the current settings, or change the steps-per-mile conversion used
for entries logged from now on. Existing records keep their step counts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		return withApp(ctx, true, func(a *app) error {
			if cmd.Flags().Changed("steps-per-unit") {
				n, _ := cmd.Flags().GetInt("steps-per-unit")
				if err := a.session.SetStepsPerUnit(ctx, n); err != nil {
					return err
				}
			}
			snap, err := a.session.Snapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(out, ui.New(out).Settings(snap.Settings, snap.Code, syncState(snap.Remote, snap.State)))
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Share data between devices",
	Long: `Every install has a six-character sync code. Installs that use the same
code and the same relay (remote.url) share one data set: the last write wins.

Joining a code replaces this install's data with the data already stored
under it. If nothing is stored under the code yet, this install's data is
uploaded instead.`,
}

var syncCodeCmd = &cobra.Command{
	Use:   "code",
	Short: "Print this install's sync code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		return withApp(ctx, false, func(a *app) error {
			snap, err := a.session.Snapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, snap.Code)
			return nil
		})
	},
}

var syncJoinCmd = &cobra.Command{
	Use:   "join <CODE>",
	Short: "Use another device's sync code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		return withApp(ctx, false, func(a *app) error {
			res, err := a.session.Attach(ctx, args[0])
			if errors.Is(err, reconcile.ErrNoRemote) {
				code, err := a.session.SetCode(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Sync code set to %s. Data will be shared once remote.url is configured.\n", code)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Joined %s\n", res.Code)
			switch {
			case res.RecordsReplaced:
				fmt.Fprintln(out, "Local activities replaced with the shared data set.")
			case res.Seeded:
				fmt.Fprintln(out, "Nothing was shared under this code yet; uploaded local activities.")
			}
			if res.SettingsReplaced {
				fmt.Fprintln(out, "Settings replaced with the shared settings.")
			}
			if res.Skipped > 0 {
				fmt.Fprintf(out, "Skipped %d invalid shared record(s).\n", res.Skipped)
			}
			return nil
		})
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		return withApp(ctx, true, func(a *app) error {
			snap, err := a.session.Snapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Code:    %s\n", snap.Code)
			fmt.Fprintf(out, "State:   %s\n", syncState(snap.Remote, snap.State))
			if cfg.Remote.URL != "" {
				fmt.Fprintf(out, "Relay:   %s\n", cfg.Remote.URL)
			}
			fmt.Fprintf(out, "Records: %d\n", len(snap.Records))
			return nil
		})
	},
}

func syncState(hasRemote bool, state reconcile.State) string {
	switch {
	case cfg.Remote.URL == "":
		return "local only"
	case !hasRemote:
		return "offline"
	default:
		return state.String()
	}
}

func init() {
	settingsCmd.Flags().Int("steps-per-unit", 0, "steps per mile for new entries (positive integer)")

	syncCmd.AddCommand(syncCodeCmd, syncJoinCmd, syncStatusCmd)
	rootCmd.AddCommand(settingsCmd, syncCmd)
}
