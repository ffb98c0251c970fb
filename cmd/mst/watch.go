package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/milestep/milestep/internal/inbox"
	"github.com/milestep/milestep/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Stay attached and print changes as they arrive",
	Long: `Run a long-lived session. Changes pushed by other devices are applied
as they arrive and printed, and JSON exports dropped into the inbox directory
(inbox.dir) are merged and moved to inbox/processed.

Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		noInbox, _ := cmd.Flags().GetBool("no-inbox")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return withApp(ctx, true, func(a *app) error {
			r := ui.New(out)
			events := a.hub.Subscribe(ctx, 64)

			errc := make(chan error, 1)
			if !noInbox {
				icfg := inbox.DefaultConfig(cfg.Inbox.Dir)
				icfg.Hub = a.hub
				icfg.Logger = logging.Logger("inbox")
				w, err := inbox.New(a.session, icfg)
				if err != nil {
					return err
				}
				go func() { errc <- w.Run(ctx) }()
				fmt.Fprintf(out, "Inbox: %s\n", cfg.Inbox.Dir)
			}

			snap, err := a.session.Snapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Watching %s (%s, %d records). Press Ctrl+C to stop.\n",
				snap.Code, syncState(snap.Remote, snap.State), len(snap.Records))

			for {
				select {
				case <-ctx.Done():
					fmt.Fprintln(out, "\nStopping...")
					if n := a.hub.Dropped(); n > 0 {
						fmt.Fprintf(out, "Missed %d notification(s) while busy.\n", n)
					}
					return nil
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("inbox stopped: %w", err)
					}
				case e, ok := <-events:
					if !ok {
						return nil
					}
					fmt.Fprintln(out, r.Event(e))
				}
			}
		})
	},
}

func init() {
	watchCmd.Flags().Bool("no-inbox", false, "do not import files from the inbox directory")
	rootCmd.AddCommand(watchCmd)
}
