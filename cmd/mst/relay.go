package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/milestep/milestep/internal/relay"
	"github.com/milestep/milestep/internal/store"
)

var relayCmd = &cobra.Command{
	Use:     "relay",
	GroupID: "advanced",
	Short:   "Run the relay that devices sync through",
	Long: `Start the relay server. Devices whose remote.url points here share data
through it in real time.

The relay stores one JSON value per path (activities/<CODE> and
settings/<CODE>) and pushes every write to the other connected devices.

Endpoints:
  ws://HOST:PORT/ws            real-time protocol used by mst
  GET/PUT http://HOST:PORT/v1/<path>   one-shot access
  http://HOST:PORT/health      status

Example usage:
  mst relay                    # Start on the configured port (default 8787)
  mst relay --port 9000        # Start on a custom port`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		port := cfg.Relay.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		db, err := store.OpenContext(cmd.Context(), cfg.Relay.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open relay store: %w", err)
		}
		defer db.Close()

		server, err := relay.NewServer(&relay.Config{
			Port:   port,
			DB:     db,
			Logger: logging.Logger("relay"),
		})
		if err != nil {
			return err
		}

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}

		addr := listenAddr(server.GetAddr())
		fmt.Fprintf(out, "Relay started on http://%s\n", addr)
		fmt.Fprintf(out, "WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Fprintf(out, "Health check: http://%s/health\n", addr)
		fmt.Fprintf(out, "Store: %s\n", db.Path())
		fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Fprintln(out, "\nShutting down relay...")
		if err := server.Stop(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Relay stopped")
		return nil
	},
}

// listenAddr turns a listener address such as "[::]:8787" into one a local
// client can dial.
func listenAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func init() {
	relayCmd.Flags().IntP("port", "p", 8787, "port to listen on (default: relay.port)")
	rootCmd.AddCommand(relayCmd)
}
