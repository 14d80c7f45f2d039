package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/daemon"
	"github.com/mschirtzinger/dualsync/internal/docsync/dashboard"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon [dir]",
	GroupID: "sync",
	Short:   "Watch a directory and sync documents as they change",
	Long: `Daemon performs a full sync, then watches dir for file changes and syncs
changed documents after a short debounce. Removed files are deleted from both
stores. A full resync runs periodically to catch missed events.

With --dashboard-port, a WebSocket dashboard broadcasts every sync result:
  ws://127.0.0.1:<port>/ws     Live events (doc_synced, doc_failed, doc_deleted, stats)
  http://127.0.0.1:<port>/health

Examples:
  dsync daemon
  dsync daemon ./notes --dashboard-port 8080
  dsync daemon --dashboard-port 8080 --transitions`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cli.cfg.Dashboard.Port
		if cmd.Flags().Changed("dashboard-port") {
			port, _ = cmd.Flags().GetInt("dashboard-port")
		}
		transitions, _ := cmd.Flags().GetBool("transitions")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var notifier *dashboard.Notifier
		var server *dashboard.Server
		if port > 0 {
			server = dashboard.NewServer(&dashboard.Config{
				Host:   "127.0.0.1",
				Port:   port,
				Logger: cli.logger("[dashboard] "),
			})
		}

		c, _, err := cli.newCoordinator(ctx, func(tr coordinator.Transition) {
			if notifier != nil {
				notifier.OnTransition(tr)
			}
		})
		if err != nil {
			return err
		}

		dcfg := &daemon.Config{
			DebounceInterval: cli.cfg.Daemon.Debounce,
			ResyncInterval:   cli.cfg.Daemon.ResyncInterval,
			Logger:           cli.logger("[daemon] "),
		}

		out := cmd.OutOrStdout()
		if server != nil {
			notifier = dashboard.NewNotifier(server, c.Stats, cli.logger("[dashboard] "))
			notifier.Transitions = transitions
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
			dcfg.OnResults = notifier.OnResults
			fmt.Fprintf(out, "Dashboard: http://%s (ws://%s/ws)\n", server.GetAddr(), server.GetAddr())
		} else {
			dcfg.OnResults = func(results []schema.SyncResult) {
				for _, r := range results {
					if r.Action != schema.ActionSkipped {
						printResults(out, []schema.SyncResult{r})
					}
				}
			}
		}

		d, err := daemon.NewWithConfig(c, cli.docsDir(args), dcfg)
		if err != nil {
			return err
		}
		if err := d.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", ui.RenderPass("Watching"), cli.docsDir(args))
		fmt.Fprintln(out, "Press Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Fprintln(out, "\nShutting down...")
		if err := d.Stop(); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
		st := c.Stats()
		fmt.Fprintf(out, "Daemon stopped: %d batches, %d embedded, %d skipped, %d deleted, %d failed\n",
			st.Batches, st.Embedded, st.Skipped, st.Deleted, st.Failed)
		return nil
	},
}

func init() {
	daemonCmd.Flags().IntP("dashboard-port", "p", 0, "serve the WebSocket dashboard on this port (0 disables)")
	daemonCmd.Flags().Bool("transitions", false, "broadcast every state transition to the dashboard")
	daemonCmd.Flags().Duration("debounce", 0, "quiet period before a changed file is synced")
	daemonCmd.Flags().Duration("resync-interval", 0, "interval between full resyncs (0 keeps the config value)")

	bindFlag("daemon.debounce", daemonCmd.Flags().Lookup("debounce"))
	bindFlag("daemon.resync_interval", daemonCmd.Flags().Lookup("resync-interval"))

	rootCmd.AddCommand(daemonCmd)
}
