package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/dispatch"
	"github.com/agusx1211/baton/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"ui", "dashboard"},
	Short:   "Live dashboard of all sessions",
	Long: `Open the interactive dashboard. While it is open baton monitors every
running session (including ones started by other baton processes), runs
the prune janitor on prune_schedule and serves metrics on metrics_addr.

Quitting the dashboard stops monitoring only; agents keep running.`,
	RunE: runWatch,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor running sessions without a UI",
	Long: `Monitor every running session until all have finished or baton receives
SIGINT/SIGTERM. Sessions dispatched by other baton processes are picked up
as they appear. Agents keep running if monitoring is interrupted.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().Bool("stay", false, "Keep running after all sessions have finished")
	rootCmd.AddCommand(watchCmd, monitorCmd)
}

// background starts what watch and monitor share: reattached monitors, the
// janitor, the metrics endpoint and a loop that adopts new sessions.
func background(ctx context.Context, e *env) (*dispatch.Supervisor, func(), error) {
	sup := e.supervisor()
	if _, err := sup.Reattach(); err != nil {
		return nil, nil, err
	}
	stopJanitor, err := sup.StartJanitor(ctx)
	if err != nil {
		sup.Shutdown()
		return nil, nil, err
	}
	e.serveMetrics(ctx, os.Stderr)

	adoptCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.PollInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-adoptCtx.Done():
				return
			case <-ticker.C:
				if n, err := sup.Reattach(); err != nil {
					debug.LogKV("cli", "reattach failed", "error", err)
				} else if n > 0 {
					debug.LogKV("cli", "adopted sessions", "count", n)
				}
			}
		}
	}()

	stop := func() {
		cancel()
		<-done
		stopJanitor()
		sup.Shutdown()
	}
	return sup, stop, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sup, stop, err := background(ctx, e)
	if err != nil {
		return err
	}
	defer stop()
	return tui.Run(e.store, sup)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup, stop, err := background(ctx, e)
	if err != nil {
		return err
	}
	defer stop()

	out := cmd.OutOrStdout()
	stay, _ := cmd.Flags().GetBool("stay")
	fmt.Fprintf(out, "Monitoring %d session(s) every %s. Ctrl-C stops monitoring; agents keep running.\n",
		sup.Watching(), e.cfg.PollInterval.Duration)

	ticker := time.NewTicker(e.cfg.PollInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopped monitoring.")
			return nil
		case <-ticker.C:
		}
		if stay {
			continue
		}
		if _, err := sup.Reattach(); err != nil {
			return err
		}
		if sup.Watching() == 0 {
			fmt.Fprintln(out, "All sessions have finished.")
			return nil
		}
	}
}
