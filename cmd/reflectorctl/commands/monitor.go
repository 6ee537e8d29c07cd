package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/reeflective/console"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/reflector/internal/rpc"
)

// monitorCmd launches an interactive REPL (github.com/reeflective/console)
// for watching reflector stats live, the same shell-driven workflow the
// teacher built for watching BFD sessions.
func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Interactive REPL for watching reflector stats",
		Long:  "Launches an interactive shell with stats/watch/reset commands against the reflector's control surface.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitorREPL(cmd.Context())
		},
	}
}

func runMonitorREPL(ctx context.Context) error {
	app := console.New("reflectorctl")
	menu := app.Menu(console.ActiveMenu)

	menu.SetCommands(func() *cobra.Command {
		root := &cobra.Command{Use: "reflectorctl"}
		root.AddCommand(monitorStatsCmd(ctx))
		root.AddCommand(monitorWatchCmd(ctx))
		root.AddCommand(monitorResetCmd(ctx))
		return root
	})

	if err := app.Start(); err != nil {
		return fmt.Errorf("start monitor console: %w", err)
	}
	return nil
}

func monitorStatsCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print one stats snapshot",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return printSnapshot(ctx)
		},
	}
}

func monitorResetCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset dataplane counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			stats, err := resetClient.CallUnary(ctx, connect.NewRequest(&rpc.ResetRequest{}))
			if err != nil {
				return fmt.Errorf("reset stats: %w", err)
			}
			if !stats.Msg.Applied {
				return fmt.Errorf("reset rejected: %s", stats.Msg.Error)
			}
			fmt.Println("stats reset")
			return nil
		},
	}
}

func monitorWatchCmd(ctx context.Context) *cobra.Command {
	var intervalSec int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print stats snapshots on an interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			watchCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
			defer ticker.Stop()

			for {
				if err := printSnapshot(watchCtx); err != nil {
					return err
				}
				select {
				case <-watchCtx.Done():
					if errors.Is(watchCtx.Err(), context.Canceled) {
						return nil
					}
					return watchCtx.Err()
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().IntVar(&intervalSec, "interval", 2, "polling interval in seconds")
	return cmd
}

func printSnapshot(ctx context.Context) error {
	stats, err := fetchStats(ctx)
	if err != nil {
		return err
	}
	out, err := formatStats(stats, outputFormat)
	if err != nil {
		return fmt.Errorf("format stats: %w", err)
	}
	fmt.Println(out)
	fmt.Println("---")
	return nil
}
