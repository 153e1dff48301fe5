package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/config"
	"github.com/taskweave/taskweave/launch"
)

// janitorCmd runs the Root Janitor once, or on a schedule with --watch,
// grounded on original_source/cli.py's `janitor` entry point and
// cleanup_task_statuses.
func janitorCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Sweep task records left running by a dead process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			configureLogging(cfg.Log.Level, cfg.Log.Format)

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			checker := func(ctx context.Context, taskID string) (bool, int, error) {
				return a.prober.Check(ctx, a.st, taskID)
			}
			j := launch.NewJanitor(a.st, checker)

			if !watch {
				swept, err := j.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "swept %d tasks\n", swept)
				return nil
			}

			c, err := j.Schedule(ctx, cfg.Janitor.CronSpec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "janitor scheduled on %q, press ctrl-c to stop\n", cfg.Janitor.CronSpec)
			<-ctx.Done()
			c.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running, sweeping on the configured cron schedule instead of once")
	return cmd
}
