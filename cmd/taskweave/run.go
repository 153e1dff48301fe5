package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/config"
	"github.com/taskweave/taskweave/launch"
)

// runCmd is the task runtime entrypoint: `taskweave run <task_id>` is
// exactly the command line launch.Launcher's execRuntime execs, and the one
// the Process Probe matches against via Entrypoint+taskID substring
// checks. Grounded directly on original_source/core.py's `python core.py
// <task_id>` contract and cmd/vega/serve.go's signal-handling idiom.
func runCmd() *cobra.Command {
	var maxIterations int

	cmd := &cobra.Command{
		Use:   "run <task_id>",
		Short: "Run a task's iteration loop until its queue drains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			configureLogging(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if maxIterations == 0 {
				rec, ok, err := a.st.GetTask(ctx, taskID)
				if err != nil {
					return err
				}
				if ok && rec.MaxIterations > 0 {
					maxIterations = rec.MaxIterations
				} else {
					maxIterations = launch.DefaultMaxIterations
				}
			}

			pid := os.Getpid()
			owns, err := a.launcher.ClaimProcess(ctx, taskID, pid)
			if err != nil {
				return err
			}
			if !owns {
				slog.Warn("another process already owns this task, exiting", "task_id", taskID)
				return nil
			}

			didWork, runErr := a.eng.Run(ctx, taskID, pid, maxIterations)

			success := runErr == nil
			if err := a.launcher.FinishRun(context.Background(), taskID, pid, didWork, success); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the task's stored max_iterations")
	return cmd
}
