package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/config"
	"github.com/taskweave/taskweave/launch"
)

// spawnCmd creates a new root task and starts its runtime process,
// grounded on original_source/cli.py's `spawn` entry point and wired
// through launch.Launcher.Launch the same way tools.SpawnTaskTool does for
// a child task.
func spawnCmd() *cobra.Command {
	var (
		model           string
		enableRecursion bool
		maxIterations   int
		isolation       string
	)

	cmd := &cobra.Command{
		Use:   "spawn <message...>",
		Short: "Create a new root task and launch its runtime process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

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

			modelARN := model
			if modelARN == "" {
				modelARN = cfg.Models["sonnet45"]
			} else if resolved, ok := cfg.Models[model]; ok {
				modelARN = resolved
			}

			res, err := a.launcher.Launch(ctx, launch.Options{
				ModelARN:        modelARN,
				EnableRecursion: enableRecursion,
				MaxIterations:   maxIterations,
				Messages:        args,
				StartProcess:    true,
				Isolation:       isolation,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "task_id=%s pid=%d already_running=%t\n", res.TaskID, res.PID, res.AlreadyRunning)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model alias (from config models.*) or a raw Bedrock model ARN")
	cmd.Flags().BoolVar(&enableRecursion, "enable-recursion", true, "allow this task to spawn children via spawn_task")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the default iteration ceiling")
	cmd.Flags().StringVar(&isolation, "isolation", "", `runtime isolation for this task's process ("" or "container")`)

	return cmd
}
