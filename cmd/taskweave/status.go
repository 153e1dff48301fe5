package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/config"
	"github.com/taskweave/taskweave/launch"
	"github.com/taskweave/taskweave/llm"
)

// statusCmd prints a task and its descendants, grounded on
// original_source/cli.py's `status` tree dump and using the same
// GetChildTree/GetLastToolUse helpers query_task itself calls.
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task_id>",
		Short: "Print a task tree's status and running cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rootID := args[0]

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			children, err := launch.GetChildTree(ctx, a.st, rootID)
			if err != nil {
				return err
			}
			taskIDs := append([]string{rootID}, children...)

			out := cmd.OutOrStdout()
			var totalCost float64
			for _, id := range taskIDs {
				rec, ok, err := a.st.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(out, "%s: not found\n", id)
					continue
				}

				cost := llm.CalculateCost(rec.Model, rec.LastUsage.InputTokens, rec.LastUsage.OutputTokens)
				totalCost += cost

				line := fmt.Sprintf("%s  status=%s  iteration=%d/%d  pid=%d  cost=$%.4f",
					id, rec.Status, rec.Iteration, rec.MaxIterations, rec.PID, cost)

				if rec.Status == "running" {
					if log, ok, err := a.st.GetConversation(ctx, id); err == nil && ok {
						if use := launch.GetLastToolUse(log); use != nil {
							line += fmt.Sprintf("  last_tool=%s", use.ToolName)
						}
					}
				}
				if id != rootID {
					line = "  child " + line
				} else {
					line = "root " + line
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "total_cost=$%.4f tasks=%d\n", totalCost, len(taskIDs))
			return nil
		},
	}
	return cmd
}
