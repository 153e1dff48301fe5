package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "taskweave",
	Short: "taskweave — hierarchical multi-agent task-tree orchestrator",
	Long: "taskweave spawns and supervises a tree of long-running task processes, " +
		"each alternating Bedrock Converse calls with tool execution, coordinating " +
		"through a shared state store.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $TASKWEAVE_HOME/config.yaml or ./config.yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(spawnCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(janitorCmd())
	rootCmd.AddCommand(initCmd())
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func configureLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
