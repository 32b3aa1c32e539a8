package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskman",
	Short: "Task Orchestration Core",
	Long: `Taskman decomposes high-level work into atomic tasks, maintains the
dependency graph between them, and dispatches ready tasks to remote
agents over stdio, sse, websocket, or http transports.

Core capabilities:
- Recursive task decomposition with an LLM oracle and deterministic fallback
- Functional-area epic resolution (no scaffolding placeholders)
- Dependency DAG with cycle rejection, topological order, critical path
- Six scheduling policies and capability-aware agent matching
- File-backed storage with atomic writes, compression, and an append-only index`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a taskman.yaml config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
