package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Multi-agent work coordination",
	Long: `Foreman coordinates many agents working one task graph.

It wires cross-workstream dependencies between independently decomposed
tasks, computes the optimal worker count from the critical path, and
hands out time-bounded exclusive leases so two agents never work the
same task.

Core capabilities:
- Discovers dependencies between subtasks via provides/requires contracts
- Computes the critical path and parallelism profile on demand
- Grants adaptive, renewable assignment leases with timeout recovery
- Persists the task graph and lease state across restarts`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(wireCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
