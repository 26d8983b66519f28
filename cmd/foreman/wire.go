package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ShayCichocki/foreman/internal/coordinator"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var wireCmd = &cobra.Command{
	Use:   "wire",
	Short: "Discover cross-workstream dependencies",
	Long: `Run the dependency wiring pass over the imported task graph.

Subtasks from different parent tasks are matched on their provides and
requires contracts; a reasoning model confirms which matches are real
needs. Confirmed edges are added to the graph after cycle and phase
checks, then persisted. Wiring runs once per project; rerunning it is
refused.

This pass makes network calls per subtask and can take minutes on a
large graph. Interrupting it keeps the edges already applied.`,
	RunE: runWire,
}

func runWire(cmd *cobra.Command, args []string) error {
	c, cleanup, err := openCoordinator(true)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Store().Len() == 0 {
		return fmt.Errorf("no tasks imported; run 'foreman import' first")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, err := c.StartWiring(ctx)
	if err != nil {
		if errors.Is(err, coordinator.ErrWiringDone) {
			return fmt.Errorf("dependencies are already wired for this project")
		}
		return err
	}

	// Agents may hold leases while wiring runs; keep expiry recovery
	// going for the duration of the pass.
	c.StartMonitor(ctx)

	fmt.Printf("Wiring dependencies across %d tasks...\n", c.Store().Len())
	record, err := handle.Result()
	if err != nil {
		return fmt.Errorf("wiring failed: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	fmt.Printf("%s Created %d dependencies (%d subtasks analyzed, %d reasoning calls)\n",
		green.Sprint("✓"), record.DependenciesCreated, record.SubtasksAnalyzed, record.ServiceCalls)

	if record.CyclesRejected > 0 {
		fmt.Printf("%s %d proposed edges rejected (would create cycles)\n",
			yellow.Sprint("⚠"), record.CyclesRejected)
	}
	if record.PhaseViolationsRejected > 0 {
		fmt.Printf("%s %d proposed edges rejected (phase order)\n",
			yellow.Sprint("⚠"), record.PhaseViolationsRejected)
	}
	if record.ServiceErrors > 0 {
		fmt.Printf("%s %d subtasks skipped after reasoning-service errors\n",
			yellow.Sprint("⚠"), record.ServiceErrors)
	}

	for edge, why := range record.Rationale {
		fmt.Printf("  %s: %s\n", edge, why)
	}
	return nil
}
