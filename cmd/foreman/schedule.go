package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/graph"
)

var scheduleDetails bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Compute the optimal agent count for remaining work",
	Long: `Compute a schedule snapshot from the current task graph.

Reports the critical path length, maximum useful parallelism, and the
efficiency gained over a single agent working everything serially. With
--details, also lists the parallel time windows and which tasks overlap
in each.`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleDetails, "details", false, "Include parallel opportunity windows")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	c, cleanup, err := openCoordinator(false)
	if err != nil {
		return err
	}
	defer cleanup()

	sched, err := c.OptimalAgents(scheduleDetails)
	if err != nil {
		var cycleErr *graph.CycleError
		if errors.As(err, &cycleErr) {
			return fmt.Errorf("task graph has a dependency cycle through: %s",
				strings.Join(cycleErr.TaskIDs, ", "))
		}
		return err
	}

	bold := color.New(color.Bold)
	fmt.Printf("Optimal agents: %s\n", bold.Sprintf("%d", sched.OptimalAgents))
	fmt.Printf("  Critical path: %.1fh\n", sched.CriticalPathHours)
	fmt.Printf("  Max parallelism: %d\n", sched.MaxParallelism)
	fmt.Printf("  Single agent: %.1fh\n", sched.SingleAgentHours)
	fmt.Printf("  Efficiency gain: %.0f%%\n", sched.EfficiencyGain*100)

	if scheduleDetails && len(sched.ParallelOpportunities) > 0 {
		fmt.Println()
		fmt.Println("Parallel opportunities:")
		for _, w := range sched.ParallelOpportunities {
			fmt.Printf("  %.1fh–%.1fh: %s\n", w.StartHour, w.EndHour, strings.Join(w.TaskIDs, ", "))
		}
	}
	return nil
}
