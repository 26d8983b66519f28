package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/coordinator"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task and lease state",
	Long: `Display the current state of the project.

Shows:
  - Task counts by status
  - Active leases, their holders and expiry
  - Leases near expiry or flagged stuck

With --watch, stay running after the report and recover expired leases
as their grace periods lapse, printing each lease event until
interrupted.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "keep running and recover expired leases")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	if _, err := os.Stat(state.ProjectDBPath(cwd)); os.IsNotExist(err) {
		fmt.Println("No project state. Run 'foreman import <tasks.yaml>' to start.")
		return nil
	}

	c, cleanup, err := openCoordinator(false)
	if err != nil {
		return err
	}
	defer cleanup()

	byStatus := map[models.TaskStatus]int{}
	subtasks := 0
	for _, task := range c.Store().Snapshot() {
		if !task.IsSubtask {
			continue
		}
		subtasks++
		byStatus[task.Status]++
	}

	fmt.Printf("Tasks: %d subtasks\n", subtasks)
	fmt.Printf("  todo: %d  in_progress: %d  done: %d  blocked: %d\n",
		byStatus[models.TaskStatusTodo], byStatus[models.TaskStatusInProgress],
		byStatus[models.TaskStatusDone], byStatus[models.TaskStatusBlocked])

	health := c.Health()
	if len(health) == 0 {
		fmt.Println("Leases: none")
	} else {
		yellow := color.New(color.FgYellow)
		red := color.New(color.FgRed)

		fmt.Printf("Leases: %d active\n", len(health))
		for _, h := range health {
			remaining := time.Until(h.Lease.ExpiresAt)
			line := fmt.Sprintf("  %s: %s, expires in %s (renewals: %d)",
				h.Lease.TaskID, h.Lease.AgentID, formatDuration(remaining), h.Lease.RenewalCount)
			switch {
			case h.Stuck:
				fmt.Printf("%s %s\n", red.Sprint("⚠ stuck"), line)
			case h.Expired:
				fmt.Printf("%s %s\n", red.Sprint("⚠ expired"), line)
			case h.Expiring:
				fmt.Printf("%s %s\n", yellow.Sprint("⚠ expiring"), line)
			default:
				fmt.Println(line)
			}
		}
	}

	if statusWatch {
		return watchLeases(c)
	}
	return nil
}

// watchLeases runs the lease monitor in the foreground, printing each
// lease event until the process is interrupted. This is the long-lived
// home for expiry recovery when no other foreman process is running.
func watchLeases(c *coordinator.Coordinator) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.StartMonitor(ctx)
	fmt.Println("Watching leases; press Ctrl-C to stop.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.Events():
			line := fmt.Sprintf("%s %s task=%s agent=%s",
				ev.Timestamp.Format("15:04:05"), ev.Type, ev.TaskID, ev.AgentID)
			if ev.Reason != "" {
				line += " reason=" + ev.Reason
			}
			fmt.Println(line)
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + formatDuration(-d)
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}
