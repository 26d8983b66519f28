package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/lease"
)

var claimAgentID string

var claimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Claim exclusive ownership of a task",
	Long: `Claim a task for an agent, creating a time-bounded lease.

The lease duration adapts to the task: urgent work gets shorter leases
so failures surface faster, complex or research work gets longer ones.
If --agent is omitted a fresh agent ID is generated and printed; reuse
it for renewals and completion.`,
	Args: cobra.ExactArgs(1),
	RunE: runClaim,
}

var renewCmd = &cobra.Command{
	Use:   "renew <task-id>",
	Short: "Renew an agent's lease on a task",
	Long: `Extend a lease from now, with per-renewal decay.

Each renewal grants a progressively shorter extension, so a task that
keeps needing renewal surfaces as stuck instead of holding its lease
indefinitely.`,
	Args: cobra.ExactArgs(1),
	RunE: runRenew,
}

var releaseReason string

var releaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Release a task's lease without completing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelease,
}

var completeCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a task done and release its lease",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplete,
}

func init() {
	claimCmd.Flags().StringVar(&claimAgentID, "agent", "", "Agent ID claiming the task (generated if empty)")
	renewCmd.Flags().StringVar(&claimAgentID, "agent", "", "Agent ID holding the lease")
	completeCmd.Flags().StringVar(&claimAgentID, "agent", "", "Agent ID holding the lease")
	releaseCmd.Flags().StringVar(&releaseReason, "reason", "cancelled", "Reason recorded for the release")
}

func runClaim(cmd *cobra.Command, args []string) error {
	taskID := args[0]
	agentID := claimAgentID
	if agentID == "" {
		agentID = fmt.Sprintf("agent-%s", uuid.New().String()[:8])
	}

	c, cleanup, err := openCoordinator(false)
	if err != nil {
		return err
	}
	defer cleanup()

	if ok, reason := c.Claimable(taskID); !ok {
		return fmt.Errorf("task %s is not claimable: %s", taskID, reason)
	}

	l, err := c.ClaimTask(taskID, agentID)
	if err != nil {
		var conflict *lease.AlreadyLeasedError
		if errors.As(err, &conflict) {
			return fmt.Errorf("task %s is held by %s until %s",
				taskID, conflict.HolderID, conflict.ExpiresAt.Format(time.Kitchen))
		}
		return err
	}

	green := color.New(color.FgGreen)
	fmt.Printf("%s Claimed %s for %s\n", green.Sprint("✓"), taskID, agentID)
	fmt.Printf("  Lease: %.1fh, expires %s\n", l.DurationHours, l.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runRenew(cmd *cobra.Command, args []string) error {
	if claimAgentID == "" {
		return fmt.Errorf("--agent is required for renew")
	}

	c, cleanup, err := openCoordinator(false)
	if err != nil {
		return err
	}
	defer cleanup()

	l, err := c.RenewLease(args[0], claimAgentID)
	if err != nil {
		return err
	}

	fmt.Printf("Renewed %s: %.1fh, expires %s (renewal #%d)\n",
		l.TaskID, l.DurationHours, l.ExpiresAt.Format(time.RFC3339), l.RenewalCount)
	if l.Metadata["stuck"] == "true" {
		yellow := color.New(color.FgYellow)
		fmt.Printf("%s task has been renewed %d times and looks stuck\n",
			yellow.Sprint("⚠"), l.RenewalCount)
	}
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	c, cleanup, err := openCoordinator(false)
	if err != nil {
		return err
	}
	defer cleanup()

	c.ReleaseLease(args[0], releaseReason)
	fmt.Printf("Released %s (%s)\n", args[0], releaseReason)
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	if claimAgentID == "" {
		return fmt.Errorf("--agent is required for complete")
	}

	c, cleanup, err := openCoordinator(false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.CompleteTask(args[0], claimAgentID); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	fmt.Printf("%s Completed %s\n", green.Sprint("✓"), args[0])
	return nil
}
