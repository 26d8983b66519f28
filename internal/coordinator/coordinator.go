package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ShayCichocki/foreman/internal/lease"
	"github.com/ShayCichocki/foreman/internal/resolver"
	"github.com/ShayCichocki/foreman/internal/schedule"
	"github.com/ShayCichocki/foreman/internal/taskstore"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// TaskPersistence saves and loads the full task graph, including any
// dependency edges created by wiring. The coordinator calls Save at
// well-defined points (wiring completion, task completion), never as a
// side effect of in-memory mutation.
type TaskPersistence interface {
	SaveTasks(tasks []*models.Task) error
	LoadTasks() ([]*models.Task, error)
}

// WiringState records whether a dependency wiring pass has completed for
// the project. A persistence backend that implements it makes the
// run-once wiring guard hold across processes, not just within one.
type WiringState interface {
	WiringComplete() (bool, error)
	MarkWiringComplete() error
}

// Coordinator is the scheduling facade. It owns the task graph store and
// lease registry explicitly and passes them by reference to the scheduling
// and resolution components.
type Coordinator struct {
	store    *taskstore.Store
	registry *lease.Registry
	resolver *resolver.Resolver
	monitor  *lease.Monitor

	tasks       TaskPersistence
	wiringState WiringState
	wiringMu    sync.Mutex
	wiring      *WiringHandle
	logger      *DebugLogger
}

// New creates a coordinator over the given store and lease registry.
// The resolver may be nil if dependency wiring is not needed.
func New(store *taskstore.Store, registry *lease.Registry, res *resolver.Resolver) *Coordinator {
	return &Coordinator{
		store:    store,
		registry: registry,
		resolver: res,
		monitor:  lease.NewMonitor(registry),
		logger:   NopLogger(),
	}
}

// SetLogger installs a debug logger for the coordinator and its components.
func (c *Coordinator) SetLogger(l *DebugLogger) {
	c.logger = l
	setPackageLogger(l)
}

// SetTaskPersistence attaches a task-graph repository. Without one, task
// state lives only in memory for the process lifetime. A repository that
// also implements WiringState additionally persists the run-once wiring
// guard.
func (c *Coordinator) SetTaskPersistence(p TaskPersistence) {
	c.tasks = p
	if ws, ok := p.(WiringState); ok {
		c.wiringState = ws
	}
}

// Store returns the underlying task graph store.
func (c *Coordinator) Store() *taskstore.Store {
	return c.store
}

// OptimalAgents computes the current optimal worker count for the project.
// It is computed on demand against a snapshot of the task graph and never
// cached; a leased in-progress task still counts as remaining work until
// its status reaches done.
func (c *Coordinator) OptimalAgents(includeDetails bool) (*schedule.ProjectSchedule, error) {
	snapshot := c.store.Snapshot()
	sched, err := schedule.CalculateOptimalAgents(snapshot, includeDetails)
	if err != nil {
		return nil, err
	}
	debugLog("[coordinator] optimal agents: %d (critical path %.1fh, parallelism %d)",
		sched.OptimalAgents, sched.CriticalPathHours, sched.MaxParallelism)
	return sched, nil
}

// Claimable reports whether a task can currently be claimed, with a
// human-readable reason when it cannot. A task is claimable when it is a
// workable subtask, all its dependencies are done, and no active lease
// exists for it. An expired lease does not block a claim even while its
// grace period still protects it from recovery.
func (c *Coordinator) Claimable(taskID string) (bool, string) {
	task := c.store.Get(taskID)
	if task == nil {
		return false, "task not found"
	}
	if !task.IsSubtask {
		return false, "parent tasks are not directly claimable"
	}
	if task.Status == models.TaskStatusDone {
		return false, "task is already done"
	}
	for _, depID := range task.Dependencies {
		dep := c.store.Get(depID)
		if dep != nil && dep.Status != models.TaskStatusDone {
			return false, fmt.Sprintf("dependency %s is not done", depID)
		}
	}
	if c.registry.ActivelyLeased(taskID) {
		if holder := c.registry.Holder(taskID); holder != nil {
			return false, fmt.Sprintf("leased by agent %s until %s", holder.AgentID, holder.ExpiresAt.Format("15:04:05"))
		}
		return false, "leased by another agent"
	}
	return true, ""
}

// ClaimTask claims exclusive ownership of a task for an agent. The lease
// duration adapts to the task's priority and complexity labels.
func (c *Coordinator) ClaimTask(taskID, agentID string) (*lease.AssignmentLease, error) {
	task := c.store.Get(taskID)
	if task == nil {
		return nil, fmt.Errorf("claim %s: %w", taskID, lease.ErrNotFound)
	}
	l, err := c.registry.Claim(task, agentID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusTodo {
		if err := c.store.SetStatus(taskID, models.TaskStatusInProgress); err != nil {
			debugLog("[coordinator] claim %s: status update failed: %v", taskID, err)
		} else {
			c.saveTasks()
		}
	}
	return l, nil
}

// RenewLease extends an agent's lease on a task, with per-renewal decay.
func (c *Coordinator) RenewLease(taskID, agentID string) (*lease.AssignmentLease, error) {
	task := c.store.Get(taskID)
	if task == nil {
		return nil, fmt.Errorf("renew %s: %w", taskID, lease.ErrNotFound)
	}
	return c.registry.Renew(task, agentID)
}

// ReleaseLease destroys the lease for a task immediately, regardless of
// its expiry timer. Releasing an unleased task is a no-op.
func (c *Coordinator) ReleaseLease(taskID, reason string) {
	c.registry.Release(taskID, reason)
}

// CompleteTask marks a task done and releases its lease. Fails if the
// calling agent does not hold the current lease.
func (c *Coordinator) CompleteTask(taskID, agentID string) error {
	holder := c.registry.Holder(taskID)
	if holder == nil {
		return fmt.Errorf("complete %s: %w", taskID, lease.ErrNotFound)
	}
	if holder.AgentID != agentID {
		return fmt.Errorf("complete %s: held by %s: %w", taskID, holder.AgentID, lease.ErrNotOwner)
	}
	if err := c.store.SetStatus(taskID, models.TaskStatusDone); err != nil {
		return fmt.Errorf("complete %s: %w", taskID, err)
	}
	c.registry.Release(taskID, "completed")
	c.saveTasks()
	return nil
}

// Health returns the current state of every active lease.
func (c *Coordinator) Health() []lease.LeaseHealth {
	return c.registry.Health()
}

// Events returns the lease event stream.
func (c *Coordinator) Events() <-chan lease.Event {
	return c.registry.Events()
}

// StartMonitor runs the background lease monitor until the context is
// cancelled.
func (c *Coordinator) StartMonitor(ctx context.Context) {
	go c.monitor.Run(ctx)
}

// Restore loads persisted tasks and leases. Leases whose grace period has
// already elapsed are dropped during restore.
func (c *Coordinator) Restore() error {
	if c.tasks != nil {
		loaded, err := c.tasks.LoadTasks()
		if err != nil {
			return fmt.Errorf("restore tasks: %w", err)
		}
		if len(loaded) > 0 {
			restored, err := taskstore.Load(loaded)
			if err != nil {
				return fmt.Errorf("restore tasks: %w", err)
			}
			c.store = restored
		}
	}
	if err := c.registry.Restore(); err != nil {
		return fmt.Errorf("restore leases: %w", err)
	}
	return nil
}

// saveTasks persists the current task graph if a repository is attached.
func (c *Coordinator) saveTasks() {
	if c.tasks == nil {
		return
	}
	if err := c.tasks.SaveTasks(c.store.Snapshot()); err != nil {
		debugLog("[coordinator] task persistence failed: %v", err)
	}
}
