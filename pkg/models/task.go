// Package models defines the core domain types shared across foreman.
package models

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusTodo indicates the task has not started.
	TaskStatusTodo TaskStatus = "todo"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusDone, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Priority represents the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in the coordination system.
// Parent tasks group related subtasks; only subtasks consume worker-hours.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Name is the short description of the task.
	Name string `json:"name" yaml:"name"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// EstimatedHours is the expected duration of the task. Must be > 0.
	EstimatedHours float64 `json:"estimated_hours" yaml:"estimated_hours"`
	// Priority is the urgency of the task.
	Priority Priority `json:"priority" yaml:"priority"`
	// Labels classify the task (complexity, phase hints).
	Labels []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	// IsSubtask is true for leaf work items decomposed under a parent.
	IsSubtask bool `json:"is_subtask" yaml:"is_subtask"`
	// ParentTaskID is the ID of the parent task. Required when IsSubtask is true.
	ParentTaskID string `json:"parent_task_id,omitempty" yaml:"parent_task_id,omitempty"`
	// Provides describes the output this task yields, used for
	// cross-parent dependency matching.
	Provides string `json:"provides,omitempty" yaml:"provides,omitempty"`
	// Requires describes the input this task needs, used for
	// cross-parent dependency matching.
	Requires string `json:"requires,omitempty" yaml:"requires,omitempty"`
	// Order is the intra-parent sequencing hint.
	Order int `json:"order" yaml:"order"`
}

// Workable returns true if the task consumes worker-hours going forward:
// it is a subtask and not yet done.
func (t *Task) Workable() bool {
	return t.IsSubtask && t.Status != TaskStatusDone
}

// HasLabel returns true if the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// DependsOn returns true if the task lists depID as a direct dependency.
func (t *Task) DependsOn(depID string) bool {
	for _, id := range t.Dependencies {
		if id == depID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Labels != nil {
		c.Labels = append([]string(nil), t.Labels...)
	}
	return &c
}
