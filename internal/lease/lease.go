// Package lease tracks exclusive, time-bounded ownership of tasks by agents,
// and recovers ownership when an agent stalls or disappears.
package lease

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyLeased indicates a task already has an active owner.
var ErrAlreadyLeased = errors.New("task is already leased")

// ErrNotOwner indicates the calling agent does not hold the current lease.
var ErrNotOwner = errors.New("agent does not hold the lease")

// ErrNotFound indicates no lease exists for the task.
var ErrNotFound = errors.New("no lease found for task")

// AlreadyLeasedError reports a claim conflict along with the current holder,
// so the caller can treat the task as unavailable rather than a fault.
// Matches ErrAlreadyLeased under errors.Is.
type AlreadyLeasedError struct {
	TaskID    string
	HolderID  string
	ExpiresAt time.Time
}

// Error implements the error interface.
func (e *AlreadyLeasedError) Error() string {
	return fmt.Sprintf("task %s is already leased by agent %s until %s",
		e.TaskID, e.HolderID, e.ExpiresAt.Format(time.RFC3339))
}

// Is reports whether this error matches ErrAlreadyLeased.
func (e *AlreadyLeasedError) Is(target error) bool {
	return target == ErrAlreadyLeased
}

// AssignmentLease represents exclusive, time-bounded ownership of one task
// by one agent. At most one non-expired, non-released lease exists per task.
type AssignmentLease struct {
	// TaskID is the leased task.
	TaskID string `json:"task_id"`
	// AgentID is the owning agent.
	AgentID string `json:"agent_id"`
	// CreatedAt is when the lease was first granted.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is when ownership lapses unless renewed.
	ExpiresAt time.Time `json:"expires_at"`
	// DurationHours is the length of the current grant.
	DurationHours float64 `json:"duration_hours"`
	// RenewalCount is the number of times the lease has been renewed.
	RenewalCount int `json:"renewal_count"`
	// Metadata records the factors used to compute the duration, plus
	// observational flags such as "stuck".
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExpiredAt returns true if the lease is past its expiry at the given instant.
func (l *AssignmentLease) ExpiredAt(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Clone returns a copy of the lease with its own metadata map.
func (l *AssignmentLease) Clone() *AssignmentLease {
	c := *l
	if l.Metadata != nil {
		c.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Store persists active leases across restarts. Without one, a restart loses
// all ownership state and every in-flight task becomes immediately
// reclaimable.
type Store interface {
	// SaveLease inserts or replaces the lease for its task.
	SaveLease(lease *AssignmentLease) error
	// DeleteLease removes the lease for a task.
	DeleteLease(taskID string) error
	// LoadLeases returns all persisted leases.
	LoadLeases() ([]*AssignmentLease, error)
}
