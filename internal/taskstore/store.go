// Package taskstore holds the unified collection of parent tasks and subtasks
// with their dependency edges. Every mutation is validated: dependencies must
// reference known tasks, and the dependency relation over unfinished subtasks
// must stay acyclic.
package taskstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Store is an in-memory task collection with consistency checks.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// New creates an empty Store.
func New() *Store {
	return &Store{tasks: make(map[string]*models.Task)}
}

// Load replaces the store contents with the given tasks after validation.
func Load(tasks []*models.Task) (*Store, error) {
	s := New()
	for _, task := range tasks {
		if err := s.Add(task); err != nil {
			return nil, err
		}
	}
	// Adds validate incrementally; dependencies may reference tasks added
	// later in the slice, so resolve and re-check the full set once.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Add inserts a task. Dependency references are checked lazily until the
// full set is loaded; structural fields are checked immediately.
func (s *Store) Add(task *models.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task has empty id")
	}
	if task.IsSubtask && task.ParentTaskID == "" {
		return fmt.Errorf("subtask %s has no parent task id", task.ID)
	}
	if task.EstimatedHours <= 0 {
		return fmt.Errorf("task %s has non-positive estimated hours", task.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("duplicate task id %s", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// AddDependency appends a dependency edge (taskID depends on depID).
// Fails if either task is unknown, the edge already exists, or the edge
// would close a cycle among unfinished subtasks.
func (s *Store) AddDependency(taskID, depID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if _, ok := s.tasks[depID]; !ok {
		return fmt.Errorf("task %s depends on unknown task %s", taskID, depID)
	}
	if task.DependsOn(depID) {
		return fmt.Errorf("task %s already depends on %s", taskID, depID)
	}

	task.Dependencies = append(task.Dependencies, depID)
	if err := s.checkAcyclicLocked(); err != nil {
		task.Dependencies = task.Dependencies[:len(task.Dependencies)-1]
		return err
	}
	return nil
}

// SetStatus updates a task's status.
func (s *Store) SetStatus(taskID string, status models.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	task.Status = status
	return nil
}

// Get returns a copy of the task for a given ID, or nil if not found.
// Callers never see the store's interior task, so reads of the returned
// value are safe while AddDependency or SetStatus run concurrently.
func (s *Store) Get(taskID string) *models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	return t.Clone()
}

// Len returns the number of tasks in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Snapshot returns a deep copy of all tasks, sorted by ID for determinism.
// Read-only computations (scheduling) run against a snapshot so the store
// can keep mutating underneath them.
func (s *Store) Snapshot() []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Subtasks returns deep copies of all subtasks.
func (s *Store) Subtasks() []*models.Task {
	var subtasks []*models.Task
	for _, task := range s.Snapshot() {
		if task.IsSubtask {
			subtasks = append(subtasks, task)
		}
	}
	return subtasks
}

// Workable returns deep copies of all subtasks that still consume
// worker-hours (not done).
func (s *Store) Workable() []*models.Task {
	var workable []*models.Task
	for _, task := range s.Snapshot() {
		if task.Workable() {
			workable = append(workable, task)
		}
	}
	return workable
}

// validateLocked checks referential integrity and acyclicity for the whole
// store. Caller must hold the lock.
func (s *Store) validateLocked() error {
	for _, task := range s.tasks {
		for _, depID := range task.Dependencies {
			if _, ok := s.tasks[depID]; !ok {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
		}
		if task.IsSubtask {
			if _, ok := s.tasks[task.ParentTaskID]; !ok {
				return fmt.Errorf("subtask %s references unknown parent %s", task.ID, task.ParentTaskID)
			}
		}
	}
	return s.checkAcyclicLocked()
}

// checkAcyclicLocked verifies the dependency relation restricted to
// unfinished subtasks is acyclic. Caller must hold the lock.
func (s *Store) checkAcyclicLocked() error {
	workable := make(map[string]*models.Task)
	for id, task := range s.tasks {
		if task.Workable() {
			workable[id] = task
		}
	}

	g := graph.New()
	scoped := make([]*models.Task, 0, len(workable))
	for _, task := range workable {
		c := task.Clone()
		// Drop edges that leave the workable set; they cannot participate
		// in a cycle among unfinished subtasks.
		var deps []string
		for _, depID := range c.Dependencies {
			if _, ok := workable[depID]; ok {
				deps = append(deps, depID)
			}
		}
		c.Dependencies = deps
		scoped = append(scoped, c)
	}
	return g.Build(scoped)
}
