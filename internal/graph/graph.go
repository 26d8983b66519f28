// Package graph provides a dependency graph for task ordering and cycle detection.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// CycleError reports a circular dependency along with the implicated task IDs.
// It matches ErrCycleDetected under errors.Is.
type CycleError struct {
	// TaskIDs are the tasks involved in (or unresolvable because of) the cycle.
	TaskIDs []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected among tasks: %s", strings.Join(e.TaskIDs, ", "))
}

// Is reports whether this error matches ErrCycleDetected.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*models.Task),
		edges: make(map[string][]string),
	}
}

// Build constructs the dependency graph from a slice of tasks.
// Returns an error if a cycle is detected or dependencies reference unknown tasks.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// First pass: register all tasks as nodes.
	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	// Second pass: build edges from Dependencies fields.
	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if ids := g.findCycleLocked(); ids != nil {
		return &CycleError{TaskIDs: ids}
	}
	return nil
}

// AddEdge adds a dependency edge (task depends on dep) and verifies the
// graph stays acyclic. On a would-be cycle the edge is rolled back and a
// CycleError is returned.
func (g *DependencyGraph) AddEdge(taskID, depID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[taskID]; !exists {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if _, exists := g.nodes[depID]; !exists {
		return fmt.Errorf("unknown task %s", depID)
	}

	g.edges[taskID] = append(g.edges[taskID], depID)
	if ids := g.findCycleLocked(); ids != nil {
		// Roll back the edge that closed the cycle.
		deps := g.edges[taskID]
		g.edges[taskID] = deps[:len(deps)-1]
		return &CycleError{TaskIDs: ids}
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycleLocked() != nil
}

// findCycleLocked detects a cycle via depth-first search with coloring.
// Returns the IDs on the in-progress path when a back edge is found, nil
// otherwise. Caller must hold the lock.
func (g *DependencyGraph) findCycleLocked() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: the cycle is the stack segment from depID onward.
				for i, sid := range stack {
					if sid == depID {
						return append([]string(nil), stack[i:]...)
					}
				}
				return append([]string(nil), stack...)
			case 0:
				if ids := visit(depID); ids != nil {
					return ids
				}
			}
		}

		colors[id] = 2
		stack = stack[:len(stack)-1]
		return nil
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if ids := visit(id); ids != nil {
				sort.Strings(ids)
				return ids
			}
		}
	}
	return nil
}

// Reachable returns true if target is reachable from start by following
// dependency edges. Used before adding an edge target->start would create.
func (g *DependencyGraph) Reachable(start, target string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if start == target {
		return true
	}

	visited := make(map[string]bool)
	var visit func(id string) bool
	visit = func(id string) bool {
		if id == target {
			return true
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			if !visited[depID] && visit(depID) {
				return true
			}
		}
		return false
	}
	return visit(start)
}

// Sort returns task IDs in an order where all dependencies come before the
// tasks that depend on them (Kahn's algorithm). Among simultaneously-ready
// tasks, ties break by Order ascending, then by ID. Returns a CycleError if
// no valid ordering exists.
func (g *DependencyGraph) Sort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// remaining counts unmet dependencies per task.
	remaining := make(map[string]int, len(g.nodes))
	// dependents maps a task to the tasks blocked by it.
	dependents := make(map[string][]string, len(g.nodes))
	for id, deps := range g.edges {
		remaining[id] = len(deps)
		for _, depID := range deps {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var ready []string
	for id := range g.nodes {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := g.nodes[ready[i]], g.nodes[ready[j]]
			if a.Order != b.Order {
				return a.Order < b.Order
			}
			return a.ID < b.ID
		})

		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		for _, depID := range dependents[id] {
			remaining[depID]--
			if remaining[depID] == 0 {
				ready = append(ready, depID)
			}
		}
	}

	if len(result) != len(g.nodes) {
		// Whatever could not be ordered sits on or behind a cycle.
		var stuck []string
		for id := range g.nodes {
			if remaining[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{TaskIDs: stuck}
	}
	return result, nil
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[taskID]
}

// GetDependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}
