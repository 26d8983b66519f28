// Package schedule computes the theoretically optimal degree of parallelism
// for a task graph via critical-path analysis. All computations are read-only
// and run against a snapshot of the task set.
package schedule

import (
	"sort"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// TaskTimes holds the earliest start and finish times for one task, in hours
// from project start, assuming unconstrained workers.
type TaskTimes struct {
	Start  float64 `json:"start"`
	Finish float64 `json:"finish"`
}

// ParallelWindow describes a time window during which two or more tasks can
// run concurrently. Used for human-facing explanation only.
type ParallelWindow struct {
	// StartHour is the window start, in hours from project start.
	StartHour float64 `json:"start_hour"`
	// EndHour is the window end.
	EndHour float64 `json:"end_hour"`
	// TaskIDs are the tasks concurrently workable in this window.
	TaskIDs []string `json:"task_ids"`
}

// ProjectSchedule is an immutable snapshot of the project's parallelism
// analysis. It is recomputed on every request and never persisted.
type ProjectSchedule struct {
	// OptimalAgents is the recommended worker count (the parallelism peak).
	OptimalAgents int `json:"optimal_agents"`
	// CriticalPathHours is the longest dependent chain by cumulative duration.
	CriticalPathHours float64 `json:"critical_path_hours"`
	// MaxParallelism is the peak number of simultaneously workable tasks.
	MaxParallelism int `json:"max_parallelism"`
	// EstimatedCompletionHours is the completion time with OptimalAgents
	// workers, which equals the critical path length.
	EstimatedCompletionHours float64 `json:"estimated_completion_hours"`
	// SingleAgentHours is the serial duration: the sum of all remaining estimates.
	SingleAgentHours float64 `json:"single_agent_hours"`
	// EfficiencyGain is the fraction of serial time saved by parallelism, in [0,1).
	EfficiencyGain float64 `json:"efficiency_gain"`
	// ParallelOpportunities lists windows where concurrency is at least 2.
	ParallelOpportunities []ParallelWindow `json:"parallel_opportunities,omitempty"`
}

// ComputeTaskTimes runs a forward pass over the tasks in topological order.
// Each task starts when its slowest dependency finishes and runs for its
// estimate. Dependencies outside the task set are treated as already
// satisfied. This is the unconstrained-resource schedule: the theoretical
// best case, not a resource-constrained plan.
func ComputeTaskTimes(tasks []*models.Task, order []string) map[string]TaskTimes {
	byID := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	times := make(map[string]TaskTimes, len(tasks))
	for _, id := range order {
		task := byID[id]
		if task == nil {
			continue
		}
		start := 0.0
		for _, depID := range task.Dependencies {
			if dep, ok := times[depID]; ok && dep.Finish > start {
				start = dep.Finish
			}
		}
		times[id] = TaskTimes{Start: start, Finish: start + task.EstimatedHours}
	}
	return times
}

// CalculateOptimalAgents analyzes the remaining work and returns the
// parallelism profile. Only workable tasks (subtasks not yet done) count;
// parent tasks and completed work consume no worker-hours going forward.
// Returns a graph.CycleError if the remaining work has no valid ordering;
// fatal for scheduling, the caller must fix the graph before retrying.
func CalculateOptimalAgents(tasks []*models.Task, includeDetails bool) (*ProjectSchedule, error) {
	var workable []*models.Task
	ids := make(map[string]bool)
	for _, task := range tasks {
		if task.Workable() {
			workable = append(workable, task)
			ids[task.ID] = true
		}
	}

	if len(workable) == 0 {
		return &ProjectSchedule{}, nil
	}

	// Scope dependency edges to the workable set; everything else is
	// either done or a parent grouping and holds nothing back.
	scoped := make([]*models.Task, 0, len(workable))
	for _, task := range workable {
		c := task.Clone()
		var deps []string
		for _, depID := range c.Dependencies {
			if ids[depID] {
				deps = append(deps, depID)
			}
		}
		c.Dependencies = deps
		scoped = append(scoped, c)
	}

	g := graph.New()
	if err := g.Build(scoped); err != nil {
		return nil, err
	}
	order, err := g.Sort()
	if err != nil {
		return nil, err
	}

	times := ComputeTaskTimes(scoped, order)

	var criticalPath, singleAgent float64
	for _, task := range scoped {
		singleAgent += task.EstimatedHours
		if f := times[task.ID].Finish; f > criticalPath {
			criticalPath = f
		}
	}

	maxParallelism, windows := sweepConcurrency(times, includeDetails)

	efficiency := 0.0
	if singleAgent > 0 {
		efficiency = (singleAgent - criticalPath) / singleAgent
	}

	return &ProjectSchedule{
		OptimalAgents:            maxParallelism,
		CriticalPathHours:        criticalPath,
		MaxParallelism:           maxParallelism,
		EstimatedCompletionHours: criticalPath,
		SingleAgentHours:         singleAgent,
		EfficiencyGain:           efficiency,
		ParallelOpportunities:    windows,
	}, nil
}

// sweepEvent is a +1 (start) or -1 (finish) transition at a point in time.
type sweepEvent struct {
	at     float64
	delta  int
	taskID string
}

// sweepConcurrency computes peak concurrency over all (start, finish)
// intervals. Finish events sort before start events at equal timestamps so
// an instantaneous handoff is not counted as overlap.
func sweepConcurrency(times map[string]TaskTimes, collectWindows bool) (int, []ParallelWindow) {
	events := make([]sweepEvent, 0, 2*len(times))
	for id, tt := range times {
		events = append(events, sweepEvent{at: tt.Start, delta: +1, taskID: id})
		events = append(events, sweepEvent{at: tt.Finish, delta: -1, taskID: id})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].delta < events[j].delta
	})

	var (
		peak, running int
		windows       []ParallelWindow
		active        = make(map[string]bool)
		prevAt        float64
	)
	for _, ev := range events {
		// Close the window that ended at this event boundary.
		if collectWindows && running >= 2 && ev.at > prevAt {
			windows = append(windows, ParallelWindow{
				StartHour: prevAt,
				EndHour:   ev.at,
				TaskIDs:   sortedKeys(active),
			})
		}

		running += ev.delta
		if ev.delta > 0 {
			active[ev.taskID] = true
		} else {
			delete(active, ev.taskID)
		}
		if running > peak {
			peak = running
		}
		prevAt = ev.at
	}

	return peak, mergeAdjacent(windows)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeAdjacent coalesces consecutive windows with identical task sets.
func mergeAdjacent(windows []ParallelWindow) []ParallelWindow {
	if len(windows) < 2 {
		return windows
	}
	merged := windows[:1]
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		if last.EndHour == w.StartHour && equalIDs(last.TaskIDs, w.TaskIDs) {
			last.EndHour = w.EndHour
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
