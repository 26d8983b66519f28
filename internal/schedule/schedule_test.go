package schedule

import (
	"errors"
	"math"
	"testing"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/pkg/models"
)

func subtask(id string, hours float64, deps ...string) *models.Task {
	return &models.Task{
		ID:             id,
		Name:           id,
		Status:         models.TaskStatusTodo,
		IsSubtask:      true,
		ParentTaskID:   "p1",
		EstimatedHours: hours,
		Priority:       models.PriorityMedium,
		Dependencies:   deps,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSequentialChain(t *testing.T) {
	// A -> B -> C -> D -> E, 2h each: no parallelism at all.
	tasks := []*models.Task{
		subtask("A", 2),
		subtask("B", 2, "A"),
		subtask("C", 2, "B"),
		subtask("D", 2, "C"),
		subtask("E", 2, "D"),
	}

	sched, err := CalculateOptimalAgents(tasks, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sched.OptimalAgents != 1 {
		t.Errorf("OptimalAgents = %d, want 1", sched.OptimalAgents)
	}
	if !approx(sched.CriticalPathHours, 10) {
		t.Errorf("CriticalPathHours = %v, want 10", sched.CriticalPathHours)
	}
	if sched.MaxParallelism != 1 {
		t.Errorf("MaxParallelism = %d, want 1", sched.MaxParallelism)
	}
	if !approx(sched.EfficiencyGain, 0) {
		t.Errorf("EfficiencyGain = %v, want 0", sched.EfficiencyGain)
	}
	if len(sched.ParallelOpportunities) != 0 {
		t.Errorf("expected no parallel opportunities, got %v", sched.ParallelOpportunities)
	}
}

func TestFullParallelism(t *testing.T) {
	// 5 independent tasks, 2h each.
	tasks := []*models.Task{
		subtask("A", 2), subtask("B", 2), subtask("C", 2),
		subtask("D", 2), subtask("E", 2),
	}

	sched, err := CalculateOptimalAgents(tasks, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sched.OptimalAgents != 5 {
		t.Errorf("OptimalAgents = %d, want 5", sched.OptimalAgents)
	}
	if !approx(sched.CriticalPathHours, 2) {
		t.Errorf("CriticalPathHours = %v, want 2", sched.CriticalPathHours)
	}
	if !approx(sched.SingleAgentHours, 10) {
		t.Errorf("SingleAgentHours = %v, want 10", sched.SingleAgentHours)
	}
	if !approx(sched.EfficiencyGain, 0.8) {
		t.Errorf("EfficiencyGain = %v, want 0.8", sched.EfficiencyGain)
	}

	if len(sched.ParallelOpportunities) != 1 {
		t.Fatalf("expected one merged window, got %v", sched.ParallelOpportunities)
	}
	w := sched.ParallelOpportunities[0]
	if !approx(w.StartHour, 0) || !approx(w.EndHour, 2) || len(w.TaskIDs) != 5 {
		t.Errorf("unexpected window: %+v", w)
	}
}

func TestDiamond(t *testing.T) {
	// A fans out to B and C, which join at D.
	tasks := []*models.Task{
		subtask("A", 1),
		subtask("B", 2, "A"),
		subtask("C", 3, "A"),
		subtask("D", 1, "B", "C"),
	}

	sched, err := CalculateOptimalAgents(tasks, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !approx(sched.CriticalPathHours, 5) {
		t.Errorf("CriticalPathHours = %v, want 5 (A+C+D)", sched.CriticalPathHours)
	}
	if sched.MaxParallelism != 2 {
		t.Errorf("MaxParallelism = %d, want 2", sched.MaxParallelism)
	}
	if !approx(sched.SingleAgentHours, 7) {
		t.Errorf("SingleAgentHours = %v, want 7", sched.SingleAgentHours)
	}
}

func TestInstantaneousHandoffNotCounted(t *testing.T) {
	// B starts exactly when A finishes; the peak must stay 1.
	tasks := []*models.Task{
		subtask("A", 2),
		subtask("B", 2, "A"),
	}

	sched, err := CalculateOptimalAgents(tasks, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.MaxParallelism != 1 {
		t.Errorf("MaxParallelism = %d, want 1 (handoff is not overlap)", sched.MaxParallelism)
	}
}

func TestDoneAndParentTasksExcluded(t *testing.T) {
	done := subtask("done-1", 8)
	done.Status = models.TaskStatusDone
	par := &models.Task{ID: "p1", Name: "parent", Status: models.TaskStatusTodo, EstimatedHours: 100}

	tasks := []*models.Task{
		par,
		done,
		subtask("A", 2, "done-1"),
		subtask("B", 2, "A"),
	}

	sched, err := CalculateOptimalAgents(tasks, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Done dependency is satisfied: A starts at 0.
	if !approx(sched.CriticalPathHours, 4) {
		t.Errorf("CriticalPathHours = %v, want 4", sched.CriticalPathHours)
	}
	if !approx(sched.SingleAgentHours, 4) {
		t.Errorf("SingleAgentHours = %v, want 4 (done and parent excluded)", sched.SingleAgentHours)
	}
}

func TestEmptyProject(t *testing.T) {
	sched, err := CalculateOptimalAgents(nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.OptimalAgents != 0 || sched.CriticalPathHours != 0 || sched.EfficiencyGain != 0 {
		t.Errorf("expected zero schedule, got %+v", sched)
	}
}

func TestCycleIsFatal(t *testing.T) {
	tasks := []*models.Task{
		subtask("A", 2, "B"),
		subtask("B", 2, "A"),
	}

	_, err := CalculateOptimalAgents(tasks, false)
	if !errors.Is(err, graph.ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}

	var cycleErr *graph.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatal("expected *graph.CycleError with implicated IDs")
	}
	if len(cycleErr.TaskIDs) != 2 {
		t.Errorf("expected both tasks implicated, got %v", cycleErr.TaskIDs)
	}
}

func TestComputeTaskTimesForwardPass(t *testing.T) {
	tasks := []*models.Task{
		subtask("A", 1),
		subtask("B", 2, "A"),
		subtask("C", 4, "A"),
		subtask("D", 1, "B", "C"),
	}
	order := []string{"A", "B", "C", "D"}

	times := ComputeTaskTimes(tasks, order)

	want := map[string]TaskTimes{
		"A": {0, 1},
		"B": {1, 3},
		"C": {1, 5},
		"D": {5, 6},
	}
	for id, w := range want {
		got := times[id]
		if !approx(got.Start, w.Start) || !approx(got.Finish, w.Finish) {
			t.Errorf("times[%s] = %+v, want %+v", id, got, w)
		}
	}
}
