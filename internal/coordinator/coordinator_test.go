package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/internal/lease"
	"github.com/ShayCichocki/foreman/internal/resolver"
	"github.com/ShayCichocki/foreman/internal/taskstore"
	"github.com/ShayCichocki/foreman/pkg/models"
)

type memPersist struct {
	mu    sync.Mutex
	tasks []*models.Task
	saves int
	wired bool
}

func (m *memPersist) SaveTasks(tasks []*models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = tasks
	m.saves++
	return nil
}

func (m *memPersist) LoadTasks() ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks, nil
}

func (m *memPersist) WiringComplete() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wired, nil
}

func (m *memPersist) MarkWiringComplete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wired = true
	return nil
}

type stubReasoning struct {
	confirm map[string][]string
}

func (s *stubReasoning) Resolve(_ context.Context, subtask *models.Task, candidates []*models.Task) (*resolver.Resolution, error) {
	res := &resolver.Resolution{Rationale: map[string]string{}}
	for _, id := range s.confirm[subtask.ID] {
		res.ConfirmedIDs = append(res.ConfirmedIDs, id)
		res.Rationale[id] = "needed"
	}
	return res, nil
}

func testTasks() []*models.Task {
	return []*models.Task{
		{ID: "p1", Name: "Design workstream", Status: models.TaskStatusInProgress, EstimatedHours: 8, Priority: models.PriorityMedium},
		{ID: "p2", Name: "Implementation workstream", Status: models.TaskStatusInProgress, EstimatedHours: 8, Priority: models.PriorityMedium},
		{ID: "s1", Name: "Design user schema", Status: models.TaskStatusDone, EstimatedHours: 2,
			Priority: models.PriorityMedium, IsSubtask: true, ParentTaskID: "p1",
			Labels: []string{"design"}, Provides: "user schema"},
		{ID: "s2", Name: "Implement user model", Status: models.TaskStatusTodo, EstimatedHours: 3,
			Priority: models.PriorityMedium, IsSubtask: true, ParentTaskID: "p2",
			Dependencies: []string{"s1"}, Requires: "user schema", Provides: "user model"},
		{ID: "s3", Name: "Implement session handling", Status: models.TaskStatusTodo, EstimatedHours: 2,
			Priority: models.PriorityMedium, IsSubtask: true, ParentTaskID: "p1",
			Requires: "user model"},
	}
}

func newTestCoordinator(t *testing.T, res *resolver.Resolver) (*Coordinator, *fakeClock) {
	t.Helper()
	store, err := taskstore.Load(testTasks())
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	registry := lease.NewRegistryWithClock(lease.DefaultConfig(), nil, clock.Now)
	return New(store, registry, res), clock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestClaimable(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	tests := []struct {
		name   string
		taskID string
		want   bool
	}{
		{"unknown task", "nope", false},
		{"parent task", "p1", false},
		{"dependency done", "s2", true},
		{"no dependencies", "s3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := c.Claimable(tt.taskID)
			if got != tt.want {
				t.Errorf("Claimable(%s) = %v (%s), want %v", tt.taskID, got, reason, tt.want)
			}
		})
	}
}

func TestClaimableBlockedByDependency(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	// s3 depends on s2 once wired; add the edge, s2 is still todo.
	if err := c.Store().AddDependency("s3", "s2"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	ok, reason := c.Claimable("s3")
	if ok {
		t.Fatal("expected s3 to be blocked by s2")
	}
	if reason == "" {
		t.Error("expected a reason for blocked task")
	}
}

func TestClaimMarksInProgressAndBlocksSecondClaim(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	l, err := c.ClaimTask("s2", "agent-1")
	if err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}
	if l.AgentID != "agent-1" {
		t.Errorf("unexpected holder %q", l.AgentID)
	}

	if got := c.Store().Get("s2").Status; got != models.TaskStatusInProgress {
		t.Errorf("expected in_progress after claim, got %v", got)
	}

	if ok, _ := c.Claimable("s2"); ok {
		t.Error("claimed task should not be claimable")
	}

	_, err = c.ClaimTask("s2", "agent-2")
	if !errors.Is(err, lease.ErrAlreadyLeased) {
		t.Errorf("expected ErrAlreadyLeased, got %v", err)
	}
}

func TestClaimUnknownTask(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	_, err := c.ClaimTask("nope", "agent-1")
	if !errors.Is(err, lease.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteTask(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	persist := &memPersist{}
	c.SetTaskPersistence(persist)

	if _, err := c.ClaimTask("s2", "agent-1"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	if err := c.CompleteTask("s2", "agent-2"); !errors.Is(err, lease.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for wrong agent, got %v", err)
	}

	if err := c.CompleteTask("s2", "agent-1"); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	if got := c.Store().Get("s2").Status; got != models.TaskStatusDone {
		t.Errorf("expected done after completion, got %v", got)
	}
	if h := c.Health(); len(h) != 0 {
		t.Errorf("expected no active leases, got %d", len(h))
	}
	// One save on claim, one on completion.
	if persist.saves != 2 {
		t.Errorf("expected two persistence saves, got %d", persist.saves)
	}

	if err := c.CompleteTask("s2", "agent-1"); !errors.Is(err, lease.ErrNotFound) {
		t.Errorf("expected ErrNotFound after release, got %v", err)
	}
}

func TestRenewAndRelease(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	if _, err := c.ClaimTask("s3", "agent-1"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	renewed, err := c.RenewLease("s3", "agent-1")
	if err != nil {
		t.Fatalf("RenewLease failed: %v", err)
	}
	if renewed.RenewalCount != 1 {
		t.Errorf("expected renewal count 1, got %d", renewed.RenewalCount)
	}

	c.ReleaseLease("s3", "cancelled")
	if ok, _ := c.Claimable("s3"); !ok {
		t.Error("released task should be claimable again")
	}
}

func TestOptimalAgentsFacade(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	sched, err := c.OptimalAgents(true)
	if err != nil {
		t.Fatalf("OptimalAgents failed: %v", err)
	}
	// s2 (3h, dep s1 done) and s3 (2h) are independent workable subtasks.
	if sched.OptimalAgents != 2 {
		t.Errorf("expected 2 optimal agents, got %d", sched.OptimalAgents)
	}
	if sched.SingleAgentHours != 5 {
		t.Errorf("expected 5 single-agent hours, got %v", sched.SingleAgentHours)
	}
}

func TestStartWiringRunsOnce(t *testing.T) {
	reasoning := &stubReasoning{confirm: map[string][]string{"s3": {"s2"}}}
	res := resolver.New(reasoning, nil, resolver.DefaultConfig())
	c, _ := newTestCoordinator(t, res)
	persist := &memPersist{}
	c.SetTaskPersistence(persist)

	handle, err := c.StartWiring(context.Background())
	if err != nil {
		t.Fatalf("StartWiring failed: %v", err)
	}

	record, err := handle.Result()
	if err != nil {
		t.Fatalf("wiring failed: %v", err)
	}
	if record.DependenciesCreated != 1 {
		t.Errorf("expected 1 dependency created, got %d", record.DependenciesCreated)
	}
	if !c.Store().Get("s3").DependsOn("s2") {
		t.Error("expected s3 -> s2 edge after wiring")
	}
	if !handle.Finished() {
		t.Error("handle should report finished")
	}

	again, err := c.StartWiring(context.Background())
	if !errors.Is(err, ErrWiringStarted) {
		t.Fatalf("expected ErrWiringStarted, got %v", err)
	}
	if again != handle {
		t.Error("second start should return the original handle")
	}

	persist.mu.Lock()
	saves := persist.saves
	persist.mu.Unlock()
	if saves != 1 {
		t.Errorf("expected one save on wiring completion, got %d", saves)
	}
}

func TestStartWiringNoResolver(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	if _, err := c.StartWiring(context.Background()); !errors.Is(err, ErrNoResolver) {
		t.Errorf("expected ErrNoResolver, got %v", err)
	}
}

func TestWiringCancel(t *testing.T) {
	block := make(chan struct{})
	reasoning := &blockingReasoning{release: block}
	res := resolver.New(reasoning, nil, resolver.DefaultConfig())
	c, _ := newTestCoordinator(t, res)

	handle, err := c.StartWiring(context.Background())
	if err != nil {
		t.Fatalf("StartWiring failed: %v", err)
	}

	handle.Cancel()
	close(block)

	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("wiring did not stop after cancel")
	}
}

type blockingReasoning struct {
	release chan struct{}
}

func (b *blockingReasoning) Resolve(ctx context.Context, _ *models.Task, _ []*models.Task) (*resolver.Resolution, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &resolver.Resolution{}, nil
}

func TestRestoreRoundTrip(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	persist := &memPersist{}
	c.SetTaskPersistence(persist)

	if _, err := c.ClaimTask("s2", "agent-1"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}
	if err := c.CompleteTask("s2", "agent-1"); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	// Fresh coordinator sharing the same persistence layer.
	fresh, _ := newTestCoordinator(t, nil)
	fresh.SetTaskPersistence(persist)
	if err := fresh.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := fresh.Store().Get("s2").Status; got != models.TaskStatusDone {
		t.Errorf("expected restored s2 done, got %v", got)
	}
}

func TestExpiredLeaseInGraceIsClaimable(t *testing.T) {
	c, clock := newTestCoordinator(t, nil)

	if _, err := c.ClaimTask("s3", "agent-1"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	// Past expiry but inside the grace period. No sweep has run, so the
	// dead lease is still registered, but it no longer blocks a claim.
	clock.Advance(2*time.Hour + 10*time.Minute)

	ok, reason := c.Claimable("s3")
	if !ok {
		t.Fatalf("expected expired-lease task claimable, blocked: %s", reason)
	}
	if _, err := c.ClaimTask("s3", "agent-2"); err != nil {
		t.Errorf("claim over expired lease failed: %v", err)
	}
}

func TestClaimPersistsStatus(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	persist := &memPersist{}
	c.SetTaskPersistence(persist)

	if _, err := c.ClaimTask("s2", "agent-1"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	persist.mu.Lock()
	defer persist.mu.Unlock()
	if persist.saves != 1 {
		t.Fatalf("expected one save on claim, got %d", persist.saves)
	}
	for _, task := range persist.tasks {
		if task.ID == "s2" && task.Status != models.TaskStatusInProgress {
			t.Errorf("persisted status = %v, want in_progress", task.Status)
		}
	}
}

func TestWiringRefusedAfterPriorCompletion(t *testing.T) {
	reasoning := &stubReasoning{confirm: map[string][]string{"s3": {"s2"}}}
	persist := &memPersist{}

	first, _ := newTestCoordinator(t, resolver.New(reasoning, nil, resolver.DefaultConfig()))
	first.SetTaskPersistence(persist)
	handle, err := first.StartWiring(context.Background())
	if err != nil {
		t.Fatalf("StartWiring failed: %v", err)
	}
	if _, err := handle.Result(); err != nil {
		t.Fatalf("wiring failed: %v", err)
	}

	// A later process sharing the same persistence must refuse to rerun.
	second, _ := newTestCoordinator(t, resolver.New(reasoning, nil, resolver.DefaultConfig()))
	second.SetTaskPersistence(persist)
	if _, err := second.StartWiring(context.Background()); !errors.Is(err, ErrWiringDone) {
		t.Fatalf("expected ErrWiringDone, got %v", err)
	}
}

func TestStartMonitorRecoversExpiredLease(t *testing.T) {
	store, err := taskstore.Load(testTasks())
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	cfg := lease.DefaultConfig()
	cfg.MonitorInterval = 5 * time.Millisecond
	registry := lease.NewRegistryWithClock(cfg, nil, clock.Now)
	c := New(store, registry, nil)

	if _, err := c.ClaimTask("s3", "agent-1"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}
	clock.Advance(2*time.Hour + 31*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartMonitor(ctx)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type != lease.EventRecovered {
				continue
			}
			if ok, reason := c.Claimable("s3"); !ok {
				t.Fatalf("expected s3 claimable after recovery: %s", reason)
			}
			return
		case <-deadline:
			t.Fatal("monitor did not recover the expired lease")
		}
	}
}

func TestMonitorRecoversThroughFacade(t *testing.T) {
	c, clock := newTestCoordinator(t, nil)

	if _, err := c.ClaimTask("s3", "agent-1"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	// Past expiry plus grace, a sweep makes the task claimable again.
	clock.Advance(2*time.Hour + 31*time.Minute)
	c.monitor.Sweep()

	if ok, reason := c.Claimable("s3"); !ok {
		t.Errorf("expected s3 claimable after recovery: %s", reason)
	}
}
