package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/internal/lease"
	"github.com/ShayCichocki/foreman/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := openTestDB(t)

	tasks := []*models.Task{
		{
			ID:             "parent-1",
			Name:           "Build auth service",
			Status:         models.TaskStatusInProgress,
			EstimatedHours: 12.5,
			Priority:       models.PriorityHigh,
			Order:          1,
		},
		{
			ID:             "sub-1",
			Name:           "Design auth schema",
			Status:         models.TaskStatusTodo,
			Dependencies:   []string{"sub-0"},
			EstimatedHours: 3,
			Priority:       models.PriorityUrgent,
			Labels:         []string{"design", "database"},
			IsSubtask:      true,
			ParentTaskID:   "parent-1",
			Provides:       "auth schema",
			Requires:       "user model",
			Order:          2,
		},
	}

	if err := db.SaveTasks(tasks); err != nil {
		t.Fatalf("SaveTasks failed: %v", err)
	}

	loaded, err := db.LoadTasks()
	if err != nil {
		t.Fatalf("LoadTasks failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(loaded))
	}

	got := loaded[1]
	want := tasks[1]
	if got.ID != want.ID || got.Name != want.Name || got.Status != want.Status {
		t.Errorf("identity mismatch: got %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "sub-0" {
		t.Errorf("dependencies mismatch: got %v", got.Dependencies)
	}
	if got.EstimatedHours != want.EstimatedHours {
		t.Errorf("estimated hours: got %v, want %v", got.EstimatedHours, want.EstimatedHours)
	}
	if got.Priority != want.Priority {
		t.Errorf("priority: got %v, want %v", got.Priority, want.Priority)
	}
	if len(got.Labels) != 2 || got.Labels[0] != "design" {
		t.Errorf("labels mismatch: got %v", got.Labels)
	}
	if !got.IsSubtask || got.ParentTaskID != "parent-1" {
		t.Errorf("subtask fields mismatch: got %+v", got)
	}
	if got.Provides != want.Provides || got.Requires != want.Requires {
		t.Errorf("provides/requires mismatch: got %q/%q", got.Provides, got.Requires)
	}
	if got.Order != want.Order {
		t.Errorf("order: got %d, want %d", got.Order, want.Order)
	}

	// Parent task with no deps/labels should load with nil slices.
	if loaded[0].Dependencies != nil && len(loaded[0].Dependencies) != 0 {
		t.Errorf("expected empty dependencies, got %v", loaded[0].Dependencies)
	}
}

func TestSaveTasksReplaces(t *testing.T) {
	db := openTestDB(t)

	first := []*models.Task{{ID: "a", Name: "A", Status: models.TaskStatusTodo, EstimatedHours: 1, Priority: models.PriorityMedium}}
	if err := db.SaveTasks(first); err != nil {
		t.Fatalf("SaveTasks failed: %v", err)
	}

	second := []*models.Task{{ID: "b", Name: "B", Status: models.TaskStatusTodo, EstimatedHours: 1, Priority: models.PriorityMedium}}
	if err := db.SaveTasks(second); err != nil {
		t.Fatalf("second SaveTasks failed: %v", err)
	}

	loaded, err := db.LoadTasks()
	if err != nil {
		t.Fatalf("LoadTasks failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "b" {
		t.Fatalf("expected only task b, got %v", loaded)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	db := openTestDB(t)

	tasks := []*models.Task{{ID: "a", Name: "A", Status: models.TaskStatusTodo, EstimatedHours: 1, Priority: models.PriorityMedium}}
	if err := db.SaveTasks(tasks); err != nil {
		t.Fatalf("SaveTasks failed: %v", err)
	}

	if err := db.UpdateTaskStatus("a", models.TaskStatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	loaded, _ := db.LoadTasks()
	if loaded[0].Status != models.TaskStatusDone {
		t.Errorf("status not updated: got %v", loaded[0].Status)
	}

	if err := db.UpdateTaskStatus("missing", models.TaskStatusDone); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestLeaseRoundTrip(t *testing.T) {
	db := openTestDB(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := &lease.AssignmentLease{
		TaskID:        "sub-1",
		AgentID:       "agent-7",
		CreatedAt:     now,
		ExpiresAt:     now.Add(2 * time.Hour),
		DurationHours: 2.0,
		RenewalCount:  3,
		Metadata:      map[string]string{"priority_multiplier": "1.00"},
	}

	if err := db.SaveLease(l); err != nil {
		t.Fatalf("SaveLease failed: %v", err)
	}

	loaded, err := db.LoadLeases()
	if err != nil {
		t.Fatalf("LoadLeases failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 lease, got %d", len(loaded))
	}
	got := loaded[0]
	if got.TaskID != "sub-1" || got.AgentID != "agent-7" {
		t.Errorf("identity mismatch: got %+v", got)
	}
	if !got.CreatedAt.Equal(l.CreatedAt) || !got.ExpiresAt.Equal(l.ExpiresAt) {
		t.Errorf("timestamps mismatch: got %v / %v", got.CreatedAt, got.ExpiresAt)
	}
	if got.DurationHours != 2.0 || got.RenewalCount != 3 {
		t.Errorf("duration fields mismatch: got %+v", got)
	}
	if got.Metadata["priority_multiplier"] != "1.00" {
		t.Errorf("metadata mismatch: got %v", got.Metadata)
	}
}

func TestSaveLeaseUpserts(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC()
	l := &lease.AssignmentLease{TaskID: "t", AgentID: "a1", CreatedAt: now, ExpiresAt: now.Add(time.Hour), DurationHours: 1}
	if err := db.SaveLease(l); err != nil {
		t.Fatalf("SaveLease failed: %v", err)
	}

	l.AgentID = "a2"
	l.RenewalCount = 1
	if err := db.SaveLease(l); err != nil {
		t.Fatalf("upsert SaveLease failed: %v", err)
	}

	loaded, _ := db.LoadLeases()
	if len(loaded) != 1 || loaded[0].AgentID != "a2" || loaded[0].RenewalCount != 1 {
		t.Fatalf("upsert did not replace: got %v", loaded)
	}
}

func TestDeleteLease(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC()
	l := &lease.AssignmentLease{TaskID: "t", AgentID: "a", CreatedAt: now, ExpiresAt: now.Add(time.Hour), DurationHours: 1}
	if err := db.SaveLease(l); err != nil {
		t.Fatalf("SaveLease failed: %v", err)
	}
	if err := db.DeleteLease("t"); err != nil {
		t.Fatalf("DeleteLease failed: %v", err)
	}
	loaded, _ := db.LoadLeases()
	if len(loaded) != 0 {
		t.Fatalf("expected no leases, got %v", loaded)
	}

	// Deleting again is a no-op.
	if err := db.DeleteLease("t"); err != nil {
		t.Fatalf("second DeleteLease failed: %v", err)
	}
}

func TestWiringFlagRoundTrip(t *testing.T) {
	db := openTestDB(t)

	done, err := db.WiringComplete()
	if err != nil {
		t.Fatalf("WiringComplete failed: %v", err)
	}
	if done {
		t.Fatal("fresh database should not report wiring complete")
	}

	if err := db.MarkWiringComplete(); err != nil {
		t.Fatalf("MarkWiringComplete failed: %v", err)
	}
	done, err = db.WiringComplete()
	if err != nil {
		t.Fatalf("WiringComplete failed: %v", err)
	}
	if !done {
		t.Fatal("expected wiring complete after marking")
	}

	// Marking twice is a no-op.
	if err := db.MarkWiringComplete(); err != nil {
		t.Fatalf("second MarkWiringComplete failed: %v", err)
	}
}

// DB must satisfy the lease store contract.
var _ lease.Store = (*DB)(nil)
