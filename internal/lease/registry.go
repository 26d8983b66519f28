package lease

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Registry tracks active leases and enforces the at-most-one-owner
// invariant. Claim, renew, release, and the monitor's recovery transitions
// are mutually exclusive under one registry lock; operations are short and
// never call out while holding it.
type Registry struct {
	mu     sync.Mutex
	cfg    Config
	leases map[string]*AssignmentLease
	store  Store
	events *Emitter
	// now is injectable for tests.
	now func() time.Time
}

// NewRegistry creates a lease registry with the given tuning.
// store may be nil, in which case lease state does not survive restarts.
func NewRegistry(cfg Config, store Store) *Registry {
	return &Registry{
		cfg:    cfg,
		leases: make(map[string]*AssignmentLease),
		store:  store,
		events: NewEmitter(),
		now:    time.Now,
	}
}

// NewRegistryWithClock creates a registry with an injected clock (for testing).
func NewRegistryWithClock(cfg Config, store Store, now func() time.Time) *Registry {
	r := NewRegistry(cfg, store)
	r.now = now
	return r
}

// Restore loads persisted leases into the registry. Call once on startup
// before serving claims. Leases already past expiry plus grace are dropped
// rather than restored.
func (r *Registry) Restore() error {
	if r.store == nil {
		return nil
	}
	persisted, err := r.store.LoadLeases()
	if err != nil {
		return fmt.Errorf("load leases: %w", err)
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range persisted {
		if now.After(l.ExpiresAt.Add(r.cfg.GracePeriod)) {
			// Stale beyond recovery; the monitor would reclaim it
			// immediately anyway.
			_ = r.store.DeleteLease(l.TaskID)
			continue
		}
		r.leases[l.TaskID] = l
	}
	return nil
}

// Events returns the channel of lease lifecycle events.
func (r *Registry) Events() <-chan Event {
	return r.events.Events()
}

// Claim grants the agent exclusive ownership of the task. The existence
// check and lease creation are one atomic operation under the registry
// lock, so two concurrent claims for the same task cannot both succeed.
// Returns an AlreadyLeasedError if a non-expired lease exists.
func (r *Registry) Claim(task *models.Task, agentID string) (*AssignmentLease, error) {
	now := r.now()

	r.mu.Lock()
	if existing, ok := r.leases[task.ID]; ok && !existing.ExpiredAt(now) {
		holder, expires := existing.AgentID, existing.ExpiresAt
		r.mu.Unlock()
		return nil, &AlreadyLeasedError{TaskID: task.ID, HolderID: holder, ExpiresAt: expires}
	}

	hours, factors := computeDuration(r.cfg, string(task.Priority), task.Labels, 0)
	l := &AssignmentLease{
		TaskID:        task.ID,
		AgentID:       agentID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(hoursToDuration(hours)),
		DurationHours: hours,
		RenewalCount:  0,
		Metadata:      factors.metadata(),
	}
	r.leases[task.ID] = l
	snapshot := l.Clone()
	r.mu.Unlock()

	r.persist(snapshot)
	r.events.Emit(Event{Type: EventClaimed, TaskID: task.ID, AgentID: agentID, Timestamp: now})
	return snapshot, nil
}

// Renew extends the lease from now with a decayed duration. Fails with
// ErrNotFound if no lease exists, ErrNotOwner if another agent holds it.
// Past the stuck threshold the lease is flagged in metadata for external
// alerting; renewal itself is never blocked.
func (r *Registry) Renew(task *models.Task, agentID string) (*AssignmentLease, error) {
	now := r.now()

	r.mu.Lock()
	l, ok := r.leases[task.ID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("renew task %s: %w", task.ID, ErrNotFound)
	}
	if l.AgentID != agentID {
		r.mu.Unlock()
		return nil, fmt.Errorf("renew task %s held by %s: %w", task.ID, l.AgentID, ErrNotOwner)
	}

	l.RenewalCount++
	hours, factors := computeDuration(r.cfg, string(task.Priority), task.Labels, l.RenewalCount)
	l.DurationHours = hours
	l.ExpiresAt = now.Add(hoursToDuration(hours))
	l.Metadata = factors.metadata()

	stuck := l.RenewalCount > r.cfg.StuckThreshold
	if stuck {
		l.Metadata["stuck"] = "true"
		l.Metadata["stuck_renewals"] = strconv.Itoa(l.RenewalCount)
	}
	snapshot := l.Clone()
	r.mu.Unlock()

	r.persist(snapshot)
	r.events.Emit(Event{Type: EventRenewed, TaskID: task.ID, AgentID: agentID, RenewalCount: snapshot.RenewalCount, Timestamp: now})
	if stuck {
		r.events.Emit(Event{Type: EventStuck, TaskID: task.ID, AgentID: agentID, RenewalCount: snapshot.RenewalCount, Timestamp: now})
	}
	return snapshot, nil
}

// Release destroys the lease immediately regardless of the expiry timer.
// Used on task completion or explicit cancellation. Releasing a task with
// no lease is a no-op.
func (r *Registry) Release(taskID, reason string) {
	now := r.now()

	r.mu.Lock()
	l, ok := r.leases[taskID]
	if !ok {
		r.mu.Unlock()
		return
	}
	agentID := l.AgentID
	delete(r.leases, taskID)
	r.mu.Unlock()

	r.unpersist(taskID)
	r.events.Emit(Event{Type: EventReleased, TaskID: taskID, AgentID: agentID, Reason: reason, Timestamp: now})
}

// Holder returns a copy of the current lease for a task, or nil.
func (r *Registry) Holder(taskID string) *AssignmentLease {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.leases[taskID]; ok {
		return l.Clone()
	}
	return nil
}

// ActivelyLeased returns true if a non-expired lease exists for the task.
// An expired lease still awaiting recovery does not block claims.
func (r *Registry) ActivelyLeased(taskID string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leases[taskID]
	return ok && !l.ExpiredAt(now)
}

// LeaseHealth classifies one lease for health reporting.
type LeaseHealth struct {
	Lease *AssignmentLease
	// Expiring is true inside the warning window before expiry.
	Expiring bool
	// Expired is the soft state past expiry, awaiting the grace period.
	Expired bool
	// Stuck mirrors the metadata flag.
	Stuck bool
}

// Health returns a classification of every active lease, sorted by task ID.
func (r *Registry) Health() []LeaseHealth {
	now := r.now()
	warning := hoursToDuration(r.cfg.WarningHours)

	r.mu.Lock()
	defer r.mu.Unlock()

	report := make([]LeaseHealth, 0, len(r.leases))
	for _, l := range r.leases {
		report = append(report, LeaseHealth{
			Lease:    l.Clone(),
			Expiring: now.After(l.ExpiresAt.Add(-warning)) && !l.ExpiredAt(now),
			Expired:  l.ExpiredAt(now),
			Stuck:    l.Metadata["stuck"] == "true",
		})
	}
	sort.Slice(report, func(i, j int) bool { return report[i].Lease.TaskID < report[j].Lease.TaskID })
	return report
}

// recoverable returns copies of leases past expiry plus grace. The monitor
// batch-reads these, then applies recovery per task, so the lock is never
// held across the whole sweep.
func (r *Registry) recoverable(now time.Time) []*AssignmentLease {
	deadline := r.cfg.GracePeriod

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*AssignmentLease
	for _, l := range r.leases {
		if now.After(l.ExpiresAt.Add(deadline)) {
			out = append(out, l.Clone())
		}
	}
	return out
}

// recover destroys a lease whose grace period has elapsed, returning the
// task to the claimable pool. Re-checks state under the lock since the
// owner may have renewed between the sweep's read and this call.
func (r *Registry) recover(taskID string, now time.Time) bool {
	r.mu.Lock()
	l, ok := r.leases[taskID]
	if !ok || !now.After(l.ExpiresAt.Add(r.cfg.GracePeriod)) {
		r.mu.Unlock()
		return false
	}
	agentID := l.AgentID
	delete(r.leases, taskID)
	r.mu.Unlock()

	r.unpersist(taskID)
	r.events.Emit(Event{Type: EventRecovered, TaskID: taskID, AgentID: agentID, Reason: "lease expired past grace period", Timestamp: now})
	return true
}

func (r *Registry) persist(l *AssignmentLease) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveLease(l); err != nil {
		debugLog("[lease] persist lease for task %s failed: %v", l.TaskID, err)
	}
}

func (r *Registry) unpersist(taskID string) {
	if r.store == nil {
		return
	}
	if err := r.store.DeleteLease(taskID); err != nil {
		debugLog("[lease] delete persisted lease for task %s failed: %v", taskID, err)
	}
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
