package lease

import (
	"context"
	"time"
)

// Monitor periodically sweeps the registry, emitting soft expiry warnings
// and recovering leases whose grace period has elapsed. Recovery is the
// designed mechanism for agent failure, not a fault condition.
type Monitor struct {
	registry *Registry
	interval time.Duration
}

// NewMonitor creates a monitor for the given registry using the registry's
// configured sweep interval.
func NewMonitor(registry *Registry) *Monitor {
	interval := registry.cfg.MonitorInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{registry: registry, interval: interval}
}

// Run sweeps until the context is cancelled. It stops cleanly between
// sweeps; a sweep in progress finishes its current transition but never
// blocks shutdown on external calls.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	debugLog("[monitor] started, interval=%s", m.interval)
	for {
		select {
		case <-ctx.Done():
			debugLog("[monitor] stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one pass: warn on leases near or past expiry, then recover
// those past expiry plus grace. The recoverable set is batch-read first so
// the registry lock is not held across the sweep.
func (m *Monitor) Sweep() {
	now := m.registry.now()

	for _, h := range m.registry.Health() {
		if h.Expiring || h.Expired {
			m.registry.events.Emit(Event{
				Type:         EventExpiring,
				TaskID:       h.Lease.TaskID,
				AgentID:      h.Lease.AgentID,
				RenewalCount: h.Lease.RenewalCount,
				Timestamp:    now,
			})
		}
	}

	for _, l := range m.registry.recoverable(now) {
		if m.registry.recover(l.TaskID, now) {
			debugLog("[monitor] recovered task %s from agent %s (expired %s, renewals=%d)",
				l.TaskID, l.AgentID, l.ExpiresAt.Format(time.RFC3339), l.RenewalCount)
		}
	}
}
