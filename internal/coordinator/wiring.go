package coordinator

import (
	"context"
	"errors"

	"github.com/ShayCichocki/foreman/internal/resolver"
)

// ErrWiringStarted is returned when dependency wiring has already been
// started for this coordinator. Wiring runs at most once per project
// lifecycle.
var ErrWiringStarted = errors.New("dependency wiring already started")

// ErrWiringDone is returned when a previous wiring pass already completed
// for this project, possibly in an earlier process. Rerunning wiring
// against an already-wired graph is refused.
var ErrWiringDone = errors.New("dependency wiring already completed for this project")

// ErrNoResolver is returned when wiring is requested but no resolver was
// configured.
var ErrNoResolver = errors.New("no dependency resolver configured")

// WiringHandle tracks a one-shot background dependency-wiring pass.
// Callers poll completion via Done rather than blocking on the full run,
// which is dominated by reasoning-service calls and can take minutes on a
// large graph.
type WiringHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	record *resolver.Record
	err    error
}

// Done returns a channel closed when the wiring pass finishes, whether it
// completed, failed, or was cancelled.
func (h *WiringHandle) Done() <-chan struct{} {
	return h.done
}

// Finished reports whether the wiring pass has completed without blocking.
func (h *WiringHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the resolution record and error. It blocks until the
// pass finishes.
func (h *WiringHandle) Result() (*resolver.Record, error) {
	<-h.done
	return h.record, h.err
}

// Cancel requests a cooperative stop. In-flight per-subtask analysis is
// abandoned; edges already applied to the graph remain.
func (h *WiringHandle) Cancel() {
	h.cancel()
}

// StartWiring launches the cross-group dependency wiring pass in the
// background. It may be started at most once; subsequent calls return
// ErrWiringStarted with the original handle so callers can still poll it.
func (c *Coordinator) StartWiring(ctx context.Context) (*WiringHandle, error) {
	if c.resolver == nil {
		return nil, ErrNoResolver
	}

	c.wiringMu.Lock()
	defer c.wiringMu.Unlock()

	if c.wiring != nil {
		return c.wiring, ErrWiringStarted
	}
	if c.wiringState != nil {
		done, err := c.wiringState.WiringComplete()
		if err != nil {
			return nil, err
		}
		if done {
			return nil, ErrWiringDone
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &WiringHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.wiring = handle

	go func() {
		defer close(handle.done)
		defer cancel()

		debugLog("[coordinator] dependency wiring started")
		record, err := c.resolver.WireDependencies(runCtx, c.store)
		handle.record = record
		handle.err = err
		if err != nil {
			debugLog("[coordinator] dependency wiring failed: %v", err)
			return
		}
		debugLog("[coordinator] dependency wiring finished: %d created, %d calls",
			record.DependenciesCreated, record.ServiceCalls)
		c.saveTasks()
		if c.wiringState != nil {
			if err := c.wiringState.MarkWiringComplete(); err != nil {
				debugLog("[coordinator] recording wiring completion failed: %v", err)
			}
		}
	}()

	return handle, nil
}
