package lease

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the kind of lease lifecycle event.
type EventType string

const (
	// EventClaimed indicates a task was claimed by an agent.
	EventClaimed EventType = "lease_claimed"
	// EventRenewed indicates the owner reported progress and extended the lease.
	EventRenewed EventType = "lease_renewed"
	// EventReleased indicates the lease was destroyed on completion or cancellation.
	EventReleased EventType = "lease_released"
	// EventExpiring indicates a lease is inside its warning window. Soft, for health reporting.
	EventExpiring EventType = "lease_expiring"
	// EventRecovered indicates ownership was reclaimed past expiry plus grace.
	EventRecovered EventType = "lease_recovered"
	// EventStuck indicates a lease crossed the stuck-renewal threshold. Observational only.
	EventStuck EventType = "lease_stuck"
)

// Event is emitted on lease state transitions.
type Event struct {
	Type         EventType
	TaskID       string
	AgentID      string
	Reason       string
	RenewalCount int
	Timestamp    time.Time
}

// Emitter delivers lease events on a buffered channel. Events are dropped
// rather than blocking lease operations when no consumer keeps up; the drop
// count is exposed for diagnostics.
type Emitter struct {
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// NewEmitter creates an emitter with a buffer sized for bursty sweeps.
func NewEmitter() *Emitter {
	return &Emitter{ch: make(chan Event, 100)}
}

// Emit delivers the event or drops it if the buffer is full.
func (e *Emitter) Emit(ev Event) {
	select {
	case e.ch <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Events returns the receive side of the event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// DroppedCount returns the number of events dropped so far.
func (e *Emitter) DroppedCount() uint64 {
	return e.dropped.Load()
}

// Close closes the event channel. Safe to call more than once.
func (e *Emitter) Close() {
	e.once.Do(func() { close(e.ch) })
}

// pkgLogger is the package-level debug logger used by lease components.
var pkgLogger func(format string, args ...interface{})
var pkgLoggerMu sync.RWMutex

// SetDebugLog sets the package-level debug logging function.
func SetDebugLog(fn func(format string, args ...interface{})) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = fn
}

// debugLog writes a message using the package-level logger, if configured.
func debugLog(format string, args ...interface{}) {
	pkgLoggerMu.RLock()
	fn := pkgLogger
	pkgLoggerMu.RUnlock()
	if fn != nil {
		fn(format, args...)
	}
}
