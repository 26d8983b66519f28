package lease

import (
	"strconv"
	"time"
)

// Config tunes lease durations and recovery behavior.
type Config struct {
	// BaseHours is the starting lease duration before multipliers.
	BaseHours float64
	// MinHours and MaxHours clamp the computed duration.
	MinHours float64
	MaxHours float64
	// DecayFactor shrinks each renewal grant so chronically-stuck tasks
	// surface faster. Applied as DecayFactor^renewal_count.
	DecayFactor float64
	// WarningHours is how long before expiry a lease is flagged as
	// expiring in health reports.
	WarningHours float64
	// GracePeriod is the buffer after expiry before ownership is
	// forcibly reclaimed. Agents may have brief connectivity gaps;
	// recovering too eagerly causes thrashing.
	GracePeriod time.Duration
	// MonitorInterval is how often the background monitor sweeps.
	MonitorInterval time.Duration
	// StuckThreshold is the renewal count past which a lease is flagged
	// stuck for external alerting. Observational only.
	StuckThreshold int
}

// DefaultConfig returns the standard lease tuning.
func DefaultConfig() Config {
	return Config{
		BaseHours:       2.0,
		MinHours:        1.0,
		MaxHours:        24.0,
		DecayFactor:     0.9,
		WarningHours:    0.5,
		GracePeriod:     30 * time.Minute,
		MonitorInterval: 60 * time.Second,
		StuckThreshold:  5,
	}
}

// priorityMultipliers shorten leases for urgent work so failures escalate
// faster, and lengthen them for low-priority work.
var priorityMultipliers = map[string]float64{
	"urgent": 0.5,
	"high":   0.75,
	"medium": 1.0,
	"low":    1.5,
}

// complexityMultipliers grant harder work more time before it is considered
// stalled. When a task carries several complexity labels the largest wins.
var complexityMultipliers = map[string]float64{
	"simple":   0.5,
	"complex":  1.5,
	"research": 2.0,
	"epic":     3.0,
}

// DurationFactors captures the inputs that produced a lease duration.
// Retained in lease metadata for audit.
type DurationFactors struct {
	PriorityMultiplier   float64
	ComplexityMultiplier float64
	DecayMultiplier      float64
	RenewalCount         int
}

// metadata renders the factors as lease metadata.
func (f DurationFactors) metadata() map[string]string {
	return map[string]string{
		"priority_multiplier":   strconv.FormatFloat(f.PriorityMultiplier, 'f', -1, 64),
		"complexity_multiplier": strconv.FormatFloat(f.ComplexityMultiplier, 'f', -1, 64),
		"decay_multiplier":      strconv.FormatFloat(f.DecayMultiplier, 'f', -1, 64),
		"renewal_count":         strconv.Itoa(f.RenewalCount),
	}
}

// computeDuration returns the adaptive lease duration in hours:
//
//	clamp(base * priority * complexity * decay^renewals, min, max)
func computeDuration(cfg Config, priority string, labels []string, renewalCount int) (float64, DurationFactors) {
	pm, ok := priorityMultipliers[priority]
	if !ok {
		pm = 1.0
	}

	cm := 1.0
	matched := false
	for _, label := range labels {
		if m, ok := complexityMultipliers[label]; ok {
			if !matched || m > cm {
				cm = m
			}
			matched = true
		}
	}

	decay := 1.0
	for i := 0; i < renewalCount; i++ {
		decay *= cfg.DecayFactor
	}

	hours := cfg.BaseHours * pm * cm * decay
	if hours < cfg.MinHours {
		hours = cfg.MinHours
	}
	if hours > cfg.MaxHours {
		hours = cfg.MaxHours
	}

	return hours, DurationFactors{
		PriorityMultiplier:   pm,
		ComplexityMultiplier: cm,
		DecayMultiplier:      decay,
		RenewalCount:         renewalCount,
	}
}
