package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/internal/taskstore"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Config tunes the resolution pipeline.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity for a
	// candidate to survive Stage 1.
	SimilarityThreshold float64
	// MaxCandidates caps the candidate set sent to the reasoning service.
	MaxCandidates int
	// Workers bounds the number of concurrent reasoning-service calls.
	Workers int
}

// DefaultConfig returns the standard resolver tuning.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.6,
		MaxCandidates:       10,
		Workers:             4,
	}
}

// Record holds per-run statistics for one wiring pass. Ephemeral, never
// persisted. A caller seeing zero DependenciesCreated alongside nonzero
// skip counts can diagnose degraded-mode operation.
type Record struct {
	// SubtasksAnalyzed counts subtasks with a requires contract that
	// entered the pipeline.
	SubtasksAnalyzed int
	// DependenciesCreated counts validated edges appended to subtasks.
	DependenciesCreated int
	// ServiceCalls counts reasoning-service invocations.
	ServiceCalls int
	// CyclesRejected counts proposed edges dropped by the cycle check.
	CyclesRejected int
	// PhaseViolationsRejected counts edges dropped by phase ordering.
	PhaseViolationsRejected int
	// SameParentRejected counts edges dropped by the same-parent check.
	SameParentRejected int
	// SkippedNoRequires counts subtasks with no requires contract.
	SkippedNoRequires int
	// SkippedNoCandidates counts subtasks with no candidates above threshold.
	SkippedNoCandidates int
	// ServiceErrors counts subtasks skipped on a reasoning-service failure.
	ServiceErrors int
	// Rationale maps "subtask->dependency" to the service's free-text
	// justification, retained for audit.
	Rationale map[string]string
}

// Resolver wires cross-parent dependencies into a task store. It proposes
// edges from provides/requires contracts and accepts only those that pass
// cycle, same-parent, and phase-order checks.
type Resolver struct {
	reasoning ReasoningService
	embedder  EmbeddingService
	cfg       Config
}

// New creates a Resolver. embedder may be nil; Stage 1 filtering is then
// skipped and every other-parent candidate goes to the reasoning service.
func New(reasoning ReasoningService, embedder EmbeddingService, cfg Config) *Resolver {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Resolver{reasoning: reasoning, embedder: embedder, cfg: cfg}
}

// proposal is one subtask's confirmed candidate set, pending sanity checks.
type proposal struct {
	subtask   *models.Task
	confirmed []*models.Task
	rationale map[string]string
}

// WireDependencies runs the full pipeline over every subtask in the store
// that carries a requires contract, mutating the store by appending
// validated dependency IDs. Per-subtask failures are logged and counted,
// never propagated: partial dependency discovery is strictly better than
// none. Runs once per project; the caller guards against re-entry.
//
// Service calls run concurrently under a bounded worker pool, but edges are
// applied serially with an apply-time cycle recheck, because two proposals
// can jointly close a cycle even when neither does alone.
func (r *Resolver) WireDependencies(ctx context.Context, store *taskstore.Store) (*Record, error) {
	if r.reasoning == nil {
		return nil, fmt.Errorf("reasoning service is required")
	}

	subtasks := store.Subtasks()
	record := &Record{Rationale: make(map[string]string)}

	var (
		mu        sync.Mutex
		proposals []proposal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, subtask := range subtasks {
		if subtask.Requires == "" {
			mu.Lock()
			record.SkippedNoRequires++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			candidates := r.candidatesFor(subtask, subtasks)
			filtered := filterCandidates(gctx, r.embedder, subtask, candidates, r.cfg.SimilarityThreshold, r.cfg.MaxCandidates)

			mu.Lock()
			record.SubtasksAnalyzed++
			mu.Unlock()

			if len(filtered) == 0 {
				mu.Lock()
				record.SkippedNoCandidates++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			record.ServiceCalls++
			mu.Unlock()

			resolution, err := r.reasoning.Resolve(gctx, subtask, filtered)
			if err != nil {
				debugLog("[resolver] reasoning service failed for %s, skipping: %v", subtask.ID, err)
				mu.Lock()
				record.ServiceErrors++
				mu.Unlock()
				return nil
			}

			byID := make(map[string]*models.Task, len(filtered))
			for _, c := range filtered {
				byID[c.ID] = c
			}
			var confirmed []*models.Task
			for _, id := range resolution.ConfirmedIDs {
				if c, ok := byID[id]; ok {
					confirmed = append(confirmed, c)
				} else {
					debugLog("[resolver] service confirmed unknown candidate %s for %s, ignoring", id, subtask.ID)
				}
			}

			mu.Lock()
			proposals = append(proposals, proposal{subtask: subtask, confirmed: confirmed, rationale: resolution.Rationale})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Only context cancellation reaches here; per-subtask errors are
		// absorbed above.
		return record, err
	}

	for _, p := range proposals {
		r.apply(store, p, record)
	}

	debugLog("[resolver] wiring complete: %d analyzed, %d created, %d cycles rejected, %d phase violations",
		record.SubtasksAnalyzed, record.DependenciesCreated, record.CyclesRejected, record.PhaseViolationsRejected)
	return record, nil
}

// candidatesFor returns every other subtask with a provides contract under a
// different parent. Same-parent ordering is handled by intra-parent order
// and explicit dependencies, not by this pipeline.
func (r *Resolver) candidatesFor(subtask *models.Task, all []*models.Task) []*models.Task {
	var candidates []*models.Task
	for _, other := range all {
		if other.ID == subtask.ID || other.Provides == "" {
			continue
		}
		if other.ParentTaskID == subtask.ParentTaskID {
			continue
		}
		candidates = append(candidates, other)
	}
	return candidates
}

// apply runs Stage 3 sanity checks on each confirmed edge and appends the
// survivors to the store. The store's AddDependency re-runs cycle detection
// against the live graph at apply time.
func (r *Resolver) apply(store *taskstore.Store, p proposal, record *Record) {
	for _, candidate := range p.confirmed {
		// candidatesFor already excludes same-parent tasks; recheck since
		// confirmed IDs come back from an external service.
		if candidate.ParentTaskID == p.subtask.ParentTaskID {
			debugLog("[resolver] rejected same-parent edge %s -> %s", p.subtask.ID, candidate.ID)
			record.SameParentRejected++
			continue
		}

		if !phaseOrderValid(p.subtask, candidate) {
			debugLog("[resolver] rejected phase violation %s (%s) -> %s (%s)",
				p.subtask.ID, classifyPhase(p.subtask), candidate.ID, classifyPhase(candidate))
			record.PhaseViolationsRejected++
			continue
		}

		if err := store.AddDependency(p.subtask.ID, candidate.ID); err != nil {
			if errors.Is(err, graph.ErrCycleDetected) {
				debugLog("[resolver] rejected cycle-closing edge %s -> %s", p.subtask.ID, candidate.ID)
				record.CyclesRejected++
			} else {
				// Duplicate edge or similar; not a pipeline failure.
				debugLog("[resolver] edge %s -> %s not added: %v", p.subtask.ID, candidate.ID, err)
			}
			continue
		}

		record.DependenciesCreated++
		if p.rationale != nil {
			if why, ok := p.rationale[candidate.ID]; ok {
				record.Rationale[p.subtask.ID+"->"+candidate.ID] = why
			}
		}
	}
}
