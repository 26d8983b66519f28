// Package resolver discovers cross-parent dependencies between subtasks by
// matching "requires" contracts against "provides" contracts through a
// hybrid embedding/reasoning pipeline with safety checks.
package resolver

import (
	"context"
	"sync"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Resolution is the reasoning service's verdict for one subtask.
type Resolution struct {
	// ConfirmedIDs is the subset of candidate IDs whose output the
	// subtask truly needs.
	ConfirmedIDs []string
	// Rationale is free text per confirmed ID, retained for audit but
	// never parsed.
	Rationale map[string]string
}

// ReasoningService validates proposed dependencies on meaning, not surface
// text. Implementations may be slow or fail; callers tolerate both.
type ReasoningService interface {
	// Resolve returns which candidates the subtask genuinely depends on.
	Resolve(ctx context.Context, subtask *models.Task, candidates []*models.Task) (*Resolution, error)
}

// EmbeddingService encodes text for local similarity comparison. Optional:
// its absence skips candidate pre-filtering, trading cost for identical
// correctness.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// pkgLogger is the package-level debug logger used by resolver components.
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
