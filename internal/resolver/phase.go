package resolver

import (
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Phase is the ordinal project phase a task belongs to. Work may depend on
// earlier or equal-phase work, never later-phase work.
type Phase int

const (
	PhaseDesign Phase = iota
	PhaseImplement
	PhaseTest
	PhaseIntegration
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDesign:
		return "design"
	case PhaseImplement:
		return "implement"
	case PhaseTest:
		return "test"
	case PhaseIntegration:
		return "integration"
	default:
		return "unknown"
	}
}

// phaseKeywords maps phases to the label/name fragments that indicate them.
// Checked later-phase first so "integration test" classifies as integration.
var phaseKeywords = []struct {
	phase    Phase
	keywords []string
}{
	{PhaseIntegration, []string{"integration", "integrate", "deploy", "release", "e2e", "end-to-end"}},
	{PhaseTest, []string{"test", "verify", "validation", "qa"}},
	{PhaseDesign, []string{"design", "architecture", "schema", "spec", "research", "plan"}},
	{PhaseImplement, []string{"implement", "build", "create", "add", "develop", "code", "write"}},
}

// classifyPhase determines a task's phase from its labels, then its name.
// Tasks matching nothing default to implement, the broadest bucket.
func classifyPhase(task *models.Task) Phase {
	for _, pk := range phaseKeywords {
		for _, kw := range pk.keywords {
			for _, label := range task.Labels {
				if strings.Contains(strings.ToLower(label), kw) {
					return pk.phase
				}
			}
		}
	}

	name := strings.ToLower(task.Name)
	for _, pk := range phaseKeywords {
		for _, kw := range pk.keywords {
			if strings.Contains(name, kw) {
				return pk.phase
			}
		}
	}
	return PhaseImplement
}

// phaseOrderValid reports whether an edge subtask->candidate respects phase
// ordering: the depending task's phase must not precede the candidate's
// (implement may depend on design; design may never depend on implement).
func phaseOrderValid(subtask, candidate *models.Task) bool {
	return classifyPhase(subtask) >= classifyPhase(candidate)
}
