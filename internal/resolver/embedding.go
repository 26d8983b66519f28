package resolver

import (
	"context"
	"math"
	"sort"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// scoredCandidate pairs a candidate with its similarity to the requires text.
type scoredCandidate struct {
	task  *models.Task
	score float64
}

// filterCandidates runs the Stage 1 pre-filter: encode the subtask's
// requires text and every candidate's provides text, keep candidates whose
// cosine similarity clears the threshold, sorted descending and capped.
// The cap only applies to similarity-ranked output. When no embedder is
// configured, or embedding fails, the full candidate set passes through
// unfiltered and uncapped; the pre-filter only saves reasoning-service
// cost, it never decides correctness.
func filterCandidates(ctx context.Context, embedder EmbeddingService, subtask *models.Task, candidates []*models.Task, threshold float64, maxCandidates int) []*models.Task {
	if embedder == nil {
		return candidates
	}

	reqVec, err := embedder.Embed(ctx, subtask.Requires)
	if err != nil {
		debugLog("[resolver] embed requires for %s failed, skipping pre-filter: %v", subtask.ID, err)
		return candidates
	}

	var scored []scoredCandidate
	for _, c := range candidates {
		provVec, err := embedder.Embed(ctx, c.Provides)
		if err != nil {
			debugLog("[resolver] embed provides for %s failed, dropping candidate: %v", c.ID, err)
			continue
		}
		if score := cosineSimilarity(reqVec, provVec); score >= threshold {
			scored = append(scored, scoredCandidate{task: c, score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].task.ID < scored[j].task.ID
	})

	filtered := make([]*models.Task, 0, len(scored))
	for _, sc := range scored {
		filtered = append(filtered, sc.task)
	}
	return capCandidates(filtered, maxCandidates)
}

func capCandidates(candidates []*models.Task, max int) []*models.Task {
	if max > 0 && len(candidates) > max {
		return candidates[:max]
	}
	return candidates
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for mismatched lengths or zero vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
