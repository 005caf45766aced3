// Package index holds an in-process cosine-similarity index over the
// knowledge base. The index is refreshed as a whole from storage and queried
// lock-free via an atomic snapshot, so a decision in flight never observes a
// half-applied refresh.
package index

import (
	"context"
	"math"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"mentorbot/internal/repository"
)

// Candidate is one ranked similarity result.
type Candidate struct {
	EntryID int64
	Score   float64
}

type entry struct {
	id  int64
	vec []float64
}

type snapshot struct {
	entries []entry
}

// Index answers top-k nearest-entry queries against the latest snapshot.
type Index struct {
	knowledge repository.KnowledgeRepository
	snap      atomic.Pointer[snapshot]
	logger    *zap.Logger
}

func New(knowledge repository.KnowledgeRepository, logger *zap.Logger) *Index {
	ix := &Index{knowledge: knowledge, logger: logger}
	ix.snap.Store(&snapshot{})
	return ix
}

// Refresh reloads all knowledge entries with embeddings and swaps the
// snapshot atomically.
func (ix *Index) Refresh(ctx context.Context) error {
	all, err := ix.knowledge.All(ctx)
	if err != nil {
		return err
	}

	entries := make([]entry, 0, len(all))
	for _, e := range all {
		if len(e.Embedding) == 0 {
			continue
		}
		entries = append(entries, entry{id: e.ID, vec: e.Embedding})
	}

	ix.snap.Store(&snapshot{entries: entries})
	ix.logger.Info("Similarity index refreshed", zap.Int("entries", len(entries)))
	return nil
}

// Size returns the number of indexed entries.
func (ix *Index) Size() int {
	return len(ix.snap.Load().entries)
}

// Search returns the k entries nearest to the query vector, best first.
// Entries whose stored vector length differs from the query are skipped.
func (ix *Index) Search(ctx context.Context, vec []float64, k int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := ix.snap.Load()
	candidates := make([]Candidate, 0, len(snap.entries))
	for _, e := range snap.entries {
		if len(e.vec) != len(vec) {
			ix.logger.Warn("Skipping entry with mismatched embedding length",
				zap.Int64("entry_id", e.id),
				zap.Int("stored", len(e.vec)),
				zap.Int("query", len(vec)))
			continue
		}
		candidates = append(candidates, Candidate{EntryID: e.id, Score: cosine(e.vec, vec)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// cosine computes (A · B) / (||A|| * ||B||). Zero vectors score 0.
func cosine(a, b []float64) float64 {
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
