package store

import (
	"context"
	"sync"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var (
	_ ports.ScoreSource   = (*MemoryScoreBank)(nil)
	_ ports.ScoreIngestor = (*MemoryScoreBank)(nil)
)

// MemoryScoreBank is an append-only in-memory holding area for submitted
// judge scores, keyed by execution. It decouples ingestion from
// computation: appends may race freely with an in-flight aggregation,
// which only ever sees the point-in-time snapshot it took at start.
type MemoryScoreBank struct {
	mu     sync.RWMutex
	scores map[string][]domain.JudgeScore
}

// NewMemoryScoreBank creates an empty score bank.
func NewMemoryScoreBank() *MemoryScoreBank {
	return &MemoryScoreBank{scores: make(map[string][]domain.JudgeScore)}
}

// Append records a judge score for the execution. Records are stored as
// submitted; validation and filtering belong to the collection stage.
func (b *MemoryScoreBank) Append(_ context.Context, executionID string, score domain.JudgeScore) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scores[executionID] = append(b.scores[executionID], score)
	return nil
}

// Snapshot returns a copy of the scores visible at call time. Later
// appends never affect the returned slice.
func (b *MemoryScoreBank) Snapshot(_ context.Context, executionID string) ([]domain.JudgeScore, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	current := b.scores[executionID]
	snapshot := make([]domain.JudgeScore, len(current))
	copy(snapshot, current)
	return snapshot, nil
}

// Count returns how many scores have been submitted for the execution.
func (b *MemoryScoreBank) Count(executionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.scores[executionID])
}
