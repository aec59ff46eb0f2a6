package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

func makeResult(executionID string, version int, status domain.Status) *domain.AggregatedScore {
	return &domain.AggregatedScore{
		ID:           "result-" + executionID,
		ExecutionID:  executionID,
		Version:      version,
		OverallScore: 70.25,
		Criteria: []domain.AggregatedCriterionScore{
			{CriterionID: "correctness", AggregatedScore: 70.25, Weight: 1.0},
		},
		JudgeCount: 4,
		Status:     status,
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// testStoreConformance exercises the AggregationStore contract shared by
// every implementation.
func testStoreConformance(t *testing.T, s ports.AggregationStore) {
	t.Helper()
	ctx := context.Background()

	next, err := s.NextVersion(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	_, err = s.Latest(ctx, "exec-1")
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
	_, err = s.History(ctx, "exec-1")
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
	_, err = s.Get(ctx, "exec-1", 1)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)

	// Versions are strictly monotonic starting at 1.
	require.NoError(t, s.Put(ctx, makeResult("exec-1", 1, domain.StatusValidated)))
	assert.ErrorIs(t, s.Put(ctx, makeResult("exec-1", 1, domain.StatusValidated)), domain.ErrVersionConflict)
	assert.ErrorIs(t, s.Put(ctx, makeResult("exec-1", 3, domain.StatusValidated)), domain.ErrVersionConflict)

	got, err := s.Get(ctx, "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.InDelta(t, 70.25, got.OverallScore, 1e-9)
	require.Len(t, got.Criteria, 1)
	assert.Equal(t, "correctness", got.Criteria[0].CriterionID)
	assert.True(t, got.CreatedAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	require.NoError(t, s.Put(ctx, makeResult("exec-1", 2, domain.StatusFlagged)))

	latest, err := s.Latest(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	history, err := s.History(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)

	// Supersede flips only the status, idempotently.
	require.NoError(t, s.MarkSuperseded(ctx, "exec-1", 1))
	require.NoError(t, s.MarkSuperseded(ctx, "exec-1", 1))

	superseded, err := s.Get(ctx, "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuperseded, superseded.Status)
	assert.InDelta(t, 70.25, superseded.OverallScore, 1e-9)

	unchanged, err := s.Get(ctx, "exec-1", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFlagged, unchanged.Status)

	assert.ErrorIs(t, s.MarkSuperseded(ctx, "exec-1", 9), domain.ErrVersionNotFound)

	// A result still mid-lifecycle cannot be superseded.
	require.NoError(t, s.Put(ctx, makeResult("exec-2", 1, domain.StatusDraft)))
	assert.Error(t, s.MarkSuperseded(ctx, "exec-2", 1))

	// Executions are isolated.
	next, err = s.NextVersion(ctx, "exec-3")
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestMemoryStoreConformance(t *testing.T) {
	testStoreConformance(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesStoredResults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	result := makeResult("exec-1", 1, domain.StatusValidated)
	require.NoError(t, s.Put(ctx, result))

	// Mutating the caller's copy never reaches the store.
	result.OverallScore = 0
	result.Criteria[0].AggregatedScore = 0

	got, err := s.Get(ctx, "exec-1", 1)
	require.NoError(t, err)
	assert.InDelta(t, 70.25, got.OverallScore, 1e-9)
	assert.InDelta(t, 70.25, got.Criteria[0].AggregatedScore, 1e-9)
}

func TestMemoryScoreBankSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	bank := NewMemoryScoreBank()

	require.NoError(t, bank.Append(ctx, "exec-1", domain.JudgeScore{JudgeID: "judge-1"}))
	require.NoError(t, bank.Append(ctx, "exec-1", domain.JudgeScore{JudgeID: "judge-2"}))

	snapshot, err := bank.Snapshot(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	// Later appends never leak into an existing snapshot.
	require.NoError(t, bank.Append(ctx, "exec-1", domain.JudgeScore{JudgeID: "judge-3"}))
	assert.Len(t, snapshot, 2)
	assert.Equal(t, 3, bank.Count("exec-1"))

	empty, err := bank.Snapshot(ctx, "exec-other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
