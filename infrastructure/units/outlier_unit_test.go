package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/domain"
)

func TestOutlierFlagsExactlyTheExtremeScore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outliers.Threshold = 2.0
	cfg.Outliers.Action = domain.OutlierExclude

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 68),
		makeScore("judge-4", 69),
		makeScore("judge-5", 71),
		makeScore("judge-6", 95),
	}

	state := collectedState(t, cfg, raw)
	unit, err := NewOutlierUnit("outliers", cfg)
	require.NoError(t, err)
	state, err = unit.Execute(context.Background(), state)
	require.NoError(t, err)

	outliers, ok := domain.Get(state, domain.KeyOutliers)
	require.True(t, ok)

	flagged := make(map[string]bool)
	for _, o := range outliers {
		flagged[o.JudgeID] = true
	}
	assert.Equal(t, map[string]bool{"judge-6": true}, flagged,
		"exactly the 95 score is flagged, once per criterion it appears in")

	effective, _ := domain.Get(state, domain.KeyEffectiveWeights)
	for _, criterion := range []string{"correctness", "style"} {
		assert.NotContains(t, effective[criterion], "judge-6")
		assert.Len(t, effective[criterion], 5)
	}
}

func TestOutlierDowngradeHalvesWeight(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outliers.Threshold = 2.0
	cfg.Outliers.Action = domain.OutlierDowngrade

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 68),
		makeScore("judge-4", 95),
	}

	state := collectedState(t, cfg, raw)
	weights, _ := domain.Get(state, domain.KeyWeights)

	unit, err := NewOutlierUnit("outliers", cfg)
	require.NoError(t, err)
	state, err = unit.Execute(context.Background(), state)
	require.NoError(t, err)

	effective, _ := domain.Get(state, domain.KeyEffectiveWeights)
	assert.InDelta(t, weights["judge-4"]/2, effective["correctness"]["judge-4"], 1e-9)
	assert.InDelta(t, weights["judge-1"], effective["correctness"]["judge-1"], 1e-9)

	outliers, _ := domain.Get(state, domain.KeyOutliers)
	require.NotEmpty(t, outliers)
	assert.False(t, outliers[0].Excluded)
}

func TestOutlierKeepDisablesDetection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outliers.Action = domain.OutlierKeep

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 95),
	}

	state := collectedState(t, cfg, raw)
	unit, err := NewOutlierUnit("outliers", cfg)
	require.NoError(t, err)
	state, err = unit.Execute(context.Background(), state)
	require.NoError(t, err)

	outliers, _ := domain.Get(state, domain.KeyOutliers)
	assert.Empty(t, outliers)

	effective, _ := domain.Get(state, domain.KeyEffectiveWeights)
	assert.Len(t, effective["correctness"], 3)
}

func TestOutlierZeroSpreadNeverFlags(t *testing.T) {
	cfg := testConfig(t)

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 70),
		makeScore("judge-3", 70),
	}

	state := collectedState(t, cfg, raw)
	unit, err := NewOutlierUnit("outliers", cfg)
	require.NoError(t, err)
	state, err = unit.Execute(context.Background(), state)
	require.NoError(t, err)

	outliers, _ := domain.Get(state, domain.KeyOutliers)
	assert.Empty(t, outliers)
}

func TestOutlierExclusionViolatingMinimumFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outliers.Threshold = 2.0
	cfg.Outliers.Action = domain.OutlierExclude
	cfg.Quality.MinimumJudgeCount = 3

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 70),
		makeScore("judge-3", 95),
	}

	state := collectedState(t, cfg, raw)
	unit, err := NewOutlierUnit("outliers", cfg)
	require.NoError(t, err)
	_, err = unit.Execute(context.Background(), state)

	var breach *domain.OutlierExclusionViolatesMinimumError
	require.ErrorAs(t, err, &breach)
	assert.Equal(t, 3, breach.Required)
	assert.Equal(t, 2, breach.Remaining)
	assert.Equal(t, []string{"judge-3"}, breach.Judges)
}
