package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
)

func runConfidence(t *testing.T, cfg application.AggregationConfig, raw []domain.JudgeScore) *domain.ConfidenceReport {
	t.Helper()

	state := aggregatedState(t, cfg, raw)

	consensus, err := NewConsensusUnit("consensus", cfg.Consensus, cfg.Outliers.Threshold)
	require.NoError(t, err)
	state, err = consensus.Execute(context.Background(), state)
	require.NoError(t, err)

	unit, err := NewConfidenceUnit("confidence", cfg.Confidence, cfg.Aggregation, cfg.Rubric)
	require.NoError(t, err)
	state, err = unit.Execute(context.Background(), state)
	require.NoError(t, err)

	report, ok := domain.Get(state, domain.KeyConfidence)
	require.True(t, ok)
	return report
}

func TestConfidenceFactors(t *testing.T) {
	cfg := testConfig(t)

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 68),
		makeScore("judge-4", 71),
	}
	report := runConfidence(t, cfg, raw)

	assert.InDelta(t, 4.0/7.0, report.Factors[domain.FactorJudgeCount], 1e-9)
	assert.InDelta(t, 0.8, report.Factors[domain.FactorJudgeQuality], 1e-9)
	// Variance 2.1875 against the 625 ceiling.
	assert.InDelta(t, 0.9965, report.Factors[domain.FactorScoreVariance], 1e-9)
	assert.InDelta(t, 5.87/6.0, report.Factors[domain.FactorConsensus], 1e-9)
	assert.InDelta(t, 0.6, report.Factors[domain.FactorExpertise], 1e-9)
	assert.InDelta(t, 0.5, report.Factors[domain.FactorHistoricalAccuracy], 1e-9)

	assert.InDelta(t, 0.78282, report.Overall, 1e-4)

	assert.Contains(t, report.PerCriterion, "correctness")
	assert.Contains(t, report.PerCriterion, "style")
	assert.Contains(t, report.PerJudgeType, domain.JudgeStaffReviewer)
}

func TestConfidenceMonotonicityAddingAgreeingJudge(t *testing.T) {
	cfg := testConfig(t)

	base := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 70),
		makeScore("judge-3", 70),
	}
	more := append(append([]domain.JudgeScore{}, base...), makeScore("judge-4", 70))

	baseOverall := runConfidence(t, cfg, base).Overall
	moreOverall := runConfidence(t, cfg, more).Overall

	assert.Greater(t, moreOverall, baseOverall,
		"an agreeing judge raises the count factor and changes nothing else")
}

func TestConfidenceIntervals(t *testing.T) {
	cfg := testConfig(t)

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 68),
		makeScore("judge-4", 71),
	}
	report := runConfidence(t, cfg, raw)

	// 70.25 +/- 1.96 * 1.479 / 2 at the default 95% level.
	assert.InDelta(t, 68.8006, report.OverallInterval.Lower, 1e-3)
	assert.InDelta(t, 71.6994, report.OverallInterval.Upper, 1e-3)
	assert.Equal(t, 0.95, report.OverallInterval.Level)

	for _, id := range []string{"correctness", "style"} {
		interval, ok := report.CriterionIntervals[id]
		require.True(t, ok, "criterion %s", id)
		assert.InDelta(t, 68.8006, interval.Lower, 1e-3)
		assert.InDelta(t, 71.6994, interval.Upper, 1e-3)
	}
}

func TestConfidenceIntervalDegenerateCases(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quality.MinimumJudgeCount = 1

	// A single judge carries no spread information.
	single := runConfidence(t, cfg, []domain.JudgeScore{makeScore("judge-1", 70)})
	assert.Equal(t, 70.0, single.OverallInterval.Lower)
	assert.Equal(t, 70.0, single.OverallInterval.Upper)

	// Wide spread near the scale edge clamps to 0.
	cfg.Outliers.Action = domain.OutlierKeep
	wide := runConfidence(t, cfg, []domain.JudgeScore{
		makeScore("judge-1", 0),
		makeScore("judge-2", 0),
		makeScore("judge-3", 100),
	})
	assert.Equal(t, 0.0, wide.OverallInterval.Lower)
	assert.Less(t, wide.OverallInterval.Upper, 100.0)
}

func TestConfidenceStability(t *testing.T) {
	cfg := testConfig(t)

	identical := runConfidence(t, cfg, []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 70),
		makeScore("judge-3", 70),
	})
	assert.Equal(t, 0.0, identical.Stability)

	spread := runConfidence(t, cfg, []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 68),
		makeScore("judge-4", 71),
	})
	// Removing the 68 moves the baseline 70.25 to 71, the worst swing.
	assert.InDelta(t, 0.75/70.25*100, spread.Stability, 1e-6)
}

func TestConfidenceCombineIsReproducible(t *testing.T) {
	cfg := testConfig(t)
	cfg.Confidence.FactorWeights = map[string]float64{
		domain.FactorJudgeQuality: 1.0 / 3,
		domain.FactorConsensus:    1.0 / 3,
		domain.FactorExpertise:    1.0 / 3,
	}

	unit, err := NewConfidenceUnit("confidence", cfg.Confidence, cfg.Aggregation, cfg.Rubric)
	require.NoError(t, err)

	// These summands expose float addition order: folding them in a
	// different order produces a different bit pattern.
	factors := map[string]float64{
		domain.FactorJudgeQuality: 0.1,
		domain.FactorConsensus:    0.2,
		domain.FactorExpertise:    0.3,
	}

	first := unit.combine(factors)
	for i := 0; i < 5000; i++ {
		require.Equal(t, first, unit.combine(factors),
			"identical factors must combine to the identical bit pattern")
	}
}
