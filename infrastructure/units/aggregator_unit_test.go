package units

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
)

func TestAggregatorWeightedAverageWithOutlierExcluded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outliers.Threshold = 2.0
	cfg.Outliers.Action = domain.OutlierExclude

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 68),
		makeScore("judge-4", 95),
		makeScore("judge-5", 71),
	}

	state := aggregatedState(t, cfg, raw)

	criteria, ok := domain.Get(state, domain.KeyCriterionScores)
	require.True(t, ok)
	require.Len(t, criteria, 2)

	for _, cs := range criteria {
		assert.InDelta(t, 70.25, cs.AggregatedScore, 1e-9,
			"criterion %s averages the four retained scores", cs.CriterionID)
		assert.Equal(t, 4, cs.Distribution.Count)
		assert.Len(t, cs.Contributions, 4)
		require.Len(t, cs.Outliers, 1)
		assert.Equal(t, "judge-4", cs.Outliers[0].JudgeID)
	}

	overall, ok := domain.Get(state, domain.KeyOverallScore)
	require.True(t, ok)
	assert.InDelta(t, 70.25, overall, 1e-9)
}

func TestAggregatorMedianRobustness(t *testing.T) {
	cfg := testConfig(t)
	cfg.Aggregation.Method = application.AggregateMedian
	cfg.Outliers.Action = domain.OutlierKeep

	base := []domain.JudgeScore{
		makeScore("judge-1", 60),
		makeScore("judge-2", 70),
		makeScore("judge-3", 80),
	}
	distant := append(append([]domain.JudgeScore{}, base...), makeScore("judge-4", 100))

	baseOverall, _ := domain.Get(aggregatedState(t, cfg, base), domain.KeyOverallScore)
	distantOverall, _ := domain.Get(aggregatedState(t, cfg, distant), domain.KeyOverallScore)

	// Adding an arbitrarily distant score moves the median only to the
	// midpoint of the two central values.
	assert.Equal(t, 70.0, baseOverall)
	assert.Equal(t, 75.0, distantOverall)
}

func TestAggregatorBayesianShrinkage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Aggregation.Method = application.AggregateBayesian
	cfg.Aggregation.Shrinkage = 0.5
	cfg.Aggregation.ReferenceMean = 50

	raw := []domain.JudgeScore{
		makeScore("judge-1", 80),
		makeScore("judge-2", 80),
		makeScore("judge-3", 80),
	}

	overall, _ := domain.Get(aggregatedState(t, cfg, raw), domain.KeyOverallScore)
	assert.InDelta(t, 65.0, overall, 1e-9, "80 shrunk halfway toward 50")
}

func TestAggregatorBayesianZeroShrinkageEqualsWeightedAverage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Aggregation.Method = application.AggregateBayesian
	cfg.Aggregation.Shrinkage = 0

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 68),
	}

	overall, _ := domain.Get(aggregatedState(t, cfg, raw), domain.KeyOverallScore)
	assert.InDelta(t, 70.0, overall, 1e-9)
}

func TestAggregatorMonotonicityTowardRemainingMean(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outliers.Action = domain.OutlierKeep
	cfg.Weighting.Method = application.WeightingEqual

	full := []domain.JudgeScore{
		makeScore("judge-1", 60),
		makeScore("judge-2", 70),
		makeScore("judge-3", 80),
		makeScore("judge-4", 90),
	}
	fullOverall, _ := domain.Get(aggregatedState(t, cfg, full), domain.KeyOverallScore)

	reduced := full[:3]
	reducedOverall, _ := domain.Get(aggregatedState(t, cfg, reduced), domain.KeyOverallScore)

	remainingMean := 70.0
	assert.Less(t, math.Abs(reducedOverall-remainingMean), math.Abs(fullOverall-remainingMean),
		"removing the high judge moves the aggregate toward the remaining mean")
}

func TestAggregatorContributionsNormalized(t *testing.T) {
	cfg := testConfig(t)

	raw := []domain.JudgeScore{
		makeScore("judge-1", 70),
		makeScore("judge-2", 72),
		makeScore("judge-3", 68),
	}
	state := aggregatedState(t, cfg, raw)

	criteria, _ := domain.Get(state, domain.KeyCriterionScores)
	for _, cs := range criteria {
		sum := 0.0
		for _, c := range cs.Contributions {
			sum += c.NormalizedWeight
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestAggregatorErrorsOnCriterionWithNoScores(t *testing.T) {
	cfg := testConfig(t)

	// Judges score correctness only; style has no contributors.
	raw := make([]domain.JudgeScore, 3)
	for i, id := range []string{"judge-1", "judge-2", "judge-3"} {
		s := makeScore(id, 70)
		s.CriterionScores = map[string]float64{"correctness": 70}
		raw[i] = s
	}

	state := collectedState(t, cfg, raw)
	outliers, err := NewOutlierUnit("outliers", cfg)
	require.NoError(t, err)
	state, err = outliers.Execute(context.Background(), state)
	require.NoError(t, err)

	aggregator, err := NewAggregatorUnit("aggregator", cfg.Aggregation, cfg.Rubric)
	require.NoError(t, err)
	_, err = aggregator.Execute(context.Background(), state)

	assert.ErrorIs(t, err, domain.ErrNoScores)
	assert.Contains(t, err.Error(), "style")
}
