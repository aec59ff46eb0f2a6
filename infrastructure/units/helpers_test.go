package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
)

// testConfig returns a two-criterion config used across the unit tests:
// correctness scored on 0-100 and style scored on 0-10, each carrying
// half of the overall weight.
func testConfig(t *testing.T) application.AggregationConfig {
	t.Helper()

	cfg := application.DefaultConfig()
	cfg.Rubric = application.RubricConfig{Criteria: []application.CriterionConfig{
		{ID: "correctness", Weight: 0.5, MaxScore: 100},
		{ID: "style", Weight: 0.5, MaxScore: 10},
	}}
	require.NoError(t, cfg.Validate())
	return cfg
}

// makeScore builds a valid staff review where every criterion carries
// the same normalized value as the overall score.
func makeScore(judgeID string, overall float64) domain.JudgeScore {
	return domain.JudgeScore{
		JudgeID:      judgeID,
		JudgeType:    domain.JudgeStaffReviewer,
		OverallScore: overall,
		CriterionScores: map[string]float64{
			"correctness": overall,
			"style":       overall / 10,
		},
		Quality:    0.8,
		Confidence: 0.7,
		Expertise:  0.6,
		Reputation: 0.5,
	}
}

// collectedState runs the collector and weighting stages over the given
// raw scores so later-stage tests start from realistic state.
func collectedState(t *testing.T, cfg application.AggregationConfig, raw []domain.JudgeScore) domain.State {
	t.Helper()

	state := domain.With(domain.NewState(), domain.KeyExecutionID, "exec-test")
	state = domain.With(state, domain.KeyRawScores, raw)

	collector, err := NewCollectorUnit("collector", cfg)
	require.NoError(t, err)
	state, err = collector.Execute(context.Background(), state)
	require.NoError(t, err)

	weighting, err := NewWeightingUnit("weighting", cfg.Weighting)
	require.NoError(t, err)
	state, err = weighting.Execute(context.Background(), state)
	require.NoError(t, err)

	return state
}

// aggregatedState additionally runs outlier detection and aggregation.
func aggregatedState(t *testing.T, cfg application.AggregationConfig, raw []domain.JudgeScore) domain.State {
	t.Helper()

	state := collectedState(t, cfg, raw)

	outliers, err := NewOutlierUnit("outliers", cfg)
	require.NoError(t, err)
	state, err = outliers.Execute(context.Background(), state)
	require.NoError(t, err)

	aggregator, err := NewAggregatorUnit("aggregator", cfg.Aggregation, cfg.Rubric)
	require.NoError(t, err)
	state, err = aggregator.Execute(context.Background(), state)
	require.NoError(t, err)

	return state
}
