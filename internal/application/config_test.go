package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/domain"
)

func twoCriterionConfig(t *testing.T) AggregationConfig {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Rubric = RubricConfig{Criteria: []CriterionConfig{
		{ID: "correctness", Weight: 0.6, MaxScore: 100},
		{ID: "style", Weight: 0.4, MaxScore: 10},
	}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestParseConfigOverlaysDefaults(t *testing.T) {
	data := []byte(`
weighting:
  method: equal
outliers:
  threshold: 3.0
  action: downgrade
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, WeightingEqual, cfg.Weighting.Method)
	assert.Equal(t, 3.0, cfg.Outliers.Threshold)
	assert.Equal(t, domain.OutlierDowngrade, cfg.Outliers.Action)

	// Untouched sections keep their defaults.
	assert.Equal(t, AggregateWeightedAverage, cfg.Aggregation.Method)
	assert.Equal(t, ConsensusPairwise, cfg.Consensus.Method)
	assert.Equal(t, 3, cfg.Quality.MinimumJudgeCount)
}

func TestParseConfigRejectsMalformedYAML(t *testing.T) {
	_, err := ParseConfig([]byte("weighting: [not a mapping"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestConfigValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *AggregationConfig)
	}{
		{
			name: "rubric weights must sum to one",
			mutate: func(cfg *AggregationConfig) {
				cfg.Rubric.Criteria = []CriterionConfig{
					{ID: "a", Weight: 0.5, MaxScore: 100},
					{ID: "b", Weight: 0.3, MaxScore: 100},
				}
			},
		},
		{
			name: "duplicate rubric criterion",
			mutate: func(cfg *AggregationConfig) {
				cfg.Rubric.Criteria = []CriterionConfig{
					{ID: "a", Weight: 0.5, MaxScore: 100},
					{ID: "a", Weight: 0.5, MaxScore: 100},
				}
			},
		},
		{
			name: "unknown judge type",
			mutate: func(cfg *AggregationConfig) {
				cfg.Judges["galactic_overlord"] = JudgePolicy{Enabled: true}
			},
		},
		{
			name: "maximum count below minimum count",
			mutate: func(cfg *AggregationConfig) {
				cfg.Judges[domain.JudgeStaffReviewer] = JudgePolicy{
					Enabled: true, MinimumCount: 3, MaximumCount: 2,
				}
			},
		},
		{
			name: "no judge types enabled",
			mutate: func(cfg *AggregationConfig) {
				for jt := range cfg.Judges {
					cfg.Judges[jt] = JudgePolicy{Enabled: false}
				}
			},
		},
		{
			name: "hybrid sub-weights must sum to one",
			mutate: func(cfg *AggregationConfig) {
				cfg.Weighting.Method = WeightingHybrid
				cfg.Weighting.Hybrid = HybridWeights{Quality: 0.5, Expertise: 0.5, Reputation: 0.5}
			},
		},
		{
			name: "unknown weighting method",
			mutate: func(cfg *AggregationConfig) {
				cfg.Weighting.Method = "vibes"
			},
		},
		{
			name: "delphi requires a positive epsilon",
			mutate: func(cfg *AggregationConfig) {
				cfg.Consensus.Method = ConsensusDelphi
				cfg.Consensus.Epsilon = 0
			},
		},
		{
			name: "unknown confidence factor",
			mutate: func(cfg *AggregationConfig) {
				cfg.Confidence.FactorWeights["astrology"] = 0.5
			},
		},
		{
			name: "outlier threshold must be positive",
			mutate: func(cfg *AggregationConfig) {
				cfg.Outliers.Threshold = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidConfig)
		})
	}
}

func TestConfigCloneIsDeep(t *testing.T) {
	base := twoCriterionConfig(t)
	clone := base.Clone()

	clone.Judges[domain.JudgeStaffReviewer] = JudgePolicy{Enabled: false}
	clone.Confidence.FactorWeights[domain.FactorJudgeCount] = 0.99
	clone.Rubric.Criteria[0].Weight = 0.9

	assert.True(t, base.Judges[domain.JudgeStaffReviewer].Enabled)
	assert.Equal(t, 0.25, base.Confidence.FactorWeights[domain.FactorJudgeCount])
	assert.Equal(t, 0.6, base.Rubric.Criteria[0].Weight)
}

func TestWeightUpdateApply(t *testing.T) {
	base := twoCriterionConfig(t)

	updated, err := WeightUpdate{
		Method:           WeightingHybrid,
		Hybrid:           &HybridWeights{Quality: 0.4, Expertise: 0.4, Reputation: 0.2},
		CriterionWeights: map[string]float64{"correctness": 0.8, "style": 0.2},
	}.apply(base)
	require.NoError(t, err)

	assert.Equal(t, WeightingHybrid, updated.Weighting.Method)
	assert.Equal(t, 0.4, updated.Weighting.Hybrid.Quality)
	assert.Equal(t, 0.8, updated.Rubric.Criteria[0].Weight)
	assert.Equal(t, 0.2, updated.Rubric.Criteria[1].Weight)

	// The base config is never mutated.
	assert.Equal(t, WeightingQuality, base.Weighting.Method)
	assert.Equal(t, 0.6, base.Rubric.Criteria[0].Weight)
}

func TestWeightUpdateApplyRejectsPartialCoverage(t *testing.T) {
	base := twoCriterionConfig(t)

	_, err := WeightUpdate{CriterionWeights: map[string]float64{"correctness": 0.8}}.apply(base)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestWeightUpdateApplyRejectsBadSum(t *testing.T) {
	base := twoCriterionConfig(t)

	_, err := WeightUpdate{
		CriterionWeights: map[string]float64{"correctness": 0.8, "style": 0.8},
	}.apply(base)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCriterionLookup(t *testing.T) {
	cfg := twoCriterionConfig(t)

	criterion, ok := cfg.Criterion("style")
	require.True(t, ok)
	assert.Equal(t, 10.0, criterion.MaxScore)

	_, ok = cfg.Criterion("missing")
	assert.False(t, ok)
}
