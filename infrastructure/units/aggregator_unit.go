package units

import (
	"context"
	"fmt"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Unit = (*AggregatorUnit)(nil)

// AggregatorUnit combines the retained, possibly reweighted scores per
// criterion using the configured method, computes each criterion's full
// distribution, and derives the rubric-weighted overall score.
//
// Methods:
//   - weighted_average: sum(score*weight) / sum(weight).
//   - median: middle of sorted scores, unaffected by any single extreme
//     value beyond the adjacent legitimate value's step size.
//   - bayesian: heuristic shrinkage toward a configured reference mean;
//     with the default shrinkage of 0 it equals the weighted average.
type AggregatorUnit struct {
	name   string
	cfg    application.AggregationMethodConfig
	rubric application.RubricConfig
}

// NewAggregatorUnit creates an aggregator for the given method and rubric.
func NewAggregatorUnit(
	name string,
	cfg application.AggregationMethodConfig,
	rubric application.RubricConfig,
) (*AggregatorUnit, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := validate.Struct(rubric); err != nil {
		return nil, fmt.Errorf("rubric validation failed: %w", err)
	}
	return &AggregatorUnit{name: name, cfg: cfg, rubric: rubric}, nil
}

// Name returns the unit identifier.
func (u *AggregatorUnit) Name() string { return u.name }

// Validate checks the unit configuration.
func (u *AggregatorUnit) Validate() error {
	if err := validate.Struct(u.cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute aggregates every rubric criterion and the overall score.
//
// State requirements: domain.KeyScores, domain.KeyEffectiveWeights,
// domain.KeyOutliers.
// State updates: domain.KeyCriterionScores, domain.KeyOverallScore.
func (u *AggregatorUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	scores, ok := domain.Get(state, domain.KeyScores)
	if !ok {
		return state, fmt.Errorf("scores not found in state")
	}
	effective, ok := domain.Get(state, domain.KeyEffectiveWeights)
	if !ok {
		return state, fmt.Errorf("effective weights not found in state")
	}
	outliers, _ := domain.Get(state, domain.KeyOutliers)

	results := make([]domain.AggregatedCriterionScore, 0, len(u.rubric.Criteria))
	overall := 0.0

	for _, criterion := range u.rubric.Criteria {
		keep := effective[criterion.ID]
		judges, values, weights := criterionValues(scores, criterion.ID, keep)
		if len(values) == 0 {
			return state, fmt.Errorf("criterion %q: %w", criterion.ID, domain.ErrNoScores)
		}

		combined := combineScores(u.cfg.Method, values, weights, u.cfg.Shrinkage, u.cfg.ReferenceMean)

		mass := 0.0
		for _, w := range weights {
			mass += w
		}
		contributions := make([]domain.Contribution, len(judges))
		for i, j := range judges {
			nw := 0.0
			if mass > 0 {
				nw = weights[i] / mass
			} else {
				nw = 1.0 / float64(len(judges))
			}
			contributions[i] = domain.Contribution{
				JudgeID:          j.JudgeID,
				JudgeType:        j.JudgeType,
				Score:            values[i],
				Weight:           weights[i],
				NormalizedWeight: nw,
				Contribution:     values[i] * nw,
			}
		}

		results = append(results, domain.AggregatedCriterionScore{
			CriterionID:     criterion.ID,
			Weight:          criterion.Weight,
			AggregatedScore: combined,
			Distribution:    describe(values, u.cfg.HistogramBins),
			Contributions:   contributions,
			Outliers:        outliersFor(outliers, criterion.ID),
		})

		overall += combined * criterion.Weight
	}

	state = domain.With(state, domain.KeyCriterionScores, results)
	state = domain.With(state, domain.KeyOverallScore, overall)
	return state, nil
}

func outliersFor(outliers []domain.Outlier, criterionID string) []domain.Outlier {
	var out []domain.Outlier
	for _, o := range outliers {
		if o.CriterionID == criterionID {
			out = append(out, o)
		}
	}
	return out
}
