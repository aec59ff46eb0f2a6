// Package units implements the stages of the score aggregation pipeline
// as stateless ports.Unit values operating over the immutable domain.State.
// Data flows strictly downward: collector, weighting, outlier detection,
// aggregation, consensus, conflict handling, confidence, validation.
package units

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

// Package-level validator instance for configuration validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = validator.New()

// maxPolarizationVariance is the variance of the most polarized possible
// score set on a 0-100 scale (half at 0, half at 100; stddev 25 squared).
const maxPolarizationVariance = 625.0

// BuildPipeline assembles the full stage chain for one aggregation run.
// It satisfies application.PipelineBuilder.
func BuildPipeline(cfg application.AggregationConfig) ([]ports.Unit, error) {
	collector, err := NewCollectorUnit("collector", cfg)
	if err != nil {
		return nil, fmt.Errorf("collector: %w", err)
	}
	weighting, err := NewWeightingUnit("weighting", cfg.Weighting)
	if err != nil {
		return nil, fmt.Errorf("weighting: %w", err)
	}
	outliers, err := NewOutlierUnit("outliers", cfg)
	if err != nil {
		return nil, fmt.Errorf("outliers: %w", err)
	}
	aggregator, err := NewAggregatorUnit("aggregator", cfg.Aggregation, cfg.Rubric)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	consensus, err := NewConsensusUnit("consensus", cfg.Consensus, cfg.Outliers.Threshold)
	if err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}
	conflicts, err := NewConflictUnit("conflicts", cfg.Conflicts, cfg.Aggregation, cfg.Rubric)
	if err != nil {
		return nil, fmt.Errorf("conflicts: %w", err)
	}
	confidence, err := NewConfidenceUnit("confidence", cfg.Confidence, cfg.Aggregation, cfg.Rubric)
	if err != nil {
		return nil, fmt.Errorf("confidence: %w", err)
	}
	quality, err := NewValidatorUnit("quality", cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("quality: %w", err)
	}

	return []ports.Unit{
		collector, weighting, outliers, aggregator,
		consensus, conflicts, confidence, quality,
	}, nil
}

// criterionValues extracts the normalized scores for one criterion from
// the judges present in keep, ordered by judge ID for determinism.
// A nil keep set admits every judge that scored the criterion.
func criterionValues(
	scores []domain.JudgeScore,
	criterionID string,
	keep map[string]float64,
) (judges []domain.JudgeScore, values, weights []float64) {
	for _, s := range scores {
		v, ok := s.CriterionScores[criterionID]
		if !ok {
			continue
		}
		if keep != nil {
			if _, retained := keep[s.JudgeID]; !retained {
				continue
			}
		}
		judges = append(judges, s)
		values = append(values, v)
	}

	order := make([]int, len(judges))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return judges[order[a]].JudgeID < judges[order[b]].JudgeID })

	outJudges := make([]domain.JudgeScore, len(order))
	outValues := make([]float64, len(order))
	outWeights := make([]float64, len(order))
	for i, idx := range order {
		outJudges[i] = judges[idx]
		outValues[i] = values[idx]
		if keep != nil {
			outWeights[i] = keep[judges[idx].JudgeID]
		} else {
			outWeights[i] = 1
		}
	}
	return outJudges, outValues, outWeights
}

// overallValues extracts the judges' overall scores ordered by judge ID.
func overallValues(scores []domain.JudgeScore) (ids []string, values []float64) {
	sorted := make([]domain.JudgeScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].JudgeID < sorted[b].JudgeID })

	ids = make([]string, len(sorted))
	values = make([]float64, len(sorted))
	for i, s := range sorted {
		ids[i] = s.JudgeID
		values[i] = s.OverallScore
	}
	return ids, values
}

// combineScores applies the configured aggregation method to a weighted
// score set. The bayesian method is a heuristic shrinkage adjustment, not
// a rigorous posterior: with shrinkage 0 it equals the weighted average.
func combineScores(
	method application.AggregationMethod,
	values, weights []float64,
	shrinkage, referenceMean float64,
) float64 {
	switch method {
	case application.AggregateMedian:
		return median(values)
	case application.AggregateBayesian:
		wm := weightedMean(values, weights)
		return wm + shrinkage*(referenceMean-wm)
	default:
		return weightedMean(values, weights)
	}
}
