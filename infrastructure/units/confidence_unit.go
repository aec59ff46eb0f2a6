package units

import (
	"context"
	"fmt"
	"math"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Unit = (*ConfidenceUnit)(nil)

// ConfidenceUnit calibrates how much trust the aggregated result
// deserves. It combines normalized factor signals under configurable
// weights, attaches normal-approximation intervals to the overall and
// per-criterion scores, and measures leave-one-out stability: the worst
// percentage swing in the overall score caused by removing any single
// judge.
type ConfidenceUnit struct {
	name   string
	cfg    application.ConfidenceConfig
	agg    application.AggregationMethodConfig
	rubric application.RubricConfig
}

// NewConfidenceUnit creates a confidence calculator.
func NewConfidenceUnit(
	name string,
	cfg application.ConfidenceConfig,
	agg application.AggregationMethodConfig,
	rubric application.RubricConfig,
) (*ConfidenceUnit, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &ConfidenceUnit{name: name, cfg: cfg, agg: agg, rubric: rubric}, nil
}

// Name returns the unit identifier.
func (u *ConfidenceUnit) Name() string { return u.name }

// Validate checks the unit configuration.
func (u *ConfidenceUnit) Validate() error {
	if err := validate.Struct(u.cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute produces the confidence report.
//
// State requirements: domain.KeyScores, domain.KeyEffectiveWeights,
// domain.KeyCriterionScores, domain.KeyConsensus.
// State updates: domain.KeyConfidence.
func (u *ConfidenceUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	scores, ok := domain.Get(state, domain.KeyScores)
	if !ok {
		return state, fmt.Errorf("scores not found in state")
	}
	effective, ok := domain.Get(state, domain.KeyEffectiveWeights)
	if !ok {
		return state, fmt.Errorf("effective weights not found in state")
	}
	criteria, ok := domain.Get(state, domain.KeyCriterionScores)
	if !ok {
		return state, fmt.Errorf("criterion scores not found in state")
	}
	consensus, ok := domain.Get(state, domain.KeyConsensus)
	if !ok {
		return state, fmt.Errorf("consensus report not found in state")
	}

	_, overallScores := overallValues(scores)

	report := &domain.ConfidenceReport{
		Factors:            u.factors(scores, overallScores, consensus.FinalAgreement),
		PerCriterion:       make(map[string]float64, len(criteria)),
		PerJudgeType:       make(map[domain.JudgeType]float64),
		CriterionIntervals: make(map[string]domain.ConfidenceInterval, len(criteria)),
		OverallInterval:    u.interval(overallScores),
	}
	report.Overall = u.combine(report.Factors)

	for _, cs := range criteria {
		judges, values, _ := criterionValues(scores, cs.CriterionID, effective[cs.CriterionID])
		agreement := consensus.PerCriterion[cs.CriterionID]
		report.PerCriterion[cs.CriterionID] = u.combine(u.factors(judges, values, agreement))
		report.CriterionIntervals[cs.CriterionID] = u.interval(values)
	}

	byType := make(map[domain.JudgeType][]domain.JudgeScore)
	for _, s := range scores {
		byType[s.JudgeType] = append(byType[s.JudgeType], s)
	}
	for jt, group := range byType {
		_, groupScores := overallValues(group)
		agreement, known := consensus.PerJudgeType[jt]
		if !known {
			agreement = meanPairwiseAgreement(groupScores)
		}
		report.PerJudgeType[jt] = u.combine(u.factors(group, groupScores, agreement))
	}

	report.Stability = u.stability(scores, effective)

	return domain.With(state, domain.KeyConfidence, report), nil
}

// factors computes every normalized signal for a judge set and its
// score values.
func (u *ConfidenceUnit) factors(
	judges []domain.JudgeScore,
	values []float64,
	agreement float64,
) map[string]float64 {
	n := float64(len(judges))
	quality, expertise := 0.0, 0.0
	for _, j := range judges {
		quality += j.Quality
		expertise += j.Expertise
	}
	if n > 0 {
		quality /= n
		expertise /= n
	}

	return map[string]float64{
		domain.FactorJudgeCount:         n / (n + 3),
		domain.FactorJudgeQuality:       quality,
		domain.FactorScoreVariance:      math.Max(0, 1-popVariance(values)/maxPolarizationVariance),
		domain.FactorConsensus:          agreement,
		domain.FactorExpertise:          expertise,
		domain.FactorHistoricalAccuracy: u.cfg.HistoricalAccuracy,
	}
}

// combine folds the factors under the configured weights, normalizing
// the weight mass at use time so partial weight maps behave sensibly.
// Factors are folded in canonical name order, never map order, so
// identical inputs always produce the same bit pattern.
func (u *ConfidenceUnit) combine(factors map[string]float64) float64 {
	sum, mass := 0.0, 0.0
	for _, name := range domain.ConfidenceFactorNames() {
		weight, configured := u.cfg.FactorWeights[name]
		if !configured {
			continue
		}
		value, known := factors[name]
		if !known {
			continue
		}
		sum += value * weight
		mass += weight
	}
	if mass <= 0 {
		return 0
	}
	return sum / mass
}

// zLevels maps interval coverage to the standard normal critical value.
var zLevels = map[float64]float64{
	0.90: 1.645,
	0.95: 1.960,
	0.99: 2.576,
}

// interval is the normal-approximation interval around the mean of the
// values, clamped to the 0-100 scale.
func (u *ConfidenceUnit) interval(values []float64) domain.ConfidenceInterval {
	z, known := zLevels[u.cfg.IntervalLevel]
	if !known {
		z = zLevels[0.95]
	}

	m := mean(values)
	margin := 0.0
	if n := len(values); n > 1 {
		margin = z * popStdDev(values) / math.Sqrt(float64(n))
	}
	return domain.ConfidenceInterval{
		Lower: math.Max(0, m-margin),
		Upper: math.Min(100, m+margin),
		Level: u.cfg.IntervalLevel,
	}
}

// stability measures leave-one-out sensitivity: the maximum absolute
// percentage change in the overall score when any single judge is
// removed. Conflict adjustments are deliberately excluded so the measure
// reflects the raw aggregation's robustness.
func (u *ConfidenceUnit) stability(
	scores []domain.JudgeScore,
	effective map[string]map[string]float64,
) float64 {
	baseline := u.overallWithout(scores, effective, "")
	if baseline == 0 {
		return 0
	}

	worst := 0.0
	for _, excluded := range scores {
		perturbed := u.overallWithout(scores, effective, excluded.JudgeID)
		change := math.Abs(perturbed-baseline) / baseline * 100
		if change > worst {
			worst = change
		}
	}
	return worst
}

// overallWithout recomputes the rubric-weighted overall score excluding
// one judge. An empty exclusion recomputes the baseline. Criteria left
// with no contributors fall back to the baseline contributors.
func (u *ConfidenceUnit) overallWithout(
	scores []domain.JudgeScore,
	effective map[string]map[string]float64,
	excludedJudgeID string,
) float64 {
	overall := 0.0
	for _, criterion := range u.rubric.Criteria {
		keep := effective[criterion.ID]
		judges, values, weights := criterionValues(scores, criterion.ID, keep)

		if excludedJudgeID != "" {
			keptValues := make([]float64, 0, len(values))
			keptWeights := make([]float64, 0, len(weights))
			for i, j := range judges {
				if j.JudgeID == excludedJudgeID {
					continue
				}
				keptValues = append(keptValues, values[i])
				keptWeights = append(keptWeights, weights[i])
			}
			if len(keptValues) > 0 {
				values, weights = keptValues, keptWeights
			}
		}

		combined := combineScores(u.agg.Method, values, weights, u.agg.Shrinkage, u.agg.ReferenceMean)
		overall += combined * criterion.Weight
	}
	return overall
}
