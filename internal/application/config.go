// Package application orchestrates the aggregation pipeline: it owns the
// immutable AggregationConfig, the sequential pipeline executor, and the
// Engine that serializes computations per execution and persists
// versioned results.
package application

import (
	"fmt"
	"math"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Package-level validator instance for configuration validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = validator.New()

// weightSumTolerance bounds how far criterion weights (and hybrid
// sub-weights) may drift from 1.0 before the config is rejected.
const weightSumTolerance = 0.01

// WeightingMethod selects how per-judge weights are computed.
type WeightingMethod string

// Supported weighting methods.
const (
	WeightingEqual      WeightingMethod = "equal"
	WeightingQuality    WeightingMethod = "quality_based"
	WeightingExpertise  WeightingMethod = "expertise_based"
	WeightingReputation WeightingMethod = "reputation_based"
	WeightingHybrid     WeightingMethod = "hybrid"
)

// AggregationMethod selects how weighted scores are combined per criterion.
type AggregationMethod string

// Supported aggregation methods.
const (
	AggregateWeightedAverage AggregationMethod = "weighted_average"
	AggregateMedian          AggregationMethod = "median"

	// AggregateBayesian is a documented heuristic, not a rigorous
	// posterior: result = weighted_average + shrinkage * (reference_mean
	// - weighted_average). With the default shrinkage of 0 it behaves as
	// a weighted average.
	AggregateBayesian AggregationMethod = "bayesian"
)

// ConsensusMethod selects between the static pairwise measurement and
// bounded Delphi-style iterative refinement.
type ConsensusMethod string

// Supported consensus methods.
const (
	ConsensusPairwise ConsensusMethod = "pairwise"
	ConsensusDelphi   ConsensusMethod = "delphi"
)

// JudgePolicy configures one judge type's participation in aggregation.
type JudgePolicy struct {
	// Enabled admits scores of this type into the collector.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MinimumCount is the per-type quorum; collection fails when fewer
	// eligible judges of this type are found.
	MinimumCount int `yaml:"minimum_count" json:"minimum_count" validate:"min=0"`

	// MaximumCount caps how many scores of this type are retained,
	// keeping highest-quality first. Zero means no cap.
	MaximumCount int `yaml:"maximum_count" json:"maximum_count" validate:"min=0"`

	// QualityThreshold drops scores whose quality signal falls below it.
	QualityThreshold float64 `yaml:"quality_threshold" json:"quality_threshold" validate:"min=0,max=1"`
}

// HybridWeights are the sub-factor weights used by hybrid weighting.
// They must sum to 1.0 within the configured tolerance.
type HybridWeights struct {
	Quality    float64 `yaml:"quality" json:"quality" validate:"min=0,max=1"`
	Expertise  float64 `yaml:"expertise" json:"expertise" validate:"min=0,max=1"`
	Reputation float64 `yaml:"reputation" json:"reputation" validate:"min=0,max=1"`
}

// WeightingConfig selects and parameterizes the weighting engine.
type WeightingConfig struct {
	Method WeightingMethod `yaml:"method" json:"method" validate:"required,oneof=equal quality_based expertise_based reputation_based hybrid"`
	Hybrid HybridWeights   `yaml:"hybrid" json:"hybrid"`
}

// AggregationMethodConfig parameterizes the per-criterion aggregator.
type AggregationMethodConfig struct {
	Method AggregationMethod `yaml:"method" json:"method" validate:"required,oneof=weighted_average median bayesian"`

	// Shrinkage pulls the weighted average toward ReferenceMean for the
	// bayesian method. Explicit and tunable; defaults to 0.
	Shrinkage float64 `yaml:"shrinkage" json:"shrinkage" validate:"min=0,max=1"`

	// ReferenceMean is the historical reference the bayesian method
	// shrinks toward, on the 0-100 scale.
	ReferenceMean float64 `yaml:"reference_mean" json:"reference_mean" validate:"min=0,max=100"`

	// HistogramBins fixes the bin count of distribution histograms.
	HistogramBins int `yaml:"histogram_bins" json:"histogram_bins" validate:"min=1,max=100"`
}

// OutlierConfig parameterizes the statistical outlier pass that runs
// before aggregation.
type OutlierConfig struct {
	// Threshold is the z-score above which a score is an outlier.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gt=0,max=10"`

	Action domain.OutlierAction `yaml:"action" json:"action" validate:"required,oneof=exclude downgrade flag_for_review investigate keep"`
}

// ConflictConfig parameterizes the governance conflict pass, which runs
// independently of the outlier pass with its own, stricter threshold.
type ConflictConfig struct {
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gt=0,max=10"`

	Resolution domain.ResolutionStrategy `yaml:"resolution" json:"resolution" validate:"required,oneof=majority_rule expert_override quality_weighted deliberation_required automated_resolution"`
}

// ConsensusConfig parameterizes agreement measurement.
type ConsensusConfig struct {
	Method ConsensusMethod `yaml:"method" json:"method" validate:"required,oneof=pairwise delphi"`

	// Epsilon is the agreement improvement below which Delphi iteration
	// stops.
	Epsilon float64 `yaml:"epsilon" json:"epsilon" validate:"gte=0"`

	// MaxIterations hard-caps Delphi refinement to guarantee termination.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations" validate:"min=1,max=100"`
}

// ConfidenceConfig parameterizes the confidence calculator.
type ConfidenceConfig struct {
	// IntervalLevel is the confidence interval coverage (0.90, 0.95, 0.99).
	IntervalLevel float64 `yaml:"interval_level" json:"interval_level" validate:"gt=0,lt=1"`

	// HistoricalAccuracy feeds the historical-accuracy factor. Judge
	// reputation lifecycle is external, so the engine consumes this as
	// a configured signal.
	HistoricalAccuracy float64 `yaml:"historical_accuracy" json:"historical_accuracy" validate:"min=0,max=1"`

	// FactorWeights assigns relative weight to each confidence factor.
	// Unspecified factors get zero weight; the calculator normalizes at
	// use time.
	FactorWeights map[string]float64 `yaml:"factor_weights" json:"factor_weights" validate:"required,min=1"`
}

// QualityConfig holds the validator thresholds.
type QualityConfig struct {
	MinimumJudgeCount  int     `yaml:"minimum_judge_count" json:"minimum_judge_count" validate:"min=1"`
	MinimumConfidence  float64 `yaml:"minimum_confidence" json:"minimum_confidence" validate:"min=0,max=1"`
	ConsensusThreshold float64 `yaml:"consensus_threshold" json:"consensus_threshold" validate:"min=0,max=1"`
	MaximumVariance    float64 `yaml:"maximum_variance" json:"maximum_variance" validate:"gte=0"`

	// Strict mandates recomputation with relaxed scope before release
	// when validation fails; validation itself stays advisory.
	Strict bool `yaml:"strict" json:"strict"`
}

// CriterionConfig defines one rubric criterion.
type CriterionConfig struct {
	ID string `yaml:"id" json:"id" validate:"required,min=1,max=100"`

	// Weight is this criterion's share of the overall score. Weights
	// across the rubric must sum to 1.0 within tolerance.
	Weight float64 `yaml:"weight" json:"weight" validate:"gt=0,max=1"`

	// MaxScore is the raw scale judges score this criterion on; the
	// collector normalizes raw scores to 0-100.
	MaxScore float64 `yaml:"max_score" json:"max_score" validate:"gt=0"`
}

// RubricConfig is the scoring rubric shared by all judges.
type RubricConfig struct {
	Criteria []CriterionConfig `yaml:"criteria" json:"criteria" validate:"required,min=1,dive"`
}

// AggregationConfig is the immutable value object threaded explicitly
// into every pipeline stage. It is validated once, before any score
// processing, and never held as ambient or global state.
type AggregationConfig struct {
	Judges      map[domain.JudgeType]JudgePolicy `yaml:"judges" json:"judges" validate:"required,min=1"`
	Weighting   WeightingConfig                  `yaml:"weighting" json:"weighting"`
	Aggregation AggregationMethodConfig          `yaml:"aggregation" json:"aggregation"`
	Outliers    OutlierConfig                    `yaml:"outliers" json:"outliers"`
	Conflicts   ConflictConfig                   `yaml:"conflicts" json:"conflicts"`
	Consensus   ConsensusConfig                  `yaml:"consensus" json:"consensus"`
	Confidence  ConfidenceConfig                 `yaml:"confidence" json:"confidence"`
	Quality     QualityConfig                    `yaml:"quality" json:"quality"`
	Rubric      RubricConfig                     `yaml:"rubric" json:"rubric"`
}

// DefaultConfig returns a production-ready configuration: all judge types
// enabled without per-type quorums, quality weighting, plain weighted
// average, outlier exclusion at z>2.0, conflict detection at z>2.5 with
// majority-rule resolution, static pairwise consensus, and a single
// full-weight criterion rubric that callers are expected to replace.
func DefaultConfig() AggregationConfig {
	judges := make(map[domain.JudgeType]JudgePolicy, len(domain.AllJudgeTypes()))
	for _, jt := range domain.AllJudgeTypes() {
		judges[jt] = JudgePolicy{Enabled: true}
	}
	return AggregationConfig{
		Judges:    judges,
		Weighting: WeightingConfig{Method: WeightingQuality, Hybrid: HybridWeights{Quality: 0.5, Expertise: 0.3, Reputation: 0.2}},
		Aggregation: AggregationMethodConfig{
			Method:        AggregateWeightedAverage,
			Shrinkage:     0,
			ReferenceMean: 50,
			HistogramBins: 10,
		},
		Outliers:  OutlierConfig{Threshold: 2.0, Action: domain.OutlierExclude},
		Conflicts: ConflictConfig{Threshold: 2.5, Resolution: domain.ResolveMajorityRule},
		Consensus: ConsensusConfig{Method: ConsensusPairwise, Epsilon: 0.001, MaxIterations: 10},
		Confidence: ConfidenceConfig{
			IntervalLevel:      0.95,
			HistoricalAccuracy: 0.5,
			FactorWeights: map[string]float64{
				domain.FactorJudgeCount:         0.25,
				domain.FactorJudgeQuality:       0.20,
				domain.FactorScoreVariance:      0.20,
				domain.FactorConsensus:          0.20,
				domain.FactorExpertise:          0.10,
				domain.FactorHistoricalAccuracy: 0.05,
			},
		},
		Quality: QualityConfig{
			MinimumJudgeCount:  3,
			MinimumConfidence:  0.5,
			ConsensusThreshold: 0.6,
			MaximumVariance:    250,
		},
		Rubric: RubricConfig{Criteria: []CriterionConfig{{ID: "overall", Weight: 1.0, MaxScore: 100}}},
	}
}

// ParseConfig overlays YAML data onto the defaults and validates the result.
func ParseConfig(data []byte) (AggregationConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AggregationConfig{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return AggregationConfig{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (AggregationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AggregationConfig{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// Validate rejects malformed configurations before any score processing.
// All failures wrap domain.ErrInvalidConfig.
func (c AggregationConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	enabled := 0
	for jt, policy := range c.Judges {
		if !jt.Valid() {
			return fmt.Errorf("%w: unknown judge type %q", domain.ErrInvalidConfig, jt)
		}
		if policy.MaximumCount > 0 && policy.MaximumCount < policy.MinimumCount {
			return fmt.Errorf("%w: %s maximum_count %d below minimum_count %d",
				domain.ErrInvalidConfig, jt, policy.MaximumCount, policy.MinimumCount)
		}
		if policy.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("%w: no judge types enabled", domain.ErrInvalidConfig)
	}

	sum := 0.0
	seen := make(map[string]struct{}, len(c.Rubric.Criteria))
	for _, criterion := range c.Rubric.Criteria {
		if _, dup := seen[criterion.ID]; dup {
			return fmt.Errorf("%w: duplicate rubric criterion %q", domain.ErrInvalidConfig, criterion.ID)
		}
		seen[criterion.ID] = struct{}{}
		sum += criterion.Weight
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: rubric criterion weights sum to %.4f, expected 1.0 +/- %.2f",
			domain.ErrInvalidConfig, sum, weightSumTolerance)
	}

	if c.Weighting.Method == WeightingHybrid {
		hw := c.Weighting.Hybrid
		if math.Abs(hw.Quality+hw.Expertise+hw.Reputation-1.0) > weightSumTolerance {
			return fmt.Errorf("%w: hybrid sub-weights must sum to 1.0 +/- %.2f",
				domain.ErrInvalidConfig, weightSumTolerance)
		}
	}

	if c.Consensus.Method == ConsensusDelphi && c.Consensus.Epsilon <= 0 {
		return fmt.Errorf("%w: delphi consensus requires a positive epsilon", domain.ErrInvalidConfig)
	}

	for name := range c.Confidence.FactorWeights {
		switch name {
		case domain.FactorJudgeCount, domain.FactorJudgeQuality, domain.FactorScoreVariance,
			domain.FactorConsensus, domain.FactorExpertise, domain.FactorHistoricalAccuracy:
		default:
			return fmt.Errorf("%w: unknown confidence factor %q", domain.ErrInvalidConfig, name)
		}
	}

	return nil
}

// Clone returns a deep copy so weight updates can derive a new config
// without touching the engine's immutable base.
func (c AggregationConfig) Clone() AggregationConfig {
	out := c

	out.Judges = make(map[domain.JudgeType]JudgePolicy, len(c.Judges))
	for jt, policy := range c.Judges {
		out.Judges[jt] = policy
	}

	out.Confidence.FactorWeights = make(map[string]float64, len(c.Confidence.FactorWeights))
	for name, w := range c.Confidence.FactorWeights {
		out.Confidence.FactorWeights[name] = w
	}

	out.Rubric.Criteria = make([]CriterionConfig, len(c.Rubric.Criteria))
	copy(out.Rubric.Criteria, c.Rubric.Criteria)

	return out
}

// Criterion returns the rubric criterion with the given ID.
func (c AggregationConfig) Criterion(id string) (CriterionConfig, bool) {
	for _, criterion := range c.Rubric.Criteria {
		if criterion.ID == id {
			return criterion, true
		}
	}
	return CriterionConfig{}, false
}

// WeightUpdate describes a re-weighting request. Weight updates are
// modeled as new aggregation requests under optimistic versioning: the
// engine derives a new config, recomputes, and marks the prior version
// SUPERSEDED only after the new version reaches COMPLETE.
type WeightUpdate struct {
	// Method switches the weighting method when non-empty.
	Method WeightingMethod `json:"method,omitempty" yaml:"method,omitempty"`

	// Hybrid replaces the hybrid sub-weights when non-nil.
	Hybrid *HybridWeights `json:"hybrid,omitempty" yaml:"hybrid,omitempty"`

	// CriterionWeights replaces rubric weights by criterion ID. All
	// rubric criteria must be covered and the new weights must sum to
	// 1.0 within tolerance.
	CriterionWeights map[string]float64 `json:"criterion_weights,omitempty" yaml:"criterion_weights,omitempty"`
}

// apply derives a validated config from the base with the update applied.
func (u WeightUpdate) apply(base AggregationConfig) (AggregationConfig, error) {
	cfg := base.Clone()

	if u.Method != "" {
		cfg.Weighting.Method = u.Method
	}
	if u.Hybrid != nil {
		cfg.Weighting.Hybrid = *u.Hybrid
	}
	if len(u.CriterionWeights) > 0 {
		for i, criterion := range cfg.Rubric.Criteria {
			w, ok := u.CriterionWeights[criterion.ID]
			if !ok {
				return AggregationConfig{}, fmt.Errorf("%w: weight update missing criterion %q",
					domain.ErrInvalidConfig, criterion.ID)
			}
			cfg.Rubric.Criteria[i].Weight = w
		}
	}

	if err := cfg.Validate(); err != nil {
		return AggregationConfig{}, err
	}
	return cfg, nil
}
