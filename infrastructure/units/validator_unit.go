package units

import (
	"context"
	"fmt"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Unit = (*ValidatorUnit)(nil)

// ValidatorUnit runs the advisory quality gate over a completed
// aggregation and decides the result's lifecycle status. Failures never
// block persistence; they downgrade the status to FLAGGED and attach
// actionable recommendations. Unresolved conflicts force FLAGGED even
// when every threshold check passes.
type ValidatorUnit struct {
	name string
	cfg  application.QualityConfig
}

// NewValidatorUnit creates a quality validator for the given thresholds.
func NewValidatorUnit(name string, cfg application.QualityConfig) (*ValidatorUnit, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &ValidatorUnit{name: name, cfg: cfg}, nil
}

// Name returns the unit identifier.
func (u *ValidatorUnit) Name() string { return u.name }

// Validate checks the unit configuration.
func (u *ValidatorUnit) Validate() error {
	if err := validate.Struct(u.cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute evaluates the quality checks and sets the final status.
//
// State requirements: domain.KeyScores, domain.KeyConfidence,
// domain.KeyConsensus, domain.KeyCriterionScores, domain.KeyConflicts.
// State updates: domain.KeyQuality, domain.KeyStatus.
func (u *ValidatorUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	scores, ok := domain.Get(state, domain.KeyScores)
	if !ok {
		return state, fmt.Errorf("scores not found in state")
	}
	confidence, ok := domain.Get(state, domain.KeyConfidence)
	if !ok {
		return state, fmt.Errorf("confidence report not found in state")
	}
	consensus, ok := domain.Get(state, domain.KeyConsensus)
	if !ok {
		return state, fmt.Errorf("consensus report not found in state")
	}
	criteria, ok := domain.Get(state, domain.KeyCriterionScores)
	if !ok {
		return state, fmt.Errorf("criterion scores not found in state")
	}
	conflicts, _ := domain.Get(state, domain.KeyConflicts)

	unresolved := anyUnresolved(conflicts)
	for _, cs := range criteria {
		if anyUnresolved(cs.Conflicts) {
			unresolved = true
			break
		}
	}

	report := evaluateChecks(u.cfg, checkInputs{
		judgeCount: len(scores),
		confidence: confidence.Overall,
		consensus:  consensus.Overall,
		variance:   consensus.ScoreVariance,
		unresolved: unresolved,
	})

	status := domain.StatusValidated
	if !report.Passed || unresolved {
		status = domain.StatusFlagged
	}

	state = domain.With(state, domain.KeyQuality, report)
	state = domain.With(state, domain.KeyStatus, status)
	return state, nil
}

// EvaluateQuality re-runs the quality checks against an already persisted
// result without recomputing the aggregation. It satisfies
// application.QualityEvaluator.
func EvaluateQuality(
	cfg application.AggregationConfig,
	result *domain.AggregatedScore,
) *domain.QualityReport {
	return evaluateChecks(cfg.Quality, checkInputs{
		judgeCount: result.JudgeCount,
		confidence: result.Confidence.Overall,
		consensus:  result.Consensus.Overall,
		variance:   result.Consensus.ScoreVariance,
		unresolved: result.HasUnresolvedConflicts(),
	})
}

type checkInputs struct {
	judgeCount int
	confidence float64
	consensus  float64
	variance   float64
	unresolved bool
}

func evaluateChecks(cfg application.QualityConfig, in checkInputs) *domain.QualityReport {
	report := &domain.QualityReport{Passed: true, Strict: cfg.Strict}

	add := func(name string, passed bool, value, threshold float64, recommendation string) {
		report.Checks = append(report.Checks, domain.QualityCheck{
			Name: name, Passed: passed, Value: value, Threshold: threshold,
		})
		if !passed {
			report.Passed = false
			report.Recommendations = append(report.Recommendations, recommendation)
		}
	}

	add("judge_count",
		in.judgeCount >= cfg.MinimumJudgeCount,
		float64(in.judgeCount), float64(cfg.MinimumJudgeCount),
		fmt.Sprintf("collect more judge scores: %d retained, %d required",
			in.judgeCount, cfg.MinimumJudgeCount))

	add("confidence",
		in.confidence >= cfg.MinimumConfidence,
		in.confidence, cfg.MinimumConfidence,
		fmt.Sprintf("confidence %.2f below minimum %.2f: add judges or improve judge quality",
			in.confidence, cfg.MinimumConfidence))

	add("variance",
		in.variance <= cfg.MaximumVariance,
		in.variance, cfg.MaximumVariance,
		fmt.Sprintf("score variance %.1f above maximum %.1f: review outlier handling and judge calibration",
			in.variance, cfg.MaximumVariance))

	add("consensus",
		in.consensus >= cfg.ConsensusThreshold,
		in.consensus, cfg.ConsensusThreshold,
		fmt.Sprintf("consensus %.2f below threshold %.2f: judges disagree substantially, consider deliberation",
			in.consensus, cfg.ConsensusThreshold))

	if in.unresolved {
		report.Recommendations = append(report.Recommendations,
			"unresolved conflicts require human review before downstream consumption")
	}

	return report
}

func anyUnresolved(conflicts []domain.Conflict) bool {
	for _, c := range conflicts {
		if c.Resolution == nil || !c.Resolution.Resolved {
			return true
		}
	}
	return false
}
