package units

import (
	"context"
	"fmt"
	"math"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Unit = (*ConsensusUnit)(nil)

// ConsensusUnit measures how much the retained judges agree. Agreement
// between two judges is 1 - |si - sj| / 100 on the canonical scale, so
// identical scores agree at 1 and maximally distant scores at 0.
//
// The pairwise method is a single static measurement. The delphi method
// runs bounded iterative refinement: each round recomputes the weighted
// mean of the remaining scores, discards scores farther than the outlier
// threshold in standard deviations from it, and recomputes agreement over
// the retained set. Iteration stops when agreement improves by less than
// epsilon, no score is discarded, fewer than two scores would remain, or
// the hard iteration cap is reached. Refinement only affects the
// consensus report; aggregated scores are never rewritten by it.
type ConsensusUnit struct {
	name string
	cfg  application.ConsensusConfig

	// deviationThreshold bounds which scores move during a Delphi round,
	// expressed in standard deviations from the round mean.
	deviationThreshold float64
}

// NewConsensusUnit creates a consensus measurer for the given method.
func NewConsensusUnit(
	name string,
	cfg application.ConsensusConfig,
	deviationThreshold float64,
) (*ConsensusUnit, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if deviationThreshold <= 0 {
		return nil, fmt.Errorf("%w: deviation threshold must be positive", domain.ErrInvalidConfig)
	}
	return &ConsensusUnit{name: name, cfg: cfg, deviationThreshold: deviationThreshold}, nil
}

// Name returns the unit identifier.
func (u *ConsensusUnit) Name() string { return u.name }

// Validate checks the unit configuration.
func (u *ConsensusUnit) Validate() error {
	if err := validate.Struct(u.cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute produces the consensus report.
//
// State requirements: domain.KeyScores, domain.KeyWeights,
// domain.KeyCriterionScores.
// State updates: domain.KeyConsensus.
func (u *ConsensusUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	scores, ok := domain.Get(state, domain.KeyScores)
	if !ok {
		return state, fmt.Errorf("scores not found in state")
	}
	weights, ok := domain.Get(state, domain.KeyWeights)
	if !ok {
		return state, fmt.Errorf("weights not found in state")
	}
	criteria, ok := domain.Get(state, domain.KeyCriterionScores)
	if !ok {
		return state, fmt.Errorf("criterion scores not found in state")
	}

	ids, values := overallValues(scores)
	judgeWeights := make([]float64, len(ids))
	for i, id := range ids {
		judgeWeights[i] = weights[id]
	}
	variance := popVariance(values)

	report := &domain.ConsensusReport{
		JudgeIDs:        ids,
		AgreementMatrix: agreementMatrix(values),
		Polarization:    math.Min(1, variance/maxPolarizationVariance),
		ScoreVariance:   variance,
		PerCriterion:    make(map[string]float64, len(criteria)),
		PerJudgeType:    make(map[domain.JudgeType]float64),
	}

	initial := meanPairwiseAgreement(values)
	report.InitialAgreement = initial

	switch u.cfg.Method {
	case application.ConsensusDelphi:
		final, iterations := u.refine(values, judgeWeights)
		report.FinalAgreement = final
		report.Iterations = iterations
	default:
		report.FinalAgreement = initial
	}

	report.Overall = report.FinalAgreement
	if initial > 0 {
		report.ConvergenceRate = report.FinalAgreement / initial
	} else {
		report.ConvergenceRate = 1
	}

	for _, cs := range criteria {
		_, cvalues, _ := criterionValues(scores, cs.CriterionID, nil)
		report.PerCriterion[cs.CriterionID] = meanPairwiseAgreement(cvalues)
	}

	byType := make(map[domain.JudgeType][]float64)
	for _, s := range scores {
		byType[s.JudgeType] = append(byType[s.JudgeType], s.OverallScore)
	}
	for jt, group := range byType {
		if len(group) < 2 {
			continue
		}
		report.PerJudgeType[jt] = meanPairwiseAgreement(group)
	}

	return domain.With(state, domain.KeyConsensus, report), nil
}

// refine runs the bounded Delphi loop over a copy of the overall scores.
// Each round discards scores deviating beyond the threshold from the
// weighted mean and recomputes agreement over the retained set. Returns
// the final agreement and the number of rounds taken.
func (u *ConsensusUnit) refine(values, weights []float64) (float64, int) {
	current := make([]float64, len(values))
	copy(current, values)
	mass := make([]float64, len(weights))
	copy(mass, weights)

	agreement := meanPairwiseAgreement(current)
	iterations := 0
	for iterations < u.cfg.MaxIterations {
		wm := weightedMean(current, mass)
		sd := popStdDev(current)
		if sd == 0 {
			break
		}

		retained := make([]float64, 0, len(current))
		retainedMass := make([]float64, 0, len(mass))
		for i, v := range current {
			if math.Abs(v-wm)/sd > u.deviationThreshold {
				continue
			}
			retained = append(retained, v)
			retainedMass = append(retainedMass, mass[i])
		}
		if len(retained) == len(current) || len(retained) < 2 {
			break
		}
		iterations++

		updated := meanPairwiseAgreement(retained)
		improvement := updated - agreement
		current, mass, agreement = retained, retainedMass, updated
		if improvement < u.cfg.Epsilon {
			break
		}
	}
	return agreement, iterations
}

// pairAgreement is the agreement between two scores on the 0-100 scale.
func pairAgreement(a, b float64) float64 {
	return 1 - math.Abs(a-b)/100
}

// meanPairwiseAgreement averages agreement over all unordered pairs. A
// single score (or none) counts as full agreement.
func meanPairwiseAgreement(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 1
	}
	sum, pairs := 0.0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += pairAgreement(values[i], values[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// agreementMatrix builds the symmetric pairwise agreement matrix with a
// unit diagonal.
func agreementMatrix(values []float64) [][]float64 {
	n := len(values)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a := pairAgreement(values[i], values[j])
			matrix[i][j], matrix[j][i] = a, a
		}
	}
	return matrix
}
