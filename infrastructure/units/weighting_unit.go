package units

import (
	"context"
	"fmt"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Unit = (*WeightingUnit)(nil)

// WeightingUnit assigns a numeric weight to each retained judge score
// according to the configured policy. Weights need not sum to 1
// globally; the aggregator normalizes locally per criterion at use time.
//
// Degenerate signals (every judge reporting zero quality, say) fall back
// to equal weighting rather than producing a zero weight mass.
type WeightingUnit struct {
	name string
	cfg  application.WeightingConfig
}

// NewWeightingUnit creates a weighting engine for the given policy.
func NewWeightingUnit(name string, cfg application.WeightingConfig) (*WeightingUnit, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &WeightingUnit{name: name, cfg: cfg}, nil
}

// Name returns the unit identifier.
func (u *WeightingUnit) Name() string { return u.name }

// Validate checks the unit configuration.
func (u *WeightingUnit) Validate() error {
	if err := validate.Struct(u.cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute computes per-judge weights.
//
// State requirements: domain.KeyScores.
// State updates: domain.KeyWeights.
func (u *WeightingUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	scores, ok := domain.Get(state, domain.KeyScores)
	if !ok {
		return state, fmt.Errorf("scores not found in state")
	}
	if len(scores) == 0 {
		return state, domain.ErrNoScores
	}

	weights := make(map[string]float64, len(scores))
	switch u.cfg.Method {
	case application.WeightingEqual:
		w := 1.0 / float64(len(scores))
		for _, s := range scores {
			weights[s.JudgeID] = w
		}
	case application.WeightingQuality:
		assignNormalized(weights, scores, func(s domain.JudgeScore) float64 { return s.Quality })
	case application.WeightingExpertise:
		assignNormalized(weights, scores, func(s domain.JudgeScore) float64 { return s.Expertise })
	case application.WeightingReputation:
		assignNormalized(weights, scores, func(s domain.JudgeScore) float64 { return s.Reputation })
	case application.WeightingHybrid:
		quality := make(map[string]float64, len(scores))
		expertise := make(map[string]float64, len(scores))
		reputation := make(map[string]float64, len(scores))
		assignNormalized(quality, scores, func(s domain.JudgeScore) float64 { return s.Quality })
		assignNormalized(expertise, scores, func(s domain.JudgeScore) float64 { return s.Expertise })
		assignNormalized(reputation, scores, func(s domain.JudgeScore) float64 { return s.Reputation })
		hw := u.cfg.Hybrid
		for _, s := range scores {
			weights[s.JudgeID] = hw.Quality*quality[s.JudgeID] +
				hw.Expertise*expertise[s.JudgeID] +
				hw.Reputation*reputation[s.JudgeID]
		}
	default:
		return state, fmt.Errorf("%w: unknown weighting method %q", domain.ErrInvalidConfig, u.cfg.Method)
	}

	return domain.With(state, domain.KeyWeights, weights), nil
}

// assignNormalized writes signal/sum(signal) per judge, falling back to
// equal weights when the signal carries no mass.
func assignNormalized(
	dst map[string]float64,
	scores []domain.JudgeScore,
	signal func(domain.JudgeScore) float64,
) {
	total := 0.0
	for _, s := range scores {
		total += signal(s)
	}
	if total <= 0 {
		w := 1.0 / float64(len(scores))
		for _, s := range scores {
			dst[s.JudgeID] = w
		}
		return
	}
	for _, s := range scores {
		dst[s.JudgeID] = signal(s) / total
	}
}
