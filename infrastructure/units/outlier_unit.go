package units

import (
	"context"
	"fmt"
	"sort"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Unit = (*OutlierUnit)(nil)

// OutlierUnit statistically flags extreme scores per criterion before
// aggregation. A score is an outlier when its z-score against the mean
// and population standard deviation of its peer scores exceeds the
// configured threshold; a zero-spread score set yields no outliers.
//
// The configured action decides what happens to a flagged score:
// exclusion drops it from aggregation, downgrade halves its weight, and
// the remaining actions retain it with an annotation. After exclusions
// the per-type and global minimums are re-checked; a breach fails the
// run naming the judges that would need to be excluded.
type OutlierUnit struct {
	name string
	cfg  application.AggregationConfig
}

// NewOutlierUnit creates an outlier detector for the given configuration.
func NewOutlierUnit(name string, cfg application.AggregationConfig) (*OutlierUnit, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OutlierUnit{name: name, cfg: cfg}, nil
}

// Name returns the unit identifier.
func (u *OutlierUnit) Name() string { return u.name }

// Validate checks the unit configuration.
func (u *OutlierUnit) Validate() error { return u.cfg.Validate() }

// Execute flags outliers and materializes per-criterion effective weights.
//
// State requirements: domain.KeyScores, domain.KeyWeights.
// State updates: domain.KeyEffectiveWeights, domain.KeyOutliers.
//
// Failure modes: *domain.OutlierExclusionViolatesMinimumError when an
// exclusion breaches a minimum-count invariant.
func (u *OutlierUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	scores, ok := domain.Get(state, domain.KeyScores)
	if !ok {
		return state, fmt.Errorf("scores not found in state")
	}
	weights, ok := domain.Get(state, domain.KeyWeights)
	if !ok {
		return state, fmt.Errorf("weights not found in state")
	}

	threshold := u.cfg.Outliers.Threshold
	action := u.cfg.Outliers.Action

	effective := make(map[string]map[string]float64, len(u.cfg.Rubric.Criteria))
	var outliers []domain.Outlier

	for _, criterion := range u.cfg.Rubric.Criteria {
		judges, values, _ := criterionValues(scores, criterion.ID, nil)

		keep := make(map[string]float64, len(judges))
		for _, j := range judges {
			keep[j.JudgeID] = weights[j.JudgeID]
		}

		// Each score is tested against its peers' statistics so a lone
		// extreme value cannot mask itself by inflating the spread. A
		// zero-spread score set yields no outliers.
		zs := looZScores(values)
		if action != domain.OutlierKeep {
			var excluded []string
			for i, j := range judges {
				z := zs[i]
				if z <= threshold {
					continue
				}
				flagged := domain.Outlier{
					JudgeID:     j.JudgeID,
					CriterionID: criterion.ID,
					Score:       values[i],
					ZScore:      z,
					Action:      action,
				}
				switch action {
				case domain.OutlierExclude:
					flagged.Excluded = true
					delete(keep, j.JudgeID)
					excluded = append(excluded, j.JudgeID)
				case domain.OutlierDowngrade:
					keep[j.JudgeID] = keep[j.JudgeID] / 2
				case domain.OutlierFlagForReview, domain.OutlierInvestigate:
					// Retained with annotation only.
				}
				outliers = append(outliers, flagged)
			}

			if len(excluded) > 0 {
				sort.Strings(excluded)
				if err := u.checkMinimums(criterion.ID, scores, keep, excluded); err != nil {
					return state, err
				}
			}
		}

		effective[criterion.ID] = keep
	}

	state = domain.With(state, domain.KeyEffectiveWeights, effective)
	state = domain.With(state, domain.KeyOutliers, outliers)
	return state, nil
}

// checkMinimums re-validates quorum invariants for one criterion after
// outlier exclusion.
func (u *OutlierUnit) checkMinimums(
	criterionID string,
	scores []domain.JudgeScore,
	keep map[string]float64,
	excluded []string,
) error {
	if len(keep) < u.cfg.Quality.MinimumJudgeCount {
		return &domain.OutlierExclusionViolatesMinimumError{
			CriterionID: criterionID,
			Required:    u.cfg.Quality.MinimumJudgeCount,
			Remaining:   len(keep),
			Judges:      excluded,
		}
	}

	remainingByType := make(map[domain.JudgeType]int)
	excludedSet := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		excludedSet[id] = struct{}{}
	}
	excludedByType := make(map[domain.JudgeType][]string)
	for _, s := range scores {
		if _, retained := keep[s.JudgeID]; retained {
			remainingByType[s.JudgeType]++
		}
		if _, ex := excludedSet[s.JudgeID]; ex {
			excludedByType[s.JudgeType] = append(excludedByType[s.JudgeType], s.JudgeID)
		}
	}

	for _, jt := range domain.AllJudgeTypes() {
		policy, known := u.cfg.Judges[jt]
		if !known || !policy.Enabled || policy.MinimumCount == 0 {
			continue
		}
		// Only judges of this type that scored the criterion count; a
		// breach matters only when exclusions of this type caused it.
		if len(excludedByType[jt]) == 0 {
			continue
		}
		if remainingByType[jt] < policy.MinimumCount {
			return &domain.OutlierExclusionViolatesMinimumError{
				CriterionID: criterionID,
				JudgeType:   jt,
				Required:    policy.MinimumCount,
				Remaining:   remainingByType[jt],
				Judges:      excludedByType[jt],
			}
		}
	}
	return nil
}
