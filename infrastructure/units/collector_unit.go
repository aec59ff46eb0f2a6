package units

import (
	"context"
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Unit = (*CollectorUnit)(nil)

// maxCriterionAliasDistance is the largest Levenshtein distance at which
// a submitted criterion ID is treated as a near-miss for a rubric
// criterion rather than an unknown criterion.
const maxCriterionAliasDistance = 2

// CollectorUnit gathers the judge scores for one execution, skips
// malformed records individually with a recorded reason, filters by
// judge type and quality threshold, caps per-type counts keeping
// highest-quality first, and enforces quorum minimums.
//
// The collector also normalizes criterion scores from each criterion's
// raw [0, maxScore] scale to the canonical 0-100 scale so every
// downstream stage operates on one scale.
//
// The unit is read-only with respect to external systems: the engine
// snapshots the submitted scores before the pipeline runs.
type CollectorUnit struct {
	name string
	cfg  application.AggregationConfig
}

// NewCollectorUnit creates a collector for the given configuration.
func NewCollectorUnit(name string, cfg application.AggregationConfig) (*CollectorUnit, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CollectorUnit{name: name, cfg: cfg}, nil
}

// Name returns the unit identifier.
func (u *CollectorUnit) Name() string { return u.name }

// Validate checks the unit configuration.
func (u *CollectorUnit) Validate() error { return u.cfg.Validate() }

// Execute filters the raw score snapshot into the retained judge set.
//
// State requirements: domain.KeyRawScores.
// State updates: domain.KeyScores, domain.KeySkipped.
//
// Failure modes: *domain.InsufficientJudgesError when the retained set
// misses the global or a per-type minimum.
func (u *CollectorUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	raw, ok := domain.Get(state, domain.KeyRawScores)
	if !ok {
		return state, fmt.Errorf("raw scores not found in state")
	}

	var skipped []domain.SkippedScore
	seen := make(map[string]struct{}, len(raw))
	byType := make(map[domain.JudgeType][]domain.JudgeScore)

	for _, score := range raw {
		if err := score.Validate(); err != nil {
			skipped = append(skipped, domain.SkippedScore{
				JudgeID: score.JudgeID, JudgeType: score.JudgeType, Reason: err.Error(),
			})
			continue
		}
		if _, dup := seen[score.JudgeID]; dup {
			skipped = append(skipped, domain.SkippedScore{
				JudgeID: score.JudgeID, JudgeType: score.JudgeType,
				Reason: "duplicate submission for judge",
			})
			continue
		}

		policy, known := u.cfg.Judges[score.JudgeType]
		if !known || !policy.Enabled {
			skipped = append(skipped, domain.SkippedScore{
				JudgeID: score.JudgeID, JudgeType: score.JudgeType,
				Reason: fmt.Sprintf("judge type %s not enabled", score.JudgeType),
			})
			continue
		}
		if score.Quality < policy.QualityThreshold {
			skipped = append(skipped, domain.SkippedScore{
				JudgeID: score.JudgeID, JudgeType: score.JudgeType,
				Reason: fmt.Sprintf("quality %.3f below threshold %.3f", score.Quality, policy.QualityThreshold),
			})
			continue
		}

		normalized, notes, err := u.normalizeCriteria(score)
		if err != nil {
			skipped = append(skipped, domain.SkippedScore{
				JudgeID: score.JudgeID, JudgeType: score.JudgeType, Reason: err.Error(),
			})
			continue
		}
		for _, note := range notes {
			skipped = append(skipped, domain.SkippedScore{
				JudgeID: score.JudgeID, JudgeType: score.JudgeType, Reason: note,
			})
		}

		seen[score.JudgeID] = struct{}{}
		score.CriterionScores = normalized
		byType[score.JudgeType] = append(byType[score.JudgeType], score)
	}

	// Cap per type, keeping highest quality first; ties break on judge
	// ID so identical inputs always keep the same judges.
	retained := make([]domain.JudgeScore, 0, len(raw))
	for jt, group := range byType {
		sort.Slice(group, func(a, b int) bool {
			if group[a].Quality != group[b].Quality {
				return group[a].Quality > group[b].Quality
			}
			return group[a].JudgeID < group[b].JudgeID
		})
		policy := u.cfg.Judges[jt]
		if policy.MaximumCount > 0 && len(group) > policy.MaximumCount {
			for _, dropped := range group[policy.MaximumCount:] {
				skipped = append(skipped, domain.SkippedScore{
					JudgeID: dropped.JudgeID, JudgeType: jt,
					Reason: fmt.Sprintf("over per-type maximum of %d", policy.MaximumCount),
				})
			}
			group = group[:policy.MaximumCount]
		}
		retained = append(retained, group...)
	}

	// Per-type minimums are checked before the global minimum so the
	// error names the narrowest breached invariant.
	for _, jt := range domain.AllJudgeTypes() {
		policy, known := u.cfg.Judges[jt]
		if !known || !policy.Enabled || policy.MinimumCount == 0 {
			continue
		}
		if have := countByType(retained, jt); have < policy.MinimumCount {
			return state, &domain.InsufficientJudgesError{
				JudgeType: jt, Required: policy.MinimumCount, Actual: have,
			}
		}
	}
	if len(retained) < u.cfg.Quality.MinimumJudgeCount {
		return state, &domain.InsufficientJudgesError{
			Required: u.cfg.Quality.MinimumJudgeCount, Actual: len(retained),
		}
	}

	sort.Slice(retained, func(a, b int) bool { return retained[a].JudgeID < retained[b].JudgeID })

	state = domain.With(state, domain.KeyScores, retained)
	state = domain.With(state, domain.KeySkipped, skipped)
	return state, nil
}

// normalizeCriteria maps submitted criterion IDs onto the rubric and
// rescales raw scores to 0-100. Near-miss IDs within a small edit
// distance of exactly one rubric criterion are resolved to it; anything
// else is dropped with a note. A raw score above the criterion's
// maxScore marks the whole record malformed.
func (u *CollectorUnit) normalizeCriteria(
	score domain.JudgeScore,
) (map[string]float64, []string, error) {
	normalized := make(map[string]float64, len(score.CriterionScores))
	var notes []string

	ids := make([]string, 0, len(score.CriterionScores))
	for id := range score.CriterionScores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		raw := score.CriterionScores[id]

		criterion, ok := u.cfg.Criterion(id)
		if !ok {
			resolved, found := u.resolveAlias(id)
			if !found {
				notes = append(notes, fmt.Sprintf("criterion %q dropped: no rubric match", id))
				continue
			}
			criterion, _ = u.cfg.Criterion(resolved)
			notes = append(notes, fmt.Sprintf("criterion %q resolved to rubric criterion %q", id, resolved))
		}

		if raw > criterion.MaxScore {
			return nil, nil, fmt.Errorf("%w: criterion %q score %.2f exceeds max %.2f",
				domain.ErrMalformedScore, criterion.ID, raw, criterion.MaxScore)
		}
		if _, dup := normalized[criterion.ID]; dup {
			notes = append(notes, fmt.Sprintf("criterion %q dropped: rubric criterion %q already scored", id, criterion.ID))
			continue
		}
		normalized[criterion.ID] = raw / criterion.MaxScore * 100
	}

	return normalized, notes, nil
}

// resolveAlias finds the unique rubric criterion within the alias edit
// distance. Ambiguous matches resolve to nothing.
func (u *CollectorUnit) resolveAlias(id string) (string, bool) {
	best, bestDistance, matches := "", maxCriterionAliasDistance+1, 0
	for _, criterion := range u.cfg.Rubric.Criteria {
		d := levenshtein.ComputeDistance(id, criterion.ID)
		if d <= maxCriterionAliasDistance {
			matches++
			if d < bestDistance {
				best, bestDistance = criterion.ID, d
			}
		}
	}
	if matches != 1 {
		return "", false
	}
	return best, true
}

func countByType(scores []domain.JudgeScore, jt domain.JudgeType) int {
	n := 0
	for _, s := range scores {
		if s.JudgeType == jt {
			n++
		}
	}
	return n
}
