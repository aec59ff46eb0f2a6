package units

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.Unit = (*ConflictUnit)(nil)

// Severity bands for conflict classification, in peer z-score units.
const (
	severityHighBound     = 3.0
	severityCriticalBound = 3.5
)

// ConflictUnit surfaces severe disagreements for governance. It runs
// independently of the outlier pass, on the full collected judge set and
// with its own stricter threshold, so a score excluded from aggregation
// can still raise a conflict and vice versa.
//
// Detected conflicts are resolved with the configured strategy. A
// resolution records an adjusted score, a human-readable explanation,
// and a confidence value as advisory governance output; the aggregated
// scores themselves stand as computed. The deliberation_required
// strategy leaves conflicts unresolved, which forces the FLAGGED status
// downstream.
type ConflictUnit struct {
	name   string
	cfg    application.ConflictConfig
	agg    application.AggregationMethodConfig
	rubric application.RubricConfig

	printer *message.Printer
}

// NewConflictUnit creates a conflict detector and resolver.
func NewConflictUnit(
	name string,
	cfg application.ConflictConfig,
	agg application.AggregationMethodConfig,
	rubric application.RubricConfig,
) (*ConflictUnit, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &ConflictUnit{
		name:    name,
		cfg:     cfg,
		agg:     agg,
		rubric:  rubric,
		printer: message.NewPrinter(language.English),
	}, nil
}

// Name returns the unit identifier.
func (u *ConflictUnit) Name() string { return u.name }

// Validate checks the unit configuration.
func (u *ConflictUnit) Validate() error {
	if err := validate.Struct(u.cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute detects and resolves conflicts.
//
// State requirements: domain.KeyScores, domain.KeyCriterionScores,
// domain.KeyOverallScore.
// State updates: domain.KeyCriterionScores, domain.KeyConflicts.
func (u *ConflictUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	scores, ok := domain.Get(state, domain.KeyScores)
	if !ok {
		return state, fmt.Errorf("scores not found in state")
	}
	criteria, ok := domain.Get(state, domain.KeyCriterionScores)
	if !ok {
		return state, fmt.Errorf("criterion scores not found in state")
	}
	overall, ok := domain.Get(state, domain.KeyOverallScore)
	if !ok {
		return state, fmt.Errorf("overall score not found in state")
	}

	updated := make([]domain.AggregatedCriterionScore, len(criteria))
	copy(updated, criteria)

	for i, cs := range updated {
		judges, values, _ := criterionValues(scores, cs.CriterionID, nil)
		conflict := u.detect(cs.CriterionID, judges, values)
		if conflict == nil {
			continue
		}
		conflict.Resolution = u.resolve(judges, values, *conflict, cs.AggregatedScore)
		updated[i].Conflicts = append(updated[i].Conflicts, *conflict)
	}

	// A conflict over the overall scores is detected against the judges'
	// own overall submissions, not the derived value.
	var topLevel []domain.Conflict
	sorted := make([]domain.JudgeScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].JudgeID < sorted[b].JudgeID })
	_, overallScores := overallValues(scores)
	if conflict := u.detect("", sorted, overallScores); conflict != nil {
		conflict.Resolution = u.resolve(sorted, overallScores, *conflict, overall)
		topLevel = append(topLevel, *conflict)
	}

	state = domain.With(state, domain.KeyCriterionScores, updated)
	state = domain.With(state, domain.KeyConflicts, topLevel)
	return state, nil
}

// detect flags a conflict when any judge's score deviates from its peers
// beyond the conflict threshold. Returns nil when the judges agree.
func (u *ConflictUnit) detect(
	criterionID string,
	judges []domain.JudgeScore,
	values []float64,
) *domain.Conflict {
	zs := looZScores(values)
	m := mean(values)

	var parties []domain.ConflictParty
	maxZ := 0.0
	for i, j := range judges {
		if zs[i] <= u.cfg.Threshold {
			continue
		}
		position := domain.PositionNeutral
		switch {
		case values[i] > m:
			position = domain.PositionHigher
		case values[i] < m:
			position = domain.PositionLower
		}
		parties = append(parties, domain.ConflictParty{
			JudgeID:   j.JudgeID,
			JudgeType: j.JudgeType,
			Score:     values[i],
			ZScore:    zs[i],
			Position:  position,
		})
		if zs[i] > maxZ {
			maxZ = zs[i]
		}
	}
	if len(parties) == 0 {
		return nil
	}

	severity := domain.SeverityMedium
	switch {
	case maxZ > severityCriticalBound:
		severity = domain.SeverityCritical
	case maxZ > severityHighBound:
		severity = domain.SeverityHigh
	}

	return &domain.Conflict{
		CriterionID:         criterionID,
		Severity:            severity,
		DetectionConfidence: math.Min(1, maxZ/3),
		Parties:             parties,
	}
}

// resolve applies the configured strategy. current is the aggregated
// score the adjustment replaces.
func (u *ConflictUnit) resolve(
	judges []domain.JudgeScore,
	values []float64,
	conflict domain.Conflict,
	current float64,
) *domain.Resolution {
	switch u.cfg.Resolution {
	case domain.ResolveMajorityRule:
		return u.resolveMajority(judges, values, conflict)
	case domain.ResolveExpertOverride:
		return u.resolveExpert(judges, values)
	case domain.ResolveQualityWeighted:
		return u.resolveQualityWeighted(judges, values)
	case domain.ResolveAutomated:
		return u.resolveAutomated(values, current)
	default:
		return &domain.Resolution{
			Strategy: domain.ResolveDeliberation,
			Resolved: false,
			Explanation: u.printer.Sprintf(
				"deliberation required: %d judge(s) deviate beyond z=%.1f and human review is mandated",
				len(conflict.Parties), u.cfg.Threshold),
		}
	}
}

// resolveMajority adopts the most common score among the non-conflicting
// majority cluster.
func (u *ConflictUnit) resolveMajority(
	judges []domain.JudgeScore,
	values []float64,
	conflict domain.Conflict,
) *domain.Resolution {
	conflicting := make(map[string]struct{}, len(conflict.Parties))
	for _, p := range conflict.Parties {
		conflicting[p.JudgeID] = struct{}{}
	}

	var cluster []float64
	for i, j := range judges {
		if _, in := conflicting[j.JudgeID]; !in {
			cluster = append(cluster, values[i])
		}
	}
	if len(cluster) == 0 {
		cluster = values
	}

	adjusted := mode(cluster)
	return &domain.Resolution{
		Strategy:      domain.ResolveMajorityRule,
		Resolved:      true,
		AdjustedScore: adjusted,
		Confidence:    float64(len(cluster)) / float64(len(values)),
		Explanation: u.printer.Sprintf(
			"majority rule: adopted %.1f, the most common score among the %d of %d judges in agreement",
			adjusted, len(cluster), len(values)),
	}
}

// resolveExpert adopts the score of the most expert judge present,
// ranked by judge type first and the judge's own expertise signal second.
func (u *ConflictUnit) resolveExpert(
	judges []domain.JudgeScore,
	values []float64,
) *domain.Resolution {
	best := 0
	for i := 1; i < len(judges); i++ {
		br, ir := judges[best].JudgeType.ExpertiseRank(), judges[i].JudgeType.ExpertiseRank()
		switch {
		case ir > br:
			best = i
		case ir == br && judges[i].Expertise > judges[best].Expertise:
			best = i
		case ir == br && judges[i].Expertise == judges[best].Expertise &&
			judges[i].JudgeID < judges[best].JudgeID:
			best = i
		}
	}

	expert := judges[best]
	return &domain.Resolution{
		Strategy:      domain.ResolveExpertOverride,
		Resolved:      true,
		AdjustedScore: values[best],
		Confidence:    expert.Confidence,
		Explanation: u.printer.Sprintf(
			"expert override: adopted %.1f from %s (%s), the highest-expertise judge present",
			values[best], expert.JudgeID, expert.JudgeType),
	}
}

// resolveQualityWeighted recomputes a quality-weighted mean after
// dropping the lowest-quality quarter of the judges (at least one, but
// always keeping at least two).
func (u *ConflictUnit) resolveQualityWeighted(
	judges []domain.JudgeScore,
	values []float64,
) *domain.Resolution {
	n := len(judges)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if judges[order[a]].Quality != judges[order[b]].Quality {
			return judges[order[a]].Quality < judges[order[b]].Quality
		}
		return judges[order[a]].JudgeID < judges[order[b]].JudgeID
	})

	drop := n / 4
	if drop < 1 {
		drop = 1
	}
	if n-drop < 2 {
		drop = n - 2
	}
	if drop < 0 {
		drop = 0
	}

	kept := order[drop:]
	keptValues := make([]float64, len(kept))
	keptWeights := make([]float64, len(kept))
	qualitySum := 0.0
	for i, idx := range kept {
		keptValues[i] = values[idx]
		keptWeights[i] = judges[idx].Quality
		qualitySum += judges[idx].Quality
	}

	adjusted := weightedMean(keptValues, keptWeights)
	return &domain.Resolution{
		Strategy:      domain.ResolveQualityWeighted,
		Resolved:      true,
		AdjustedScore: adjusted,
		Confidence:    qualitySum / float64(len(kept)),
		Explanation: u.printer.Sprintf(
			"quality weighted: recomputed %.1f from the %d highest-quality of %d judges",
			adjusted, len(kept), n),
	}
}

// resolveAutomated smooths the aggregated score halfway toward the 20%
// trimmed mean of the disputed scores.
func (u *ConflictUnit) resolveAutomated(values []float64, current float64) *domain.Resolution {
	target := trimmedMean(values, 0.2)
	adjusted := current + (target-current)/2
	return &domain.Resolution{
		Strategy:      domain.ResolveAutomated,
		Resolved:      true,
		AdjustedScore: adjusted,
		Confidence:    1 - math.Min(1, popStdDev(values)/25),
		Explanation: u.printer.Sprintf(
			"automated resolution: smoothed %.1f halfway toward the trimmed mean %.1f, yielding %.1f",
			current, target, adjusted),
	}
}
