package domain

import (
	"time"
)

// Status tracks an aggregated score through its lifecycle.
// Transitions are strictly forward: DRAFT -> COMPLETE -> {VALIDATED|FLAGGED}
// -> SUPERSEDED. A persisted result is never mutated except for the final
// SUPERSEDED flip when a newer version reaches COMPLETE.
type Status string

// Aggregated score lifecycle states.
const (
	// StatusDraft marks a result under construction by the pipeline.
	StatusDraft Status = "DRAFT"

	// StatusComplete marks a result with all pipeline stages applied.
	StatusComplete Status = "COMPLETE"

	// StatusValidated marks a result that passed all quality checks.
	StatusValidated Status = "VALIDATED"

	// StatusFlagged marks a result with quality failures or unresolved
	// conflicts that require human review before downstream consumption.
	StatusFlagged Status = "FLAGGED"

	// StatusSuperseded marks a prior version replaced by a newer one.
	// Superseded results are retained indefinitely for audit.
	StatusSuperseded Status = "SUPERSEDED"
)

// CanTransition reports whether moving from the current status to next is
// a legal lifecycle transition.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusComplete
	case StatusComplete:
		return next == StatusValidated || next == StatusFlagged
	case StatusValidated, StatusFlagged:
		return next == StatusSuperseded
	default:
		return false
	}
}

// HistogramBin is one fixed-width bucket of a score histogram.
type HistogramBin struct {
	// Lower is the inclusive lower bound of the bin.
	Lower float64 `json:"lower"`
	// Upper is the exclusive upper bound (inclusive for the last bin).
	Upper float64 `json:"upper"`
	// Count is the number of scores falling in the bin.
	Count int `json:"count"`
}

// Distribution summarizes the statistical shape of a score set.
// All scores are on the canonical 0-100 scale; variance and standard
// deviation use the population definition.
type Distribution struct {
	Mean      float64        `json:"mean"`
	Median    float64        `json:"median"`
	Mode      float64        `json:"mode"`
	StdDev    float64        `json:"std_dev"`
	Variance  float64        `json:"variance"`
	Q1        float64        `json:"q1"`
	Q2        float64        `json:"q2"`
	Q3        float64        `json:"q3"`
	Skewness  float64        `json:"skewness"`
	Kurtosis  float64        `json:"kurtosis"`
	Histogram []HistogramBin `json:"histogram,omitempty"`
	Count     int            `json:"count"`
}

// Contribution records one judge's share of an aggregated criterion score.
type Contribution struct {
	JudgeID   string    `json:"judge_id"`
	JudgeType JudgeType `json:"judge_type"`

	// Score is the judge's normalized 0-100 score for the criterion.
	Score float64 `json:"score"`

	// Weight is the raw weight assigned by the weighting engine, after
	// any outlier downgrade.
	Weight float64 `json:"weight"`

	// NormalizedWeight is Weight divided by the criterion's weight sum.
	NormalizedWeight float64 `json:"normalized_weight"`

	// Contribution is Score multiplied by NormalizedWeight.
	Contribution float64 `json:"contribution"`
}

// OutlierAction is the configured response when a score exceeds the
// outlier threshold.
type OutlierAction string

// Supported outlier actions.
const (
	// OutlierExclude drops the score from aggregation entirely.
	OutlierExclude OutlierAction = "exclude"

	// OutlierDowngrade halves the score's weight but retains it.
	OutlierDowngrade OutlierAction = "downgrade"

	// OutlierFlagForReview retains the score and annotates it.
	OutlierFlagForReview OutlierAction = "flag_for_review"

	// OutlierInvestigate retains the score and queues it for follow-up.
	OutlierInvestigate OutlierAction = "investigate"

	// OutlierKeep disables outlier handling.
	OutlierKeep OutlierAction = "keep"
)

// Outlier records a score flagged by the statistical outlier pass.
type Outlier struct {
	JudgeID     string        `json:"judge_id"`
	CriterionID string        `json:"criterion_id"`
	Score       float64       `json:"score"`
	ZScore      float64       `json:"z_score"`
	Action      OutlierAction `json:"action"`
	Excluded    bool          `json:"excluded"`
}

// ConflictSeverity tiers disagreements by deviation magnitude.
type ConflictSeverity string

// Conflict severity tiers keyed to z-score bands.
const (
	SeverityMedium   ConflictSeverity = "medium"   // z in (threshold, 3.0]
	SeverityHigh     ConflictSeverity = "high"     // z in (3.0, 3.5]
	SeverityCritical ConflictSeverity = "critical" // z > 3.5
)

// ConflictPosition places a judge relative to the criterion mean.
type ConflictPosition string

// Positions a conflicting judge can hold versus the mean.
const (
	PositionHigher  ConflictPosition = "higher"
	PositionLower   ConflictPosition = "lower"
	PositionNeutral ConflictPosition = "neutral"
)

// ConflictParty is one judge involved in a detected conflict.
type ConflictParty struct {
	JudgeID   string           `json:"judge_id"`
	JudgeType JudgeType        `json:"judge_type"`
	Score     float64          `json:"score"`
	ZScore    float64          `json:"z_score"`
	Position  ConflictPosition `json:"position"`
}

// ResolutionStrategy selects how detected conflicts are resolved.
type ResolutionStrategy string

// Supported conflict resolution strategies.
const (
	// ResolveMajorityRule adopts the mode of the majority cluster.
	ResolveMajorityRule ResolutionStrategy = "majority_rule"

	// ResolveExpertOverride prefers the highest-expertise judge type.
	ResolveExpertOverride ResolutionStrategy = "expert_override"

	// ResolveQualityWeighted recomputes excluding the lowest-quality judges.
	ResolveQualityWeighted ResolutionStrategy = "quality_weighted"

	// ResolveDeliberation leaves the conflict unresolved and requires
	// human sign-off before downstream consumption.
	ResolveDeliberation ResolutionStrategy = "deliberation_required"

	// ResolveAutomated applies statistical smoothing toward the
	// trimmed mean.
	ResolveAutomated ResolutionStrategy = "automated_resolution"
)

// Resolution is the outcome of applying a resolution strategy to a conflict.
type Resolution struct {
	Strategy ResolutionStrategy `json:"strategy"`

	// Resolved is false only for deliberation_required, which defers
	// to human governance.
	Resolved bool `json:"resolved"`

	// AdjustedScore is the resolver's recommended score. It is advisory
	// governance output; the aggregated score itself stands as computed.
	AdjustedScore float64 `json:"adjusted_score"`

	// Explanation is a human-readable account of the adjustment.
	Explanation string `json:"explanation"`

	// Confidence is the resolver's confidence in the adjustment, [0,1].
	Confidence float64 `json:"confidence"`
}

// Conflict records a severe disagreement surfaced for governance,
// detected independently of the aggregation outlier pass.
type Conflict struct {
	// CriterionID names the rubric criterion in dispute; empty for a
	// conflict over the overall score.
	CriterionID string `json:"criterion_id,omitempty"`

	Severity ConflictSeverity `json:"severity"`

	// DetectionConfidence is min(1, z/3) for the strongest deviation.
	DetectionConfidence float64 `json:"detection_confidence"`

	Parties []ConflictParty `json:"parties"`

	Resolution *Resolution `json:"resolution,omitempty"`
}

// AggregatedCriterionScore is the per-criterion aggregation result.
type AggregatedCriterionScore struct {
	CriterionID string `json:"criterion_id"`

	// Weight is the rubric weight of this criterion; rubric weights sum
	// to 1.0 across criteria.
	Weight float64 `json:"weight"`

	// AggregatedScore is the combined 0-100 score for this criterion.
	AggregatedScore float64 `json:"aggregated_score"`

	Distribution  Distribution   `json:"distribution"`
	Contributions []Contribution `json:"contributions,omitempty"`
	Outliers      []Outlier      `json:"outliers,omitempty"`
	Conflicts     []Conflict     `json:"conflicts,omitempty"`
}

// ConsensusReport measures agreement and polarization across judges.
type ConsensusReport struct {
	// Overall is the mean pairwise agreement over all judges, [0,1].
	Overall float64 `json:"overall"`

	// PerCriterion maps criterion IDs to pairwise agreement.
	PerCriterion map[string]float64 `json:"per_criterion,omitempty"`

	// PerJudgeType maps judge types to within-type agreement.
	PerJudgeType map[JudgeType]float64 `json:"per_judge_type,omitempty"`

	// JudgeIDs orders the agreement matrix rows and columns.
	JudgeIDs []string `json:"judge_ids,omitempty"`

	// AgreementMatrix holds pairwise agreement between judges in
	// JudgeIDs order. The diagonal is 1.
	AgreementMatrix [][]float64 `json:"agreement_matrix,omitempty"`

	// Polarization is min(1, variance/625) over overall scores.
	Polarization float64 `json:"polarization"`

	// ScoreVariance is the uncapped population variance of the overall
	// scores. Polarization saturates at 1 above variance 625; quality
	// checks against a variance threshold read this field instead.
	ScoreVariance float64 `json:"score_variance"`

	// Iterations counts Delphi refinement rounds; 0 for the static method.
	Iterations int `json:"iterations"`

	// InitialAgreement and FinalAgreement bracket iterative refinement.
	InitialAgreement float64 `json:"initial_agreement"`
	FinalAgreement   float64 `json:"final_agreement"`

	// ConvergenceRate is FinalAgreement divided by InitialAgreement.
	ConvergenceRate float64 `json:"convergence_rate"`
}

// ConfidenceInterval is a normal-approximation interval around a mean.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// ConfidenceReport combines normalized signals into calibrated confidence.
type ConfidenceReport struct {
	// Overall is the weighted combination of all factors, [0,1].
	Overall float64 `json:"overall"`

	// Factors holds each normalized input signal by name.
	Factors map[string]float64 `json:"factors,omitempty"`

	// PerCriterion maps criterion IDs to criterion-level confidence.
	PerCriterion map[string]float64 `json:"per_criterion,omitempty"`

	// PerJudgeType maps judge types to type-restricted confidence.
	PerJudgeType map[JudgeType]float64 `json:"per_judge_type,omitempty"`

	// OverallInterval bounds the overall score.
	OverallInterval ConfidenceInterval `json:"overall_interval"`

	// CriterionIntervals bounds each criterion's aggregated score.
	CriterionIntervals map[string]ConfidenceInterval `json:"criterion_intervals,omitempty"`

	// Stability is the maximum absolute percentage change in the overall
	// score when any single judge is removed (leave-one-out sensitivity).
	Stability float64 `json:"stability"`
}

// Names of the normalized confidence factors combined by the confidence
// calculator. They key both ConfidenceReport.Factors and the configurable
// factor weights.
const (
	FactorJudgeCount         = "judge_count"
	FactorJudgeQuality       = "judge_quality"
	FactorScoreVariance      = "score_variance"
	FactorConsensus          = "consensus"
	FactorExpertise          = "expertise"
	FactorHistoricalAccuracy = "historical_accuracy"
)

// ConfidenceFactorNames returns the factor names in canonical order.
// Callers folding factors under weights iterate this order so the
// floating-point sum is reproducible bit for bit.
func ConfidenceFactorNames() []string {
	return []string{
		FactorJudgeCount,
		FactorJudgeQuality,
		FactorScoreVariance,
		FactorConsensus,
		FactorExpertise,
		FactorHistoricalAccuracy,
	}
}

// QualityCheck is one validator threshold evaluation.
type QualityCheck struct {
	Name      string  `json:"name"`
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// QualityReport is the quality validator's advisory verdict on a
// completed aggregation.
type QualityReport struct {
	Passed          bool           `json:"passed"`
	Checks          []QualityCheck `json:"checks"`
	Recommendations []string       `json:"recommendations,omitempty"`

	// Strict records whether strict mode was requested; strict failures
	// mandate recomputation with relaxed scope before release.
	Strict bool `json:"strict"`
}

// AggregatedScore is the top-level, immutable, versioned aggregation
// result for one execution. A weight update or new judge data creates a
// new version and marks the prior one SUPERSEDED; persisted versions are
// never deleted.
type AggregatedScore struct {
	// ID uniquely identifies this result (UUID).
	ID string `json:"id"`

	// ExecutionID identifies the evaluated artifact's execution.
	ExecutionID string `json:"execution_id"`

	// Version is monotonic per execution, starting at 1.
	Version int `json:"version"`

	// OverallScore is the rubric-weighted combination of criterion
	// scores on the 0-100 scale.
	OverallScore float64 `json:"overall_score"`

	Criteria []AggregatedCriterionScore `json:"criteria"`

	Confidence ConfidenceReport `json:"confidence"`
	Consensus  ConsensusReport  `json:"consensus"`
	Quality    QualityReport    `json:"quality"`

	// Conflicts lists conflicts over the overall score; criterion-level
	// conflicts live on their criterion entries.
	Conflicts []Conflict `json:"conflicts,omitempty"`

	// JudgeCount is the number of judge scores that entered aggregation.
	JudgeCount int `json:"judge_count"`

	// Skipped records judge scores rejected at collection time.
	Skipped []SkippedScore `json:"skipped,omitempty"`

	Status Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

// HasUnresolvedConflicts reports whether any conflict, at the overall or
// criterion level, remains unresolved. Unresolved conflicts never block
// persistence but force FLAGGED status.
func (a *AggregatedScore) HasUnresolvedConflicts() bool {
	for _, c := range a.Conflicts {
		if c.Resolution == nil || !c.Resolution.Resolved {
			return true
		}
	}
	for _, cs := range a.Criteria {
		for _, c := range cs.Conflicts {
			if c.Resolution == nil || !c.Resolution.Resolved {
				return true
			}
		}
	}
	return false
}
