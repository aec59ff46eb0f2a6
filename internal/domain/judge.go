package domain

import (
	"fmt"
	"math"
	"time"
)

// JudgeType identifies the kind of evaluator that produced a score.
// The set is closed: judge subsystems are known and stable, so new
// types require a code change rather than runtime registration.
type JudgeType string

// The complete set of judge types recognized by the engine.
const (
	// JudgeStaffReviewer is a human staff reviewer assigned to the artifact.
	JudgeStaffReviewer JudgeType = "staff_reviewer"

	// JudgeCommunityVoter is a community member whose vote carries a
	// reputation-derived quality signal.
	JudgeCommunityVoter JudgeType = "community_voter"

	// JudgeAISelfReview is an AI self-review with bias-adjusted confidence.
	JudgeAISelfReview JudgeType = "ai_self_review"

	// JudgeElitePanelist is a member of an expert panel submitting a
	// post-consensus panel score.
	JudgeElitePanelist JudgeType = "elite_panelist"

	// JudgeAutomatedScorer is a deterministic automated scoring system.
	JudgeAutomatedScorer JudgeType = "automated_scorer"

	// JudgeExternalExpert is a domain expert outside the staff pool.
	JudgeExternalExpert JudgeType = "external_expert"
)

// AllJudgeTypes returns the closed set of judge types in a stable order.
func AllJudgeTypes() []JudgeType {
	return []JudgeType{
		JudgeStaffReviewer,
		JudgeCommunityVoter,
		JudgeAISelfReview,
		JudgeElitePanelist,
		JudgeAutomatedScorer,
		JudgeExternalExpert,
	}
}

// Valid reports whether t is a member of the closed judge type set.
func (t JudgeType) Valid() bool {
	switch t {
	case JudgeStaffReviewer, JudgeCommunityVoter, JudgeAISelfReview,
		JudgeElitePanelist, JudgeAutomatedScorer, JudgeExternalExpert:
		return true
	default:
		return false
	}
}

// ExpertiseRank orders judge types by institutional expertise for
// expert-override conflict resolution. Higher values outrank lower ones.
func (t JudgeType) ExpertiseRank() int {
	switch t {
	case JudgeElitePanelist:
		return 6
	case JudgeExternalExpert:
		return 5
	case JudgeStaffReviewer:
		return 4
	case JudgeAISelfReview:
		return 3
	case JudgeAutomatedScorer:
		return 2
	case JudgeCommunityVoter:
		return 1
	default:
		return 0
	}
}

// JudgeScore is one judge's evaluation of one artifact. Records are
// produced by external judge subsystems and are immutable once submitted;
// the collector owns them after ingestion.
type JudgeScore struct {
	// JudgeID uniquely identifies the judge within its subsystem.
	JudgeID string `json:"judge_id" yaml:"judge_id"`

	// JudgeType tags which evaluator subsystem produced this record.
	JudgeType JudgeType `json:"judge_type" yaml:"judge_type"`

	// OverallScore is the judge's overall rating on the 0-100 scale.
	OverallScore float64 `json:"overall_score" yaml:"overall_score"`

	// CriterionScores maps rubric criterion IDs to raw scores on each
	// criterion's own [0, maxScore] scale. The collector normalizes
	// them to 0-100 before any downstream computation.
	CriterionScores map[string]float64 `json:"criterion_scores" yaml:"criterion_scores"`

	// Quality is an externally supplied reliability signal in [0,1]
	// (e.g. community reputation, reviewer track record).
	Quality float64 `json:"quality" yaml:"quality"`

	// Confidence is the judge's own certainty in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Expertise is an externally supplied alignment signal in [0,1]
	// used by expertise-based weighting.
	Expertise float64 `json:"expertise" yaml:"expertise"`

	// Reputation is an externally supplied reputation signal in [0,1]
	// used by reputation-based weighting.
	Reputation float64 `json:"reputation" yaml:"reputation"`

	// SubmittedAt records when the judge subsystem submitted the score.
	SubmittedAt time.Time `json:"submitted_at" yaml:"submitted_at"`
}

// Validate checks a single judge score record for structural validity.
// Malformed records are skipped individually at collection time with the
// returned error as the skip reason.
func (s JudgeScore) Validate() error {
	if s.JudgeID == "" {
		return fmt.Errorf("%w: missing judge id", ErrMalformedScore)
	}
	if !s.JudgeType.Valid() {
		return fmt.Errorf("%w: unknown judge type %q", ErrMalformedScore, s.JudgeType)
	}
	if math.IsNaN(s.OverallScore) || math.IsInf(s.OverallScore, 0) {
		return fmt.Errorf("%w: overall score is not finite", ErrMalformedScore)
	}
	if s.OverallScore < 0 || s.OverallScore > 100 {
		return fmt.Errorf("%w: overall score %.2f outside [0,100]", ErrMalformedScore, s.OverallScore)
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"quality", s.Quality},
		{"confidence", s.Confidence},
		{"expertise", s.Expertise},
		{"reputation", s.Reputation},
	} {
		if math.IsNaN(v.value) || v.value < 0 || v.value > 1 {
			return fmt.Errorf("%w: %s %.3f outside [0,1]", ErrMalformedScore, v.name, v.value)
		}
	}
	for id, score := range s.CriterionScores {
		if id == "" {
			return fmt.Errorf("%w: empty criterion id", ErrMalformedScore)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
			return fmt.Errorf("%w: criterion %q score is invalid", ErrMalformedScore, id)
		}
	}
	return nil
}

// SkippedScore records a judge score that was rejected at collection
// time, preserving the reason for audit.
type SkippedScore struct {
	// JudgeID identifies the judge whose record was skipped.
	JudgeID string `json:"judge_id"`

	// JudgeType is the submitted judge type, possibly invalid.
	JudgeType JudgeType `json:"judge_type,omitempty"`

	// Reason is the human-readable skip reason.
	Reason string `json:"reason"`
}
