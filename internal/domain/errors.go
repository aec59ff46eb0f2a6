package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors returned by the aggregation pipeline.
var (
	// ErrInvalidConfig indicates a malformed AggregationConfig. It is
	// fatal and rejected before any score processing.
	ErrInvalidConfig = errors.New("invalid aggregation config")

	// ErrMalformedScore indicates a structurally invalid judge score
	// record. Malformed records are skipped individually rather than
	// aborting the run.
	ErrMalformedScore = errors.New("malformed judge score")

	// ErrNoScores indicates no judge scores were available for the
	// execution.
	ErrNoScores = errors.New("no judge scores submitted")

	// ErrExecutionNotFound indicates no aggregation exists for the
	// requested execution.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrVersionNotFound indicates the requested result version does
	// not exist.
	ErrVersionNotFound = errors.New("result version not found")

	// ErrVersionConflict indicates an attempt to persist a version that
	// is not the next monotonic version for its execution.
	ErrVersionConflict = errors.New("result version conflict")

	// ErrEmptyUnitName is returned when constructing a pipeline unit
	// with an empty name.
	ErrEmptyUnitName = errors.New("unit name cannot be empty")
)

// InsufficientJudgesError is returned when the collected judge set falls
// below the global or a per-type minimum before outlier removal. It is
// fatal: nothing is persisted.
type InsufficientJudgesError struct {
	// JudgeType names the type whose minimum was breached; empty when
	// the global minimum was breached.
	JudgeType JudgeType

	// Required is the configured minimum count.
	Required int

	// Actual is the number of eligible judges found.
	Actual int
}

// Error implements the error interface.
func (e *InsufficientJudgesError) Error() string {
	if e.JudgeType == "" {
		return fmt.Sprintf("insufficient judges: need %d, have %d", e.Required, e.Actual)
	}
	return fmt.Sprintf("insufficient %s judges: need %d, have %d", e.JudgeType, e.Required, e.Actual)
}

// OutlierExclusionViolatesMinimumError is returned when excluding outliers
// would breach a minimum-count invariant. It names the judges whose
// exclusion caused the breach so the caller can relax the threshold or
// supply more judges.
type OutlierExclusionViolatesMinimumError struct {
	// CriterionID is the criterion whose contributor set was breached.
	CriterionID string

	// JudgeType names the breached per-type minimum; empty for the
	// global minimum.
	JudgeType JudgeType

	// Required is the configured minimum count.
	Required int

	// Remaining is the contributor count after exclusion.
	Remaining int

	// Judges lists the judge IDs that would need to be excluded.
	Judges []string
}

// Error implements the error interface.
func (e *OutlierExclusionViolatesMinimumError) Error() string {
	scope := "global minimum"
	if e.JudgeType != "" {
		scope = fmt.Sprintf("%s minimum", e.JudgeType)
	}
	return fmt.Sprintf(
		"outlier exclusion violates %s on criterion %q: need %d, would leave %d (excluded judges: %s)",
		scope, e.CriterionID, e.Required, e.Remaining, strings.Join(e.Judges, ", "),
	)
}
