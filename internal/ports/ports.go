// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-quorum/internal/domain"
)

// Unit represents one stage of the aggregation pipeline.
// Each Unit performs a specific transformation on the pipeline State,
// enabling composable and reusable aggregation logic.
// Units must be stateless and thread-safe for concurrent execution:
// many different executions' aggregations may run in parallel.
type Unit interface {
	// Name returns a unique identifier for this unit.
	// The name is used for logging, metrics, and tracing.
	Name() string

	// Execute performs the unit's transformation on the provided State.
	// It returns a new State containing the results of the transformation.
	// The original State must not be modified (immutability principle).
	// Any errors during execution should be returned rather than panicking.
	//
	// The context parameter allows for cancellation and deadline
	// propagation between stages; the stages themselves are pure,
	// bounded, CPU-bound computation.
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// Validate checks if the unit is properly configured and ready for
	// execution. It is typically called during pipeline construction.
	Validate() error
}

// UnitMiddleware wraps a Unit with a cross-cutting concern such as
// metrics recording or trace spans.
type UnitMiddleware func(Unit) Unit

// ScoreSource provides consistent snapshots of the judge scores submitted
// for an execution. Ingestion is append-only and may proceed concurrently
// with an in-flight computation; Snapshot must return the set visible at
// call time without being affected by later appends.
type ScoreSource interface {
	// Snapshot returns a point-in-time copy of all judge scores tagged
	// to the execution. The returned slice is owned by the caller.
	Snapshot(ctx context.Context, executionID string) ([]domain.JudgeScore, error)
}

// ScoreIngestor accepts judge score records from external judge
// subsystems. Records are immutable once submitted.
type ScoreIngestor interface {
	// Append records a judge score for the execution.
	Append(ctx context.Context, executionID string, score domain.JudgeScore) error
}

// AggregationStore persists immutable, versioned aggregation results and
// serves history. Implementations are append-only keyed by
// (executionID, version); a persisted result is never mutated in place
// except for the terminal SUPERSEDED status flip.
type AggregationStore interface {
	// Put persists a result. It returns domain.ErrVersionConflict if the
	// result's version is not the next monotonic version for its execution.
	Put(ctx context.Context, result *domain.AggregatedScore) error

	// Get returns the result at the given version, or
	// domain.ErrVersionNotFound.
	Get(ctx context.Context, executionID string, version int) (*domain.AggregatedScore, error)

	// Latest returns the highest-version result for the execution, or
	// domain.ErrExecutionNotFound when none exists.
	Latest(ctx context.Context, executionID string) (*domain.AggregatedScore, error)

	// History returns all results for the execution in chronological
	// order by version.
	History(ctx context.Context, executionID string) ([]domain.AggregatedScore, error)

	// NextVersion returns the version number the next result should
	// carry (1 for a fresh execution).
	NextVersion(ctx context.Context, executionID string) (int, error)

	// MarkSuperseded flips the stored result's status to SUPERSEDED.
	// All other fields are left untouched.
	MarkSuperseded(ctx context.Context, executionID string, version int) error
}

// MetricsCollector abstracts metrics recording so the application layer
// stays decoupled from the metrics backend.
type MetricsCollector interface {
	// RecordLatency records the duration of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a named counter.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets a named gauge value.
	RecordGauge(metric string, value float64, labels map[string]string)
}
