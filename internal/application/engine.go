package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

// PipelineBuilder constructs the stage chain for one computation from an
// immutable config. The builder is injected so the application layer
// stays decoupled from concrete unit implementations.
type PipelineBuilder func(cfg AggregationConfig) ([]ports.Unit, error)

// QualityEvaluator re-runs the quality checks against an already
// completed result, for the standalone validate operation.
type QualityEvaluator func(cfg AggregationConfig, result *domain.AggregatedScore) *domain.QualityReport

// Deps bundles the collaborators an Engine needs.
type Deps struct {
	// Source supplies consistent snapshots of submitted judge scores.
	Source ports.ScoreSource

	// Store persists immutable versioned results.
	Store ports.AggregationStore

	// Builder assembles the pipeline stages for a config.
	Builder PipelineBuilder

	// Evaluator re-runs quality checks for the validate operation.
	Evaluator QualityEvaluator
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithLogger sets the engine's structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches a metrics collector for engine-level counters.
func WithMetrics(mc ports.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = mc }
}

// WithUnitMiddleware wraps every pipeline unit, outermost first, with
// cross-cutting concerns such as metrics or tracing.
func WithUnitMiddleware(mw ...ports.UnitMiddleware) Option {
	return func(e *Engine) { e.middleware = append(e.middleware, mw...) }
}

// WithDebounceWindow sets the coalescing window for Trigger events.
func WithDebounceWindow(window time.Duration) Option {
	return func(e *Engine) { e.window = window }
}

// WithWorkerLimit bounds how many triggered aggregations run in parallel.
func WithWorkerLimit(n int) Option {
	return func(e *Engine) { e.workerLimit = n }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides result ID generation, for deterministic tests.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// Engine orchestrates aggregation per execution. At most one computation
// per execution runs at a time; concurrent triggers for the same
// execution serialize on a per-execution lock, and duplicate on-demand
// Aggregate calls coalesce through singleflight. The pipeline itself is
// pure CPU-bound computation, so different executions aggregate freely
// in parallel.
type Engine struct {
	cfg  AggregationConfig
	deps Deps

	middleware  []ports.UnitMiddleware
	metrics     ports.MetricsCollector
	log         zerolog.Logger
	window      time.Duration
	workerLimit int

	now   func() time.Time
	newID func() string

	flight singleflight.Group

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	debounce *debouncer
	workers  *errgroup.Group
}

// NewEngine validates the config and assembles an engine. Invalid
// configurations are rejected here, before any score processing.
func NewEngine(cfg AggregationConfig, deps Deps, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Store == nil || deps.Builder == nil {
		return nil, fmt.Errorf("engine requires a score source, a store, and a pipeline builder")
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		log:         zerolog.Nop(),
		window:      2 * time.Second,
		workerLimit: 8,
		now:         time.Now,
		newID:       uuid.NewString,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.workers = &errgroup.Group{}
	e.workers.SetLimit(e.workerLimit)
	e.debounce = newDebouncer(e.window, func(executionID string) {
		e.workers.Go(func() error {
			if _, err := e.Aggregate(context.Background(), executionID); err != nil {
				e.log.Error().Err(err).Str("execution_id", executionID).Msg("triggered aggregation failed")
			}
			return nil
		})
	})

	return e, nil
}

// Config returns the engine's immutable base configuration.
func (e *Engine) Config() AggregationConfig { return e.cfg.Clone() }

// Aggregate runs the full pipeline for an execution and persists a new
// result version. Concurrent calls for the same execution coalesce: all
// callers receive the result of a single computation.
func (e *Engine) Aggregate(ctx context.Context, executionID string) (*domain.AggregatedScore, error) {
	v, err, _ := e.flight.Do(executionID, func() (any, error) {
		return e.run(ctx, executionID, e.cfg)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.AggregatedScore), nil
}

// Trigger requests an aggregation in response to an upstream event (for
// example "judge quorum reached"). Rapid repeated triggers for the same
// execution coalesce within the debounce window into one recomputation.
func (e *Engine) Trigger(executionID string) { e.debounce.trigger(executionID) }

// UpdateWeights derives a new config from the weight update, recomputes,
// and persists a new version. The prior version is marked SUPERSEDED
// only after the new version reaches COMPLETE and is stored.
func (e *Engine) UpdateWeights(
	ctx context.Context,
	executionID string,
	update WeightUpdate,
) (*domain.AggregatedScore, error) {
	cfg, err := update.apply(e.cfg)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, executionID, cfg)
}

// GetHistory returns all result versions for an execution in
// chronological order by version.
func (e *Engine) GetHistory(ctx context.Context, executionID string) ([]domain.AggregatedScore, error) {
	return e.deps.Store.History(ctx, executionID)
}

// Latest returns the most recent result version for an execution.
func (e *Engine) Latest(ctx context.Context, executionID string) (*domain.AggregatedScore, error) {
	return e.deps.Store.Latest(ctx, executionID)
}

// Validate re-runs the quality checks for a completed result without
// recomputing the aggregation. The outcome is advisory.
func (e *Engine) Validate(
	_ context.Context,
	result *domain.AggregatedScore,
) (*domain.QualityReport, error) {
	if e.deps.Evaluator == nil {
		return nil, fmt.Errorf("no quality evaluator configured")
	}
	if result == nil {
		return nil, fmt.Errorf("nil result")
	}
	return e.deps.Evaluator(e.cfg, result), nil
}

// Close stops pending debounce timers and waits for in-flight triggered
// aggregations to finish.
func (e *Engine) Close() error {
	e.debounce.stop()
	return e.workers.Wait()
}

// lockFor returns the per-execution serialization lock.
func (e *Engine) lockFor(executionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[executionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[executionID] = l
	}
	return l
}

// run executes one full aggregation under the per-execution lock.
func (e *Engine) run(
	ctx context.Context,
	executionID string,
	cfg AggregationConfig,
) (*domain.AggregatedScore, error) {
	lock := e.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	started := e.now()

	// Consistent snapshot: appends arriving after this point belong to
	// the next computation.
	snapshot, err := e.deps.Source.Snapshot(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot scores: %w", err)
	}

	units, err := e.deps.Builder(cfg)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	for i, u := range units {
		for _, mw := range e.middleware {
			u = mw(u)
		}
		units[i] = u
	}

	pipeline, err := NewPipeline("aggregation", units...)
	if err != nil {
		return nil, err
	}

	state := domain.NewState()
	state = domain.With(state, domain.KeyExecutionID, executionID)
	state = domain.With(state, domain.KeyRawScores, snapshot)

	final, err := pipeline.Execute(ctx, state)
	if err != nil {
		e.recordOutcome("error", started)
		return nil, err
	}

	result, err := e.assemble(ctx, executionID, final)
	if err != nil {
		e.recordOutcome("error", started)
		return nil, err
	}

	prior, err := e.deps.Store.Latest(ctx, executionID)
	if err != nil && !errors.Is(err, domain.ErrExecutionNotFound) {
		return nil, fmt.Errorf("load prior version: %w", err)
	}

	if err := e.deps.Store.Put(ctx, result); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}

	// Optimistic versioning: supersede only after the new version is
	// durably stored.
	if prior != nil && prior.Status != domain.StatusSuperseded {
		if err := e.deps.Store.MarkSuperseded(ctx, executionID, prior.Version); err != nil {
			return nil, fmt.Errorf("supersede version %d: %w", prior.Version, err)
		}
	}

	e.recordOutcome(string(result.Status), started)
	e.log.Info().
		Str("execution_id", executionID).
		Int("version", result.Version).
		Str("status", string(result.Status)).
		Float64("overall_score", result.OverallScore).
		Int("judges", result.JudgeCount).
		Dur("elapsed", e.now().Sub(started)).
		Msg("aggregation complete")

	return result, nil
}

// assemble collects the pipeline's state keys into the final result.
func (e *Engine) assemble(
	ctx context.Context,
	executionID string,
	state domain.State,
) (*domain.AggregatedScore, error) {
	criteria, ok := domain.Get(state, domain.KeyCriterionScores)
	if !ok {
		return nil, fmt.Errorf("pipeline produced no criterion scores")
	}
	overall, ok := domain.Get(state, domain.KeyOverallScore)
	if !ok {
		return nil, fmt.Errorf("pipeline produced no overall score")
	}
	status, ok := domain.Get(state, domain.KeyStatus)
	if !ok {
		return nil, fmt.Errorf("pipeline produced no status")
	}

	scores, _ := domain.Get(state, domain.KeyScores)
	skipped, _ := domain.Get(state, domain.KeySkipped)
	conflicts, _ := domain.Get(state, domain.KeyConflicts)

	result := &domain.AggregatedScore{
		ID:           e.newID(),
		ExecutionID:  executionID,
		OverallScore: overall,
		Criteria:     criteria,
		Conflicts:    conflicts,
		JudgeCount:   len(scores),
		Skipped:      skipped,
		Status:       status,
		CreatedAt:    e.now(),
	}

	if consensus, ok := domain.Get(state, domain.KeyConsensus); ok && consensus != nil {
		result.Consensus = *consensus
	}
	if confidence, ok := domain.Get(state, domain.KeyConfidence); ok && confidence != nil {
		result.Confidence = *confidence
	}
	if quality, ok := domain.Get(state, domain.KeyQuality); ok && quality != nil {
		result.Quality = *quality
	}

	version, err := e.deps.Store.NextVersion(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("next version: %w", err)
	}
	result.Version = version

	return result, nil
}

func (e *Engine) recordOutcome(status string, started time.Time) {
	if e.metrics == nil {
		return
	}
	labels := map[string]string{"status": status}
	e.metrics.RecordCounter("aggregations_total", 1, labels)
	e.metrics.RecordLatency("aggregate", e.now().Sub(started), labels)
}
