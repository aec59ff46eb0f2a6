package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

// tracerName identifies this instrumentation library in trace exports.
const tracerName = "github.com/ahrav/go-quorum/infrastructure/middleware"

// UnitTracing returns a middleware that wraps each pipeline stage in an
// OpenTelemetry span. Spans carry the stage name and the execution ID so
// one aggregation run reads as a single trace.
func UnitTracing() ports.UnitMiddleware {
	tracer := otel.Tracer(tracerName)
	return func(next ports.Unit) ports.Unit {
		return &tracingUnit{next: next, tracer: tracer}
	}
}

type tracingUnit struct {
	next   ports.Unit
	tracer trace.Tracer
}

func (t *tracingUnit) Name() string    { return t.next.Name() }
func (t *tracingUnit) Validate() error { return t.next.Validate() }

func (t *tracingUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	attrs := []attribute.KeyValue{attribute.String("aggregation.unit", t.next.Name())}
	if executionID, ok := domain.Get(state, domain.KeyExecutionID); ok {
		attrs = append(attrs, attribute.String("aggregation.execution_id", executionID))
	}

	ctx, span := t.tracer.Start(ctx, "aggregation.unit."+t.next.Name(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	out, err := t.next.Execute(ctx, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return out, err
}
