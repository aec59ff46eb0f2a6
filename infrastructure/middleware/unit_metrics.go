package middleware

import (
	"context"
	"time"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

// UnitMetrics returns a middleware that records per-stage latency and
// outcome counters through the given collector. The stage name labels
// the operation so dashboards can break the pipeline down per unit.
func UnitMetrics(mc ports.MetricsCollector) ports.UnitMiddleware {
	return func(next ports.Unit) ports.Unit {
		return &metricsUnit{next: next, mc: mc}
	}
}

type metricsUnit struct {
	next ports.Unit
	mc   ports.MetricsCollector
}

func (m *metricsUnit) Name() string    { return m.next.Name() }
func (m *metricsUnit) Validate() error { return m.next.Validate() }

func (m *metricsUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	started := time.Now()
	out, err := m.next.Execute(ctx, state)

	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := map[string]string{"status": status}
	m.mc.RecordLatency("unit_"+m.next.Name(), time.Since(started), labels)
	m.mc.RecordCounter("unit_"+m.next.Name(), 1, labels)
	return out, err
}
