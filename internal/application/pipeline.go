package application

import (
	"context"
	"fmt"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

// Pipeline executes units sequentially, passing each unit's output state
// as the next unit's input. The aggregation flow is a fixed chain
// (collect, weight, outliers, aggregate, consensus, conflicts,
// confidence, validate), so no graph topology is needed.
type Pipeline struct {
	// name identifies the pipeline in errors and traces.
	name string
	// units is the ordered stage list; data flows strictly downward.
	units []ports.Unit
}

// NewPipeline validates each unit and assembles the execution chain.
// Unit names must be unique within the pipeline.
func NewPipeline(name string, units ...ports.Unit) (*Pipeline, error) {
	if name == "" {
		return nil, domain.ErrEmptyUnitName
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("pipeline %s: no units", name)
	}

	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		if u == nil {
			return nil, fmt.Errorf("pipeline %s: nil unit", name)
		}
		if _, dup := seen[u.Name()]; dup {
			return nil, fmt.Errorf("pipeline %s: duplicate unit %s", name, u.Name())
		}
		seen[u.Name()] = struct{}{}
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("pipeline %s: unit %s invalid: %w", name, u.Name(), err)
		}
	}

	return &Pipeline{name: name, units: units}, nil
}

// Name returns the pipeline identifier.
func (p *Pipeline) Name() string { return p.name }

// Execute runs all units in order. It checks context cancellation
// between stages and wraps stage failures with the failing unit's name.
func (p *Pipeline) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	current := state
	for _, u := range p.units {
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		default:
		}

		next, err := u.Execute(ctx, current)
		if err != nil {
			return current, fmt.Errorf("pipeline %s: unit %s: %w", p.name, u.Name(), err)
		}
		current = next
	}
	return current, nil
}
