// Package store provides the persistence implementations for versioned
// aggregation results: an in-memory store for tests and embedded use, and
// a Badger-backed store for durable single-node deployments. Both are
// append-only keyed by (executionID, version); the only in-place change
// ever applied to a persisted result is the terminal SUPERSEDED flip.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.AggregationStore = (*MemoryStore)(nil)

// MemoryStore keeps versioned results in memory. Results are stored as
// JSON bytes so reads observe exactly what a durable store would return
// and callers can never mutate stored state through a shared pointer.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string][][]byte // executionID -> version-1 -> encoded result
}

// NewMemoryStore creates an empty in-memory aggregation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string][][]byte)}
}

// Put persists a result at its version.
func (s *MemoryStore) Put(_ context.Context, result *domain.AggregatedScore) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.results[result.ExecutionID]
	if result.Version != len(versions)+1 {
		return fmt.Errorf("%w: execution %s version %d, next is %d",
			domain.ErrVersionConflict, result.ExecutionID, result.Version, len(versions)+1)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	s.results[result.ExecutionID] = append(versions, encoded)
	return nil
}

// Get returns the result at the given version.
func (s *MemoryStore) Get(_ context.Context, executionID string, version int) (*domain.AggregatedScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decodeAt(executionID, version)
}

// Latest returns the highest-version result for the execution.
func (s *MemoryStore) Latest(_ context.Context, executionID string) (*domain.AggregatedScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.results[executionID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, executionID)
	}
	return s.decodeAt(executionID, len(versions))
}

// History returns every version in chronological order.
func (s *MemoryStore) History(_ context.Context, executionID string) ([]domain.AggregatedScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.results[executionID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, executionID)
	}

	out := make([]domain.AggregatedScore, 0, len(versions))
	for v := 1; v <= len(versions); v++ {
		result, err := s.decodeAt(executionID, v)
		if err != nil {
			return nil, err
		}
		out = append(out, *result)
	}
	return out, nil
}

// NextVersion returns the version the next Put should carry.
func (s *MemoryStore) NextVersion(_ context.Context, executionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results[executionID]) + 1, nil
}

// MarkSuperseded flips the stored result's status to SUPERSEDED.
func (s *MemoryStore) MarkSuperseded(_ context.Context, executionID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.decodeAt(executionID, version)
	if err != nil {
		return err
	}
	if result.Status == domain.StatusSuperseded {
		return nil
	}
	if !result.Status.CanTransition(domain.StatusSuperseded) {
		return fmt.Errorf("cannot supersede %s result %s version %d",
			result.Status, executionID, version)
	}

	result.Status = domain.StatusSuperseded
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	s.results[executionID][version-1] = encoded
	return nil
}

// decodeAt expects the caller to hold at least a read lock.
func (s *MemoryStore) decodeAt(executionID string, version int) (*domain.AggregatedScore, error) {
	versions := s.results[executionID]
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("%w: execution %s version %d",
			domain.ErrVersionNotFound, executionID, version)
	}
	var result domain.AggregatedScore
	if err := json.Unmarshal(versions[version-1], &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}
