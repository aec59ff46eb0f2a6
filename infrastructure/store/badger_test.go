package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/internal/domain"
)

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreConformance(t *testing.T) {
	testStoreConformance(t, newBadgerStore(t))
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger("", zerolog.Nop())
	assert.Error(t, err)
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, makeResult("exec-1", 1, domain.StatusValidated)))
	require.NoError(t, s.Close())

	reopened, err := OpenBadger(dir, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	latest, err := reopened.Latest(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.InDelta(t, 70.25, latest.OverallScore, 1e-9)

	next, err := reopened.NextVersion(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}

func TestBadgerStoreKeyOrderMatchesVersionOrder(t *testing.T) {
	ctx := context.Background()
	s := newBadgerStore(t)

	// Enough versions to cross a digit boundary in naive string order.
	for v := 1; v <= 12; v++ {
		status := domain.StatusSuperseded
		if v == 12 {
			status = domain.StatusValidated
		}
		require.NoError(t, s.Put(ctx, makeResult("exec-1", v, status)))
	}

	history, err := s.History(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, history, 12)
	for i, result := range history {
		assert.Equal(t, i+1, result.Version)
	}

	latest, err := s.Latest(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 12, latest.Version)
}
