package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

var _ ports.AggregationStore = (*BadgerStore)(nil)

// BadgerStore persists versioned aggregation results in an embedded
// Badger database. Keys are laid out as agg/<executionID>/<version>
// with the version zero-padded to eight digits so lexicographic key
// order equals version order; values are the JSON-encoded result.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if necessary) a durable Badger store at the
// given directory. The caller owns the returned store and must Close it.
func OpenBadger(path string, log zerolog.Logger) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("badger store requires a path")
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory opens an ephemeral Badger store, for tests.
func OpenBadgerInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error { return s.db.Close() }

func resultKey(executionID string, version int) []byte {
	return []byte(fmt.Sprintf("agg/%s/%08d", executionID, version))
}

func executionPrefix(executionID string) []byte {
	return []byte(fmt.Sprintf("agg/%s/", executionID))
}

// Put persists a result, rejecting non-monotonic versions.
func (s *BadgerStore) Put(ctx context.Context, result *domain.AggregatedScore) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		next, err := nextVersionTxn(txn, result.ExecutionID)
		if err != nil {
			return err
		}
		if result.Version != next {
			return fmt.Errorf("%w: execution %s version %d, next is %d",
				domain.ErrVersionConflict, result.ExecutionID, result.Version, next)
		}
		return txn.Set(resultKey(result.ExecutionID, result.Version), encoded)
	})
}

// Get returns the result at the given version.
func (s *BadgerStore) Get(ctx context.Context, executionID string, version int) (*domain.AggregatedScore, error) {
	var result *domain.AggregatedScore
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		result, err = getTxn(txn, executionID, version)
		return err
	})
	return result, err
}

// Latest returns the highest-version result for the execution.
func (s *BadgerStore) Latest(ctx context.Context, executionID string) (*domain.AggregatedScore, error) {
	var result *domain.AggregatedScore
	err := s.db.View(func(txn *badger.Txn) error {
		latest, err := latestVersionTxn(txn, executionID)
		if err != nil {
			return err
		}
		if latest == 0 {
			return fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, executionID)
		}
		result, err = getTxn(txn, executionID, latest)
		return err
	})
	return result, err
}

// History returns every version in chronological order.
func (s *BadgerStore) History(ctx context.Context, executionID string) ([]domain.AggregatedScore, error) {
	var out []domain.AggregatedScore
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := executionPrefix(executionID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var result domain.AggregatedScore
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &result)
			})
			if err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			out = append(out, result)
		}
		if len(out) == 0 {
			return fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, executionID)
		}
		return nil
	})
	return out, err
}

// NextVersion returns the version the next Put should carry.
func (s *BadgerStore) NextVersion(ctx context.Context, executionID string) (int, error) {
	var next int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		next, err = nextVersionTxn(txn, executionID)
		return err
	})
	return next, err
}

// MarkSuperseded flips the stored result's status to SUPERSEDED.
func (s *BadgerStore) MarkSuperseded(ctx context.Context, executionID string, version int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		result, err := getTxn(txn, executionID, version)
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
		return txn.Set(resultKey(executionID, version), encoded)
	})
}

func getTxn(txn *badger.Txn, executionID string, version int) (*domain.AggregatedScore, error) {
	item, err := txn.Get(resultKey(executionID, version))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: execution %s version %d",
			domain.ErrVersionNotFound, executionID, version)
	}
	if err != nil {
		return nil, err
	}
	var result domain.AggregatedScore
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &result) }); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// latestVersionTxn returns 0 when the execution has no stored results.
func latestVersionTxn(txn *badger.Txn, executionID string) (int, error) {
	prefix := executionPrefix(executionID)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, Reverse: true})
	defer it.Close()

	// Reverse iteration seeks to the last possible key under the prefix.
	seek := append(bytes.Clone(prefix), 0xff)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}

	key := it.Item().Key()
	var version int
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%d", &version); err != nil {
		return 0, fmt.Errorf("malformed result key %q: %w", key, err)
	}
	return version, nil
}

func nextVersionTxn(txn *badger.Txn, executionID string) (int, error) {
	latest, err := latestVersionTxn(txn, executionID)
	if err != nil {
		return 0, err
	}
	return latest + 1, nil
}

// badgerLogger adapts zerolog to Badger's internal logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}
