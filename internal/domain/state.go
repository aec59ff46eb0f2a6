// Package domain contains pure, dependency-free domain models and types
// for the score aggregation engine.
package domain

import (
	"fmt"
	"maps"
	"reflect"
	"time"
)

// Key represents a type-safe generic key for accessing values in State.
// The type parameter T ensures compile-time type safety when getting and
// setting values, eliminating the need for runtime type assertions.
type Key[T any] struct{ name string }

// NewKey creates a new Key with the specified name and type.
// This function is provided for creating keys outside of the domain package.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Predefined state keys used by the aggregation pipeline. Each stage
// consumes only the keys written by earlier stages plus the shared
// immutable configuration held by the units themselves.
var (
	// KeyExecutionID stores the execution being aggregated.
	KeyExecutionID = Key[string]{"execution_id"}

	// KeyRawScores stores the consistent snapshot of submitted judge
	// scores taken when the computation started.
	KeyRawScores = Key[[]JudgeScore]{"raw_scores"}

	// KeyScores stores the judge scores retained by the collector, with
	// criterion scores normalized to the 0-100 scale.
	KeyScores = Key[[]JudgeScore]{"scores"}

	// KeySkipped stores judge scores rejected at collection time.
	KeySkipped = Key[[]SkippedScore]{"skipped"}

	// KeyWeights stores per-judge weights from the weighting engine,
	// keyed by judge ID. Weights need not sum to 1; the aggregator
	// normalizes locally per criterion at use time.
	KeyWeights = Key[map[string]float64]{"weights"}

	// KeyEffectiveWeights stores per-criterion, per-judge weights after
	// outlier actions. A judge absent from a criterion's map has been
	// excluded from that criterion's aggregation.
	KeyEffectiveWeights = Key[map[string]map[string]float64]{"effective_weights"}

	// KeyOutliers stores scores flagged by the outlier detector.
	KeyOutliers = Key[[]Outlier]{"outliers"}

	// KeyCriterionScores stores per-criterion aggregation results.
	KeyCriterionScores = Key[[]AggregatedCriterionScore]{"criterion_scores"}

	// KeyOverallScore stores the rubric-weighted overall score.
	KeyOverallScore = Key[float64]{"overall_score"}

	// KeyConsensus stores agreement and polarization metrics.
	KeyConsensus = Key[*ConsensusReport]{"consensus"}

	// KeyConflicts stores conflicts over the overall score; criterion
	// conflicts are attached to their criterion results.
	KeyConflicts = Key[[]Conflict]{"conflicts"}

	// KeyConfidence stores the calibrated confidence report.
	KeyConfidence = Key[*ConfidenceReport]{"confidence"}

	// KeyQuality stores the quality validator's report.
	KeyQuality = Key[*QualityReport]{"quality"}

	// KeyStatus stores the lifecycle status assigned by the validator.
	KeyStatus = Key[Status]{"status"}
)

// deepCopyValue creates a deep copy of a value to ensure true immutability.
// It handles slices, maps, and other reference types that would otherwise
// allow external modification of State data.
func deepCopyValue(value any) any {
	if value == nil {
		return nil
	}

	// time.Time is immutable and can be returned directly.
	if val, ok := value.(time.Time); ok {
		return val
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice:
		newSlice := reflect.MakeSlice(v.Type(), v.Len(), v.Cap())
		for i := 0; i < v.Len(); i++ {
			newSlice.Index(i).Set(reflect.ValueOf(deepCopyValue(v.Index(i).Interface())))
		}
		return newSlice.Interface()

	case reflect.Map:
		newMap := reflect.MakeMap(v.Type())
		for _, key := range v.MapKeys() {
			copiedKey := deepCopyValue(key.Interface())
			copiedValue := deepCopyValue(v.MapIndex(key).Interface())
			newMap.SetMapIndex(reflect.ValueOf(copiedKey), reflect.ValueOf(copiedValue))
		}
		return newMap.Interface()

	case reflect.Ptr:
		if v.IsNil() {
			return v.Interface()
		}
		newPtr := reflect.New(v.Elem().Type())
		newPtr.Elem().Set(reflect.ValueOf(deepCopyValue(v.Elem().Interface())))
		return newPtr.Interface()

	case reflect.Struct:
		// This performs a shallow copy for unexported fields but deep
		// copies exported fields.
		newStruct := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			if newStruct.Field(i).CanSet() {
				newStruct.Field(i).Set(reflect.ValueOf(deepCopyValue(v.Field(i).Interface())))
			}
		}
		return newStruct.Interface()

	default:
		// Primitive types are returned as-is since they are copied by value.
		return value
	}
}

// State represents an immutable collection of aggregation data that flows
// through the pipeline. It uses copy-on-write semantics to ensure
// thread-safety and prevent unintended mutations. State is the primary
// data structure for passing information between Units.
type State struct {
	// data holds the key-value pairs that make up the state.
	// It is unexported to maintain immutability guarantees.
	data map[string]any
}

// NewState creates a new empty State.
// The returned State is ready to use and can be safely shared across
// goroutines.
func NewState() State {
	return State{
		data: make(map[string]any),
	}
}

// Get retrieves a value from the State with compile-time type safety.
// It returns the value and a boolean indicating whether the key exists
// and contains a value of the correct type. The returned value is a deep
// copy to maintain immutability.
//
// Example:
//
//	scores, ok := Get(state, KeyScores)
//	if !ok {
//	    // handle missing value
//	}
//	// scores is typed as []JudgeScore, no type assertion needed
func Get[T any](s State, key Key[T]) (T, bool) {
	var zero T
	value, exists := s.data[key.name]
	if !exists {
		return zero, false
	}

	copied := deepCopyValue(value)
	val, ok := copied.(T)
	return val, ok
}

// With creates a new State with the specified key-value pair added or
// updated. It implements copy-on-write semantics, returning a new State
// instance while leaving the original unchanged. This function is the
// primary way to add or update data in a State.
//
// Example:
//
//	newState := With(state, KeyExecutionID, "exec-42")
func With[T any](s State, key Key[T], value T) State {
	newData := maps.Clone(s.data)
	newData[key.name] = deepCopyValue(value)
	return State{data: newData}
}

// WithMultiple creates a new State with multiple key-value pairs added
// or updated. It is more efficient than chaining multiple With calls as
// it performs a single clone operation. The updates map uses string keys
// for flexibility when updating multiple values at once.
func (s State) WithMultiple(updates map[string]any) State {
	newData := maps.Clone(s.data)
	for k, v := range updates {
		newData[k] = deepCopyValue(v)
	}
	return State{data: newData}
}

// Keys returns all keys present in the State.
// The returned slice can be used to iterate over all stored values and
// is safe to modify without affecting the original State.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// String returns a string representation of the State for debugging purposes.
func (s State) String() string {
	return fmt.Sprintf("State%v", s.data)
}
