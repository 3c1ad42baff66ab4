// Package adaptive implements the adaptive-authentication risk engine.
//
// For every login attempt the Manager collects context values from the
// registered providers, runs every registered evaluator against them, folds
// the contributions into a single score with the configured Aggregator and
// classifies that score against the LevelTable. The result is written once
// into the attempt's RiskState, which the login flow reads to allow,
// challenge or deny.
package adaptive

import (
	"sort"
)

// ContextType tags one kind of fact about an attempt, e.g. "user_agent".
type ContextType string

// ContextValue is one immutable fact gathered for an attempt.
type ContextValue interface {
	Type() ContextType
	Value() any
}

// Value is a typed ContextValue.
type Value[T any] struct {
	typ  ContextType
	data T
}

// NewValue creates a typed context value.
func NewValue[T any](typ ContextType, data T) Value[T] {
	return Value[T]{typ: typ, data: data}
}

func (v Value[T]) Type() ContextType { return v.typ }
func (v Value[T]) Value() any        { return v.data }

// Data returns the typed payload.
func (v Value[T]) Data() T { return v.data }

// ContextSet holds at most one value per context type. Identity is the tag,
// not the payload: adding a second value with a tag already present is a
// no-op, so the first representative wins.
type ContextSet struct {
	values map[ContextType]ContextValue
}

// NewContextSet builds a set from values in order, keeping the first value
// seen for each tag. Nil values are skipped.
func NewContextSet(values ...ContextValue) ContextSet {
	s := ContextSet{values: make(map[ContextType]ContextValue, len(values))}
	for _, v := range values {
		s.add(v)
	}
	return s
}

func (s *ContextSet) add(v ContextValue) bool {
	if v == nil {
		return false
	}
	if s.values == nil {
		s.values = make(map[ContextType]ContextValue)
	}
	if _, exists := s.values[v.Type()]; exists {
		return false
	}
	s.values[v.Type()] = v
	return true
}

// Get returns the value for a tag.
func (s ContextSet) Get(typ ContextType) (ContextValue, bool) {
	v, ok := s.values[typ]
	return v, ok
}

// Has reports whether every given tag is present.
func (s ContextSet) Has(types ...ContextType) bool {
	for _, t := range types {
		if _, ok := s.values[t]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the given tags that are absent, in argument order.
func (s ContextSet) Missing(types ...ContextType) []ContextType {
	var missing []ContextType
	for _, t := range types {
		if _, ok := s.values[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// Types returns the tags present, sorted.
func (s ContextSet) Types() []ContextType {
	types := make([]ContextType, 0, len(s.values))
	for t := range s.values {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Len returns the number of distinct tags.
func (s ContextSet) Len() int { return len(s.values) }

// Lookup returns the typed payload stored under typ. It reports false when
// the tag is absent or holds a different payload type.
func Lookup[T any](s ContextSet, typ ContextType) (T, bool) {
	var zero T
	v, ok := s.values[typ]
	if !ok {
		return zero, false
	}
	data, ok := v.Value().(T)
	if !ok {
		return zero, false
	}
	return data, true
}
