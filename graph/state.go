// Package graph provides a Pregel-style workflow execution engine:
// nodes run in barrier-synchronized super-steps over a shared, typed
// channel state, with durable checkpointing and resumable interrupts.
package graph

import (
	"encoding/json"
	"fmt"
)

// State is the shared workflow state: a mapping of channel name to a
// JSON-like value (nil, bool, float64, string, []any, map[string]any).
//
// A State is never mutated during a super-step. Each node receives a
// deep-copied snapshot and returns proposed updates; the engine merges
// them through each channel's reducer to produce the next State.
type State map[string]any

// Clone creates a deep copy of the state using JSON round-trip
// serialization. Values that cannot be marshaled to JSON (channels,
// functions, cycles) are rejected.
func (s State) Clone() (State, error) {
	if s == nil {
		return State{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = State{}
	}
	return copied, nil
}

// ReducerFunc merges an existing channel value with an incoming update
// and returns the merged value. Reducers must be pure and total: they
// are applied in a fixed left-to-right fold over node registration
// order, so they must be associative-safe under that order but are not
// required to be commutative.
type ReducerFunc func(old, incoming any) any

// Overwrite replaces the old value with the incoming value. This is
// the default policy for undeclared channels.
func Overwrite(_, incoming any) any {
	return incoming
}

// Append concatenates the incoming value onto the old value as a list.
//
// Semantics (matching list channels like "messages"):
//   - a nil old value starts an empty list
//   - a non-list old value is wrapped as a single-element list
//   - a list incoming value is concatenated element-wise
//   - any other incoming value is appended as one element
func Append(old, incoming any) any {
	var arr []any
	switch v := old.(type) {
	case nil:
	case []any:
		arr = append(arr, v...)
	default:
		arr = append(arr, v)
	}
	if items, ok := incoming.([]any); ok {
		return append(arr, items...)
	}
	return append(arr, incoming)
}

// Sum adds the incoming numeric value to the old one. A missing or
// non-numeric old value is treated as 0. The fold runs in float64; the
// fixed registration-order fold keeps rounding reproducible.
func Sum(old, incoming any) any {
	return toFloat(old) + toFloat(incoming)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// Channel declares one named slot in State together with its merge
// policy and an optional default seeded into the initial state.
type Channel struct {
	// Name is the channel key in State.
	Name string

	// Reduce merges updates into the channel. Nil means Overwrite.
	Reduce ReducerFunc

	// Default is the initial value for the channel, or nil for none.
	Default any
}

// Schema declares the channels of a graph's State and their reducers.
//
// The schema is a declaration of intent, not a hard gate: writes to
// undeclared channels are merged with Overwrite, so ad hoc keys remain
// usable.
type Schema struct {
	channels map[string]Channel
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{channels: make(map[string]Channel)}
}

// SimpleSchema creates a schema with the given channel names, all
// using Overwrite semantics.
func SimpleSchema(names ...string) *Schema {
	s := NewSchema()
	for _, n := range names {
		s.Channel(n)
	}
	return s
}

// Channel declares a channel with Overwrite semantics.
func (s *Schema) Channel(name string) *Schema {
	s.channels[name] = Channel{Name: name, Reduce: Overwrite}
	return s
}

// ListChannel declares a channel with Append semantics and an empty
// list default.
func (s *Schema) ListChannel(name string) *Schema {
	s.channels[name] = Channel{Name: name, Reduce: Append, Default: []any{}}
	return s
}

// CounterChannel declares a channel with Sum semantics and a zero
// default.
func (s *Schema) CounterChannel(name string) *Schema {
	s.channels[name] = Channel{Name: name, Reduce: Sum, Default: float64(0)}
	return s
}

// ChannelWithReducer declares a channel with a custom reducer.
func (s *Schema) ChannelWithReducer(name string, reduce ReducerFunc) *Schema {
	s.channels[name] = Channel{Name: name, Reduce: reduce}
	return s
}

// ChannelWithDefault declares an Overwrite channel with a default
// value.
func (s *Schema) ChannelWithDefault(name string, def any) *Schema {
	s.channels[name] = Channel{Name: name, Reduce: Overwrite, Default: def}
	return s
}

// Reducer returns the reducer declared for the channel, or Overwrite
// for undeclared channels.
func (s *Schema) Reducer(name string) ReducerFunc {
	if s != nil {
		if ch, ok := s.channels[name]; ok && ch.Reduce != nil {
			return ch.Reduce
		}
	}
	return Overwrite
}

// Apply merges one update into the state using the channel's reducer.
func (s *Schema) Apply(state State, key string, value any) {
	state[key] = s.Reducer(key)(state[key], value)
}

// Initialize returns a fresh state seeded with channel defaults.
func (s *Schema) Initialize() State {
	state := State{}
	if s == nil {
		return state
	}
	for name, ch := range s.channels {
		if ch.Default != nil {
			state[name] = ch.Default
		}
	}
	return state
}
