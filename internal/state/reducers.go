package state

import (
	"fmt"

	"github.com/clawnet/node/internal/codec"
)

// ReducerFunc is the pure (state, event) -> state|error transform every
// event type implements (spec.md §4.4). Reducers must not read the clock,
// use randomness, or depend on map iteration order: given the same accepted
// event sequence, every implementation must derive bit-identical state.
type ReducerFunc func(s *State, env *codec.Envelope) error

var registry = map[string]ReducerFunc{}

// Register adds a reducer for an event type. Called from each reducer
// file's init(), mirroring the teacher's practice of keeping one file per
// concern (core/escrow.go, core/access_control.go, ...).
func Register(eventType string, fn ReducerFunc) {
	registry[eventType] = fn
}

// Apply dispatches env to its registered reducer. It is the sole entry
// point reducers run through; the validation pipeline calls Apply only
// after every earlier check (schema..precondition) has passed.
func Apply(s *State, env *codec.Envelope) error {
	fn, ok := registry[env.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	return fn(s, env)
}

// Known reports whether an event type has a registered reducer — used by
// the validation pipeline's schema check to reject unknown types early.
func Known(eventType string) bool {
	_, ok := registry[eventType]
	return ok
}
