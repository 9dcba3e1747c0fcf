// Package script runs the small transformation scripts an outline can carry.
//
// The pipeline only depends on Engine. JQ is the real engine; Nop stands in
// when scripting is disabled and makes every script-bearing outline setting
// behave as absent.
package script

import (
	"context"
	"errors"

	"json2csv/internal/jsonvalue"
)

var (
	// ErrNoOutput is returned when a script produces no value.
	ErrNoOutput = errors.New("script: no output")
	// ErrMultipleOutputs is returned when a script produces more than one value.
	ErrMultipleOutputs = errors.New("script: more than one output")
	// ErrUnavailable is returned by Nop.
	ErrUnavailable = errors.New("script: engine unavailable")
)

// IndexVar is the variable that carries the 0-based record index during
// per-row stages.
const IndexVar = "__index"

// Engine evaluates a script against a target value with named variables.
//
// Exactly one output value is expected. The pipeline never calls an engine
// concurrently.
type Engine interface {
	Evaluate(ctx context.Context, script string, target jsonvalue.Value, vars map[string]jsonvalue.Value) (jsonvalue.Value, error)
}

// Nop is the engine used when scripting is turned off.
type Nop struct{}

func (Nop) Evaluate(context.Context, string, jsonvalue.Value, map[string]jsonvalue.Value) (jsonvalue.Value, error) {
	return jsonvalue.Value{}, ErrUnavailable
}

// Available reports whether e can actually run scripts.
func Available(e Engine) bool {
	switch e.(type) {
	case nil, Nop, *Nop:
		return false
	default:
		return true
	}
}
