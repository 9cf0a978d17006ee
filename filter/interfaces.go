package filter

import (
	"context"

	"github.com/s0up4200/combined-energy/combinedenergy"
)

// Filter defines the basic interface for device filters
type Filter interface {
	// Evaluate checks if a device matches the filter criteria. increment is
	// the sample length of the window, used when the device omits its own.
	Evaluate(device *combinedenergy.DeviceReadings, increment int) bool
}

// CompiledFilter represents a pre-compiled filter ready for evaluation
type CompiledFilter interface {
	Filter

	// Match is Evaluate with the evaluation error exposed
	Match(device *combinedenergy.DeviceReadings, increment int) (bool, error)

	// Expression returns the original filter expression
	Expression() string
}

// Compiler compiles filter expressions into executable filters
type Compiler interface {
	// Compile parses and compiles a filter expression
	Compile(expression string) (CompiledFilter, error)
}

// CachingCompiler provides caching for compiled filters
type CachingCompiler interface {
	Compiler

	// Clear removes all cached filters
	Clear()

	// Size returns the number of cached filters
	Size() int
}

// BatchEvaluator evaluates multiple filters against one readings window
type BatchEvaluator interface {
	EvaluateBatch(ctx context.Context, filters map[string]CompiledFilter, readings *combinedenergy.Readings) (map[string][]*combinedenergy.DeviceReadings, error)
}
