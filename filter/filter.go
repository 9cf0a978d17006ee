// Package filter selects devices out of a readings window with expr-lang
// expressions such as
//
//	isType("SOLAR_PV") and power("energySupplied") > 1.5
//
// Available fields: Device, DeviceID, DeviceType, Buckets, Increment, Series.
// Available helpers: isType, hasSeries, last, sum, power, contains,
// startsWith, endsWith, lower, upper.
package filter

import (
	"context"

	"github.com/s0up4200/combined-energy/combinedenergy"
)

var defaultCompiler = NewExprCompiler(WithCache(100))

// CompileFilter compiles an expression with the shared cached compiler
func CompileFilter(expression string) (CompiledFilter, error) {
	return defaultCompiler.Compile(expression)
}

// Apply compiles expression and returns the matching devices of readings
func Apply(ctx context.Context, expression string, readings *combinedenergy.Readings) ([]*combinedenergy.DeviceReadings, error) {
	filter, err := CompileFilter(expression)
	if err != nil {
		return nil, err
	}
	return NewConcurrentEvaluator().Evaluate(ctx, filter, readings)
}

// EvaluateFilters compiles and evaluates several named expressions at once
func EvaluateFilters(ctx context.Context, filters map[string]string, readings *combinedenergy.Readings) (map[string][]*combinedenergy.DeviceReadings, error) {
	m := NewManager(WithCompiler(defaultCompiler))
	if err := m.Load(filters); err != nil {
		return nil, err
	}
	return m.SelectAll(ctx, readings)
}
