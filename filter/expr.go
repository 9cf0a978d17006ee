package filter

import (
	"maps"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/s0up4200/combined-energy/combinedenergy"
)

// exprFilter implements CompiledFilter using the expr language
type exprFilter struct {
	expression string
	program    *vm.Program
	extra      map[string]any
}

// ExprCompilerOption configures an expr compiler
type ExprCompilerOption func(*exprCompiler)

// WithCache enables filter caching with the specified size
func WithCache(size int) ExprCompilerOption {
	return func(c *exprCompiler) {
		if size <= 0 {
			return
		}
		if cache, err := newProgramCache(size); err == nil {
			c.cache = cache
		}
	}
}

// WithCustomFunctions adds custom helper functions
func WithCustomFunctions(funcs map[string]any) ExprCompilerOption {
	return func(c *exprCompiler) {
		maps.Copy(c.customFuncs, funcs)
	}
}

// NewExprCompiler creates a new expr-based filter compiler
func NewExprCompiler(opts ...ExprCompilerOption) Compiler {
	c := &exprCompiler{
		customFuncs: make(map[string]any),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// exprCompiler implements Compiler for expr-based filters
type exprCompiler struct {
	customFuncs map[string]any
	cache       *programCache
}

// Compile compiles an expression into an executable filter
func (c *exprCompiler) Compile(expression string) (CompiledFilter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "empty expression",
		}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(expression); ok {
			return cached, nil
		}
	}

	// Type check against an empty device so helper signatures are enforced
	env := newEnvironment(&combinedenergy.DeviceReadings{}, 0)
	maps.Copy(env, c.customFuncs)

	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &CompilationError{Expression: expression, Err: err}
	}

	filter := &exprFilter{
		expression: expression,
		program:    program,
		extra:      c.customFuncs,
	}

	if c.cache != nil {
		c.cache.Put(expression, filter)
	}

	return filter, nil
}

// Clear removes all cached filters
func (c *exprCompiler) Clear() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Size returns the number of cached filters
func (c *exprCompiler) Size() int {
	if c.cache != nil {
		return c.cache.Size()
	}
	return 0
}

// Evaluate evaluates the filter against a device, treating errors as no match
func (f *exprFilter) Evaluate(device *combinedenergy.DeviceReadings, increment int) bool {
	ok, err := f.Match(device, increment)
	return err == nil && ok
}

// Match evaluates the filter against a device
func (f *exprFilter) Match(device *combinedenergy.DeviceReadings, increment int) (bool, error) {
	env := newEnvironment(device, increment)
	maps.Copy(env, f.extra)

	result, err := expr.Run(f.program, env)
	if err != nil {
		return false, &EvaluationError{
			Expression: f.expression,
			DeviceID:   device.DeviceID,
			Err:        err,
		}
	}

	// Result is guaranteed to be bool due to AsBool() option during compilation
	return result.(bool), nil
}

// Expression returns the original expression
func (f *exprFilter) Expression() string {
	return f.expression
}

// addHelperFunctions adds the device independent helpers
func addHelperFunctions(env map[string]any) {
	env["contains"] = func(str, substr string) bool {
		return strings.Contains(strings.ToLower(str), strings.ToLower(substr))
	}
	env["startsWith"] = func(str, prefix string) bool {
		return strings.HasPrefix(strings.ToLower(str), strings.ToLower(prefix))
	}
	env["endsWith"] = func(str, suffix string) bool {
		return strings.HasSuffix(strings.ToLower(str), strings.ToLower(suffix))
	}
	env["lower"] = strings.ToLower
	env["upper"] = strings.ToUpper
}

// newEnvironment creates the evaluation environment for one device
func newEnvironment(device *combinedenergy.DeviceReadings, increment int) map[string]any {
	env := make(map[string]any, 24)

	addHelperFunctions(env)

	env["Device"] = device
	env["DeviceID"] = device.DeviceID
	env["DeviceType"] = string(device.DeviceType)
	env["Buckets"] = device.Buckets()
	env["Increment"] = increment
	env["Series"] = device.SeriesNames()

	env["isType"] = createIsTypeFunc(device.DeviceType)
	env["hasSeries"] = createHasSeriesFunc(device)
	env["last"] = createLastFunc(device)
	env["sum"] = createSumFunc(device)
	env["power"] = createPowerFunc(device, increment)

	return env
}

func createIsTypeFunc(deviceType combinedenergy.DeviceType) func(string) bool {
	return func(t string) bool {
		return strings.EqualFold(string(deviceType), t)
	}
}

func createHasSeriesFunc(device *combinedenergy.DeviceReadings) func(string) bool {
	return func(name string) bool {
		_, ok := device.Series(name)
		return ok
	}
}

func createLastFunc(device *combinedenergy.DeviceReadings) func(string) float64 {
	return func(name string) float64 {
		s, ok := device.Series(name)
		if !ok {
			return 0
		}
		v, _ := s.Last()
		return v
	}
}

func createSumFunc(device *combinedenergy.DeviceReadings) func(string) float64 {
	return func(name string) float64 {
		s, ok := device.Series(name)
		if !ok {
			return 0
		}
		return s.Sum()
	}
}

func createPowerFunc(device *combinedenergy.DeviceReadings, increment int) func(string) float64 {
	return func(name string) float64 {
		kw, _ := device.LastPower(name, increment)
		return kw
	}
}
