package filter

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/s0up4200/combined-energy/combinedenergy"
)

// Manager holds the filter presets of a config file, compiled once and
// applied to every readings window.
type Manager struct {
	compiler  Compiler
	evaluator *ConcurrentEvaluator

	mu      sync.RWMutex
	presets map[string]CompiledFilter
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithCompiler compiles presets with compiler instead of a private cached one
func WithCompiler(compiler Compiler) ManagerOption {
	return func(m *Manager) {
		m.compiler = compiler
	}
}

// NewManager returns a Manager without presets
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		compiler:  NewExprCompiler(WithCache(100)),
		evaluator: NewConcurrentEvaluator(),
		presets:   make(map[string]CompiledFilter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load compiles presets and replaces the loaded set. On a compile error the
// previous set is kept.
func (m *Manager) Load(presets map[string]string) error {
	compiled := make(map[string]CompiledFilter, len(presets))
	for _, name := range slices.Sorted(maps.Keys(presets)) {
		f, err := m.compiler.Compile(presets[name])
		if err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
		compiled[name] = f
	}

	m.mu.Lock()
	m.presets = compiled
	m.mu.Unlock()
	return nil
}

// Lookup returns the compiled preset called name
func (m *Manager) Lookup(name string) (CompiledFilter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.presets[name]
	return f, ok
}

// Names lists the loaded presets in order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.presets))
}

// Select returns the devices of readings matched by preset name
func (m *Manager) Select(ctx context.Context, name string, readings *combinedenergy.Readings) ([]*combinedenergy.DeviceReadings, error) {
	f, ok := m.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (loaded: %v)", ErrUnknownPreset, name, m.Names())
	}
	return m.evaluator.Evaluate(ctx, f, readings)
}

// SelectAll applies every preset to readings, keyed by preset name
func (m *Manager) SelectAll(ctx context.Context, readings *combinedenergy.Readings) (map[string][]*combinedenergy.DeviceReadings, error) {
	m.mu.RLock()
	presets := maps.Clone(m.presets)
	m.mu.RUnlock()

	return m.evaluator.EvaluateBatch(ctx, presets, readings)
}
