package filter

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/combined-energy/combinedenergy"
)

// DefaultConcurrency bounds how many filters are evaluated at once
const DefaultConcurrency = 4

// EvaluatorOption configures an evaluator
type EvaluatorOption func(*ConcurrentEvaluator)

// WithConcurrency sets how many filters run at the same time
func WithConcurrency(n int) EvaluatorOption {
	return func(e *ConcurrentEvaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// ConcurrentEvaluator applies filters to readings windows
type ConcurrentEvaluator struct {
	concurrency int
}

// NewConcurrentEvaluator creates a new concurrent evaluator
func NewConcurrentEvaluator(opts ...EvaluatorOption) *ConcurrentEvaluator {
	e := &ConcurrentEvaluator{
		concurrency: DefaultConcurrency,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Evaluate returns the devices of readings matching filter, in window order
func (e *ConcurrentEvaluator) Evaluate(ctx context.Context, filter CompiledFilter, readings *combinedenergy.Readings) ([]*combinedenergy.DeviceReadings, error) {
	if readings == nil || len(readings.Devices) == 0 {
		return []*combinedenergy.DeviceReadings{}, nil
	}

	matches := make([]*combinedenergy.DeviceReadings, 0, len(readings.Devices))
	for i := range readings.Devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		device := &readings.Devices[i]
		ok, err := filter.Match(device, readings.Seconds)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, device)
		}
	}
	return matches, nil
}

// EvaluateBatch evaluates multiple filters against one window concurrently.
// The first failing filter cancels the rest.
func (e *ConcurrentEvaluator) EvaluateBatch(ctx context.Context, filters map[string]CompiledFilter, readings *combinedenergy.Readings) (map[string][]*combinedenergy.DeviceReadings, error) {
	results := make(map[string][]*combinedenergy.DeviceReadings, len(filters))
	if len(filters) == 0 {
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	var mu sync.Mutex
	for name, filter := range filters {
		g.Go(func() error {
			matches, err := e.Evaluate(ctx, filter, readings)
			if err != nil {
				return err
			}

			mu.Lock()
			results[name] = matches
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
