package combinedenergy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLogSessionRestart is the number of consecutive empty windows after
// which a new log session is requested.
const DefaultLogSessionRestart = 3

// IteratorOption configures a ReadingsIterator
type IteratorOption func(*ReadingsIterator)

// WithInitialDelta starts the first window this far before now
func WithInitialDelta(d time.Duration) IteratorOption {
	return func(it *ReadingsIterator) {
		if d > 0 {
			it.initialDelta = d
		}
	}
}

// WithStart starts the first window at t. It takes precedence over WithInitialDelta.
func WithStart(t time.Time) IteratorOption {
	return func(it *ReadingsIterator) {
		it.start = t
	}
}

// WithEnd makes the iterator finite: it stops once the cursor reaches t.
func WithEnd(t time.Time) IteratorOption {
	return func(it *ReadingsIterator) {
		it.end = t
	}
}

// WithBatchSpan limits every requested window to at most d
func WithBatchSpan(d time.Duration) IteratorOption {
	return func(it *ReadingsIterator) {
		if d > 0 {
			it.batchSpan = d
		}
	}
}

// WithLogSessionRestart sets how many consecutive empty windows trigger a
// log session restart. Zero disables log session handling entirely.
func WithLogSessionRestart(n int) IteratorOption {
	return func(it *ReadingsIterator) {
		if n >= 0 {
			it.restartAfter = n
		}
	}
}

// WithIteratorClock sets the time source used for "now"
func WithIteratorClock(now func() time.Time) IteratorOption {
	return func(it *ReadingsIterator) {
		if now != nil {
			it.now = now
		}
	}
}

// WithIteratorLogger sets the logger used for log session restarts
func WithIteratorLogger(logger zerolog.Logger) IteratorOption {
	return func(it *ReadingsIterator) {
		it.logger = logger
	}
}

// ReadingsIterator pages through readings window by window. Each window
// starts where the previous returned window ended, so truncated responses
// neither leave gaps nor repeat buckets.
//
// The iterator never sleeps. After an empty window LastEmpty reports true
// and the caller decides how long to wait before calling Next again.
// A ReadingsIterator must not be used from more than one goroutine.
type ReadingsIterator struct {
	src          ReadingsSource
	increment    int
	initialDelta time.Duration
	batchSpan    time.Duration
	start        time.Time
	end          time.Time
	restartAfter int
	now          func() time.Time
	logger       zerolog.Logger

	cursor    time.Time
	started   bool
	done      bool
	lastEmpty bool
	empty     []bool
	emptyPos  int
}

// NewReadingsIterator creates an iterator over src sampling every increment seconds
func NewReadingsIterator(src ReadingsSource, increment int, opts ...IteratorOption) (*ReadingsIterator, error) {
	if increment <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidIncrement, increment)
	}
	if src == nil {
		return nil, errors.New("readings source is required")
	}

	it := &ReadingsIterator{
		src:          src,
		increment:    increment,
		restartAfter: DefaultLogSessionRestart,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(it)
	}

	if !it.start.IsZero() && !it.end.IsZero() && !it.end.After(it.start) {
		return nil, fmt.Errorf("%w: end is not after start", ErrInvalidRange)
	}
	it.empty = make([]bool, it.restartAfter)
	return it, nil
}

// Cursor returns the start of the next window. Zero means the server decides.
func (it *ReadingsIterator) Cursor() time.Time {
	if !it.started {
		return it.initialCursor()
	}
	return it.cursor
}

// LastEmpty reports whether the last window returned no buckets
func (it *ReadingsIterator) LastEmpty() bool {
	return it.lastEmpty
}

// Next fetches the next window. It returns ErrIteratorDone once a finite
// iterator has covered its range. Errors from the source are returned as is
// and leave the cursor untouched, so Next can be retried.
func (it *ReadingsIterator) Next(ctx context.Context) (*Readings, error) {
	if it.done {
		return nil, ErrIteratorDone
	}
	if !it.started {
		it.cursor = it.initialCursor()
	}
	if it.finite() && !it.cursor.IsZero() && !it.cursor.Before(it.end) {
		it.done = true
		return nil, ErrIteratorDone
	}

	if err := it.checkLogSession(ctx); err != nil {
		return nil, err
	}
	it.started = true

	upper := it.upper()
	readings, err := it.src.Readings(ctx, it.cursor, upper, it.increment)
	if err != nil {
		return nil, err
	}

	empty := readings.Empty()
	it.recordEmpty(empty)

	end := readings.RangeEnd.Time
	switch {
	case !end.IsZero() && (it.cursor.IsZero() || end.After(it.cursor)):
		it.cursor = end
	case it.finite() && empty && upper.Equal(it.end) && !it.end.After(it.now()):
		// Nothing more will arrive for a range entirely in the past.
		it.done = true
	}

	return readings, nil
}

// All returns a range-over-func sequence of windows. The sequence stops after
// the first error or once a finite range is exhausted.
func (it *ReadingsIterator) All(ctx context.Context) iter.Seq2[*Readings, error] {
	return func(yield func(*Readings, error) bool) {
		for {
			readings, err := it.Next(ctx)
			if errors.Is(err, ErrIteratorDone) {
				return
			}
			if !yield(readings, err) || err != nil {
				return
			}
		}
	}
}

func (it *ReadingsIterator) finite() bool {
	return !it.end.IsZero()
}

func (it *ReadingsIterator) initialCursor() time.Time {
	if !it.start.IsZero() {
		return it.start
	}
	if it.initialDelta > 0 {
		return it.now().Add(-it.initialDelta)
	}
	return time.Time{}
}

// upper returns the end of the next window, zero meaning open.
func (it *ReadingsIterator) upper() time.Time {
	var upper time.Time
	if it.batchSpan > 0 && !it.cursor.IsZero() {
		upper = it.cursor.Add(it.batchSpan)
		if now := it.now(); upper.After(now) {
			upper = now
		}
	}
	if it.finite() && (upper.IsZero() || it.end.Before(upper)) {
		upper = it.end
	}
	if !upper.IsZero() && !it.cursor.IsZero() && !upper.After(it.cursor) {
		// Cursor is ahead of the clock. A finite range still stops at its
		// end; otherwise the server bounds the window.
		if it.finite() {
			return it.end
		}
		return time.Time{}
	}
	return upper
}

// checkLogSession starts a log session on the first step and whenever the
// last restartAfter windows were all empty.
func (it *ReadingsIterator) checkLogSession(ctx context.Context) error {
	if it.restartAfter == 0 {
		return nil
	}
	if it.started && !it.allEmpty() {
		return nil
	}
	if it.started {
		it.logger.Info().Int("empty_windows", it.restartAfter).Msg("log session expired, restarting")
	}

	ok, err := it.src.StartLogSession(ctx)
	if err != nil {
		return err
	}
	if !ok {
		it.logger.Warn().Msg("log session start was not acknowledged")
	}
	clear(it.empty)
	return nil
}

func (it *ReadingsIterator) recordEmpty(empty bool) {
	it.lastEmpty = empty
	if len(it.empty) == 0 {
		return
	}
	it.empty[it.emptyPos] = empty
	it.emptyPos = (it.emptyPos + 1) % len(it.empty)
}

func (it *ReadingsIterator) allEmpty() bool {
	for _, e := range it.empty {
		if !e {
			return false
		}
	}
	return len(it.empty) > 0
}
