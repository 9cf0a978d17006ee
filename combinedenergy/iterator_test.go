package combinedenergy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type window struct {
	start, end time.Time
}

// fakeSource answers readings requests from a script and records them.
type fakeSource struct {
	mu          sync.Mutex
	requests    []window
	responses   []func(start, end time.Time) (*Readings, error)
	logSessions int
	logErr      error
}

func (f *fakeSource) Readings(_ context.Context, start, end time.Time, _ int) (*Readings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, window{start: start, end: end})
	if len(f.responses) == 0 {
		return &Readings{}, nil
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next(start, end)
}

func (f *fakeSource) StartLogSession(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logSessions++
	return f.logErr == nil, f.logErr
}

func returns(count int, end time.Time) func(time.Time, time.Time) (*Readings, error) {
	return func(start, _ time.Time) (*Readings, error) {
		return &Readings{RangeStart: NewTimestamp(start), RangeCount: count, RangeEnd: NewTimestamp(end)}, nil
	}
}

func TestNewReadingsIterator(t *testing.T) {
	_, err := NewReadingsIterator(&fakeSource{}, 0)
	assert.ErrorIs(t, err, ErrInvalidIncrement)

	_, err = NewReadingsIterator(nil, 60)
	assert.Error(t, err)

	start := time.Date(2022, 2, 22, 22, 0, 0, 0, time.UTC)
	_, err = NewReadingsIterator(&fakeSource{}, 60, WithStart(start), WithEnd(start))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestIteratorLogSessionRestart(t *testing.T) {
	base := time.Date(2022, 2, 22, 22, 0, 0, 0, time.UTC)
	src := &fakeSource{
		responses: []func(time.Time, time.Time) (*Readings, error){
			returns(1, base.Add(21*time.Second)),
			returns(1, base.Add(22*time.Second)),
			returns(0, base.Add(22*time.Second)),
			returns(0, base.Add(22*time.Second)),
			returns(3, base.Add(25*time.Second)),
		},
	}
	it, err := NewReadingsIterator(src, 10, WithLogSessionRestart(2))
	require.NoError(t, err)
	ctx := context.Background()

	steps := []struct {
		cursor      time.Time
		logSessions int
		empty       bool
	}{
		{cursor: base.Add(21 * time.Second), logSessions: 1},
		{cursor: base.Add(22 * time.Second), logSessions: 1},
		{cursor: base.Add(22 * time.Second), logSessions: 1, empty: true},
		{cursor: base.Add(22 * time.Second), logSessions: 1, empty: true},
		{cursor: base.Add(25 * time.Second), logSessions: 2},
	}
	for i, step := range steps {
		_, err := it.Next(ctx)
		require.NoError(t, err, "step %d", i)
		assert.True(t, step.cursor.Equal(it.Cursor()), "step %d cursor %s", i, it.Cursor())
		assert.Equal(t, step.logSessions, src.logSessions, "step %d", i)
		assert.Equal(t, step.empty, it.LastEmpty(), "step %d", i)
	}

	// Without a start the first request leaves the range open.
	assert.True(t, src.requests[0].start.IsZero())
	assert.True(t, src.requests[1].start.Equal(base.Add(21*time.Second)))
}

func TestIteratorLogSessionDisabled(t *testing.T) {
	src := &fakeSource{}
	it, err := NewReadingsIterator(src, 60, WithLogSessionRestart(0))
	require.NoError(t, err)

	for range 5 {
		_, err := it.Next(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 0, src.logSessions)
}

func TestIteratorTruncatedWindow(t *testing.T) {
	start := time.Date(2022, 10, 24, 0, 0, 0, 0, time.UTC)
	now := start.Add(6 * time.Hour)
	src := &fakeSource{
		responses: []func(time.Time, time.Time) (*Readings, error){
			// Server stops 30 minutes short of the requested hour.
			returns(6, start.Add(30*time.Minute)),
			returns(12, start.Add(90*time.Minute)),
		},
	}
	it, err := NewReadingsIterator(src, 300,
		WithStart(start),
		WithBatchSpan(time.Hour),
		WithIteratorClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = it.Next(ctx)
	require.NoError(t, err)
	_, err = it.Next(ctx)
	require.NoError(t, err)

	require.Len(t, src.requests, 2)
	assert.True(t, src.requests[0].start.Equal(start))
	assert.True(t, src.requests[0].end.Equal(start.Add(time.Hour)))
	assert.True(t, src.requests[1].start.Equal(start.Add(30*time.Minute)), "next window starts at the truncated end")
	assert.True(t, src.requests[1].end.Equal(start.Add(90*time.Minute)))
}

func TestIteratorBatchSpanClampedToNow(t *testing.T) {
	now := time.Date(2022, 10, 24, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	it, err := NewReadingsIterator(src, 60,
		WithInitialDelta(10*time.Minute),
		WithBatchSpan(time.Hour),
		WithIteratorClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	assert.True(t, now.Add(-10*time.Minute).Equal(it.Cursor()))
	_, err = it.Next(context.Background())
	require.NoError(t, err)

	require.Len(t, src.requests, 1)
	assert.True(t, src.requests[0].start.Equal(now.Add(-10*time.Minute)))
	assert.True(t, src.requests[0].end.Equal(now))
}

func TestIteratorClockBehindCursor(t *testing.T) {
	start := time.Date(2022, 10, 24, 0, 0, 0, 0, time.UTC)
	behind := func() time.Time { return start.Add(-10 * time.Minute) }

	t.Run("finite range keeps its end", func(t *testing.T) {
		end := start.Add(3 * time.Hour)
		src := &fakeSource{}
		it, err := NewReadingsIterator(src, 300,
			WithStart(start),
			WithEnd(end),
			WithBatchSpan(time.Hour),
			WithIteratorClock(behind),
		)
		require.NoError(t, err)

		_, err = it.Next(context.Background())
		require.NoError(t, err)
		require.Len(t, src.requests, 1)
		assert.True(t, src.requests[0].start.Equal(start))
		assert.True(t, src.requests[0].end.Equal(end))
	})

	t.Run("open range lets the server decide", func(t *testing.T) {
		src := &fakeSource{}
		it, err := NewReadingsIterator(src, 300,
			WithStart(start),
			WithBatchSpan(time.Hour),
			WithIteratorClock(behind),
		)
		require.NoError(t, err)

		_, err = it.Next(context.Background())
		require.NoError(t, err)
		require.Len(t, src.requests, 1)
		assert.True(t, src.requests[0].end.IsZero())
	})
}

func TestIteratorEmptyWindowKeepsCursor(t *testing.T) {
	start := time.Date(2022, 10, 24, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{
		responses: []func(time.Time, time.Time) (*Readings, error){
			func(time.Time, time.Time) (*Readings, error) { return &Readings{}, nil },
		},
	}
	it, err := NewReadingsIterator(src, 60, WithStart(start))
	require.NoError(t, err)

	readings, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, readings.Empty())
	assert.True(t, it.LastEmpty())
	assert.True(t, start.Equal(it.Cursor()))
}

func TestIteratorErrorsPropagate(t *testing.T) {
	start := time.Date(2022, 10, 24, 0, 0, 0, 0, time.UTC)
	boom := &APIError{StatusCode: http.StatusBadGateway, Message: "Bad Gateway"}
	src := &fakeSource{
		responses: []func(time.Time, time.Time) (*Readings, error){
			func(time.Time, time.Time) (*Readings, error) { return nil, boom },
			returns(1, start.Add(time.Hour)),
		},
	}
	it, err := NewReadingsIterator(src, 60, WithStart(start))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = it.Next(ctx)
	assert.Same(t, boom, err)
	assert.True(t, start.Equal(it.Cursor()))

	_, err = it.Next(ctx)
	require.NoError(t, err)
	assert.True(t, start.Add(time.Hour).Equal(it.Cursor()))
	assert.True(t, src.requests[1].start.Equal(start))

	logErr := errors.New("log session down")
	failing, err := NewReadingsIterator(&fakeSource{logErr: logErr}, 60)
	require.NoError(t, err)
	_, err = failing.Next(ctx)
	assert.Same(t, logErr, err)
}

func TestIteratorFiniteRange(t *testing.T) {
	start := time.Date(2022, 10, 24, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	src := &fakeSource{
		responses: []func(time.Time, time.Time) (*Readings, error){
			returns(12, start.Add(time.Hour)),
			returns(12, start.Add(2*time.Hour)),
			returns(12, end),
		},
	}
	it, err := NewReadingsIterator(src, 300,
		WithStart(start),
		WithEnd(end),
		WithBatchSpan(time.Hour),
		WithIteratorClock(func() time.Time { return end.Add(time.Hour) }),
	)
	require.NoError(t, err)

	var windows []*Readings
	for readings, err := range it.All(context.Background()) {
		require.NoError(t, err)
		windows = append(windows, readings)
	}

	require.Len(t, windows, 3)
	assert.Len(t, src.requests, 3)
	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrIteratorDone)
}

func TestIteratorFiniteRangeEndsOnEmptyPast(t *testing.T) {
	start := time.Date(2022, 10, 24, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	src := &fakeSource{
		responses: []func(time.Time, time.Time) (*Readings, error){
			returns(6, start.Add(30*time.Minute)),
			returns(0, start.Add(30*time.Minute)),
		},
	}
	it, err := NewReadingsIterator(src, 300,
		WithStart(start),
		WithEnd(end),
		WithIteratorClock(func() time.Time { return end.Add(time.Hour) }),
	)
	require.NoError(t, err)

	count := 0
	for _, err := range it.All(context.Background()) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count)
	assert.Len(t, src.requests, 2)
}

func TestIteratorAllStopsOnBreak(t *testing.T) {
	src := &fakeSource{}
	it, err := NewReadingsIterator(src, 60)
	require.NoError(t, err)

	count := 0
	for range it.All(context.Background()) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
	assert.Len(t, src.requests, 3)
}

func TestIteratorAgainstClient(t *testing.T) {
	start := time.Date(2022, 10, 24, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	clock := newTestClock(end.Add(time.Minute))

	api := newStubAPI(t, 123)
	api.handle("readings", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := strconv.ParseInt(q.Get("rangeStart"), 10, 64)
		if !assert.NoError(t, err) {
			return
		}
		to, err := strconv.ParseInt(q.Get("rangeEnd"), 10, 64)
		if !assert.NoError(t, err) {
			return
		}
		buckets := int(to-from) / 300
		writeJSON(w, http.StatusOK, readingsPayload(time.Unix(from, 0).UTC(), buckets, 300, DeviceTypeSolarPV))
	})
	client, _ := newTestClient(t, api, testCreds, WithClock(clock.Now))

	it, err := NewReadingsIterator(client, 300,
		WithStart(start),
		WithEnd(end),
		WithBatchSpan(time.Hour),
		WithIteratorClock(clock.Now),
	)
	require.NoError(t, err)

	var windows []*Readings
	for readings, err := range it.All(context.Background()) {
		require.NoError(t, err)
		windows = append(windows, readings)
	}

	require.Len(t, windows, 3)
	for i := 1; i < len(windows); i++ {
		assert.True(t, windows[i-1].RangeEnd.Equal(windows[i].RangeStart.Time), "window %d is not contiguous", i)
	}
	for _, w := range windows {
		require.Len(t, w.Devices, 1)
		assert.Len(t, w.Devices[0].Timestamp, 12)
	}
	assert.Equal(t, int32(1), api.logSessions.Load())
	assert.Equal(t, int32(1), api.logins.Load())
}
