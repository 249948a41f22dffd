package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func newTestGovernor(limit Limit) (*Governor, *fakeClock) {
	clock := newFakeClock()
	return New(limit, WithClock(clock.Now), WithSleeper(clock.Sleep)), clock
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input   string
		want    Limit
		wantErr bool
	}{
		{input: "15", want: 15},
		{input: " 2 ", want: 2},
		{input: "unlimited", want: Unlimited},
		{input: "UNLIMITED", want: Unlimited},
		{input: "0", wantErr: true},
		{input: "-3", wantErr: true},
		{input: "", wantErr: true},
		{input: "fast", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLimit(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGovernor_AdmitsUpToLimitImmediately(t *testing.T) {
	g, clock := newTestGovernor(3)
	start := clock.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Admit(context.Background()))
	}
	assert.Equal(t, start, clock.Now(), "no waiting below the ceiling")
	assert.Equal(t, 3, g.Status().InWindow)
}

func TestGovernor_WaitsForOldestToExpire(t *testing.T) {
	g, clock := newTestGovernor(2)
	start := clock.Now()

	require.NoError(t, g.Admit(context.Background()))
	clock.Advance(10 * time.Second)
	require.NoError(t, g.Admit(context.Background()))

	require.NoError(t, g.Admit(context.Background()))
	// oldest admission was at start, so the third waits until start+60s+buffer
	assert.Equal(t, start.Add(Window+MinBuffer), clock.Now())
}

func TestGovernor_NeverExceedsCeilingInAnyWindow(t *testing.T) {
	const limit = 4
	g, clock := newTestGovernor(limit)

	var admitted []time.Time
	for i := 0; i < 25; i++ {
		require.NoError(t, g.Admit(context.Background()))
		admitted = append(admitted, clock.Now())
		clock.Advance(time.Duration(i%3) * 7 * time.Second)
	}

	for i := range admitted {
		count := 0
		for j := i; j < len(admitted); j++ {
			if admitted[j].Sub(admitted[i]) < Window {
				count++
			}
		}
		assert.LessOrEqual(t, count, limit, "window starting at admission %d", i)
	}
}

func TestGovernor_UnlimitedSkipsBookkeeping(t *testing.T) {
	g, clock := newTestGovernor(Unlimited)
	start := clock.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, g.Admit(context.Background()))
	}
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, 0, g.Status().InWindow)
	assert.Equal(t, "unlimited", g.Status().Limit)
}

func TestGovernor_SetLimitResetsWindow(t *testing.T) {
	g, clock := newTestGovernor(5)
	start := clock.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Admit(context.Background()))
	}

	g.SetLimit(2)
	assert.Equal(t, Limit(2), g.Limit())
	assert.Equal(t, 0, g.Status().InWindow)

	require.NoError(t, g.Admit(context.Background()))
	require.NoError(t, g.Admit(context.Background()))
	assert.Equal(t, start, clock.Now(), "old traffic must not count against the new limit")
}

func TestGovernor_CancelledContextStopsWaiting(t *testing.T) {
	g, _ := newTestGovernor(1)
	require.NoError(t, g.Admit(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Admit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, g.Status().InWindow)
}

func TestGovernor_ReportsNextFreeSlot(t *testing.T) {
	g, clock := newTestGovernor(1)
	start := clock.Now()
	require.NoError(t, g.Admit(context.Background()))

	status := g.Status()
	assert.Equal(t, "1", status.Limit)
	assert.Equal(t, start.Add(Window), status.NextFree)
}

func TestGovernor_ConcurrentCallersShareWindow(t *testing.T) {
	g := New(50)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Admit(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, g.Status().InWindow)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Admit(ctx), context.DeadlineExceeded)
}

func TestWithBuffer_RaisesToMinimum(t *testing.T) {
	g := New(1, WithBuffer(time.Millisecond))
	assert.Equal(t, MinBuffer, g.buffer)

	g = New(1, WithBuffer(time.Second))
	assert.Equal(t, time.Second, g.buffer)
}

func TestGovernor_SetLimitSameValueKeepsWindow(t *testing.T) {
	g, clock := newTestGovernor(2)
	start := clock.Now()
	require.NoError(t, g.Admit(context.Background()))
	require.NoError(t, g.Admit(context.Background()))

	g.SetLimit(2)
	assert.Equal(t, 2, g.Status().InWindow)

	require.NoError(t, g.Admit(context.Background()))
	assert.True(t, clock.Now().Sub(start) >= Window, "third admission must wait for the window")
}
