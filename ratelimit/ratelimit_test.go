package ratelimit

import (
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
	// Fixed point well away from a minute boundary.
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 15, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestUnlimitedWithoutConfig(t *testing.T) {
	l := New(nil)

	d := l.Check("tenant:t1", DimensionRequests, 1)
	assert.True(t, d.Allowed)
}

func TestFixedWindowLimit(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Dimension]Limit{
		DimensionRequests: {Algorithm: FixedWindow, Limit: 10, Window: time.Minute},
	}, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		d := l.Check("tenant:t7", DimensionRequests, 1)
		require.True(t, d.Allowed, "request %d should pass", i+1)
	}

	d := l.Check("tenant:t7", DimensionRequests, 1)
	require.False(t, d.Allowed)

	boundary := clock.Now().Truncate(time.Minute)
	assert.Equal(t, boundary.Add(time.Minute), d.ResetAt)
	assert.Zero(t, d.Remaining)

	// Next window starts fresh.
	clock.Advance(time.Minute)
	d = l.Check("tenant:t7", DimensionRequests, 1)
	assert.True(t, d.Allowed)
}

func TestFixedWindowDenialConsumesNothing(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Dimension]Limit{
		DimensionTokens: {Algorithm: FixedWindow, Limit: 100, Window: time.Minute},
	}, WithClock(clock.Now))

	require.True(t, l.Check("tenant:t1", DimensionTokens, 60).Allowed)
	require.False(t, l.Check("tenant:t1", DimensionTokens, 60).Allowed)

	// The denied 60 left the remaining 40 intact.
	d := l.Check("tenant:t1", DimensionTokens, 40)
	assert.True(t, d.Allowed)
}

func TestSlidingWindowAgesOutOldest(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Dimension]Limit{
		DimensionRequests: {Algorithm: SlidingWindow, Limit: 2, Window: time.Minute},
	}, WithClock(clock.Now))

	first := clock.Now()
	require.True(t, l.Check("k", DimensionRequests, 1).Allowed)
	clock.Advance(10 * time.Second)
	require.True(t, l.Check("k", DimensionRequests, 1).Allowed)

	d := l.Check("k", DimensionRequests, 1)
	require.False(t, d.Allowed)
	// Capacity frees when the oldest entry leaves the window.
	assert.Equal(t, first.Add(time.Minute), d.ResetAt)

	clock.Advance(51 * time.Second)
	assert.True(t, l.Check("k", DimensionRequests, 1).Allowed)
}

func TestTokenBucketExactConsumption(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Dimension]Limit{
		DimensionTokens: {Algorithm: TokenBucket, Limit: 100, RefillRate: 10},
	}, WithClock(clock.Now))

	d := l.Check("k", DimensionTokens, 30)
	require.True(t, d.Allowed)
	assert.InDelta(t, 70, d.Remaining, 1e-9)

	d = l.Check("k", DimensionTokens, 70)
	require.True(t, d.Allowed)
	assert.InDelta(t, 0, d.Remaining, 1e-9)
}

func TestTokenBucketNoPartialConsumption(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Dimension]Limit{
		DimensionTokens: {Algorithm: TokenBucket, Limit: 100, RefillRate: 10},
	}, WithClock(clock.Now))

	d := l.Check("k", DimensionTokens, 150)
	require.False(t, d.Allowed)
	assert.InDelta(t, 100, d.Remaining, 1e-9)
	// 50 tokens short at 10/s: capacity in 5s.
	assert.Equal(t, clock.Now().Add(5*time.Second), d.ResetAt)

	// The full bucket is still spendable.
	assert.True(t, l.Check("k", DimensionTokens, 100).Allowed)
}

func TestTokenBucketRefills(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Dimension]Limit{
		DimensionTokens: {Algorithm: TokenBucket, Limit: 100, RefillRate: 10},
	}, WithClock(clock.Now))

	require.True(t, l.Check("k", DimensionTokens, 100).Allowed)
	require.False(t, l.Check("k", DimensionTokens, 50).Allowed)

	clock.Advance(5 * time.Second)
	d := l.Check("k", DimensionTokens, 50)
	assert.True(t, d.Allowed)

	// Refill never exceeds capacity.
	clock.Advance(time.Hour)
	d = l.Check("k", DimensionTokens, 1)
	require.True(t, d.Allowed)
	assert.InDelta(t, 99, d.Remaining, 1e-9)
}

func TestLeakyBucketDrains(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Dimension]Limit{
		DimensionRequests: {Algorithm: LeakyBucket, Limit: 10, DrainRate: 1},
	}, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		require.True(t, l.Check("k", DimensionRequests, 1).Allowed)
	}
	d := l.Check("k", DimensionRequests, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, clock.Now().Add(time.Second), d.ResetAt)

	clock.Advance(5 * time.Second)
	for i := 0; i < 5; i++ {
		require.True(t, l.Check("k", DimensionRequests, 1).Allowed, "after drain %d", i)
	}
	assert.False(t, l.Check("k", DimensionRequests, 1).Allowed)
}

func TestCheckAndConsumeIsAtomic(t *testing.T) {
	l := New(map[Dimension]Limit{
		DimensionRequests: {Algorithm: TokenBucket, Limit: 50},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("k", DimensionRequests, 1).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Never oversubscribes the last unit of quota.
	assert.Equal(t, 50, allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(map[Dimension]Limit{
		DimensionRequests: {Algorithm: TokenBucket, Limit: 1},
	})

	require.True(t, l.Check("tenant:a", DimensionRequests, 1).Allowed)
	require.False(t, l.Check("tenant:a", DimensionRequests, 1).Allowed)
	assert.True(t, l.Check("tenant:b", DimensionRequests, 1).Allowed)
}

func TestPerKeyOverride(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Dimension]Limit{
		DimensionRequests: {Algorithm: FixedWindow, Limit: 1, Window: time.Minute},
	},
		WithClock(clock.Now),
		WithOverride("tenant:vip", DimensionRequests, Limit{
			Algorithm: FixedWindow, Limit: 100, Window: time.Minute,
		}),
	)

	require.True(t, l.Check("tenant:std", DimensionRequests, 1).Allowed)
	require.False(t, l.Check("tenant:std", DimensionRequests, 1).Allowed)

	for i := 0; i < 100; i++ {
		require.True(t, l.Check("tenant:vip", DimensionRequests, 1).Allowed)
	}
	assert.False(t, l.Check("tenant:vip", DimensionRequests, 1).Allowed)
}

func TestViolationHookFires(t *testing.T) {
	got := make(chan Violation, 1)
	l := New(map[Dimension]Limit{
		DimensionCost: {Algorithm: TokenBucket, Limit: 1},
	}, WithViolationHook(func(v Violation) { got <- v }))

	require.True(t, l.Check("tenant:t1", DimensionCost, 1).Allowed)
	require.False(t, l.Check("tenant:t1", DimensionCost, 0.5).Allowed)

	select {
	case v := <-got:
		assert.NotEmpty(t, v.ID)
		assert.Equal(t, "tenant:t1", v.Identifier)
		assert.Equal(t, DimensionCost, v.Dimension)
		assert.InDelta(t, 0.5, v.Weight, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("violation hook never fired")
	}
}

func TestViolationHookNotCalledOnAllow(t *testing.T) {
	called := make(chan struct{}, 1)
	l := New(map[Dimension]Limit{
		DimensionRequests: {Algorithm: TokenBucket, Limit: 10},
	}, WithViolationHook(func(Violation) { called <- struct{}{} }))

	l.Check("k", DimensionRequests, 1)

	select {
	case <-called:
		t.Fatal("hook fired for an allowed check")
	case <-time.After(50 * time.Millisecond):
	}
}
