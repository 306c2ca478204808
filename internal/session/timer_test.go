package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerTicksUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	tm := NewTimer(10*time.Millisecond, func() { ticks.Add(1) })

	tm.Start()
	require.Eventually(t, func() bool { return ticks.Load() >= 3 },
		time.Second, 5*time.Millisecond)
	tm.Stop()
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	var ticks atomic.Int32
	tm := NewTimer(20*time.Millisecond, func() { ticks.Add(1) })

	tm.Start()
	tm.Start()
	defer tm.Stop()

	time.Sleep(110 * time.Millisecond)
	// A second tick stream would roughly double the count.
	got := ticks.Load()
	assert.GreaterOrEqual(t, got, int32(3))
	assert.LessOrEqual(t, got, int32(7))
}

func TestStopIsIdempotentAndFreezesElapsed(t *testing.T) {
	tm := NewTimer(time.Hour, nil)

	tm.Start()
	time.Sleep(20 * time.Millisecond)
	tm.Stop()
	tm.Stop()

	frozen := tm.Elapsed()
	assert.Greater(t, frozen, time.Duration(0))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, tm.Elapsed(), "elapsed must freeze at Stop")
	assert.False(t, tm.Running())
}

func TestElapsedIsMonotonicWhileRunning(t *testing.T) {
	tm := NewTimer(time.Hour, nil)
	tm.Start()
	defer tm.Stop()

	prev := tm.Elapsed()
	for i := 0; i < 100; i++ {
		cur := tm.Elapsed()
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestStopFromTickCallbackPreventsFurtherTicks(t *testing.T) {
	var ticks atomic.Int32
	var tm *Timer
	tm = NewTimer(10*time.Millisecond, func() {
		ticks.Add(1)
		tm.Stop()
	})

	tm.Start()
	require.Eventually(t, func() bool { return ticks.Load() == 1 },
		time.Second, 2*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), ticks.Load(), "no tick may fire after Stop")
}

func TestRestartAccumulatesElapsed(t *testing.T) {
	tm := NewTimer(time.Hour, nil)

	tm.Start()
	time.Sleep(15 * time.Millisecond)
	tm.Stop()
	first := tm.Elapsed()

	tm.Start()
	time.Sleep(15 * time.Millisecond)
	tm.Stop()

	assert.Greater(t, tm.Elapsed(), first)
}
