package countdown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type tickRecorder struct {
	mu    sync.Mutex
	ticks []int
}

func (r *tickRecorder) record(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, n)
}

func (r *tickRecorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ticks...)
}

func TestStartTicksImmediatelyThenEverySecond(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticks := &tickRecorder{}
	var completed atomic.Int32

	h := Start(clock, 4, ticks.record, func() { completed.Add(1) })
	require.Equal(t, []int{4}, ticks.snapshot())

	for _, want := range [][]int{{4, 3}, {4, 3, 2}, {4, 3, 2, 1}} {
		clock.Advance(time.Second)
		require.Eventually(t, func() bool { return len(ticks.snapshot()) == len(want) }, time.Second, 5*time.Millisecond)
		require.Equal(t, want, ticks.snapshot())
		require.Zero(t, completed.Load())
	}

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return completed.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, h.Done())
	require.False(t, h.Cancel(), "cancel after completion is a no-op")

	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), completed.Load())
	require.Equal(t, []int{4, 3, 2, 1}, ticks.snapshot())
}

func TestCancelBeforeCompletionNeverCompletes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticks := &tickRecorder{}
	var completed atomic.Int32

	h := Start(clock, 2, ticks.record, func() { completed.Add(1) })
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(ticks.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	require.True(t, h.Cancel())
	require.False(t, h.Cancel())

	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, completed.Load())
	require.False(t, h.Done())
	require.Equal(t, []int{2, 1}, ticks.snapshot())
}

func TestZeroSecondsCompletesWithoutTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticks := &tickRecorder{}
	var completed atomic.Int32

	Start(clock, 0, ticks.record, func() { completed.Add(1) })
	clock.Advance(0)
	require.Eventually(t, func() bool { return completed.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, ticks.snapshot())
}

func TestCancelNilHandle(t *testing.T) {
	var h *Handle
	require.False(t, h.Cancel())
}
