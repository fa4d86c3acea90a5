// Package countdown runs a cancelable once-per-second pre-roll before recording starts.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSeconds is the pre-roll length used by the single-shot modules.
const DefaultSeconds = 4

// Handle controls one running countdown.
type Handle struct {
	clock      clockwork.Clock
	onTick     func(int)
	onComplete func()

	mu        sync.Mutex
	remaining int
	timer     clockwork.Timer
	cancelled bool
	done      bool
}

// Start begins a countdown of seconds.
//
// onTick receives the remaining seconds, once immediately and once per elapsed second
// while time remains. onComplete runs exactly once when the count reaches zero.
// Callbacks run with the handle locked, so Cancel returning means neither fires again.
func Start(clock clockwork.Clock, seconds int, onTick func(int), onComplete func()) *Handle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if onTick == nil {
		onTick = func(int) {}
	}
	if onComplete == nil {
		onComplete = func() {}
	}

	h := &Handle{
		clock:      clock,
		onTick:     onTick,
		onComplete: onComplete,
		remaining:  seconds,
	}

	if seconds <= 0 {
		h.remaining = 0
		timer := clock.AfterFunc(0, h.step)
		h.mu.Lock()
		h.timer = timer
		h.mu.Unlock()
		return h
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTick(h.remaining)
	h.timer = clock.AfterFunc(time.Second, h.step)
	return h
}

func (h *Handle) step() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.done {
		return
	}

	if h.remaining > 0 {
		h.remaining--
	}
	if h.remaining > 0 {
		h.onTick(h.remaining)
		h.timer = h.clock.AfterFunc(time.Second, h.step)
		return
	}

	h.done = true
	h.onComplete()
}

// Cancel stops the countdown. It reports false when the countdown already completed
// or was cancelled before.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.done {
		return false
	}
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
	}
	return true
}

// Remaining returns the last value passed to onTick, or zero once complete.
func (h *Handle) Remaining() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remaining
}

// Done reports whether onComplete has run.
func (h *Handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}
