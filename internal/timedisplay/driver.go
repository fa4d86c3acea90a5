package timedisplay

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Driver emits one readout per second until stopped.
//
// An elapsed driver counts up from start. A remaining driver counts down from a budget
// and calls onExpire once when the budget is spent; that expiry is a hard deadline,
// scheduled independently of the display ticks.
type Driver struct {
	clock    clockwork.Clock
	start    time.Time
	budget   time.Duration
	onTick   func(string)
	onExpire func()

	mu       sync.Mutex
	ticker   clockwork.Ticker
	deadline clockwork.Timer
	quit     chan struct{}
	stopped  bool
	expired  bool
	text     string
}

// StartElapsed emits "MM:SS" readouts of the time since start.
func StartElapsed(clock clockwork.Clock, start time.Time, onTick func(string)) *Driver {
	return startDriver(clock, start, 0, onTick, nil)
}

// StartRemaining emits "M:SS" readouts of budget minus the time since start and calls
// onExpire when the budget is exhausted.
func StartRemaining(clock clockwork.Clock, start time.Time, budget time.Duration, onTick func(string), onExpire func()) *Driver {
	if onExpire == nil {
		onExpire = func() {}
	}
	return startDriver(clock, start, budget, onTick, onExpire)
}

func startDriver(clock clockwork.Clock, start time.Time, budget time.Duration, onTick func(string), onExpire func()) *Driver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if onTick == nil {
		onTick = func(string) {}
	}
	d := &Driver{
		clock:    clock,
		start:    start,
		budget:   budget,
		onTick:   onTick,
		onExpire: onExpire,
		quit:     make(chan struct{}),
	}

	d.mu.Lock()
	d.emitLocked()
	d.ticker = clock.NewTicker(time.Second)
	d.mu.Unlock()

	if d.countsDown() {
		deadline := clock.AfterFunc(budget-clock.Since(start), d.expire)
		d.mu.Lock()
		d.deadline = deadline
		if d.stopped {
			deadline.Stop()
		}
		d.mu.Unlock()
	}

	go d.loop(d.ticker.Chan())
	return d
}

func (d *Driver) loop(ticks <-chan time.Time) {
	for {
		select {
		case <-d.quit:
			return
		case <-ticks:
			d.mu.Lock()
			if !d.stopped {
				d.emitLocked()
			}
			d.mu.Unlock()
		}
	}
}

func (d *Driver) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.expired {
		return
	}
	d.expired = true
	d.text = FormatRemaining(0)
	d.onTick(d.text)
	d.haltLocked()
	d.onExpire()
}

// Stop halts the driver. No callback fires after Stop returns.
func (d *Driver) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.haltLocked()
}

// Text returns the latest readout.
func (d *Driver) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// Expired reports whether a remaining driver reached its deadline.
func (d *Driver) Expired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired
}

func (d *Driver) countsDown() bool {
	return d.onExpire != nil
}

func (d *Driver) emitLocked() {
	elapsed := d.clock.Since(d.start).Truncate(time.Second)
	if d.countsDown() {
		d.text = FormatRemaining(d.budget - elapsed)
	} else {
		d.text = FormatElapsed(elapsed)
	}
	d.onTick(d.text)
}

func (d *Driver) haltLocked() {
	if d.stopped {
		return
	}
	d.stopped = true
	if d.ticker != nil {
		d.ticker.Stop()
	}
	if d.deadline != nil {
		d.deadline.Stop()
	}
	close(d.quit)
}
