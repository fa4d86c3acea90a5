// Package attempt caps how many recognition passes a prompt may consume.
package attempt

// DefaultMax is the per-prompt attempt budget used by every exercise module.
const DefaultMax = 2

// Limiter counts attempts against one prompt. The zero value is not usable; call New.
//
// Limiter is not safe for concurrent use; it is owned by the session event loop.
type Limiter struct {
	max   int
	count int
}

// New returns a limiter allowing max attempts. Non-positive values fall back to DefaultMax.
func New(max int) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	return &Limiter{max: max}
}

// CanAttempt reports whether another recognition pass may start.
func (l *Limiter) CanAttempt() bool {
	return l.count < l.max
}

// Record consumes one attempt. Calls at the cap leave the count unchanged.
func (l *Limiter) Record() {
	if l.count < l.max {
		l.count++
	}
}

// Reset zeroes the counter for a newly loaded prompt.
func (l *Limiter) Reset() {
	l.count = 0
}

func (l *Limiter) Count() int {
	return l.count
}

func (l *Limiter) Max() int {
	return l.max
}

func (l *Limiter) Remaining() int {
	return l.max - l.count
}
