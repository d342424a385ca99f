package poller

import "time"

// Backoff is a linear retry delay: Base plus one Step per consecutive failure,
// capped at MaxSteps steps. The zero failure count yields the normal poll
// interval.
type Backoff struct {
	Base     time.Duration
	Step     time.Duration
	MaxSteps int
}

// DefaultBackoff polls every 5s and adds a minute per failure up to five
// minutes (5s, 65s, 125s, ... 305s).
func DefaultBackoff() Backoff {
	return Backoff{Base: 5 * time.Second, Step: time.Minute, MaxSteps: 5}
}

// normalize maps the zero value to DefaultBackoff and clamps negatives.
func (b Backoff) normalize() Backoff {
	if b == (Backoff{}) {
		return DefaultBackoff()
	}
	if b.Base <= 0 {
		b.Base = DefaultBackoff().Base
	}
	if b.Step < 0 {
		b.Step = 0
	}
	if b.MaxSteps < 0 {
		b.MaxSteps = 0
	}
	return b
}

// Delay returns the sleep that follows the given number of consecutive
// failures.
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures > b.MaxSteps {
		failures = b.MaxSteps
	}
	return b.Base + time.Duration(failures)*b.Step
}
