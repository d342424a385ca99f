// Package daily keeps the running count of low passes for the current day and
// resets it once per day at a fixed local hour.
package daily

import "time"

// DefaultRolloverHour is the local hour at which the daily state resets.
const DefaultRolloverHour = 3

// State is the published daily aggregate.
type State struct {
	Count    uint64
	Earliest *time.Time
	Latest   *time.Time
}

// Aggregator owns State plus the time of the previous poll. It is driven by a
// single poll loop and is not safe for concurrent use.
type Aggregator struct {
	rolloverHour int
	loc          *time.Location
	state        State
	lastRun      time.Time
	hasLastRun   bool
}

// New returns an empty aggregator. hour outside 0..23 selects
// DefaultRolloverHour; a nil loc selects time.Local.
func New(hour int, loc *time.Location) *Aggregator {
	if hour < 0 || hour > 23 {
		hour = DefaultRolloverHour
	}
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{rolloverHour: hour, loc: loc}
}

// RolloverHour returns the configured reset hour.
func (a *Aggregator) RolloverHour() int { return a.rolloverHour }

// Location returns the time zone used for hour comparisons.
func (a *Aggregator) Location() *time.Location { return a.loc }

// MaybeRollover resets the state when the hour crosses the rollover hour
// between the previous call and now. Only the hour of day is compared; the
// first call never resets. lastRun is updated unconditionally.
func (a *Aggregator) MaybeRollover(now time.Time) bool {
	reset := false
	if a.hasLastRun {
		prev := a.lastRun.In(a.loc).Hour()
		cur := now.In(a.loc).Hour()
		if prev < a.rolloverHour && cur >= a.rolloverHour {
			a.Reset()
			reset = true
		}
	}
	a.lastRun = now
	a.hasLastRun = true
	return reset
}

// RecordLowPass counts one accepted low pass at now.
func (a *Aggregator) RecordLowPass(now time.Time) {
	a.state.Count++
	t := now
	if a.state.Earliest == nil {
		earliest := t
		a.state.Earliest = &earliest
	}
	a.state.Latest = &t
}

// Reset clears the count and both timestamps.
func (a *Aggregator) Reset() {
	a.state = State{}
}

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() State {
	s := State{Count: a.state.Count}
	if a.state.Earliest != nil {
		e := *a.state.Earliest
		s.Earliest = &e
	}
	if a.state.Latest != nil {
		l := *a.state.Latest
		s.Latest = &l
	}
	return s
}

// LastRun returns the previous poll time, if any.
func (a *Aggregator) LastRun() (time.Time, bool) {
	return a.lastRun, a.hasLastRun
}
