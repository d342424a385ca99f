package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lowpass/feed"
	"lowpass/metrics"
)

// Session is a connected bus client.
type Session interface {
	Publisher
	Close()
}

// Dialer opens a bus session.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Session, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// Runner drives cycles with two retry scopes. The outer scope owns the bus
// connection and backs off on connect failures and on any error escaping the
// inner scope. The inner scope polls; fetch failures back off in place and
// anything else ends the session. A successful cycle clears both counters.
type Runner struct {
	dialer  Dialer
	cycle   *Cycle
	backoff Backoff
	metrics *metrics.Collector
	sleep   func(ctx context.Context, d time.Duration) error

	innerFailures int
	outerFailures int
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithBackoff overrides DefaultBackoff.
func WithBackoff(b Backoff) RunnerOption {
	return func(r *Runner) { r.backoff = b.normalize() }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithSleep replaces the context-aware sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) { r.sleep = sleep }
}

// NewRunner builds a Runner.
func NewRunner(dialer Dialer, cycle *Cycle, opts ...RunnerOption) *Runner {
	r := &Runner{
		dialer:  dialer,
		cycle:   cycle,
		backoff: DefaultBackoff(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run loops until ctx is cancelled and then returns ctx.Err(). It never returns
// because of a fetch, connect or publish failure.
func (r *Runner) Run(ctx context.Context) error {
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.outerFailures++
		r.metrics.SetFailures(r.innerFailures, r.outerFailures)
		delay := r.backoff.Delay(r.outerFailures)
		log.Printf("Runner: %v (connection failure %d, retrying in %s)", err, r.outerFailures, delay)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// session dials the bus and polls until something other than a fetch failure
// goes wrong.
func (r *Runner) session(ctx context.Context) error {
	sess, err := r.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if sess == nil {
		return errors.New("connect: dialer returned no session")
	}
	defer sess.Close()
	r.metrics.Connected()

	r.innerFailures = 0
	for {
		_, err := r.cycle.Run(ctx, sess)
		switch {
		case err == nil:
			r.innerFailures = 0
			r.outerFailures = 0
		case ctx.Err() != nil:
			return ctx.Err()
		case feed.IsFetchError(err):
			r.innerFailures++
			log.Printf("Poll: %v (failure %d)", err, r.innerFailures)
		default:
			return err
		}
		r.metrics.SetFailures(r.innerFailures, r.outerFailures)
		if err := r.sleep(ctx, r.backoff.Delay(r.innerFailures)); err != nil {
			return err
		}
	}
}

// Failures returns the current inner and outer consecutive failure counts.
func (r *Runner) Failures() (inner, outer int) {
	return r.innerFailures, r.outerFailures
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
