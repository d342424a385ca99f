// Package poller runs the fetch-filter-count-publish loop.
//
// A Cycle is one pass: fetch the aircraft list, keep eligible low passes that
// are not inside the dedup window, update the daily aggregate, then publish the
// state and discovery payloads. A Runner repeats cycles forever, reconnecting
// the bus and backing off on failure.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lowpass/daily"
	"lowpass/dedup"
	"lowpass/feed"
	"lowpass/geofilter"
	"lowpass/metrics"
	"lowpass/publish"

	"github.com/dustin/go-humanize"
)

// Fetcher returns the current aircraft list. Errors that should trigger a
// poll-level backoff must be *feed.FetchError.
type Fetcher interface {
	Fetch(ctx context.Context) ([]feed.Aircraft, error)
}

// Publisher sends one message to the bus.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// CycleConfig wires a Cycle. Filter, Seen and Daily are owned by the cycle
// from here on.
type CycleConfig struct {
	Feed      Fetcher
	Filter    *geofilter.Filter
	Seen      *dedup.Cache
	Daily     *daily.Aggregator
	RootTopic string
	Discovery publish.Discovery
	Metrics   *metrics.Collector
	Now       func() time.Time
}

// Cycle holds the detection state shared by successive polls.
type Cycle struct {
	feed        Fetcher
	filter      *geofilter.Filter
	seen        *dedup.Cache
	daily       *daily.Aggregator
	stateTopic  string
	configTopic string
	discovery   []byte
	metrics     *metrics.Collector
	now         func() time.Time
}

// Outcome summarizes one cycle.
type Outcome struct {
	Aircraft   int
	Ineligible int
	Skipped    int
	Duplicates int
	Counted    int
	Rollover   bool
	State      daily.State
}

// NewCycle validates cfg and pre-encodes the discovery descriptor.
func NewCycle(cfg CycleConfig) (*Cycle, error) {
	if cfg.Feed == nil || cfg.Filter == nil || cfg.Seen == nil || cfg.Daily == nil {
		return nil, errors.New("poller: feed, filter, dedup cache and aggregator are required")
	}
	if cfg.RootTopic == "" {
		return nil, errors.New("poller: root topic is required")
	}
	discovery, err := cfg.Discovery.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode discovery descriptor: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cycle{
		feed:        cfg.Feed,
		filter:      cfg.Filter,
		seen:        cfg.Seen,
		daily:       cfg.Daily,
		stateTopic:  publish.StateTopic(cfg.RootTopic),
		configTopic: publish.ConfigTopic(cfg.RootTopic),
		discovery:   discovery,
		metrics:     cfg.Metrics,
		now:         now,
	}, nil
}

// Run executes one poll. A fetch failure is returned as-is (a *feed.FetchError)
// before anything is published; publish failures are returned wrapped.
func (c *Cycle) Run(ctx context.Context, bus Publisher) (Outcome, error) {
	start := time.Now()
	now := c.now()

	var out Outcome
	if c.daily.MaybeRollover(now) {
		out.Rollover = true
		c.metrics.Rollover()
		log.Printf("Daily: rollover at %s, count reset", now.In(c.daily.Location()).Format("2006-01-02 15:04"))
	}

	aircraft, err := c.feed.Fetch(ctx)
	if err != nil {
		c.metrics.FetchFailed()
		return out, err
	}
	out.Aircraft = len(aircraft)

	for _, ac := range aircraft {
		if !ac.Eligible() {
			out.Ineligible++
			continue
		}
		res, err := c.filter.Evaluate(ac)
		if err != nil {
			out.Skipped++
			c.metrics.Skipped()
			log.Printf("Skipping aircraft %s (%s): %v", ac.Hex, ac.Flight, err)
			continue
		}
		if !res.LowPass {
			continue
		}
		if c.seen.Seen(ac.Flight, now) {
			out.Duplicates++
			c.metrics.Duplicate()
			continue
		}
		c.seen.MarkSeen(ac.Flight, now)
		c.daily.RecordLowPass(now)
		out.Counted++
		c.metrics.LowPass()

		count := c.daily.Snapshot().Count
		log.Printf("LOW PASS : %s - %s - distance: %.0f - altitude: %.0f", ac.Hex, ac.Flight, res.DistanceM, res.AltitudeM)
		log.Printf("So far today we have had %s low %s", humanize.Comma(int64(count)), plural(count, "pass", "passes"))
	}

	out.State = c.daily.Snapshot()
	defer func() {
		c.metrics.ObserveCycle(metrics.CycleResult{
			DailyCount: out.State.Count,
			DedupLen:   c.seen.Len(now),
			Duration:   time.Since(start),
		})
	}()

	state, err := publish.NewState(out.State, c.daily.Location()).Marshal()
	if err != nil {
		return out, fmt.Errorf("encode state: %w", err)
	}
	if err := bus.Publish(c.stateTopic, state); err != nil {
		c.metrics.PublishFailed()
		return out, fmt.Errorf("publish state: %w", err)
	}
	if err := bus.Publish(c.configTopic, c.discovery); err != nil {
		c.metrics.PublishFailed()
		return out, fmt.Errorf("publish discovery: %w", err)
	}
	return out, nil
}

func plural(n uint64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
