package poller

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lowpass/daily"
	"lowpass/dedup"
	"lowpass/feed"
	"lowpass/geofilter"
	"lowpass/metrics"
	"lowpass/publish"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var testHome = geofilter.Home{Lat: 53.4213, Lon: -6.2701}

const testRoot = "homeassistant/sensor/low_passes"

type fakeFeed struct {
	calls int
	fetch func(call int) ([]feed.Aircraft, error)
}

func (f *fakeFeed) Fetch(context.Context) ([]feed.Aircraft, error) {
	call := f.calls
	f.calls++
	return f.fetch(call)
}

type message struct {
	topic   string
	payload string
}

type fakeBus struct {
	messages []message
	err      error
	closed   bool
}

func (b *fakeBus) Publish(topic string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, message{topic: topic, payload: string(payload)})
	return nil
}

func (b *fakeBus) Close() { b.closed = true }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func aircraft(hex, flight string, lat, lon, altFeet any) feed.Aircraft {
	return feed.Aircraft{
		Hex:     hex,
		Flight:  flight,
		Lat:     lat,
		Lon:     lon,
		AltBaro: altFeet,
		Present: feed.HasLat | feed.HasLon | feed.HasAltBaro | feed.HasFlight,
	}
}

// lowOverhead is ~150 m from testHome at 300 ft.
func lowOverhead(hex, flight string) feed.Aircraft {
	return aircraft(hex, flight, testHome.Lat+0.00135, testHome.Lon, 300.0)
}

func unreachable() error {
	return &feed.FetchError{URL: "http://feeder/data/aircraft.json", Err: errors.New("connection refused")}
}

func newTestCycle(t *testing.T, f Fetcher, clk *clock) (*Cycle, *daily.Aggregator) {
	t.Helper()
	return newMeteredCycle(t, f, clk, nil)
}

func newMeteredCycle(t *testing.T, f Fetcher, clk *clock, m *metrics.Collector) (*Cycle, *daily.Aggregator) {
	t.Helper()
	agg := daily.New(3, time.UTC)
	c, err := NewCycle(CycleConfig{
		Feed:      f,
		Filter:    geofilter.New(testHome, geofilter.Thresholds{MaxAltitudeM: 150, MaxDistanceM: 500}),
		Seen:      dedup.New(10*time.Minute, 128),
		Daily:     agg,
		RootTopic: testRoot,
		Discovery: publish.NewDiscovery(testRoot, "low_pass_counter", "", "", ""),
		Metrics:   m,
		Now:       clk.now,
	})
	if err != nil {
		t.Fatalf("NewCycle: %v", err)
	}
	return c, agg
}

func TestCycleCountsAndDeduplicates(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)}
	f := &fakeFeed{fetch: func(int) ([]feed.Aircraft, error) {
		return []feed.Aircraft{lowOverhead("4ca7b5", "RYR1AB")}, nil
	}}
	c, agg := newTestCycle(t, f, clk)
	bus := &fakeBus{}

	first := clk.t
	out, err := c.Run(context.Background(), bus)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Counted != 1 || out.State.Count != 1 {
		t.Fatalf("expected first sighting counted, got %+v", out)
	}
	if out.State.Earliest == nil || !out.State.Earliest.Equal(first) {
		t.Fatalf("expected earliest at poll time, got %v", out.State.Earliest)
	}

	clk.t = first.Add(2 * time.Minute)
	out, err = c.Run(context.Background(), bus)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Counted != 0 || out.Duplicates != 1 || agg.Snapshot().Count != 1 {
		t.Fatalf("expected duplicate within window, got %+v", out)
	}

	clk.t = first.Add(10*time.Minute + 5*time.Second)
	out, err = c.Run(context.Background(), bus)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Counted != 1 || out.State.Count != 2 {
		t.Fatalf("expected recount after window, got %+v", out)
	}
	if !out.State.Earliest.Equal(first) || !out.State.Latest.Equal(clk.t) {
		t.Fatalf("unexpected timestamps earliest=%v latest=%v", out.State.Earliest, out.State.Latest)
	}

	if len(bus.messages) != 6 {
		t.Fatalf("expected state+config per cycle, got %d messages", len(bus.messages))
	}
	last := bus.messages[4]
	if last.topic != testRoot+"/state" {
		t.Fatalf("unexpected state topic %q", last.topic)
	}
	if !strings.Contains(last.payload, `"count":2`) || !strings.Contains(last.payload, `"earliest_aircraft":"2026-10-15T09:00:00Z"`) {
		t.Fatalf("unexpected state payload %s", last.payload)
	}
	if bus.messages[5].topic != testRoot+"/config" || !strings.Contains(bus.messages[5].payload, `"state_class":"total_increasing"`) {
		t.Fatalf("unexpected discovery message %+v", bus.messages[5])
	}
}

func TestCycleIgnoresIncompleteAndMalformedRecords(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)}
	missingFlight := lowOverhead("3c6444", "")
	missingFlight.Present &^= feed.HasFlight
	missingAlt := lowOverhead("3c6445", "DLH4")
	missingAlt.Present &^= feed.HasAltBaro
	onGround := aircraft("406a3c", "EIN22K", testHome.Lat, testHome.Lon, "ground")
	far := aircraft("aaaaaa", "BAW1", testHome.Lat+0.1, testHome.Lon, 300.0)
	high := aircraft("bbbbbb", "BAW2", testHome.Lat, testHome.Lon, 3000.0)

	f := &fakeFeed{fetch: func(int) ([]feed.Aircraft, error) {
		return []feed.Aircraft{missingFlight, missingAlt, onGround, far, high, lowOverhead("4ca7b5", "RYR1AB")}, nil
	}}
	c, _ := newTestCycle(t, f, clk)

	out, err := c.Run(context.Background(), &fakeBus{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Ineligible != 2 {
		t.Fatalf("expected 2 ineligible records, got %d", out.Ineligible)
	}
	if out.Skipped != 1 {
		t.Fatalf("expected the ground record to be skipped, got %d", out.Skipped)
	}
	if out.Counted != 1 || out.State.Count != 1 {
		t.Fatalf("expected only the low overhead aircraft to count, got %+v", out)
	}
}

func TestCycleNoStateChangeForIncompleteRecords(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)}
	rec := lowOverhead("3c6444", "DLH4")
	rec.Present &^= feed.HasLat
	f := &fakeFeed{fetch: func(int) ([]feed.Aircraft, error) { return []feed.Aircraft{rec}, nil }}
	c, agg := newTestCycle(t, f, clk)

	if _, err := c.Run(context.Background(), &fakeBus{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s := agg.Snapshot(); s.Count != 0 || s.Earliest != nil || s.Latest != nil {
		t.Fatalf("expected untouched state, got %+v", s)
	}
}

func TestCycleFetchFailurePublishesNothing(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)}
	f := &fakeFeed{fetch: func(int) ([]feed.Aircraft, error) { return nil, unreachable() }}
	c, agg := newTestCycle(t, f, clk)
	bus := &fakeBus{}

	_, err := c.Run(context.Background(), bus)
	if !feed.IsFetchError(err) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if len(bus.messages) != 0 {
		t.Fatalf("expected no publish after fetch failure, got %d", len(bus.messages))
	}
	if _, ok := agg.LastRun(); !ok {
		t.Fatalf("lastRun must be updated even when the fetch fails")
	}
}

func TestCycleRolloverBeforeCounting(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 2, 50, 0, 0, time.UTC)}
	f := &fakeFeed{fetch: func(call int) ([]feed.Aircraft, error) {
		if call == 0 {
			return []feed.Aircraft{lowOverhead("4ca7b5", "RYR1AB")}, nil
		}
		return []feed.Aircraft{lowOverhead("4ca7b6", "EIN22K")}, nil
	}}
	c, _ := newTestCycle(t, f, clk)

	if _, err := c.Run(context.Background(), &fakeBus{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	clk.t = time.Date(2026, time.October, 15, 3, 0, 0, 0, time.UTC)
	out, err := c.Run(context.Background(), &fakeBus{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Rollover {
		t.Fatalf("expected rollover between 02:50 and 03:00")
	}
	if out.State.Count != 1 || !out.State.Earliest.Equal(clk.t) {
		t.Fatalf("expected fresh day with one low pass at 03:00, got %+v", out.State)
	}
}

func TestCyclePublishFailureIsNotAFetchError(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)}
	f := &fakeFeed{fetch: func(int) ([]feed.Aircraft, error) { return nil, nil }}
	c, _ := newTestCycle(t, f, clk)

	_, err := c.Run(context.Background(), &fakeBus{err: errors.New("mqtt: not connected")})
	if err == nil || feed.IsFetchError(err) {
		t.Fatalf("expected a non-fetch publish error, got %v", err)
	}
}

func TestNewCycleRequiresCollaborators(t *testing.T) {
	if _, err := NewCycle(CycleConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func newTestCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	m, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return m
}

func TestCycleCountsLowPassWhenPublishFails(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)}
	f := &fakeFeed{fetch: func(int) ([]feed.Aircraft, error) {
		return []feed.Aircraft{lowOverhead("4ca7b5", "RYR1AB")}, nil
	}}
	m := newTestCollector(t)
	c, agg := newMeteredCycle(t, f, clk, m)

	if _, err := c.Run(context.Background(), &fakeBus{err: errors.New("mqtt: not connected")}); err == nil {
		t.Fatalf("expected publish error")
	}
	if agg.Snapshot().Count != 1 {
		t.Fatalf("expected the low pass to be recorded, got %+v", agg.Snapshot())
	}
	if got := testutil.ToFloat64(m.LowPasses); got != 1 {
		t.Fatalf("low passes metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DailyCount); got != 1 {
		t.Fatalf("daily count gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PublishFailures); got != 1 {
		t.Fatalf("publish failures = %v, want 1", got)
	}

	clk.t = clk.t.Add(time.Minute)
	if _, err := c.Run(context.Background(), &fakeBus{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.ToFloat64(m.Duplicates); got != 1 {
		t.Fatalf("duplicates metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LowPasses); got != 1 {
		t.Fatalf("low passes metric = %v after duplicate, want 1", got)
	}
}

func TestCycleCountsRolloverWhenFetchFails(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 2, 55, 0, 0, time.UTC)}
	f := &fakeFeed{fetch: func(call int) ([]feed.Aircraft, error) {
		if call == 0 {
			return nil, nil
		}
		return nil, unreachable()
	}}
	m := newTestCollector(t)
	c, _ := newMeteredCycle(t, f, clk, m)

	if _, err := c.Run(context.Background(), &fakeBus{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	clk.t = time.Date(2026, time.October, 15, 3, 0, 0, 0, time.UTC)
	out, err := c.Run(context.Background(), &fakeBus{})
	if !feed.IsFetchError(err) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if !out.Rollover {
		t.Fatalf("expected rollover to be reported")
	}
	if got := testutil.ToFloat64(m.Rollovers); got != 1 {
		t.Fatalf("rollovers metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FetchFailures); got != 1 {
		t.Fatalf("fetch failures = %v, want 1", got)
	}
}

func TestCycleCountsSkippedRecords(t *testing.T) {
	clk := &clock{t: time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)}
	onGround := aircraft("406a3c", "EIN22K", testHome.Lat, testHome.Lon, "ground")
	f := &fakeFeed{fetch: func(int) ([]feed.Aircraft, error) { return []feed.Aircraft{onGround}, nil }}
	m := newTestCollector(t)
	c, _ := newMeteredCycle(t, f, clk, m)

	if _, err := c.Run(context.Background(), &fakeBus{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.ToFloat64(m.SkippedRecords); got != 1 {
		t.Fatalf("skipped metric = %v, want 1", got)
	}
}
