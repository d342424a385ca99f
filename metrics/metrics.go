// Package metrics exposes Prometheus instrumentation for the poll loop.
// Every method is safe on a nil *Collector so callers can run without metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the low-pass counters and gauges.
type Collector struct {
	gatherer prometheus.Gatherer

	LowPasses       prometheus.Counter
	Duplicates      prometheus.Counter
	SkippedRecords  prometheus.Counter
	FetchFailures   prometheus.Counter
	PublishFailures prometheus.Counter
	BusConnects     prometheus.Counter
	Rollovers       prometheus.Counter

	DailyCount    prometheus.Gauge
	DedupEntries  prometheus.Gauge
	InnerFailures prometheus.Gauge
	OuterFailures prometheus.Gauge

	CycleDuration prometheus.Histogram
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		LowPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowpass_low_passes_total",
			Help: "Low passes counted after deduplication.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowpass_duplicates_total",
			Help: "Qualifying sightings suppressed by the dedup window.",
		}),
		SkippedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowpass_skipped_records_total",
			Help: "Aircraft records skipped because a position or altitude could not be converted.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowpass_fetch_failures_total",
			Help: "Failed aircraft feed fetches.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowpass_publish_failures_total",
			Help: "Cycles aborted by a bus connect or publish error.",
		}),
		BusConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowpass_bus_connects_total",
			Help: "Successful MQTT connections.",
		}),
		Rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lowpass_rollovers_total",
			Help: "Daily state resets.",
		}),
		DailyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lowpass_daily_count",
			Help: "Low passes counted so far today.",
		}),
		DedupEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lowpass_dedup_entries",
			Help: "Flights currently inside the dedup window.",
		}),
		InnerFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lowpass_consecutive_fetch_failures",
			Help: "Consecutive poll-level failures driving the current backoff.",
		}),
		OuterFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lowpass_consecutive_connection_failures",
			Help: "Consecutive connection-level failures driving the current backoff.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lowpass_cycle_duration_seconds",
			Help:    "Duration of a poll-publish cycle.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}

	for _, col := range []prometheus.Collector{
		c.LowPasses, c.Duplicates, c.SkippedRecords, c.FetchFailures,
		c.PublishFailures, c.BusConnects, c.Rollovers, c.DailyCount,
		c.DedupEntries, c.InnerFailures, c.OuterFailures, c.CycleDuration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// CycleResult carries the end-of-cycle levels the poller reports. Event
// counters are bumped as events happen, so a cycle that fails part way still
// accounts for what it already did.
type CycleResult struct {
	DailyCount uint64
	DedupLen   int
	Duration   time.Duration
}

// ObserveCycle records the gauges and duration of a cycle.
func (c *Collector) ObserveCycle(r CycleResult) {
	if c == nil {
		return
	}
	c.DailyCount.Set(float64(r.DailyCount))
	c.DedupEntries.Set(float64(r.DedupLen))
	c.CycleDuration.Observe(r.Duration.Seconds())
}

// LowPass counts one low pass added to the daily total.
func (c *Collector) LowPass() {
	if c == nil {
		return
	}
	c.LowPasses.Inc()
}

// Duplicate counts a qualifying sighting suppressed by the dedup window.
func (c *Collector) Duplicate() {
	if c == nil {
		return
	}
	c.Duplicates.Inc()
}

// Skipped counts a record dropped for an unconvertible field.
func (c *Collector) Skipped() {
	if c == nil {
		return
	}
	c.SkippedRecords.Inc()
}

// Rollover counts a daily reset.
func (c *Collector) Rollover() {
	if c == nil {
		return
	}
	c.Rollovers.Inc()
}

// FetchFailed counts a failed feed fetch.
func (c *Collector) FetchFailed() {
	if c == nil {
		return
	}
	c.FetchFailures.Inc()
}

// PublishFailed counts a cycle lost to a bus error.
func (c *Collector) PublishFailed() {
	if c == nil {
		return
	}
	c.PublishFailures.Inc()
}

// Connected counts a successful bus connection.
func (c *Collector) Connected() {
	if c == nil {
		return
	}
	c.BusConnects.Inc()
}

// SetFailures publishes the runner's consecutive failure counters.
func (c *Collector) SetFailures(inner, outer int) {
	if c == nil {
		return
	}
	c.InnerFailures.Set(float64(inner))
	c.OuterFailures.Set(float64(outer))
}
