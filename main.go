// Program lowpass counts aircraft passing low over a home location, as seen by
// a local ADS-B decoder, and publishes the running daily count to MQTT for
// Home Assistant. It runs until interrupted and never exits on feed or broker
// failures; those only lengthen the retry delay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"lowpass/config"
	"lowpass/daily"
	"lowpass/dedup"
	"lowpass/feed"
	"lowpass/geofilter"
	"lowpass/metrics"
	"lowpass/poller"
	"lowpass/publish"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file or directory (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	checkOnly := flag.Bool("check", false, "Load and print the configuration, then exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fanout, logErr := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Logging: file sink disabled: %v", logErr)
	}

	cfg.Print()
	if *checkOnly {
		return
	}

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}
	runner, err := buildRunner(cfg, collector, time.Now)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, collector.Handler())
	}

	log.Printf("Watching %s for low passes (altitude <= %.0f m, distance < %.0f m)",
		cfg.Feed.URL, cfg.Thresholds.MaxAltitudeM, cfg.Thresholds.MaxDistanceM)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Runner stopped: %v", err)
	}
	log.Println("Shutting down")
}

// Purpose: Load configuration from flag/env/default locations.
// Key aspects: Tries the flag first, then the env override, then the default path.
// Upstream: main startup.
// Downstream: config.Load and os.IsNotExist.
func loadConfig(flagPath string) (*config.Config, error) {
	candidates := make([]string, 0, 3)
	if p := strings.TrimSpace(flagPath); p != "" {
		candidates = append(candidates, p)
	}
	if envPath := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, config.DefaultPath)

	var lastErr error
	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if os.IsNotExist(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

// buildRunner wires the feed, detection state and MQTT dialer into a runner.
func buildRunner(cfg *config.Config, collector *metrics.Collector, now func() time.Time) (*poller.Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	cycle, err := poller.NewCycle(poller.CycleConfig{
		Feed: feed.NewClient(cfg.Feed.URL, config.Seconds(cfg.Feed.TimeoutSeconds)),
		Filter: geofilter.New(
			geofilter.Home{Lat: cfg.Home.Lat, Lon: cfg.Home.Lon},
			geofilter.Thresholds{MaxAltitudeM: cfg.Thresholds.MaxAltitudeM, MaxDistanceM: cfg.Thresholds.MaxDistanceM},
		),
		Seen:      dedup.New(config.Seconds(cfg.Dedup.WindowSeconds), cfg.Dedup.Capacity),
		Daily:     daily.New(*cfg.Daily.RolloverHour, loc),
		RootTopic: cfg.MQTT.RootTopic,
		Discovery: publish.NewDiscovery(cfg.MQTT.RootTopic, cfg.MQTT.UniqueID, cfg.Discovery.Name, cfg.Discovery.Icon, cfg.Discovery.ValueTemplate),
		Metrics:   collector,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	dialer := publish.NewDialer(publish.Options{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		QoS:            byte(cfg.MQTT.QoS),
		Retain:         cfg.MQTT.Retain,
		KeepAlive:      config.Seconds(cfg.MQTT.KeepAliveSeconds),
		ConnectTimeout: config.Seconds(cfg.MQTT.ConnectTimeoutSeconds),
		PublishTimeout: config.Seconds(cfg.MQTT.PublishTimeoutSeconds),
	})
	dial := poller.DialFunc(func(ctx context.Context) (poller.Session, error) {
		sess, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})

	return poller.NewRunner(dial, cycle,
		poller.WithBackoff(poller.Backoff{
			Base:     config.Seconds(cfg.Poll.IntervalSeconds),
			Step:     config.Seconds(*cfg.Poll.StepSeconds),
			MaxSteps: *cfg.Poll.MaxSteps,
		}),
		poller.WithMetrics(collector),
	), nil
}

// Purpose: Serve /metrics until ctx is cancelled.
// Key aspects: Listener errors are logged, never fatal.
// Upstream: main startup.
// Downstream: http.Server.ListenAndServe.
func serveMetrics(ctx context.Context, addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("Metrics: listening on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics: listener stopped: %v", err)
	}
}
