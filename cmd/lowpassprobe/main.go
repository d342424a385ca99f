// Command lowpassprobe fetches the configured aircraft feed once and prints,
// for every record, the measured distance and altitude and whether it would
// count as a low pass. It shares the counter's configuration but never
// connects to MQTT or touches the daily count, so it is safe to run beside a
// live counter while tuning thresholds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"lowpass/config"
	"lowpass/feed"
	"lowpass/geofilter"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const verdictLowPass = "LOW PASS"

type row struct {
	hex     string
	flight  string
	result  geofilter.Result
	verdict string
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file or directory")
	feedURL := flag.String("feed_url", "", "Override feed.url from the config")
	maxDist := flag.Float64("max_distance_m", 0, "Override thresholds.max_distance_m (0 keeps config)")
	maxAlt := flag.Float64("max_altitude_m", 0, "Override thresholds.max_altitude_m (0 keeps config)")
	all := flag.Bool("all", false, "Also list records without a position, altitude or flight")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	url := cfg.Feed.URL
	if strings.TrimSpace(*feedURL) != "" {
		url = strings.TrimSpace(*feedURL)
	}
	thr := geofilter.Thresholds{MaxAltitudeM: cfg.Thresholds.MaxAltitudeM, MaxDistanceM: cfg.Thresholds.MaxDistanceM}
	if *maxDist > 0 {
		thr.MaxDistanceM = *maxDist
	}
	if *maxAlt > 0 {
		thr.MaxAltitudeM = *maxAlt
	}
	filter := geofilter.New(geofilter.Home{Lat: cfg.Home.Lat, Lon: cfg.Home.Lon}, thr)

	timeout := config.Seconds(cfg.Feed.TimeoutSeconds)
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	aircraft, err := feed.NewClient(url, timeout).Fetch(ctx)
	if err != nil {
		log.Fatalf("fetch: %v", err)
	}

	rows, ineligible := classify(filter, aircraft, *all)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].result.DistanceM < rows[j].result.DistanceM
	})

	low := render(os.Stdout, rows, term.IsTerminal(int(os.Stdout.Fd())))
	fmt.Fprintf(os.Stderr, "\n%s aircraft, %s ineligible, %d low pass(es) within %.0f m / %.0f m of %.5f, %.5f\n",
		humanize.Comma(int64(len(aircraft))), humanize.Comma(int64(ineligible)), low,
		thr.MaxDistanceM, thr.MaxAltitudeM, cfg.Home.Lat, cfg.Home.Lon)
}

// render writes one line per row and returns the number of low passes. On a
// terminal the columns are aligned; otherwise plain tab-separated values are
// written so the output can be piped into other tools.
func render(w io.Writer, rows []row, aligned bool) int {
	out := w
	var tw *tabwriter.Writer
	if aligned {
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		out = tw
	}
	fmt.Fprintln(out, "HEX\tFLIGHT\tDISTANCE_M\tALTITUDE_M\tVERDICT")
	low := 0
	for _, r := range rows {
		if r.verdict == verdictLowPass {
			low++
		}
		fmt.Fprintf(out, "%s\t%s\t%.0f\t%.0f\t%s\n", r.hex, r.flight, r.result.DistanceM, r.result.AltitudeM, r.verdict)
	}
	if tw != nil {
		_ = tw.Flush()
	}
	return low
}

// classify evaluates every eligible record. Ineligible records are counted
// and only listed when showAll is set.
func classify(filter *geofilter.Filter, aircraft []feed.Aircraft, showAll bool) ([]row, int) {
	rows := make([]row, 0, len(aircraft))
	ineligible := 0
	for _, ac := range aircraft {
		if !ac.Eligible() {
			ineligible++
			if showAll {
				rows = append(rows, row{hex: ac.Hex, flight: ac.Flight, verdict: "ineligible"})
			}
			continue
		}
		res, err := filter.Evaluate(ac)
		if err != nil {
			var convErr *geofilter.ConversionError
			verdict := "error"
			if errors.As(err, &convErr) {
				verdict = "skip: " + convErr.Field + "=" + fmt.Sprint(convErr.Value)
			}
			rows = append(rows, row{hex: ac.Hex, flight: ac.Flight, verdict: verdict})
			continue
		}
		verdict := "-"
		if res.LowPass {
			verdict = verdictLowPass
		}
		rows = append(rows, row{hex: ac.Hex, flight: ac.Flight, result: res, verdict: verdict})
	}
	return rows, ineligible
}
