// Command feedsim serves a synthetic aircraft.json in the decoder's format so
// the counter can be exercised without a receiver. Aircraft fly straight
// tracks across the home point and repeat their pass on a fixed period; one
// reports "ground" altitude and one has no position, mirroring what real
// decoders emit.
package main

import (
	"flag"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/geodesic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const feetPerMeter = 3.28084

type track struct {
	hex      string
	flight   string
	bearing  float64 // degrees true
	offsetM  float64 // closest approach, metres left of the home point
	speedMS  float64
	altFt    any
	span     float64 // metres flown per pass
	period   time.Duration
	noPos    bool
	phaseOff time.Duration
}

type simulator struct {
	homeLat, homeLon float64
	tracks           []track
	start            time.Time
	requests         atomic.Uint64
	failEvery        uint64
}

func defaultTracks() []track {
	return []track{
		{hex: "4ca7b5", flight: "RYR1AB  ", bearing: 280, offsetM: 120, speedMS: 75, altFt: 300.0, span: 12000, period: 4 * time.Minute},
		{hex: "3c6444", flight: "DLH4YA  ", bearing: 100, offsetM: 900, speedMS: 80, altFt: 450.0, span: 12000, period: 5 * time.Minute, phaseOff: time.Minute},
		{hex: "400a1b", flight: "EZY82QP ", bearing: 10, offsetM: 50, speedMS: 200, altFt: 32000.0, span: 60000, period: 6 * time.Minute},
		{hex: "4ca9c2", flight: "EIN3CA  ", bearing: 280, offsetM: 0, speedMS: 8, altFt: "ground", span: 1500, period: 3 * time.Minute},
		{hex: "43c6f1", flight: "", bearing: 190, offsetM: 200, speedMS: 60, altFt: 600.0, span: 10000, period: 4 * time.Minute},
		{hex: "a1b2c3", flight: "N123AB  ", noPos: true, altFt: 2500.0, period: time.Minute},
	}
}

// position returns where a track is at elapsed time since the simulator started.
func (s *simulator) position(tr track, elapsed time.Duration) (lat, lon float64) {
	// Closest point of approach sits offsetM to the left of the track line.
	var cpaLat, cpaLon float64
	geodesic.WGS84.Direct(s.homeLat, s.homeLon, tr.bearing-90, tr.offsetM, &cpaLat, &cpaLon, nil)

	phase := (elapsed + tr.phaseOff) % tr.period
	along := phase.Seconds()*tr.speedMS - tr.span/2
	geodesic.WGS84.Direct(cpaLat, cpaLon, tr.bearing, along, &lat, &lon, nil)
	return lat, lon
}

func (s *simulator) snapshot(now time.Time) map[string]any {
	elapsed := now.Sub(s.start)
	aircraft := make([]map[string]any, 0, len(s.tracks))
	for _, tr := range s.tracks {
		rec := map[string]any{
			"hex":      tr.hex,
			"alt_baro": tr.altFt,
			"seen":     0.4,
		}
		if tr.flight != "" {
			rec["flight"] = tr.flight
		}
		if !tr.noPos {
			lat, lon := s.position(tr, elapsed)
			rec["lat"] = lat
			rec["lon"] = lon
			rec["track"] = tr.bearing
			rec["gs"] = tr.speedMS * 1.943844
		}
		aircraft = append(aircraft, rec)
	}
	return map[string]any{
		"now":      float64(now.UnixMilli()) / 1000,
		"messages": s.requests.Load() * 37,
		"aircraft": aircraft,
	}
}

func (s *simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.requests.Add(1)
	if s.failEvery > 0 && n%s.failEvery == 0 {
		http.Error(w, "simulated outage", http.StatusServiceUnavailable)
		log.Printf("Request %d: simulated 503", n)
		return
	}
	body, err := json.Marshal(s.snapshot(time.Now()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func main() {
	listen := flag.String("listen", "127.0.0.1:8080", "Listen address")
	path := flag.String("path", "/data/aircraft.json", "URL path of the aircraft feed")
	homeLat := flag.Float64("home_lat", 53.4213, "Home latitude the tracks cross")
	homeLon := flag.Float64("home_lon", -6.2701, "Home longitude the tracks cross")
	failEvery := flag.Uint64("fail_every", 0, "Answer every Nth request with 503 (0 disables)")
	flag.Parse()

	sim := &simulator{
		homeLat:   *homeLat,
		homeLon:   *homeLon,
		tracks:    defaultTracks(),
		start:     time.Now(),
		failEvery: *failEvery,
	}
	for _, tr := range sim.tracks {
		if alt, ok := tr.altFt.(float64); ok {
			log.Printf("Track %s %s: bearing %.0f, %.0f m abeam, %.0f m altitude",
				tr.hex, strings.TrimSpace(tr.flight), tr.bearing, tr.offsetM, alt/feetPerMeter)
		}
	}

	mux := http.NewServeMux()
	mux.Handle(*path, sim)
	srv := &http.Server{Addr: *listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("Serving simulated feed on http://%s%s", *listen, *path)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("feedsim: %v", err)
	}
}
