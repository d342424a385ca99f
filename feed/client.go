// Package feed fetches the aircraft list published by a local ADS-B decoder
// (readsb/dump1090 aircraft.json) and exposes the handful of fields the
// low-pass detector needs.
//
// Response Format:
//
//	{"now": 1700000000.1, "aircraft": [{"hex": "4ca7b5", "flight": "RYR1AB  ",
//	  "lat": 53.42, "lon": -6.27, "alt_baro": 1250, ...}, ...]}
//
// alt_baro is the string "ground" for aircraft on the surface, so field values
// are kept as decoded and converted later by the geofilter package.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTimeout bounds a single fetch when the caller does not configure one.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps the response size; a busy receiver produces well under 1 MiB.
const maxBodyBytes = 16 << 20

// Field presence bits for Aircraft.
const (
	HasLat uint8 = 1 << iota
	HasLon
	HasAltBaro
	HasFlight

	requiredFields = HasLat | HasLon | HasAltBaro | HasFlight
)

// Aircraft is one tracked aircraft from a single poll. Position and altitude
// are the raw decoded JSON values (float64, string, or anything else the
// receiver emitted).
type Aircraft struct {
	Hex     string
	Flight  string
	Lat     any
	Lon     any
	AltBaro any
	Present uint8
}

// Eligible reports whether the record carries lat, lon, alt_baro and a
// non-blank flight label.
func (a Aircraft) Eligible() bool {
	return a.Present&requiredFields == requiredFields && a.Flight != ""
}

// FetchError marks a failure to reach the feed or to decode its response.
// The runner treats these as transient and backs off.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err (or anything it wraps) is a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Client polls a single aircraft.json URL.
type Client struct {
	url    string
	client *http.Client
}

// NewClient builds a feed client. A non-positive timeout selects DefaultTimeout.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

// URL returns the configured feed URL.
func (c *Client) URL() string {
	return c.url
}

type response struct {
	Aircraft []map[string]any `json:"aircraft"`
}

// Fetch performs one GET and returns every aircraft in the response. All
// failures are returned as *FetchError.
func (c *Client) Fetch(ctx context.Context) ([]Aircraft, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: c.url, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: fmt.Errorf("read body: %w", err)}
	}
	aircraft, err := Parse(body)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	return aircraft, nil
}

// Parse decodes an aircraft.json document.
func Parse(body []byte) ([]Aircraft, error) {
	var doc response
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode aircraft list: %w", err)
	}
	if doc.Aircraft == nil {
		return nil, errors.New("decode aircraft list: missing \"aircraft\" array")
	}
	out := make([]Aircraft, 0, len(doc.Aircraft))
	for _, raw := range doc.Aircraft {
		out = append(out, fromMap(raw))
	}
	return out, nil
}

func fromMap(raw map[string]any) Aircraft {
	var ac Aircraft
	if hex, ok := raw["hex"].(string); ok {
		ac.Hex = strings.TrimSpace(hex)
	}
	if v, ok := raw["flight"]; ok && v != nil {
		ac.Present |= HasFlight
		if s, ok := v.(string); ok {
			ac.Flight = strings.TrimSpace(s)
		} else {
			ac.Flight = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	if v, ok := raw["lat"]; ok && v != nil {
		ac.Present |= HasLat
		ac.Lat = v
	}
	if v, ok := raw["lon"]; ok && v != nil {
		ac.Present |= HasLon
		ac.Lon = v
	}
	if v, ok := raw["alt_baro"]; ok && v != nil {
		ac.Present |= HasAltBaro
		ac.AltBaro = v
	}
	return ac
}
