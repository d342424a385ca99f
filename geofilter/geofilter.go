// Package geofilter decides whether a single aircraft record is a low pass over
// the home location: low enough and close enough, measured on the WGS-84
// ellipsoid.
package geofilter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"lowpass/feed"

	"github.com/tidwall/geodesic"
)

// FeetToMeters converts barometric altitude reported in feet.
const FeetToMeters = 0.3048

// Home is the fixed observation point.
type Home struct {
	Lat float64
	Lon float64
}

// Thresholds bound a low pass. Altitude is inclusive, distance is strict.
type Thresholds struct {
	MaxAltitudeM float64
	MaxDistanceM float64
}

// Result carries the rounded measurements used for the verdict.
type Result struct {
	DistanceM float64
	AltitudeM float64
	LowPass   bool
}

// ConversionError reports a position or altitude value that could not be
// turned into a number. The record is skipped for the current cycle.
type ConversionError struct {
	Hex   string
	Field string
	Value any
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("aircraft %s: field %s=%v: %v", e.Hex, e.Field, e.Value, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Filter evaluates records against a home location and thresholds.
type Filter struct {
	home       Home
	thresholds Thresholds
}

// New returns a Filter. Both arguments are fixed for the process lifetime.
func New(home Home, thresholds Thresholds) *Filter {
	return &Filter{home: home, thresholds: thresholds}
}

// Home returns the observation point.
func (f *Filter) Home() Home { return f.home }

// Thresholds returns the configured limits.
func (f *Filter) Thresholds() Thresholds { return f.thresholds }

// Evaluate measures ac against the home location. The caller must only pass
// eligible records (see feed.Aircraft.Eligible).
func (f *Filter) Evaluate(ac feed.Aircraft) (Result, error) {
	lat, err := toFloat(ac.Lat)
	if err == nil && (lat < -90 || lat > 90) {
		err = fmt.Errorf("latitude out of range")
	}
	if err != nil {
		return Result{}, &ConversionError{Hex: ac.Hex, Field: "lat", Value: ac.Lat, Err: err}
	}
	lon, err := toFloat(ac.Lon)
	if err == nil && (lon < -180 || lon > 180) {
		err = fmt.Errorf("longitude out of range")
	}
	if err != nil {
		return Result{}, &ConversionError{Hex: ac.Hex, Field: "lon", Value: ac.Lon, Err: err}
	}
	altFeet, err := toFloat(ac.AltBaro)
	if err != nil {
		return Result{}, &ConversionError{Hex: ac.Hex, Field: "alt_baro", Value: ac.AltBaro, Err: err}
	}

	res := Result{
		DistanceM: math.RoundToEven(DistanceMeters(f.home.Lat, f.home.Lon, lat, lon)),
		AltitudeM: math.RoundToEven(altFeet * FeetToMeters),
	}
	res.LowPass = res.AltitudeM <= f.thresholds.MaxAltitudeM && res.DistanceM < f.thresholds.MaxDistanceM
	return res, nil
}

// DistanceMeters returns the geodesic distance between two points on the
// WGS-84 ellipsoid.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(lat1, lon1, lat2, lon2, &s12, nil, nil)
	return s12
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number")
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return f, nil
}
