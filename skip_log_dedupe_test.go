package main

import (
	"strings"
	"testing"
	"time"
)

func TestSkipLogKey(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
		ok   bool
	}{
		{
			name: "ground altitude",
			line: "Skipping aircraft 4CA9C2 (EIN3CA): aircraft 4CA9C2: field alt_baro=ground: not a number",
			want: "skip:4ca9c2:alt_baro",
			ok:   true,
		},
		{
			name: "no field detail",
			line: "Skipping aircraft 3c6444 (DLH4YA): boom",
			want: "skip:3c6444:?",
			ok:   true,
		},
		{
			name: "low pass line",
			line: "LOW PASS : 4ca7b5 - RYR1AB - distance: 150 - altitude: 91",
			ok:   false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := skipLogKey(tc.line)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v (key=%q)", tc.ok, ok, got)
			}
			if tc.ok && got != tc.want {
				t.Fatalf("expected key %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSkipLogDeduperSuppressesWithinWindow(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	d := newSkipLogDeduper(30*time.Second, 16)
	d.now = func() time.Time { return now }
	line := "Skipping aircraft 4ca9c2 (EIN3CA): aircraft 4ca9c2: field alt_baro=ground: not a number"

	if out, ok := d.Process(line); !ok || out != line {
		t.Fatalf("expected first line to pass, got %q ok=%v", out, ok)
	}
	for i := 0; i < 3; i++ {
		now = now.Add(5 * time.Second)
		if _, ok := d.Process(line); ok {
			t.Fatalf("expected repeat %d to be suppressed", i)
		}
	}
	now = now.Add(30 * time.Second)
	out, ok := d.Process(line)
	if !ok {
		t.Fatalf("expected line after window")
	}
	if !strings.HasSuffix(out, "(suppressed=3 over 30s)") {
		t.Fatalf("expected suppression summary, got %q", out)
	}
}

func TestSkipLogDeduperPassesOtherLines(t *testing.T) {
	d := newSkipLogDeduper(time.Minute, 4)
	for i := 0; i < 3; i++ {
		if _, ok := d.Process("LOW PASS : 4ca7b5 - RYR1AB - distance: 150 - altitude: 91"); !ok {
			t.Fatalf("expected low pass line to always pass")
		}
	}
}

func TestSkipLogDeduperEvictsOldest(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	d := newSkipLogDeduper(time.Hour, 2)
	d.now = func() time.Time { return now }
	d.Process("Skipping aircraft aaaaaa (A1): x")
	now = now.Add(time.Second)
	d.Process("Skipping aircraft bbbbbb (B1): x")
	now = now.Add(time.Second)
	d.Process("Skipping aircraft cccccc (C1): x")

	if _, ok := d.entries["skip:aaaaaa:?"]; ok {
		t.Fatalf("expected oldest key to be evicted")
	}
	if _, ok := d.Process("Skipping aircraft aaaaaa (A1): x"); !ok {
		t.Fatalf("expected evicted key to log again")
	}
}

func TestNilSkipLogDeduperPassesThrough(t *testing.T) {
	var d *skipLogDeduper
	if newSkipLogDeduper(0, 10) != nil {
		t.Fatalf("expected nil deduper for zero window")
	}
	if out, ok := d.Process("Skipping aircraft 4ca9c2 (X): y"); !ok || out == "" {
		t.Fatalf("expected nil deduper to pass lines")
	}
}
