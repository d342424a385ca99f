package daily

import (
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.October, 15, hour, minute, 0, 0, time.UTC)
}

func TestRecordLowPassTracksEarliestAndLatest(t *testing.T) {
	a := New(3, time.UTC)
	if s := a.Snapshot(); s.Count != 0 || s.Earliest != nil || s.Latest != nil {
		t.Fatalf("expected empty state, got %+v", s)
	}

	first := at(9, 0)
	a.RecordLowPass(first)
	second := at(11, 30)
	a.RecordLowPass(second)

	s := a.Snapshot()
	if s.Count != 2 {
		t.Fatalf("expected count 2, got %d", s.Count)
	}
	if s.Earliest == nil || !s.Earliest.Equal(first) {
		t.Fatalf("earliest should stay at first sighting, got %v", s.Earliest)
	}
	if s.Latest == nil || !s.Latest.Equal(second) {
		t.Fatalf("latest should follow the newest sighting, got %v", s.Latest)
	}
	if s.Earliest.After(*s.Latest) {
		t.Fatalf("earliest after latest: %v > %v", s.Earliest, s.Latest)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New(3, time.UTC)
	a.RecordLowPass(at(9, 0))
	s := a.Snapshot()
	*s.Earliest = at(1, 0)
	s.Count = 99
	again := a.Snapshot()
	if again.Count != 1 || !again.Earliest.Equal(at(9, 0)) {
		t.Fatalf("snapshot mutation leaked into aggregator: %+v", again)
	}
}

func TestMaybeRollover(t *testing.T) {
	tests := []struct {
		name      string
		last      time.Time
		now       time.Time
		wantReset bool
	}{
		{name: "crossing the rollover hour", last: at(2, 59), now: at(3, 0), wantReset: true},
		{name: "same hour", last: at(3, 0), now: at(3, 5), wantReset: false},
		{name: "before rollover", last: at(1, 0), now: at(2, 59), wantReset: false},
		{name: "long gap from before to after", last: at(0, 10), now: at(7, 0), wantReset: true},
		{name: "midnight alone does not reset", last: at(23, 59), now: at(0, 0).Add(24 * time.Hour), wantReset: false},
		{name: "gap spanning the hour from the previous evening", last: at(22, 0), now: at(4, 0).Add(24 * time.Hour), wantReset: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := New(3, time.UTC)
			a.MaybeRollover(tc.last)
			a.RecordLowPass(tc.last)

			got := a.MaybeRollover(tc.now)
			if got != tc.wantReset {
				t.Fatalf("MaybeRollover = %v, want %v", got, tc.wantReset)
			}
			s := a.Snapshot()
			if tc.wantReset {
				if s.Count != 0 || s.Earliest != nil || s.Latest != nil {
					t.Fatalf("expected reset state, got %+v", s)
				}
			} else if s.Count != 1 {
				t.Fatalf("expected count preserved, got %d", s.Count)
			}
			last, ok := a.LastRun()
			if !ok || !last.Equal(tc.now) {
				t.Fatalf("lastRun not updated: %v", last)
			}
		})
	}
}

func TestFirstCallNeverResets(t *testing.T) {
	a := New(3, time.UTC)
	a.RecordLowPass(at(3, 0))
	if a.MaybeRollover(at(3, 0)) {
		t.Fatalf("first call must not reset")
	}
	if a.Snapshot().Count != 1 {
		t.Fatalf("state changed on first call")
	}
}

func TestRolloverUsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	a := New(3, loc)
	// 00:30 UTC is 02:30 local, 01:10 UTC is 03:10 local.
	a.MaybeRollover(at(0, 30))
	a.RecordLowPass(at(0, 30))
	if !a.MaybeRollover(at(1, 10)) {
		t.Fatalf("expected reset when local hour crosses 3")
	}
}

func TestNewNormalizesArguments(t *testing.T) {
	a := New(42, nil)
	if a.RolloverHour() != DefaultRolloverHour {
		t.Fatalf("expected default rollover hour, got %d", a.RolloverHour())
	}
	if a.Location() != time.Local {
		t.Fatalf("expected local time zone")
	}
}
