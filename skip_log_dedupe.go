package main

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultSkipLogMaxKeys = 256

// skipLogDeduper rate-limits the per-cycle "Skipping aircraft" warnings. A
// taxiing aircraft reporting alt_baro "ground" would otherwise log on every
// poll for as long as it stays in range.
type skipLogDeduper struct {
	mu      sync.Mutex
	window  time.Duration
	maxKeys int
	now     func() time.Time
	entries map[string]skipLogEntry
}

type skipLogEntry struct {
	nextEmit   time.Time
	lastSeen   time.Time
	suppressed uint64
}

func newSkipLogDeduper(window time.Duration, maxKeys int) *skipLogDeduper {
	if window <= 0 || maxKeys <= 0 {
		return nil
	}
	return &skipLogDeduper{
		window:  window,
		maxKeys: maxKeys,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]skipLogEntry, maxKeys),
	}
}

// Process returns the line to emit and whether to emit it at all. Lines that
// are not skip warnings pass through untouched.
func (d *skipLogDeduper) Process(line string) (string, bool) {
	if d == nil {
		return line, true
	}
	key, ok := skipLogKey(line)
	if !ok {
		return line, true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, found := d.entries[key]
	if !found {
		d.evictOneIfNeededLocked()
		d.entries[key] = skipLogEntry{nextEmit: now.Add(d.window), lastSeen: now}
		return line, true
	}
	entry.lastSeen = now
	if now.Before(entry.nextEmit) {
		entry.suppressed++
		d.entries[key] = entry
		return "", false
	}
	suppressed := entry.suppressed
	entry.suppressed = 0
	entry.nextEmit = now.Add(d.window)
	d.entries[key] = entry
	if suppressed > 0 {
		line = fmt.Sprintf("%s (suppressed=%d over %s)", line, suppressed, d.window)
	}
	return line, true
}

func (d *skipLogDeduper) evictOneIfNeededLocked() {
	if len(d.entries) < d.maxKeys {
		return
	}
	var oldestKey string
	var oldestSeen time.Time
	haveOldest := false
	for key, entry := range d.entries {
		if !haveOldest || entry.lastSeen.Before(oldestSeen) {
			oldestKey = key
			oldestSeen = entry.lastSeen
			haveOldest = true
		}
	}
	if haveOldest {
		delete(d.entries, oldestKey)
	}
}

// skipLogKey extracts hex and offending field from
// "Skipping aircraft <hex> (<flight>): aircraft <hex>: field <name>=<value>: ...".
func skipLogKey(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "Skipping" || fields[1] != "aircraft" {
		return "", false
	}
	hex := strings.ToLower(strings.Trim(fields[2], "():,"))
	if hex == "" {
		return "", false
	}
	field := "?"
	if idx := strings.Index(line, " field "); idx >= 0 {
		rest := line[idx+len(" field "):]
		if eq := strings.IndexByte(rest, '='); eq > 0 {
			field = rest[:eq]
		}
	}
	return "skip:" + hex + ":" + field, true
}
