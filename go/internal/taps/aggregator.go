// Package taps turns discrete peripheral taps into a per-minute rate and an
// intensity tier.
package taps

import (
	"time"
)

const (
	// Window is the trailing span counted by Rate.
	Window = 60 * time.Second
	// SurgeRate is the taps-per-minute at which the viewer is surging.
	SurgeRate = 50

	minTier = 1
	maxTier = 5
)

// Aggregator keeps the timestamps of the taps inside the trailing window.
// It is not safe for concurrent use; the controller serializes access.
type Aggregator struct {
	times []time.Time
	head  int
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// RecordTap appends a tap at now. Timestamps stay non-decreasing: a tap
// stamped earlier than the newest one is recorded at the newest time.
func (a *Aggregator) RecordTap(now time.Time) {
	if n := len(a.times); n > a.head && now.Before(a.times[n-1]) {
		now = a.times[n-1]
	}
	a.times = append(a.times, now)
	a.trim(now)
}

// Rate drops taps older than now-Window and returns how many remain.
func (a *Aggregator) Rate(now time.Time) int {
	a.trim(now)
	return len(a.times) - a.head
}

// Reset forgets every recorded tap.
func (a *Aggregator) Reset() {
	a.times = nil
	a.head = 0
}

func (a *Aggregator) trim(now time.Time) {
	cutoff := now.Add(-Window)
	for a.head < len(a.times) && a.times[a.head].Before(cutoff) {
		a.head++
	}

	// Compact once the dead prefix dominates so trimming stays amortized O(1).
	if a.head > 0 && a.head*2 >= len(a.times) {
		live := copy(a.times, a.times[a.head:])
		a.times = a.times[:live]
		a.head = 0
	}
}

// IntensityTier maps a lifetime tap count onto 1..5, one tier per ten taps.
func IntensityTier(totalTaps int) int {
	tier := totalTaps/10 + 1
	if tier < minTier {
		return minTier
	}
	if tier > maxTier {
		return maxTier
	}
	return tier
}

// IsSurging reports whether rate has reached SurgeRate.
func IsSurging(rate int) bool {
	return rate >= SurgeRate
}
