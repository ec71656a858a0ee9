// Package stream implements the per-stream receive machinery of the
// SolaceLive transport core: priority queueing, jitter buffering,
// sequence tracking, the dual-stream processor that ties them together,
// and the cross-stream synchronizer used for turn-taking decisions.
package stream

import "time"

// TimeProvider is an interface for getting the current time and creating
// tickers. This allows injecting a mock time provider for deterministic
// testing of delay gating, gap timeouts and dispatch cadence.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker creates a new ticker that fires at the given interval.
	NewTicker(d time.Duration) *time.Ticker
}

// RealTimeProvider implements TimeProvider using the actual system time.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// NewTicker creates a new ticker using the standard library.
func (RealTimeProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// getTimeProvider returns the provided TimeProvider if non-nil,
// otherwise the real clock.
func getTimeProvider(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}

// Micros converts a time to the wire clock: microseconds.
func Micros(t time.Time) uint64 {
	return uint64(t.UnixMicro())
}

// elapsedMicros returns now-then with saturating subtraction. Packet
// timestamps come from a remote clock, so "now" may legitimately sit
// behind a packet's timestamp; negative elapsed time clamps to zero
// rather than wrapping.
func elapsedMicros(now, then uint64) uint64 {
	if now <= then {
		return 0
	}
	return now - then
}
