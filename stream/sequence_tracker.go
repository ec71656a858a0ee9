package stream

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
	"github.com/SolaceHarmony/SolaceLive-sub001/metrics"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// ArrivalStatus classifies how a packet's sequence number relates to
// the stream position the tracker expects.
type ArrivalStatus int

const (
	// StatusOK is the expected next sequence, or a late arrival that
	// fills an outstanding gap.
	StatusOK ArrivalStatus = iota
	// StatusDuplicate is a sequence the tracker already delivered.
	StatusDuplicate
	// StatusFuture is a sequence beyond the expected one; every
	// intervening sequence is recorded as missing.
	StatusFuture
	// StatusLate is a sequence below every outstanding gap, typically
	// one whose gap already expired. Accepted but not re-reported.
	StatusLate
)

// String returns a human-readable name for the status.
func (s ArrivalStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDuplicate:
		return "duplicate"
	case StatusFuture:
		return "future"
	case StatusLate:
		return "late"
	default:
		return "invalid"
	}
}

// ArrivalResult is the outcome of processing one packet arrival.
// Missing lists the sequence numbers newly recorded as gaps (future
// arrivals only).
type ArrivalResult struct {
	Status  ArrivalStatus
	Missing []uint32
}

// TrackerConfig tunes gap aging.
type TrackerConfig struct {
	// GapTimeoutMs is how long a gap persists before the first
	// retransmit request for it is due.
	GapTimeoutMs uint32
	// RetryIntervalMs spaces repeated retransmit requests for the same
	// gap while it remains within its TTL.
	RetryIntervalMs uint32
	// GapTTLMs is how long an unresolved gap is tracked before it is
	// abandoned; expiry bounds retry, there is no unbounded loop.
	GapTTLMs uint32
}

// DefaultTrackerConfig returns production gap-aging defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		GapTimeoutMs:    limits.DefaultGapTimeoutMs,
		RetryIntervalMs: limits.DefaultGapTimeoutMs * 2,
		GapTTLMs:        limits.DefaultGapTTLMs,
	}
}

type gapState struct {
	recordedAt  uint64 // µs
	requestedAt uint64 // µs, 0 until first request
}

// dedupeWindow bounds how far below the expected sequence the tracker
// remembers delivered sequence numbers for duplicate detection.
const dedupeWindow = 4096

// SequenceTracker performs per-stream duplicate and gap detection.
// It tracks the next expected sequence number, the set of outstanding
// gaps with their ages, and a bounded window of delivered sequences.
//
// Not safe for concurrent use; the owning lane serializes access.
type SequenceTracker struct {
	mu        sync.Mutex
	stream    wire.StreamID
	config    TrackerConfig
	expected  uint32
	delivered map[uint32]struct{}
	missing   map[uint32]*gapState
	expired   uint64
	resets    uint64
}

// NewSequenceTracker creates a tracker for one stream, expecting the
// stream's sequence numbering to begin at zero.
func NewSequenceTracker(stream wire.StreamID, config TrackerConfig) *SequenceTracker {
	defaults := DefaultTrackerConfig()
	if config.GapTimeoutMs == 0 {
		config.GapTimeoutMs = defaults.GapTimeoutMs
	}
	if config.RetryIntervalMs == 0 {
		config.RetryIntervalMs = defaults.RetryIntervalMs
	}
	if config.GapTTLMs == 0 {
		config.GapTTLMs = defaults.GapTTLMs
	}
	return &SequenceTracker{
		stream:    stream,
		config:    config,
		delivered: make(map[uint32]struct{}),
		missing:   make(map[uint32]*gapState),
	}
}

// Process classifies one arrival and updates gap bookkeeping.
func (st *SequenceTracker) Process(packet *wire.Packet, nowMicros uint64) ArrivalResult {
	st.mu.Lock()
	defer st.mu.Unlock()

	seq := packet.SequenceNumber

	switch {
	case seq == st.expected:
		st.markDeliveredLocked(seq)
		st.expected = seq + 1
		return ArrivalResult{Status: StatusOK}

	case seq > st.expected:
		if seq-st.expected > limits.MaxGapBurst {
			// A jump this large cannot be loss at voice cadence; treat
			// it as a stream reset and resynchronize without opening
			// one gap per skipped sequence.
			st.resets++
			logrus.WithFields(logrus.Fields{
				"function": "Process",
				"stream":   st.stream.String(),
				"expected": st.expected,
				"sequence": seq,
				"skipped":  seq - st.expected,
			}).Warn("Sequence jump exceeds gap window, resynchronizing")
			st.markDeliveredLocked(seq)
			st.expected = seq + 1
			return ArrivalResult{Status: StatusFuture}
		}

		var newGaps []uint32
		for s := st.expected; s < seq; s++ {
			if _, have := st.delivered[s]; have {
				continue
			}
			if _, open := st.missing[s]; open {
				continue
			}
			st.missing[s] = &gapState{recordedAt: nowMicros}
			newGaps = append(newGaps, s)
		}
		st.markDeliveredLocked(seq)
		st.expected = seq + 1
		if len(newGaps) > 0 {
			metrics.SequenceGaps.Add(float64(len(newGaps)))
			logrus.WithFields(logrus.Fields{
				"function":  "Process",
				"stream":    st.stream.String(),
				"sequence":  seq,
				"gap_count": len(newGaps),
				"gap_first": newGaps[0],
				"gap_last":  newGaps[len(newGaps)-1],
			}).Warn("Sequence gap detected")
		}
		return ArrivalResult{Status: StatusFuture, Missing: newGaps}

	default: // seq < expected
		if _, open := st.missing[seq]; open {
			delete(st.missing, seq)
			st.markDeliveredLocked(seq)
			return ArrivalResult{Status: StatusOK}
		}
		if _, have := st.delivered[seq]; have {
			return ArrivalResult{Status: StatusDuplicate}
		}
		// Below every outstanding gap: the gap for this sequence is
		// gone (expired or never opened). Accept without re-reporting.
		st.markDeliveredLocked(seq)
		return ArrivalResult{Status: StatusLate}
	}
}

func (st *SequenceTracker) markDeliveredLocked(seq uint32) {
	st.delivered[seq] = struct{}{}
	if len(st.delivered) > 2*dedupeWindow && st.expected > dedupeWindow {
		floor := st.expected - dedupeWindow
		for s := range st.delivered {
			if s < floor {
				delete(st.delivered, s)
			}
		}
	}
}

// MissingSequences returns the current outstanding gap set, sorted.
func (st *SequenceTracker) MissingSequences() []uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sortedGapsLocked(func(*gapState) bool { return true })
}

// DueForRetransmit returns gaps old enough for a (re-)request and
// marks them requested. A gap becomes due GapTimeoutMs after it was
// recorded, then again every RetryIntervalMs until it resolves or its
// TTL expires it.
func (st *SequenceTracker) DueForRetransmit(nowMicros uint64) []uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()

	timeout := uint64(st.config.GapTimeoutMs) * 1000
	retry := uint64(st.config.RetryIntervalMs) * 1000

	due := st.sortedGapsLocked(func(g *gapState) bool {
		if g.requestedAt == 0 {
			return elapsedMicros(nowMicros, g.recordedAt) >= timeout
		}
		return elapsedMicros(nowMicros, g.requestedAt) >= retry
	})
	for _, seq := range due {
		st.missing[seq].requestedAt = nowMicros
	}
	return due
}

// ExpireGaps abandons gaps older than the gap TTL and returns them.
// A very late arrival for an expired sequence classifies as late
// rather than reopening the gap.
func (st *SequenceTracker) ExpireGaps(nowMicros uint64) []uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()

	ttl := uint64(st.config.GapTTLMs) * 1000
	expired := st.sortedGapsLocked(func(g *gapState) bool {
		return elapsedMicros(nowMicros, g.recordedAt) >= ttl
	})
	for _, seq := range expired {
		delete(st.missing, seq)
		st.expired++
	}
	if len(expired) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "ExpireGaps",
			"stream":   st.stream.String(),
			"expired":  expired,
		}).Warn("Abandoning unresolved sequence gaps")
	}
	return expired
}

// OutstandingGaps returns the number of unresolved gaps.
func (st *SequenceTracker) OutstandingGaps() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.missing)
}

// ExpiredGaps returns how many gaps were abandoned past their TTL.
func (st *SequenceTracker) ExpiredGaps() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.expired
}

// Resets returns how many out-of-window sequence jumps forced a
// resynchronization.
func (st *SequenceTracker) Resets() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.resets
}

func (st *SequenceTracker) sortedGapsLocked(match func(*gapState) bool) []uint32 {
	var seqs []uint32
	for seq, g := range st.missing {
		if match(g) {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}
