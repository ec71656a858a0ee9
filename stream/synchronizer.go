package stream

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
	"github.com/SolaceHarmony/SolaceLive-sub001/metrics"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// StreamNone marks the absence of a dominant stream in an overlap
// result: either there was no overlap, or both sides contributed
// exactly equal active duration.
const StreamNone wire.StreamID = 0

// OverlapResult describes cross-stream activity within a trailing
// scan window.
type OverlapResult struct {
	HasOverlap      bool
	OverlapDuration time.Duration
	DominantStream  wire.StreamID
}

// SynchronizerConfig tunes the activity logs.
type SynchronizerConfig struct {
	// RetentionMs bounds how old a logged activity entry may be before
	// eviction.
	RetentionMs uint32
	// MaxEntries caps each stream's log regardless of age.
	MaxEntries int
	// TimeProvider supplies the clock for retention decisions and
	// DetectOverlap's notion of "now". Nil means the system clock.
	TimeProvider TimeProvider
}

// DefaultSynchronizerConfig returns production defaults.
func DefaultSynchronizerConfig() SynchronizerConfig {
	return SynchronizerConfig{
		RetentionMs: limits.DefaultActivityRetentionMs,
		MaxEntries:  1024,
	}
}

// activityEntry is one recorded span of speech activity: a start time
// in wire-clock microseconds plus a duration.
type activityEntry struct {
	startMicros uint64
	duration    time.Duration
}

func (a activityEntry) endMicros() uint64 {
	return a.startMicros + uint64(a.duration.Microseconds())
}

// StreamSynchronizer detects overlapping speech across the USER and AI
// streams so a turn-taking decision (barge-in arbitration) can be made
// outside this component. It keeps a bounded, time-ordered activity
// log per stream and answers trailing-window overlap queries with a
// dominance verdict based on cumulative active duration.
type StreamSynchronizer struct {
	mu     sync.Mutex
	config SynchronizerConfig
	tp     TimeProvider
	user   []activityEntry
	ai     []activityEntry
}

// NewStreamSynchronizer creates a synchronizer. Zero-valued config
// fields fall back to defaults.
func NewStreamSynchronizer(config SynchronizerConfig) *StreamSynchronizer {
	defaults := DefaultSynchronizerConfig()
	if config.RetentionMs == 0 {
		config.RetentionMs = defaults.RetentionMs
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaults.MaxEntries
	}
	return &StreamSynchronizer{
		config: config,
		tp:     getTimeProvider(config.TimeProvider),
	}
}

// AddUserEvent appends a span of user speech activity to the log.
func (ss *StreamSynchronizer) AddUserEvent(timestampMicros uint64, duration time.Duration) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.user = ss.appendLocked(ss.user, timestampMicros, duration)
}

// AddAIEvent appends a span of AI speech activity to the log.
func (ss *StreamSynchronizer) AddAIEvent(timestampMicros uint64, duration time.Duration) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.ai = ss.appendLocked(ss.ai, timestampMicros, duration)
}

// appendLocked inserts keeping time order, then evicts entries beyond
// retention or the entry cap, oldest first.
func (ss *StreamSynchronizer) appendLocked(log []activityEntry, startMicros uint64, duration time.Duration) []activityEntry {
	entry := activityEntry{startMicros: startMicros, duration: duration}
	if n := len(log); n > 0 && log[n-1].startMicros > startMicros {
		// Out-of-order arrival: insert at the right position.
		i := sort.Search(n, func(i int) bool { return log[i].startMicros > startMicros })
		log = append(log, activityEntry{})
		copy(log[i+1:], log[i:])
		log[i] = entry
	} else {
		log = append(log, entry)
	}

	horizon := Micros(ss.tp.Now())
	retention := uint64(ss.config.RetentionMs) * 1000
	firstKept := 0
	for firstKept < len(log) && elapsedMicros(horizon, log[firstKept].endMicros()) > retention {
		firstKept++
	}
	if over := len(log) - firstKept - ss.config.MaxEntries; over > 0 {
		firstKept += over
	}
	if firstKept > 0 {
		log = append(log[:0], log[firstKept:]...)
	}
	return log
}

// DetectOverlap scans the trailing windowMs for intervals where both
// streams show activity, using the synchronizer's clock as the window
// end. See DetectOverlapAt.
func (ss *StreamSynchronizer) DetectOverlap(windowMs uint32) OverlapResult {
	return ss.DetectOverlapAt(Micros(ss.tp.Now()), windowMs)
}

// DetectOverlapAt answers the overlap query for an explicit window end
// time. Each stream's activity intervals are merged, clipped to the
// [nowMicros-window, nowMicros] range, and intersected; dominance goes
// to the stream with greater cumulative active duration inside the
// window, and equal durations yield no dominant stream.
func (ss *StreamSynchronizer) DetectOverlapAt(nowMicros uint64, windowMs uint32) OverlapResult {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	window := uint64(windowMs) * 1000
	var windowStart uint64
	if nowMicros > window {
		windowStart = nowMicros - window
	}

	userIntervals := clipAndMerge(ss.user, windowStart, nowMicros)
	aiIntervals := clipAndMerge(ss.ai, windowStart, nowMicros)

	overlap := intersectDuration(userIntervals, aiIntervals)
	result := OverlapResult{DominantStream: StreamNone}
	if overlap == 0 {
		return result
	}

	result.HasOverlap = true
	result.OverlapDuration = time.Duration(overlap) * time.Microsecond
	metrics.OverlapsDetected.Inc()

	userActive := totalDuration(userIntervals)
	aiActive := totalDuration(aiIntervals)
	switch {
	case userActive > aiActive:
		result.DominantStream = wire.StreamUser
	case aiActive > userActive:
		result.DominantStream = wire.StreamAI
	}

	logrus.WithFields(logrus.Fields{
		"function":   "DetectOverlapAt",
		"overlap_ms": result.OverlapDuration.Milliseconds(),
		"dominant":   result.DominantStream.String(),
	}).Debug("Speech overlap detected")
	return result
}

type interval struct {
	start uint64
	end   uint64
}

// clipAndMerge converts a time-ordered activity log into a merged,
// non-overlapping interval list clipped to [windowStart, windowEnd].
func clipAndMerge(log []activityEntry, windowStart, windowEnd uint64) []interval {
	var merged []interval
	for _, entry := range log {
		start := entry.startMicros
		end := entry.endMicros()
		if end <= windowStart || start >= windowEnd {
			continue
		}
		if start < windowStart {
			start = windowStart
		}
		if end > windowEnd {
			end = windowEnd
		}
		if n := len(merged); n > 0 && start <= merged[n-1].end {
			if end > merged[n-1].end {
				merged[n-1].end = end
			}
			continue
		}
		merged = append(merged, interval{start: start, end: end})
	}
	return merged
}

// intersectDuration returns the total microseconds where both interval
// lists are simultaneously active.
func intersectDuration(a, b []interval) uint64 {
	var total uint64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := a[i].start
		if b[j].start > start {
			start = b[j].start
		}
		end := a[i].end
		if b[j].end < end {
			end = b[j].end
		}
		if end > start {
			total += end - start
		}
		if a[i].end < b[j].end {
			i++
		} else {
			j++
		}
	}
	return total
}

func totalDuration(intervals []interval) uint64 {
	var total uint64
	for _, iv := range intervals {
		total += iv.end - iv.start
	}
	return total
}
