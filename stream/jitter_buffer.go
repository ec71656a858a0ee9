package stream

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
	"github.com/SolaceHarmony/SolaceLive-sub001/metrics"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// JitterConfig configures a jitter buffer.
type JitterConfig struct {
	// TargetDelayMs is the initial release delay.
	TargetDelayMs uint32
	// MinDelayMs and MaxDelayMs bound adaptive target delay movement.
	MinDelayMs uint32
	MaxDelayMs uint32
	// Adaptive enables target delay adaptation from observed arrival
	// variance and occupancy.
	Adaptive bool
	// Capacity bounds the number of buffered packets. Overflow evicts
	// the lowest-priority-then-oldest entry and counts the drop.
	Capacity int
}

// DefaultJitterConfig returns the production defaults, matched to the
// 20 ms audio cadence.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		TargetDelayMs: limits.DefaultJitterDelayMs,
		MinDelayMs:    limits.MinJitterDelayMs,
		MaxDelayMs:    limits.MaxJitterDelayMs,
		Adaptive:      true,
		Capacity:      limits.DefaultJitterCapacity,
	}
}

// BufferStats is a point-in-time snapshot of jitter buffer counters.
type BufferStats struct {
	PacketsReceived uint64
	PacketsDropped  uint64
	Duplicates      uint64
	TargetDelayMs   uint32
	Occupancy       int
}

type jitterEntry struct {
	packet    *wire.Packet
	arrivedAt uint64 // µs
}

// JitterBuffer is a per-stream timestamp-gated release buffer. Packets
// are stored by sequence number independent of arrival order and
// released, in ascending sequence order, once they have aged past the
// target delay. In adaptive mode the target delay tracks an RFC
// 3550-style inter-arrival jitter estimate plus occupancy pressure:
// it rises multiplicatively when jitter or occupancy climbs and decays
// additively after a sustained calm streak, clamped to [min, max].
type JitterBuffer struct {
	mu      sync.Mutex
	stream  wire.StreamID
	config  JitterConfig
	entries map[uint32]*jitterEntry

	targetDelayMicros uint64

	// Adaptation state.
	haveLast        bool
	lastArrival     uint64
	lastTimestamp   uint64
	jitterEstimate  float64 // µs
	calmStreak      int

	packetsReceived uint64
	packetsDropped  uint64
	duplicates      uint64
}

// NewJitterBuffer creates a jitter buffer for one stream. Zero-valued
// config fields fall back to defaults; MinDelayMs above MaxDelayMs is
// a misuse and collapses the band to TargetDelayMs.
func NewJitterBuffer(stream wire.StreamID, config JitterConfig) *JitterBuffer {
	defaults := DefaultJitterConfig()
	if config.TargetDelayMs == 0 {
		config.TargetDelayMs = defaults.TargetDelayMs
	}
	if config.MinDelayMs == 0 {
		config.MinDelayMs = defaults.MinDelayMs
	}
	if config.MaxDelayMs == 0 {
		config.MaxDelayMs = defaults.MaxDelayMs
	}
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.MinDelayMs > config.MaxDelayMs {
		config.MinDelayMs = config.TargetDelayMs
		config.MaxDelayMs = config.TargetDelayMs
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewJitterBuffer",
		"stream":       stream.String(),
		"target_delay": config.TargetDelayMs,
		"adaptive":     config.Adaptive,
		"capacity":     config.Capacity,
	}).Debug("Creating jitter buffer")

	return &JitterBuffer{
		stream:            stream,
		config:            config,
		entries:           make(map[uint32]*jitterEntry),
		targetDelayMicros: uint64(config.TargetDelayMs) * 1000,
	}
}

// Add stores a packet by sequence number. A sequence already buffered
// is ignored and counted as a duplicate, never overwritten. When the
// buffer is full the lowest-priority-then-oldest entry is evicted and
// the drop counter increments; nothing is lost unaccounted.
func (jb *JitterBuffer) Add(packet *wire.Packet, nowMicros uint64) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	jb.packetsReceived++

	if _, exists := jb.entries[packet.SequenceNumber]; exists {
		jb.duplicates++
		return
	}

	if len(jb.entries) >= jb.config.Capacity {
		jb.evictLocked()
	}
	jb.entries[packet.SequenceNumber] = &jitterEntry{packet: packet, arrivedAt: nowMicros}

	if jb.config.Adaptive {
		jb.adaptLocked(packet.Timestamp, nowMicros)
	}
	metrics.JitterOccupancy.WithLabelValues(jb.stream.String()).Set(float64(len(jb.entries)))
}

// evictLocked drops one entry to make room: the lowest-priority entry,
// breaking ties by oldest sequence.
func (jb *JitterBuffer) evictLocked() {
	var victimSeq uint32
	victimPriority := wire.Priority(0)
	found := false
	for seq, entry := range jb.entries {
		p := entry.packet.EffectivePriority()
		if !found || p > victimPriority || (p == victimPriority && seq < victimSeq) {
			victimSeq = seq
			victimPriority = p
			found = true
		}
	}
	if !found {
		return
	}
	delete(jb.entries, victimSeq)
	jb.packetsDropped++
	metrics.PacketsDropped.WithLabelValues("buffer_overflow").Inc()
	logrus.WithFields(logrus.Fields{
		"function": "Add",
		"stream":   jb.stream.String(),
		"sequence": victimSeq,
		"priority": victimPriority.String(),
	}).Warn("Jitter buffer overflow, evicting packet")
}

// adaptLocked updates the inter-arrival jitter estimate and moves the
// target delay within the configured band: fast multiplicative rise
// under pressure, slow additive decay when consistently calm.
func (jb *JitterBuffer) adaptLocked(timestamp, nowMicros uint64) {
	if jb.haveLast {
		arrivalDelta := int64(nowMicros) - int64(jb.lastArrival)
		timestampDelta := int64(timestamp) - int64(jb.lastTimestamp)
		d := arrivalDelta - timestampDelta
		if d < 0 {
			d = -d
		}
		// RFC 3550 §6.4.1 estimator: J += (|D| - J) / 16.
		jb.jitterEstimate += (float64(d) - jb.jitterEstimate) / 16

		minMicros := uint64(jb.config.MinDelayMs) * 1000
		maxMicros := uint64(jb.config.MaxDelayMs) * 1000
		pressured := uint64(jb.jitterEstimate*3) > jb.targetDelayMicros ||
			len(jb.entries) > jb.config.Capacity*3/4

		if pressured {
			jb.calmStreak = 0
			next := jb.targetDelayMicros + jb.targetDelayMicros/4
			if next > maxMicros {
				next = maxMicros
			}
			if next != jb.targetDelayMicros {
				jb.targetDelayMicros = next
				jb.logDelayChange("rise")
			}
		} else {
			jb.calmStreak++
			if jb.calmStreak >= 50 {
				jb.calmStreak = 0
				next := jb.targetDelayMicros
				if next >= minMicros+5000 {
					next -= 5000
				} else {
					next = minMicros
				}
				if next != jb.targetDelayMicros {
					jb.targetDelayMicros = next
					jb.logDelayChange("decay")
				}
			}
		}
	}
	jb.haveLast = true
	jb.lastArrival = nowMicros
	jb.lastTimestamp = timestamp
}

func (jb *JitterBuffer) logDelayChange(direction string) {
	metrics.JitterTargetDelay.WithLabelValues(jb.stream.String()).Set(float64(jb.targetDelayMicros) / 1000)
	logrus.WithFields(logrus.Fields{
		"function":     "Add",
		"stream":       jb.stream.String(),
		"direction":    direction,
		"target_delay": jb.targetDelayMicros / 1000,
		"jitter_us":    uint64(jb.jitterEstimate),
	}).Info("Jitter buffer target delay adapted")
}

// GetReady removes and returns, in ascending sequence order, every
// buffered packet that has aged past the target delay relative to its
// sender timestamp. Packets younger than the target delay stay put.
func (jb *JitterBuffer) GetReady(nowMicros uint64) []*wire.Packet {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	var readySeqs []uint32
	for seq, entry := range jb.entries {
		if elapsedMicros(nowMicros, entry.packet.Timestamp) >= jb.targetDelayMicros {
			readySeqs = append(readySeqs, seq)
		}
	}
	if len(readySeqs) == 0 {
		return nil
	}
	sort.Slice(readySeqs, func(i, j int) bool { return readySeqs[i] < readySeqs[j] })

	ready := make([]*wire.Packet, len(readySeqs))
	for i, seq := range readySeqs {
		ready[i] = jb.entries[seq].packet
		delete(jb.entries, seq)
	}
	metrics.JitterOccupancy.WithLabelValues(jb.stream.String()).Set(float64(len(jb.entries)))
	return ready
}

// Get returns the buffered packet with the given sequence number
// without removing it, or nil when absent.
func (jb *JitterBuffer) Get(sequenceNumber uint32) *wire.Packet {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	if entry, ok := jb.entries[sequenceNumber]; ok {
		return entry.packet
	}
	return nil
}

// DropExpired removes buffered packets whose TTL elapsed while waiting
// and returns them; drops are counted.
func (jb *JitterBuffer) DropExpired(nowMicros uint64, defaultTTLMs uint32) []*wire.Packet {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	var expired []*wire.Packet
	for seq, entry := range jb.entries {
		if elapsedMicros(nowMicros, entry.arrivedAt) >= entry.packet.TTLMicros(defaultTTLMs) {
			expired = append(expired, entry.packet)
			delete(jb.entries, seq)
			jb.packetsDropped++
			metrics.PacketsDropped.WithLabelValues("ttl_expired").Inc()
		}
	}
	return expired
}

// TargetDelayMs returns the current release delay in milliseconds.
func (jb *JitterBuffer) TargetDelayMs() uint32 {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return uint32(jb.targetDelayMicros / 1000)
}

// Stats returns a snapshot of the buffer counters.
func (jb *JitterBuffer) Stats() BufferStats {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return BufferStats{
		PacketsReceived: jb.packetsReceived,
		PacketsDropped:  jb.packetsDropped,
		Duplicates:      jb.duplicates,
		TargetDelayMs:   uint32(jb.targetDelayMicros / 1000),
		Occupancy:       len(jb.entries),
	}
}

// Clear discards all buffered packets without counting them as drops.
// Used by Dispose, where the pipeline is going away entirely.
func (jb *JitterBuffer) Clear() {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	jb.entries = make(map[uint32]*jitterEntry)
}
