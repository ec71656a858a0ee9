package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

func audioPacket(seq uint32, timestampMicros uint64) *wire.Packet {
	return wire.NewPacket(wire.PacketAudioFrame, wire.StreamUser, seq, timestampMicros, &wire.AudioPayload{
		Meta: wire.AudioMeta{SampleRate: 24000, Channels: 1, Samples: 480, Codec: "pcm16", DurationMs: 20},
	})
}

func TestJitterBufferDelayGating(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 60, Adaptive: false})

	base := uint64(10_000_000)
	jb.Add(audioPacket(0, base), base)

	// Younger than the target delay: nothing releases.
	assert.Empty(t, jb.GetReady(base+59_000))

	ready := jb.GetReady(base + 60_000)
	require.Len(t, ready, 1)
	assert.Equal(t, uint32(0), ready[0].SequenceNumber)

	// Removed on release.
	assert.Empty(t, jb.GetReady(base+120_000))
}

func TestJitterBufferAscendingSequenceOrder(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 20, Adaptive: false})

	base := uint64(10_000_000)
	// Arrival order scrambled; timestamps all old enough to release.
	for _, seq := range []uint32{4, 0, 3, 1, 2} {
		jb.Add(audioPacket(seq, base+uint64(seq)*20_000), base+100_000)
	}

	ready := jb.GetReady(base + 1_000_000)
	require.Len(t, ready, 5)
	for i, packet := range ready {
		assert.Equal(t, uint32(i), packet.SequenceNumber)
	}
}

func TestJitterBufferPartialRelease(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 40, Adaptive: false})

	base := uint64(10_000_000)
	jb.Add(audioPacket(0, base), base)
	jb.Add(audioPacket(1, base+20_000), base+20_000)
	jb.Add(audioPacket(2, base+40_000), base+40_000)

	// Only the first two have aged past 40 ms.
	ready := jb.GetReady(base + 65_000)
	require.Len(t, ready, 2)
	assert.Equal(t, uint32(0), ready[0].SequenceNumber)
	assert.Equal(t, uint32(1), ready[1].SequenceNumber)
	assert.Equal(t, 1, jb.Stats().Occupancy)
}

func TestJitterBufferDuplicateIgnored(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 20, Adaptive: false})

	base := uint64(10_000_000)
	first := audioPacket(7, base)
	jb.Add(first, base)
	jb.Add(audioPacket(7, base+5_000), base+5_000)

	assert.Same(t, first, jb.Get(7), "first arrival wins, duplicate is not an overwrite")
	stats := jb.Stats()
	assert.Equal(t, uint64(2), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, 1, stats.Occupancy)
}

func TestJitterBufferGet(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 20, Adaptive: false})
	jb.Add(audioPacket(3, 1000), 1000)

	require.NotNil(t, jb.Get(3))
	assert.Nil(t, jb.Get(99))
	assert.Equal(t, 1, jb.Stats().Occupancy, "Get does not remove")
}

func TestJitterBufferOverflowEviction(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 20, Adaptive: false, Capacity: 4})

	base := uint64(10_000_000)
	bulk := audioPacket(0, base)
	bulk.Metadata = &wire.Metadata{Priority: wire.PriorityBulk}
	jb.Add(bulk, base)
	for seq := uint32(1); seq < 4; seq++ {
		p := audioPacket(seq, base+uint64(seq)*20_000)
		p.Metadata = &wire.Metadata{Priority: wire.PriorityHigh}
		jb.Add(p, base+uint64(seq)*20_000)
	}

	// Fifth insert overflows: the bulk packet goes first.
	p := audioPacket(4, base+80_000)
	p.Metadata = &wire.Metadata{Priority: wire.PriorityHigh}
	jb.Add(p, base+80_000)

	stats := jb.Stats()
	assert.Equal(t, uint64(1), stats.PacketsDropped)
	assert.Equal(t, 4, stats.Occupancy)
	assert.Nil(t, jb.Get(0), "lowest-priority entry was evicted")
	assert.NotNil(t, jb.Get(4))
}

func TestJitterBufferOverflowEvictsOldestAtEqualPriority(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 20, Adaptive: false, Capacity: 3})

	base := uint64(10_000_000)
	for seq := uint32(0); seq < 4; seq++ {
		jb.Add(audioPacket(seq, base+uint64(seq)*20_000), base+uint64(seq)*20_000)
	}

	assert.Nil(t, jb.Get(0), "oldest sequence evicted on tie")
	assert.NotNil(t, jb.Get(3))
	assert.Equal(t, uint64(1), jb.Stats().PacketsDropped)
}

func TestJitterBufferAdaptiveRisesUnderJitter(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{
		TargetDelayMs: 40, MinDelayMs: 20, MaxDelayMs: 200, Adaptive: true, Capacity: 512,
	})

	base := uint64(10_000_000)
	arrival := base
	// Nominal 20 ms cadence with violent arrival jitter.
	for seq := uint32(0); seq < 200; seq++ {
		timestamp := base + uint64(seq)*20_000
		if seq%2 == 0 {
			arrival = timestamp + 90_000
		} else {
			arrival = timestamp + 1_000
		}
		jb.Add(audioPacket(seq, timestamp), arrival)
		jb.GetReady(arrival) // keep occupancy from dominating the signal
	}

	target := jb.TargetDelayMs()
	assert.Greater(t, target, uint32(40), "target delay should rise under jitter")
	assert.LessOrEqual(t, target, uint32(200), "target delay stays within the band")
}

func TestJitterBufferAdaptiveDecaysWhenCalm(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{
		TargetDelayMs: 120, MinDelayMs: 20, MaxDelayMs: 200, Adaptive: true, Capacity: 512,
	})

	base := uint64(10_000_000)
	// Perfectly regular arrivals, buffer drained each step.
	for seq := uint32(0); seq < 400; seq++ {
		timestamp := base + uint64(seq)*20_000
		jb.Add(audioPacket(seq, timestamp), timestamp+1_000)
		jb.GetReady(timestamp + 200_000)
	}

	target := jb.TargetDelayMs()
	assert.Less(t, target, uint32(120), "target delay should decay when calm")
	assert.GreaterOrEqual(t, target, uint32(20), "never below the minimum")
}

func TestJitterBufferDropExpired(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 20, Adaptive: false})

	base := uint64(10_000_000)
	p := audioPacket(0, base)
	p.Metadata = &wire.Metadata{Priority: wire.PriorityHigh, TTLMs: 50}
	jb.Add(p, base)

	expired := jb.DropExpired(base+60_000, 5000)
	require.Len(t, expired, 1)
	assert.Equal(t, uint32(0), expired[0].SequenceNumber)
	assert.Equal(t, uint64(1), jb.Stats().PacketsDropped)
}

func TestJitterBufferNeverReleasesEarly(t *testing.T) {
	jb := NewJitterBuffer(wire.StreamUser, JitterConfig{TargetDelayMs: 80, Adaptive: false})

	base := uint64(10_000_000)
	for seq := uint32(0); seq < 50; seq++ {
		jb.Add(audioPacket(seq, base+uint64(seq)*20_000), base+uint64(seq)*20_000)
	}

	targetMicros := uint64(jb.TargetDelayMs()) * 1000
	for now := base; now < base+2_000_000; now += 30_000 {
		for _, packet := range jb.GetReady(now) {
			elapsed := time.Duration(now-packet.Timestamp) * time.Microsecond
			assert.GreaterOrEqual(t, elapsed, time.Duration(targetMicros)*time.Microsecond)
		}
	}
}
