package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

func seqPacket(seq uint32) *wire.Packet {
	return wire.NewPacket(wire.PacketAudioFrame, wire.StreamUser, seq, uint64(seq)*20_000, nil)
}

func TestSequenceTrackerInOrder(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{})

	for seq := uint32(0); seq < 10; seq++ {
		result := st.Process(seqPacket(seq), uint64(seq)*20_000)
		assert.Equal(t, StatusOK, result.Status)
		assert.Empty(t, result.Missing)
	}
	assert.Empty(t, st.MissingSequences())
}

func TestSequenceTrackerGapThenDuplicate(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{})

	assert.Equal(t, StatusOK, st.Process(seqPacket(0), 0).Status)
	assert.Equal(t, StatusOK, st.Process(seqPacket(1), 20_000).Status)

	result := st.Process(seqPacket(3), 60_000)
	assert.Equal(t, StatusFuture, result.Status)
	assert.Equal(t, []uint32{2}, result.Missing)

	result = st.Process(seqPacket(1), 80_000)
	assert.Equal(t, StatusDuplicate, result.Status)

	assert.Equal(t, []uint32{2}, st.MissingSequences())
}

func TestSequenceTrackerGapFill(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{})

	st.Process(seqPacket(0), 0)
	st.Process(seqPacket(2), 40_000)
	require.Equal(t, []uint32{1}, st.MissingSequences())

	result := st.Process(seqPacket(1), 60_000)
	assert.Equal(t, StatusOK, result.Status, "gap fill is an accepted arrival")
	assert.Empty(t, st.MissingSequences())

	// A second copy of the fill is now a duplicate.
	assert.Equal(t, StatusDuplicate, st.Process(seqPacket(1), 80_000).Status)
}

func TestSequenceTrackerMultiGap(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{})

	st.Process(seqPacket(0), 0)
	result := st.Process(seqPacket(5), 100_000)
	assert.Equal(t, StatusFuture, result.Status)
	assert.Equal(t, []uint32{1, 2, 3, 4}, result.Missing)

	// A later jump only reports newly opened gaps.
	result = st.Process(seqPacket(8), 160_000)
	assert.Equal(t, StatusFuture, result.Status)
	assert.Equal(t, []uint32{6, 7}, result.Missing)

	assert.Equal(t, []uint32{1, 2, 3, 4, 6, 7}, st.MissingSequences())
	assert.Equal(t, 6, st.OutstandingGaps())
}

func TestSequenceTrackerRetransmitDueOnce(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{
		GapTimeoutMs: 100, RetryIntervalMs: 1000, GapTTLMs: 10_000,
	})

	st.Process(seqPacket(0), 0)
	st.Process(seqPacket(2), 20_000)

	// Too early: the gap has not persisted past the timeout.
	assert.Empty(t, st.DueForRetransmit(50_000))

	due := st.DueForRetransmit(130_000)
	assert.Equal(t, []uint32{1}, due)

	// Already requested; not due again until the retry interval passes.
	assert.Empty(t, st.DueForRetransmit(200_000))
	assert.Equal(t, []uint32{1}, st.DueForRetransmit(1_200_000))
}

func TestSequenceTrackerGapExpiry(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{
		GapTimeoutMs: 100, RetryIntervalMs: 200, GapTTLMs: 500,
	})

	st.Process(seqPacket(0), 0)
	st.Process(seqPacket(2), 20_000)

	assert.Empty(t, st.ExpireGaps(400_000))

	expired := st.ExpireGaps(600_000)
	assert.Equal(t, []uint32{1}, expired)
	assert.Zero(t, st.OutstandingGaps())
	assert.Equal(t, uint64(1), st.ExpiredGaps())

	// The straggler finally shows up: accepted as late, not re-reported.
	result := st.Process(seqPacket(1), 700_000)
	assert.Equal(t, StatusLate, result.Status)
	assert.Empty(t, result.Missing)
	assert.Empty(t, st.MissingSequences())
}

func TestSequenceTrackerHugeJumpResynchronizes(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{})

	require.Equal(t, StatusOK, st.Process(seqPacket(0), 0).Status)

	// A hostile frame can carry any sequence number; the far end of the
	// u32 space must resynchronize instead of opening four billion gaps.
	start := time.Now()
	result := st.Process(seqPacket(0xFFFFFFFF), 20_000)
	elapsed := time.Since(start)

	assert.Equal(t, StatusFuture, result.Status)
	assert.Empty(t, result.Missing)
	assert.Zero(t, st.OutstandingGaps())
	assert.Equal(t, uint64(1), st.Resets())
	assert.Less(t, elapsed, 50*time.Millisecond, "resync must not enumerate the jump")

	// The stream continues from the new position.
	assert.Equal(t, StatusDuplicate, st.Process(seqPacket(0xFFFFFFFF), 40_000).Status)
}

func TestSequenceTrackerGapBurstBoundary(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{})
	st.Process(seqPacket(0), 0)

	// A jump of exactly the window size still enumerates its gaps.
	result := st.Process(seqPacket(limits.MaxGapBurst), 20_000)
	assert.Equal(t, StatusFuture, result.Status)
	assert.Len(t, result.Missing, limits.MaxGapBurst-1)
	assert.Equal(t, limits.MaxGapBurst-1, st.OutstandingGaps())
	assert.Zero(t, st.Resets())

	// One past the window resets instead.
	result = st.Process(seqPacket(2*limits.MaxGapBurst+2), 40_000)
	assert.Equal(t, StatusFuture, result.Status)
	assert.Empty(t, result.Missing)
	assert.Equal(t, uint64(1), st.Resets())
	// Earlier gaps survive a reset; they age out through their TTL.
	assert.Equal(t, limits.MaxGapBurst-1, st.OutstandingGaps())
}

func TestSequenceTrackerReorderWithoutLoss(t *testing.T) {
	st := NewSequenceTracker(wire.StreamUser, TrackerConfig{})

	// 0,2,1,4,3: everything arrives, just shuffled.
	assert.Equal(t, StatusOK, st.Process(seqPacket(0), 0).Status)
	assert.Equal(t, StatusFuture, st.Process(seqPacket(2), 1).Status)
	assert.Equal(t, StatusOK, st.Process(seqPacket(1), 2).Status)
	assert.Equal(t, StatusFuture, st.Process(seqPacket(4), 3).Status)
	assert.Equal(t, StatusOK, st.Process(seqPacket(3), 4).Status)

	assert.Empty(t, st.MissingSequences())
}
