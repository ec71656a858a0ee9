package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

func newTestSynchronizer(tp TimeProvider) *StreamSynchronizer {
	return NewStreamSynchronizer(SynchronizerConfig{TimeProvider: tp})
}

func TestSynchronizerDetectsOverlap(t *testing.T) {
	tp := newMockTime()
	ss := newTestSynchronizer(tp)
	base := tp.NowMicros()

	// User speaks 0-400 ms, AI speaks 200-600 ms: 200 ms overlap.
	for i := uint64(0); i < 20; i++ {
		ss.AddUserEvent(base+i*20_000, 20*time.Millisecond)
	}
	for i := uint64(0); i < 20; i++ {
		ss.AddAIEvent(base+200_000+i*20_000, 20*time.Millisecond)
	}

	result := ss.DetectOverlapAt(base+600_000, 1000)
	assert.True(t, result.HasOverlap)
	assert.Equal(t, 200*time.Millisecond, result.OverlapDuration)
	assert.Equal(t, StreamNone, result.DominantStream, "equal 400 ms activity each, no dominant stream")
}

func TestSynchronizerDominance(t *testing.T) {
	tp := newMockTime()
	ss := newTestSynchronizer(tp)
	base := tp.NowMicros()

	// User speaks 600 ms, AI only 200 ms of it.
	for i := uint64(0); i < 30; i++ {
		ss.AddUserEvent(base+i*20_000, 20*time.Millisecond)
	}
	for i := uint64(0); i < 10; i++ {
		ss.AddAIEvent(base+100_000+i*20_000, 20*time.Millisecond)
	}

	result := ss.DetectOverlapAt(base+600_000, 1000)
	assert.True(t, result.HasOverlap)
	assert.Equal(t, wire.StreamUser, result.DominantStream)

	// Flip the balance: AI keeps talking long after the user stops.
	for i := uint64(10); i < 60; i++ {
		ss.AddAIEvent(base+100_000+i*20_000, 20*time.Millisecond)
	}
	result = ss.DetectOverlapAt(base+1_300_000, 2000)
	assert.True(t, result.HasOverlap)
	assert.Equal(t, wire.StreamAI, result.DominantStream)
}

func TestSynchronizerNoOverlap(t *testing.T) {
	tp := newMockTime()
	ss := newTestSynchronizer(tp)
	base := tp.NowMicros()

	ss.AddUserEvent(base, 100*time.Millisecond)
	ss.AddAIEvent(base+500_000, 100*time.Millisecond)

	result := ss.DetectOverlapAt(base+700_000, 1000)
	assert.False(t, result.HasOverlap)
	assert.Zero(t, result.OverlapDuration)
	assert.Equal(t, StreamNone, result.DominantStream)
}

func TestSynchronizerEmptyLogs(t *testing.T) {
	ss := newTestSynchronizer(newMockTime())
	result := ss.DetectOverlap(500)
	assert.False(t, result.HasOverlap)
}

func TestSynchronizerWindowClipping(t *testing.T) {
	tp := newMockTime()
	ss := newTestSynchronizer(tp)
	base := tp.NowMicros()

	// Old simultaneous speech, then silence.
	ss.AddUserEvent(base, 200*time.Millisecond)
	ss.AddAIEvent(base, 200*time.Millisecond)

	// A 100 ms trailing window well past the activity sees nothing.
	result := ss.DetectOverlapAt(base+5_000_000, 100)
	assert.False(t, result.HasOverlap)

	// A window reaching back far enough still sees it.
	result = ss.DetectOverlapAt(base+300_000, 400)
	assert.True(t, result.HasOverlap)
}

func TestSynchronizerInterleavedEvents(t *testing.T) {
	tp := newMockTime()
	ss := newTestSynchronizer(tp)
	base := tp.NowMicros()

	// Strict alternation at 20 ms frames, each frame 20 ms long:
	// contiguous activity on both sides once merged.
	for i := uint64(0); i < 10; i++ {
		ss.AddUserEvent(base+i*40_000, 40*time.Millisecond)
		ss.AddAIEvent(base+20_000+i*40_000, 40*time.Millisecond)
	}

	result := ss.DetectOverlapAt(base+500_000, 1000)
	assert.True(t, result.HasOverlap)
	assert.Greater(t, result.OverlapDuration, time.Duration(0))
}

func TestSynchronizerRetentionEviction(t *testing.T) {
	tp := newMockTime()
	ss := NewStreamSynchronizer(SynchronizerConfig{RetentionMs: 1000, TimeProvider: tp})
	base := tp.NowMicros()

	ss.AddUserEvent(base, 20*time.Millisecond)
	ss.AddAIEvent(base, 20*time.Millisecond)

	// Two seconds later the old entries are evicted on the next append.
	tp.Advance(2 * time.Second)
	now := tp.NowMicros()
	ss.AddUserEvent(now, 20*time.Millisecond)
	ss.AddAIEvent(now, 20*time.Millisecond)

	// Only the fresh entries remain; they do overlap each other.
	result := ss.DetectOverlapAt(now+20_000, 5000)
	assert.True(t, result.HasOverlap)
	assert.Equal(t, 20*time.Millisecond, result.OverlapDuration)
}

func TestSynchronizerMaxEntriesCap(t *testing.T) {
	tp := newMockTime()
	ss := NewStreamSynchronizer(SynchronizerConfig{MaxEntries: 4, TimeProvider: tp})
	base := tp.NowMicros()

	for i := uint64(0); i < 10; i++ {
		ss.AddUserEvent(base+i*20_000, 20*time.Millisecond)
	}
	// Only the last 4 user frames (120-200 ms) survive; AI activity
	// against the evicted early span finds no overlap.
	ss.AddAIEvent(base, 100*time.Millisecond)
	result := ss.DetectOverlapAt(base+200_000, 1000)
	assert.False(t, result.HasOverlap)
}
