package wire

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeOversizedAudioPacket(t *testing.T, sampleBytes int) *Packet {
	t.Helper()
	samples := make([]byte, sampleBytes)
	rng := rand.New(rand.NewSource(42))
	rng.Read(samples)
	packet := NewPacket(PacketAudioFrame, StreamAI, 99, 4_200_000, &AudioPayload{
		Meta:    AudioMeta{SampleRate: 48000, Channels: 2, Samples: uint32(sampleBytes / 4), Codec: "opus", DurationMs: 60},
		Samples: samples,
	})
	packet.Metadata = &Metadata{Priority: PriorityHigh, TTLMs: 500}
	return packet
}

func TestFragmentReassembleRoundtrip(t *testing.T) {
	original := makeOversizedAudioPacket(t, 4000)

	fragments, err := Fragment(original, 1024)
	require.NoError(t, err)
	require.Greater(t, len(fragments), 1)

	for i, frag := range fragments {
		assert.True(t, frag.Flags.Has(FlagFragmented))
		assert.Equal(t, original.SequenceNumber, frag.SequenceNumber)
		assert.Equal(t, original.Timestamp, frag.Timestamp)
		require.NotNil(t, frag.Metadata.Fragment)
		assert.Equal(t, uint16(i), frag.Metadata.Fragment.FragmentID)
		if i == len(fragments)-1 {
			assert.True(t, frag.Flags.Has(FlagFinalFragment))
		} else {
			assert.False(t, frag.Flags.Has(FlagFinalFragment))
		}
	}

	// Shuffle to prove arrival order does not matter.
	shuffled := make([]*Packet, len(fragments))
	copy(shuffled, fragments)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	reassembled, err := Reassemble(shuffled)
	require.NoError(t, err)
	assert.Equal(t, original.Type, reassembled.Type)
	assert.Equal(t, original.SequenceNumber, reassembled.SequenceNumber)
	assert.Equal(t, original.Payload, reassembled.Payload)
	assert.Equal(t, original.Metadata, reassembled.Metadata)
}

func TestFragmentsSurviveWireRoundtrip(t *testing.T) {
	original := makeOversizedAudioPacket(t, 3000)

	fragments, err := Fragment(original, 512)
	require.NoError(t, err)

	received := make([]*Packet, 0, len(fragments))
	for _, frag := range fragments {
		encoded, err := Encode(frag)
		require.NoError(t, err)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.True(t, decoded.IsFragment())
		received = append(received, decoded)
	}

	reassembled, err := Reassemble(received)
	require.NoError(t, err)
	assert.Equal(t, original.Payload, reassembled.Payload)
}

func TestReassembleMissingFragmentFails(t *testing.T) {
	fragments, err := Fragment(makeOversizedAudioPacket(t, 4000), 1024)
	require.NoError(t, err)
	require.Greater(t, len(fragments), 2)

	incomplete := append([]*Packet{}, fragments[:1]...)
	incomplete = append(incomplete, fragments[2:]...)

	_, err = Reassemble(incomplete)
	assert.ErrorIs(t, err, ErrIncompleteFragmentSet)
}

func TestReassembleEmptyAndUnfragmented(t *testing.T) {
	_, err := Reassemble(nil)
	assert.ErrorIs(t, err, ErrIncompleteFragmentSet)

	plain := NewPacket(PacketTextMessage, StreamUser, 1, 0, &TextPayload{Text: "hi"})
	_, err = Reassemble([]*Packet{plain})
	assert.ErrorIs(t, err, ErrNotFragmented)
}

func TestReassembleConflictingMetadataFails(t *testing.T) {
	fragments, err := Fragment(makeOversizedAudioPacket(t, 4000), 1024)
	require.NoError(t, err)
	require.Greater(t, len(fragments), 1)

	fragments[1].Metadata.Fragment.OriginalLength += 8

	_, err = Reassemble(fragments)
	assert.ErrorIs(t, err, ErrCorruptPacket)
}

func TestFragmentSmallPacketPassthrough(t *testing.T) {
	packet := NewPacket(PacketTextMessage, StreamUser, 4, 100, &TextPayload{Text: "small"})
	fragments, err := Fragment(packet, 4096)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Same(t, packet, fragments[0])
	assert.False(t, fragments[0].Flags.Has(FlagFragmented))
}
