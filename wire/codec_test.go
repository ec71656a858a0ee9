package wire

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{
			name: "audio frame",
			packet: NewPacket(PacketAudioFrame, StreamUser, 7, 1_000_000, &AudioPayload{
				Meta:    AudioMeta{SampleRate: 24000, Channels: 1, Samples: 480, Codec: "pcm16", DurationMs: 20},
				Samples: []byte{0x01, 0x02, 0x03, 0x04},
			}),
		},
		{
			name: "partial transcript with unicode",
			packet: NewPacket(PacketPartialTranscript, StreamUser, 12, 2_000_000, &TextPayload{
				Text:       "こんにちは, ça va? 🎙️",
				Final:      false,
				Confidence: 0.82,
				Language:   "mixed",
			}),
		},
		{
			name: "final transcript",
			packet: NewPacket(PacketFinalTranscript, StreamAI, 13, 3_000_000, &TextPayload{
				Text: "hello there", Final: true, Confidence: 0.99,
			}),
		},
		{
			name: "semantic state",
			packet: NewPacket(PacketSemanticState, StreamAI, 3, 4_000_000, &SemanticPayload{
				State: "speaking", Confidence: 0.75, Arousal: 0.5, Valence: -0.25, TTSActive: true,
			}),
		},
		{
			name: "response chunk",
			packet: NewPacket(PacketResponseChunk, StreamAI, 44, 5_000_000, &ResponsePayload{
				ID: "resp-81", Chunk: "partial answer", Index: 3,
			}),
		},
		{
			name: "stream control",
			packet: NewPacket(PacketStreamPause, StreamSystem, 2, 6_000_000, &StreamControlPayload{
				Stream: "ai", Action: "pause", Params: map[string]string{"reason": "barge-in"},
			}),
		},
		{
			name:   "heartbeat",
			packet: NewPacket(PacketHeartbeat, StreamSystem, 1, 7_000_000, &HeartbeatPayload{SentAt: 7_000_000}),
		},
		{
			name:   "ack",
			packet: NewPacket(PacketAck, StreamSystem, 9, 8_000_000, &AckPayload{Stream: StreamUser, AckedSequence: 41}),
		},
		{
			name: "retransmit request",
			packet: NewPacket(PacketRetransmitRequest, StreamSystem, 10, 9_000_000, &RetransmitPayload{
				Stream: StreamAI, Missing: []uint32{5, 6, 9},
			}),
		},
		{
			name: "timestamp sync",
			packet: NewPacket(PacketTimestampSync, StreamSystem, 11, 10_000_000, &TimestampSyncPayload{
				Origin: 10_000_000, Receive: 10_000_500, Transmit: 10_000_700,
			}),
		},
		{
			name:   "unknown type survives as opaque",
			packet: NewPacket(PacketType(0x6A), StreamUser, 20, 11_000_000, Opaque([]byte{0xDE, 0xAD, 0xBE, 0xEF})),
		},
		{
			name:   "max size opaque payload",
			packet: NewPacket(PacketType(0x7F), StreamUser, 21, 12_000_000, Opaque(make([]byte, limits.MaxPayloadLength))),
		},
		{
			name:   "empty payload",
			packet: NewPacket(PacketStreamClose, StreamSystem, 22, 13_000_000, nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.packet)
			require.NoError(t, err)

			decoded, err := Decode(encoded)
			require.NoError(t, err)

			assert.Equal(t, tt.packet.Version, decoded.Version)
			assert.Equal(t, tt.packet.Type, decoded.Type)
			assert.Equal(t, tt.packet.StreamID, decoded.StreamID)
			assert.Equal(t, tt.packet.SequenceNumber, decoded.SequenceNumber)
			assert.Equal(t, tt.packet.Timestamp, decoded.Timestamp)
			assert.Equal(t, tt.packet.Flags, decoded.Flags)
			if tt.packet.Payload == nil {
				assert.Equal(t, Opaque(nil), decoded.Payload)
			} else {
				assert.Equal(t, tt.packet.Payload, decoded.Payload)
			}
			assert.Equal(t, tt.packet.Metadata, decoded.Metadata)
		})
	}
}

func TestEncodeDecodeMetadataBlock(t *testing.T) {
	packet := NewPacket(PacketTextMessage, StreamAI, 5, 500_000, &TextPayload{Text: "hi", Final: true})
	packet.Metadata = &Metadata{Priority: PriorityHigh, TTLMs: 1500, RetryCount: 2}
	packet.Flags = FlagRequiresAck | FlagRetransmitted

	encoded, err := Encode(packet)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded.Metadata)
	assert.Equal(t, PriorityHigh, decoded.Metadata.Priority)
	assert.Equal(t, uint16(1500), decoded.Metadata.TTLMs)
	assert.Equal(t, uint8(2), decoded.Metadata.RetryCount)
	assert.Nil(t, decoded.Metadata.Fragment)
	assert.True(t, decoded.Flags.Has(FlagRequiresAck))
	assert.True(t, decoded.Flags.Has(FlagRetransmitted))
}

func TestEncodeDecodeFragmentInfo(t *testing.T) {
	packet := NewPacket(PacketAudioFrame, StreamUser, 8, 900_000, Opaque([]byte{1, 2, 3}))
	packet.Flags = FlagFragmented
	packet.Metadata = &Metadata{
		Priority: PriorityNormal,
		TTLMs:    300,
		Fragment: &FragmentInfo{FragmentID: 2, TotalFragments: 4, OriginalLength: 4096},
	}

	encoded, err := Encode(packet)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.True(t, decoded.IsFragment())
	assert.Equal(t, uint16(2), decoded.Metadata.Fragment.FragmentID)
	assert.Equal(t, uint16(4), decoded.Metadata.Fragment.TotalFragments)
	assert.Equal(t, uint32(4096), decoded.Metadata.Fragment.OriginalLength)
}

func TestDecodeRejectsCorruptFrames(t *testing.T) {
	good, err := Encode(NewPacket(PacketTextMessage, StreamUser, 1, 100, &TextPayload{Text: "ok"}))
	require.NoError(t, err)

	t.Run("empty frame", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrCorruptPacket)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := Decode(good[:limits.HeaderSize-1])
		assert.ErrorIs(t, err, ErrCorruptPacket)
	})

	t.Run("flipped payload byte fails checksum", func(t *testing.T) {
		bad := make([]byte, len(good))
		copy(bad, good)
		bad[limits.HeaderSize] ^= 0xFF
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrCorruptPacket)
	})

	t.Run("unsupported version", func(t *testing.T) {
		bad := make([]byte, len(good))
		copy(bad, good)
		bad[0] = 99
		binary.LittleEndian.PutUint32(bad[checksumOffset:], ComputeChecksum(bad))
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrCorruptPacket)
	})

	t.Run("payload length exceeds frame", func(t *testing.T) {
		bad := make([]byte, len(good))
		copy(bad, good)
		binary.LittleEndian.PutUint16(bad[18:20], uint16(len(good)))
		binary.LittleEndian.PutUint32(bad[checksumOffset:], ComputeChecksum(bad))
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrCorruptPacket)
	})
}

func TestDecodeWithoutChecksumAccepted(t *testing.T) {
	encoded, err := Encode(NewPacket(PacketTextMessage, StreamUser, 2, 200, &TextPayload{Text: "no crc"}))
	require.NoError(t, err)

	// A zero checksum field means the sender omitted it.
	binary.LittleEndian.PutUint32(encoded[checksumOffset:], 0)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), decoded.Checksum)
}

func TestComputeChecksumZeroSentinel(t *testing.T) {
	encoded, err := Encode(NewPacket(PacketHeartbeat, StreamSystem, 3, 300, &HeartbeatPayload{SentAt: 300}))
	require.NoError(t, err)

	sum := ComputeChecksum(encoded)
	assert.NotZero(t, sum, "computed checksum must never be the absent sentinel")
	assert.True(t, VerifyChecksum(encoded, sum))
	assert.True(t, VerifyChecksum(encoded, 0), "zero field means absent, verifies trivially")
	assert.False(t, VerifyChecksum(encoded, sum^0x1))
}

func TestPacketClassPartitioning(t *testing.T) {
	assert.Equal(t, ClassControl, PacketHeartbeat.Class())
	assert.Equal(t, ClassAudio, PacketAudioFrame.Class())
	assert.Equal(t, ClassText, PacketFinalTranscript.Class())
	assert.Equal(t, ClassSemantic, PacketEmotionState.Class())
	assert.Equal(t, ClassResponse, PacketResponseCancel.Class())
	assert.Equal(t, ClassStreamControl, PacketStreamResume.Class())
	assert.Equal(t, ClassUnknown, PacketType(0x99).Class())
}

func TestEffectivePriority(t *testing.T) {
	audio := NewPacket(PacketAudioFrame, StreamUser, 1, 0, nil)
	assert.Equal(t, PriorityHigh, audio.EffectivePriority())

	audio.Metadata = &Metadata{Priority: PriorityBulk}
	assert.Equal(t, PriorityBulk, audio.EffectivePriority())

	control := NewPacket(PacketAck, StreamSystem, 1, 0, nil)
	assert.Equal(t, PriorityCritical, control.EffectivePriority())
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	big := strings.Repeat("x", limits.MaxPayloadLength+1)
	_, err := Encode(NewPacket(PacketType(0x7F), StreamUser, 1, 0, Opaque([]byte(big))))
	assert.ErrorIs(t, err, limits.ErrPayloadTooLarge)
}

func BenchmarkEncode(b *testing.B) {
	packet := NewPacket(PacketAudioFrame, StreamUser, 1, 1_000_000, &AudioPayload{
		Meta:    AudioMeta{SampleRate: 24000, Channels: 1, Samples: 480, Codec: "pcm16", DurationMs: 20},
		Samples: make([]byte, 960),
	})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(packet); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	encoded, err := Encode(NewPacket(PacketAudioFrame, StreamUser, 1, 1_000_000, &AudioPayload{
		Meta:    AudioMeta{SampleRate: 24000, Channels: 1, Samples: 480, Codec: "pcm16", DurationMs: 20},
		Samples: make([]byte, 960),
	}))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(encoded); err != nil {
			b.Fatal(err)
		}
	}
}
