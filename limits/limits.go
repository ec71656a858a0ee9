// Package limits provides centralized size and timing limits for the SolaceLive
// packet protocol. This ensures consistent validation across different components
// of the pipeline.
package limits

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed encoded packet header size in bytes.
	HeaderSize = 24

	// MaxPayloadLength is the largest payload the u16 length field can carry.
	MaxPayloadLength = 65535

	// MetadataFixedSize is the size of the fixed portion of a metadata block
	// (priority u8 + ttl u16 + retryCount u8 + fragment flag u8).
	MetadataFixedSize = 5

	// FragmentInfoSize is the size of the optional fragment info trailer
	// (fragmentID u16 + totalFragments u16 + originalLength u32).
	FragmentInfoSize = 8

	// MaxEncodedPacket bounds a fully encoded packet including header,
	// payload and metadata block.
	MaxEncodedPacket = HeaderSize + MaxPayloadLength + MetadataFixedSize + FragmentInfoSize

	// MaxFragments is the largest fragment count a single packet may be
	// split into. Together with MaxPayloadLength this caps reassembled
	// packets at roughly 64 MB, well below any realistic voice payload.
	MaxFragments = 1024

	// MaxProcessingBuffer is the absolute maximum for any inbound frame.
	// This prevents memory exhaustion from a misbehaving peer (1MB limit).
	MaxProcessingBuffer = 1024 * 1024
)

const (
	// DefaultDispatchIntervalMs is the dispatch tick cadence, matched to the
	// 20 ms audio frame cadence used by the speech stack.
	DefaultDispatchIntervalMs = 20

	// MinDispatchIntervalMs and MaxDispatchIntervalMs bound configurable
	// dispatch cadences to the supported audio frame range.
	MinDispatchIntervalMs = 20
	MaxDispatchIntervalMs = 80

	// DefaultJitterDelayMs is the initial jitter buffer target delay.
	DefaultJitterDelayMs = 60

	// MinJitterDelayMs and MaxJitterDelayMs bound adaptive target delay.
	MinJitterDelayMs = 20
	MaxJitterDelayMs = 500

	// DefaultJitterCapacity is the per-stream jitter buffer packet capacity.
	DefaultJitterCapacity = 256

	// DefaultGapTimeoutMs is how long a sequence gap may persist before a
	// retransmit request is raised for it.
	DefaultGapTimeoutMs = 100

	// MaxGapBurst bounds how many missing sequences one arrival may open.
	// A jump past this window cannot be packet loss at voice cadence; it
	// is treated as a stream reset and never enumerated, so an arbitrary
	// sequence number in a hostile frame cannot drive unbounded work.
	MaxGapBurst = 1024

	// DefaultGapTTLMs is how long an unresolved gap is tracked before it is
	// abandoned and counted as lost.
	DefaultGapTTLMs = 2000

	// DefaultPacketTTLMs bounds how long a packet may wait in any pipeline
	// stage before expiry when its metadata does not carry an explicit TTL.
	DefaultPacketTTLMs = 5000

	// DefaultActivityRetentionMs is how long synchronizer activity log
	// entries are kept before eviction.
	DefaultActivityRetentionMs = 30000
)

var (
	// ErrFrameEmpty indicates an empty frame was provided.
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates a frame exceeds the maximum size.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrPayloadTooLarge indicates a payload exceeds the u16 length field.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidatePayloadSize validates a payload against MaxPayloadLength.
// Empty payloads are legal: heartbeat and several control packets carry none.
func ValidatePayloadSize(payload []byte) error {
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxPayloadLength)
	}
	return nil
}

// ValidateInboundFrame validates an untrusted inbound frame against the
// absolute processing limit. This should be applied to every frame before
// decoding work begins.
func ValidateInboundFrame(frame []byte) error {
	if len(frame) == 0 {
		return ErrFrameEmpty
	}
	if len(frame) > MaxProcessingBuffer {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrFrameTooLarge, len(frame), MaxProcessingBuffer)
	}
	return nil
}
