// Package wire implements the SolaceLive packet model and binary codec.
//
// Every unit of conversation traffic (audio frames, partial and final
// transcripts, synthesized-state metadata, control messages) travels as a
// Packet: a fixed 24-byte little-endian header, a type-specific payload,
// and an optional trailing metadata block. The codec is symmetric:
// Decode(Encode(p)) reproduces p for every supported payload type.
//
// Design principles:
// - Bit-exact wire layout shared with the peer implementation
// - Type-tagged payload variants dispatched through a static codec registry
// - Oversized packets fragment into byte-range slices and reassemble losslessly
// - CRC32 checksums detect corruption before any payload parsing runs
package wire

// ProtocolVersion is the wire format version this codec speaks.
const ProtocolVersion uint8 = 1

// PacketType is the range-partitioned packet type tag.
//
// The u8 type space is divided into class ranges; routing decisions
// (jitter buffering, priority defaults, event names) key off the class,
// while payload parsing keys off the exact type.
type PacketType uint8

// Control class (0x00-0x0F).
const (
	PacketHeartbeat         PacketType = 0x01
	PacketAck               PacketType = 0x02
	PacketRetransmitRequest PacketType = 0x03
	PacketTimestampSync     PacketType = 0x04
	PacketStreamClose       PacketType = 0x05
)

// Audio class (0x10-0x1F).
const (
	PacketAudioFrame  PacketType = 0x10
	PacketAudioConfig PacketType = 0x11
)

// Text class (0x20-0x2F).
const (
	PacketPartialTranscript PacketType = 0x20
	PacketFinalTranscript   PacketType = 0x21
	PacketTextMessage       PacketType = 0x22
)

// Semantic class (0x30-0x3F).
const (
	PacketSemanticState PacketType = 0x30
	PacketEmotionState  PacketType = 0x31
)

// Response class (0x40-0x4F).
const (
	PacketResponseStart  PacketType = 0x40
	PacketResponseChunk  PacketType = 0x41
	PacketResponseEnd    PacketType = 0x42
	PacketResponseCancel PacketType = 0x43
)

// Stream-control class (0x50-0x5F).
const (
	PacketStreamOpen      PacketType = 0x50
	PacketStreamConfigure PacketType = 0x51
	PacketStreamPause     PacketType = 0x52
	PacketStreamResume    PacketType = 0x53
)

// PacketClass identifies the range a packet type falls in.
type PacketClass uint8

const (
	ClassControl PacketClass = iota
	ClassAudio
	ClassText
	ClassSemantic
	ClassResponse
	ClassStreamControl
	ClassUnknown
)

// Class returns the range partition for a packet type.
func (t PacketType) Class() PacketClass {
	switch {
	case t <= 0x0F:
		return ClassControl
	case t <= 0x1F:
		return ClassAudio
	case t <= 0x2F:
		return ClassText
	case t <= 0x3F:
		return ClassSemantic
	case t <= 0x4F:
		return ClassResponse
	case t <= 0x5F:
		return ClassStreamControl
	default:
		return ClassUnknown
	}
}

// String returns a human-readable name for the class.
func (c PacketClass) String() string {
	switch c {
	case ClassControl:
		return "control"
	case ClassAudio:
		return "audio"
	case ClassText:
		return "text"
	case ClassSemantic:
		return "semantic"
	case ClassResponse:
		return "response"
	case ClassStreamControl:
		return "stream-control"
	default:
		return "unknown"
	}
}

// StreamID identifies one of the logical channels multiplexed on a
// single connection.
type StreamID uint16

const (
	StreamUser      StreamID = 1
	StreamAI        StreamID = 2
	StreamSystem    StreamID = 3
	StreamBroadcast StreamID = 0xFFFF
)

// String returns a human-readable name for the stream.
func (s StreamID) String() string {
	switch s {
	case StreamUser:
		return "user"
	case StreamAI:
		return "ai"
	case StreamSystem:
		return "system"
	case StreamBroadcast:
		return "broadcast"
	default:
		return "invalid"
	}
}

// Flags is the u16 header flag bitset.
type Flags uint16

const (
	// FlagEncrypted is reserved; enforcement is out of scope for this core.
	FlagEncrypted Flags = 0x0001
	// FlagCompressed is reserved; payloads pass through untouched.
	FlagCompressed       Flags = 0x0002
	FlagFragmented       Flags = 0x0004
	FlagRequiresAck      Flags = 0x0008
	FlagRetransmitted    Flags = 0x0010
	FlagFinalFragment    Flags = 0x0020
	FlagPriorityOverride Flags = 0x0040
	FlagTimestampSync    Flags = 0x0080
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Priority is the 5-level delivery priority total order.
// Numerically ascending values mean descending urgency.
type Priority uint8

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
	PriorityBulk     Priority = 4

	// PriorityLevels is the number of distinct priority values.
	PriorityLevels = 5
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBulk:
		return "bulk"
	default:
		return "invalid"
	}
}

// DefaultPriority returns the delivery priority assumed for a packet
// type when no metadata block carries an explicit one.
func DefaultPriority(t PacketType) Priority {
	switch t.Class() {
	case ClassControl, ClassStreamControl:
		return PriorityCritical
	case ClassAudio:
		return PriorityHigh
	case ClassText, ClassResponse:
		return PriorityNormal
	case ClassSemantic:
		return PriorityLow
	default:
		return PriorityBulk
	}
}

// FragmentInfo describes one byte-range slice of an oversized encoded
// packet. Fragment IDs are dense: a complete set covers 0..TotalFragments-1.
type FragmentInfo struct {
	FragmentID     uint16
	TotalFragments uint16
	OriginalLength uint32
}

// Metadata is the optional trailing block carrying delivery hints.
// A nil Metadata on a Packet means the block is absent on the wire.
type Metadata struct {
	Priority   Priority
	TTLMs      uint16
	RetryCount uint8
	Fragment   *FragmentInfo
}

// Packet is one fully-parsed unit of conversation traffic.
//
// SequenceNumber is strictly increasing per stream in emission order;
// Timestamp is the sender's monotonic clock in microseconds. Checksum
// holds the CRC32 from the wire (0 means the sender omitted it);
// Encode recomputes it, so the field is informational after Decode.
type Packet struct {
	Version        uint8
	Type           PacketType
	StreamID       StreamID
	SequenceNumber uint32
	Timestamp      uint64
	Flags          Flags
	Checksum       uint32
	Payload        Payload
	Metadata       *Metadata
}

// NewPacket constructs a packet with the current protocol version.
func NewPacket(t PacketType, stream StreamID, seq uint32, timestampMicros uint64, payload Payload) *Packet {
	return &Packet{
		Version:        ProtocolVersion,
		Type:           t,
		StreamID:       stream,
		SequenceNumber: seq,
		Timestamp:      timestampMicros,
		Payload:        payload,
	}
}

// EffectivePriority resolves the delivery priority for this packet:
// the metadata block's value when present, otherwise the type default.
func (p *Packet) EffectivePriority() Priority {
	if p.Metadata != nil && p.Metadata.Priority < PriorityLevels {
		return p.Metadata.Priority
	}
	return DefaultPriority(p.Type)
}

// TTLMicros resolves the packet's time-to-live in microseconds, falling
// back to defaultTTLMs when the metadata block is absent or carries zero.
func (p *Packet) TTLMicros(defaultTTLMs uint32) uint64 {
	if p.Metadata != nil && p.Metadata.TTLMs > 0 {
		return uint64(p.Metadata.TTLMs) * 1000
	}
	return uint64(defaultTTLMs) * 1000
}

// IsFragment reports whether this packet carries a byte-range slice of a
// larger encoded packet rather than a parseable payload.
func (p *Packet) IsFragment() bool {
	return p.Flags.Has(FlagFragmented) && p.Metadata != nil && p.Metadata.Fragment != nil
}
