package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload is the type-tagged payload variant carried by a Packet.
//
// Each variant knows how to marshal itself to the wire encoding of its
// packet class; parsing is dispatched through the static codec registry
// in this file. Types with no registered codec round-trip as Opaque.
type Payload interface {
	// WireBytes returns the encoded payload bytes.
	WireBytes() ([]byte, error)
}

// AudioMeta is the msgpack metadata document prefixed to raw sample
// bytes in an audio payload. The core never decodes Codec; it only
// carries the frames between the speech stack and the transport.
type AudioMeta struct {
	SampleRate uint32 `msgpack:"sampleRate" json:"sampleRate"`
	Channels   uint8  `msgpack:"channels" json:"channels"`
	Samples    uint32 `msgpack:"samples" json:"samples"`
	Codec      string `msgpack:"codec" json:"codec"`
	DurationMs uint32 `msgpack:"durationMs" json:"durationMs"`
}

// AudioPayload is an audio-class payload: a length-prefixed msgpack
// metadata document followed by raw (already encoded) sample bytes.
type AudioPayload struct {
	Meta    AudioMeta
	Samples []byte
}

// WireBytes encodes the payload as u16 LE meta length, msgpack meta,
// then the raw sample bytes.
func (a *AudioPayload) WireBytes() ([]byte, error) {
	metaBytes, err := msgpack.Marshal(&a.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal audio meta: %w", err)
	}
	if len(metaBytes) > 0xFFFF {
		return nil, fmt.Errorf("%w: audio meta document %d bytes", ErrPayloadMismatch, len(metaBytes))
	}
	buf := make([]byte, 2+len(metaBytes)+len(a.Samples))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(metaBytes)))
	copy(buf[2:], metaBytes)
	copy(buf[2+len(metaBytes):], a.Samples)
	return buf, nil
}

func parseAudioPayload(data []byte) (Payload, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: audio payload %d bytes, need meta length prefix", ErrCorruptPacket, len(data))
	}
	metaLen := int(binary.LittleEndian.Uint16(data[0:2]))
	if 2+metaLen > len(data) {
		return nil, fmt.Errorf("%w: audio meta length %d exceeds payload", ErrCorruptPacket, metaLen)
	}
	p := &AudioPayload{}
	if err := msgpack.Unmarshal(data[2:2+metaLen], &p.Meta); err != nil {
		return nil, fmt.Errorf("%w: audio meta document: %v", ErrCorruptPacket, err)
	}
	if rest := data[2+metaLen:]; len(rest) > 0 {
		p.Samples = make([]byte, len(rest))
		copy(p.Samples, rest)
	}
	return p, nil
}

// TextPayload is a text-class payload: a UTF-8 JSON document carrying
// partial or final transcript text.
type TextPayload struct {
	Text       string  `json:"text" msgpack:"text"`
	Final      bool    `json:"final" msgpack:"final"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
	Language   string  `json:"language,omitempty" msgpack:"language,omitempty"`
}

// WireBytes encodes the document as JSON.
func (t *TextPayload) WireBytes() ([]byte, error) {
	return json.Marshal(t)
}

func parseTextPayload(data []byte) (Payload, error) {
	p := &TextPayload{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: text document: %v", ErrCorruptPacket, err)
	}
	return p, nil
}

// SemanticPayload is a semantic-class payload describing synthesized
// conversational state (emotion, arousal, whether TTS is speaking).
type SemanticPayload struct {
	State      string  `json:"state" msgpack:"state"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
	Arousal    float64 `json:"arousal" msgpack:"arousal"`
	Valence    float64 `json:"valence" msgpack:"valence"`
	TTSActive  bool    `json:"ttsActive" msgpack:"ttsActive"`
}

// WireBytes encodes the document as JSON.
func (s *SemanticPayload) WireBytes() ([]byte, error) {
	return json.Marshal(s)
}

func parseSemanticPayload(data []byte) (Payload, error) {
	p := &SemanticPayload{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: semantic document: %v", ErrCorruptPacket, err)
	}
	return p, nil
}

// ResponsePayload is a response-class payload: one chunk of a model
// response identified by response ID and chunk index.
type ResponsePayload struct {
	ID    string `json:"id" msgpack:"id"`
	Chunk string `json:"chunk,omitempty" msgpack:"chunk,omitempty"`
	Index int    `json:"index" msgpack:"index"`
}

// WireBytes encodes the document as JSON.
func (r *ResponsePayload) WireBytes() ([]byte, error) {
	return json.Marshal(r)
}

func parseResponsePayload(data []byte) (Payload, error) {
	p := &ResponsePayload{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: response document: %v", ErrCorruptPacket, err)
	}
	return p, nil
}

// StreamControlPayload is a stream-control-class payload: a JSON
// document describing a lifecycle action on a logical stream.
type StreamControlPayload struct {
	Stream string            `json:"stream" msgpack:"stream"`
	Action string            `json:"action" msgpack:"action"`
	Params map[string]string `json:"params,omitempty" msgpack:"params,omitempty"`
}

// WireBytes encodes the document as JSON.
func (s *StreamControlPayload) WireBytes() ([]byte, error) {
	return json.Marshal(s)
}

func parseStreamControlPayload(data []byte) (Payload, error) {
	p := &StreamControlPayload{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: stream-control document: %v", ErrCorruptPacket, err)
	}
	return p, nil
}

// HeartbeatPayload carries the sender's send time in microseconds.
type HeartbeatPayload struct {
	SentAt uint64
}

// WireBytes encodes the send time as 8 LE bytes.
func (h *HeartbeatPayload) WireBytes() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, h.SentAt)
	return buf, nil
}

func parseHeartbeatPayload(data []byte) (Payload, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("%w: heartbeat payload %d bytes, want 8", ErrCorruptPacket, len(data))
	}
	return &HeartbeatPayload{SentAt: binary.LittleEndian.Uint64(data)}, nil
}

// AckPayload acknowledges receipt of a sequence number on a stream.
type AckPayload struct {
	Stream        StreamID
	AckedSequence uint32
}

// WireBytes encodes the stream and acked sequence as 6 LE bytes.
func (a *AckPayload) WireBytes() ([]byte, error) {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(a.Stream))
	binary.LittleEndian.PutUint32(buf[2:6], a.AckedSequence)
	return buf, nil
}

func parseAckPayload(data []byte) (Payload, error) {
	if len(data) != 6 {
		return nil, fmt.Errorf("%w: ack payload %d bytes, want 6", ErrCorruptPacket, len(data))
	}
	return &AckPayload{
		Stream:        StreamID(binary.LittleEndian.Uint16(data[0:2])),
		AckedSequence: binary.LittleEndian.Uint32(data[2:6]),
	}, nil
}

// RetransmitPayload asks the peer to resend the listed sequence numbers
// on a stream.
type RetransmitPayload struct {
	Stream  StreamID
	Missing []uint32
}

// WireBytes encodes the stream, a u16 count, and the missing sequences.
func (r *RetransmitPayload) WireBytes() ([]byte, error) {
	if len(r.Missing) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d missing sequences exceed u16 count", ErrPayloadMismatch, len(r.Missing))
	}
	buf := make([]byte, 4+4*len(r.Missing))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.Stream))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(r.Missing)))
	for i, seq := range r.Missing {
		binary.LittleEndian.PutUint32(buf[4+4*i:], seq)
	}
	return buf, nil
}

func parseRetransmitPayload(data []byte) (Payload, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: retransmit payload %d bytes, need 4", ErrCorruptPacket, len(data))
	}
	count := int(binary.LittleEndian.Uint16(data[2:4]))
	if len(data) != 4+4*count {
		return nil, fmt.Errorf("%w: retransmit payload %d bytes for count %d", ErrCorruptPacket, len(data), count)
	}
	p := &RetransmitPayload{Stream: StreamID(binary.LittleEndian.Uint16(data[0:2]))}
	if count > 0 {
		p.Missing = make([]uint32, count)
		for i := range p.Missing {
			p.Missing[i] = binary.LittleEndian.Uint32(data[4+4*i:])
		}
	}
	return p, nil
}

// TimestampSyncPayload is the NTP-style three-timestamp exchange used
// to estimate clock offset between the two ends of the connection.
// Origin is stamped by the requester; Receive and Transmit are filled
// by the responder. All values are microseconds.
type TimestampSyncPayload struct {
	Origin   uint64
	Receive  uint64
	Transmit uint64
}

// WireBytes encodes the three timestamps as 24 LE bytes.
func (t *TimestampSyncPayload) WireBytes() ([]byte, error) {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], t.Origin)
	binary.LittleEndian.PutUint64(buf[8:16], t.Receive)
	binary.LittleEndian.PutUint64(buf[16:24], t.Transmit)
	return buf, nil
}

func parseTimestampSyncPayload(data []byte) (Payload, error) {
	if len(data) != 24 {
		return nil, fmt.Errorf("%w: timestamp sync payload %d bytes, want 24", ErrCorruptPacket, len(data))
	}
	return &TimestampSyncPayload{
		Origin:   binary.LittleEndian.Uint64(data[0:8]),
		Receive:  binary.LittleEndian.Uint64(data[8:16]),
		Transmit: binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}

// Opaque is a payload carried without interpretation: unknown packet
// types, fragment byte ranges, and empty control payloads.
type Opaque []byte

// WireBytes returns the bytes unchanged.
func (o Opaque) WireBytes() ([]byte, error) {
	return []byte(o), nil
}

func parseOpaquePayload(data []byte) (Payload, error) {
	if len(data) == 0 {
		return Opaque(nil), nil
	}
	out := make(Opaque, len(data))
	copy(out, data)
	return out, nil
}

type payloadParser func([]byte) (Payload, error)

// payloadParsers is the static type -> codec registry. Types absent
// from the table fall back to the opaque codec; a payload surviving as
// Opaque is not an error (UnknownPacketType is non-fatal by design).
var payloadParsers = map[PacketType]payloadParser{
	PacketHeartbeat:         parseHeartbeatPayload,
	PacketAck:               parseAckPayload,
	PacketRetransmitRequest: parseRetransmitPayload,
	PacketTimestampSync:     parseTimestampSyncPayload,
	PacketStreamClose:       parseOpaquePayload,
	PacketAudioFrame:        parseAudioPayload,
	PacketAudioConfig:       parseAudioPayload,
	PacketPartialTranscript: parseTextPayload,
	PacketFinalTranscript:   parseTextPayload,
	PacketTextMessage:       parseTextPayload,
	PacketSemanticState:     parseSemanticPayload,
	PacketEmotionState:      parseSemanticPayload,
	PacketResponseStart:     parseResponsePayload,
	PacketResponseChunk:     parseResponsePayload,
	PacketResponseEnd:       parseResponsePayload,
	PacketResponseCancel:    parseResponsePayload,
	PacketStreamOpen:        parseStreamControlPayload,
	PacketStreamConfigure:   parseStreamControlPayload,
	PacketStreamPause:       parseStreamControlPayload,
	PacketStreamResume:      parseStreamControlPayload,
}

// parsePayload dispatches payload parsing by type tag. Fragments are
// always opaque byte ranges regardless of the original type.
func parsePayload(t PacketType, flags Flags, data []byte) (Payload, error) {
	if flags.Has(FlagFragmented) {
		return parseOpaquePayload(data)
	}
	if parser, ok := payloadParsers[t]; ok {
		return parser(data)
	}
	return parseOpaquePayload(data)
}
