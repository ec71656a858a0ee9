package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
)

// Encode serializes a packet to its wire form: the fixed 24-byte
// little-endian header, the type-specific payload bytes, and the
// optional metadata block. The checksum field is always computed and
// embedded; peers that do not care may ignore it.
//
// Parameters:
//   - packet: Packet to serialize (Payload may be nil for empty payloads)
//
// Returns:
//   - []byte: Encoded wire bytes
//   - error: ErrPayloadMismatch or limits violations
func Encode(packet *Packet) ([]byte, error) {
	if packet == nil {
		return nil, fmt.Errorf("packet cannot be nil")
	}

	var payloadBytes []byte
	if packet.Payload != nil {
		var err error
		payloadBytes, err = packet.Payload.WireBytes()
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}
	if err := limits.ValidatePayloadSize(payloadBytes); err != nil {
		return nil, err
	}

	metaBytes := encodeMetadata(packet.Metadata)

	buf := make([]byte, limits.HeaderSize+len(payloadBytes)+len(metaBytes))
	buf[0] = packet.Version
	buf[1] = byte(packet.Type)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(packet.StreamID))
	binary.LittleEndian.PutUint32(buf[4:8], packet.SequenceNumber)
	binary.LittleEndian.PutUint64(buf[8:16], packet.Timestamp)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(packet.Flags))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(len(payloadBytes)))
	copy(buf[limits.HeaderSize:], payloadBytes)
	copy(buf[limits.HeaderSize+len(payloadBytes):], metaBytes)

	checksum := ComputeChecksum(buf)
	binary.LittleEndian.PutUint32(buf[checksumOffset:checksumOffset+4], checksum)
	packet.Checksum = checksum

	return buf, nil
}

// Decode parses wire bytes into a packet. The header is validated
// first (length, version, payload bounds, checksum), then payload
// parsing is dispatched by type tag; unregistered types survive as
// Opaque payloads rather than failing.
//
// Parameters:
//   - data: Encoded wire bytes, exactly one packet
//
// Returns:
//   - *Packet: Parsed packet
//   - error: ErrCorruptPacket on any header, checksum or payload violation
func Decode(data []byte) (*Packet, error) {
	if err := limits.ValidateInboundFrame(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPacket, err)
	}
	if len(data) < limits.HeaderSize {
		return nil, fmt.Errorf("%w: frame %d bytes, header needs %d", ErrCorruptPacket, len(data), limits.HeaderSize)
	}

	packet := &Packet{
		Version:        data[0],
		Type:           PacketType(data[1]),
		StreamID:       StreamID(binary.LittleEndian.Uint16(data[2:4])),
		SequenceNumber: binary.LittleEndian.Uint32(data[4:8]),
		Timestamp:      binary.LittleEndian.Uint64(data[8:16]),
		Flags:          Flags(binary.LittleEndian.Uint16(data[16:18])),
		Checksum:       binary.LittleEndian.Uint32(data[checksumOffset : checksumOffset+4]),
	}
	if packet.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptPacket, packet.Version)
	}

	payloadLen := int(binary.LittleEndian.Uint16(data[18:20]))
	if limits.HeaderSize+payloadLen > len(data) {
		return nil, fmt.Errorf("%w: payload length %d exceeds frame", ErrCorruptPacket, payloadLen)
	}
	if !VerifyChecksum(data, packet.Checksum) {
		logrus.WithFields(logrus.Fields{
			"function": "Decode",
			"stream":   packet.StreamID.String(),
			"sequence": packet.SequenceNumber,
		}).Warn("Packet checksum mismatch")
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptPacket)
	}

	payloadEnd := limits.HeaderSize + payloadLen
	metadata, err := decodeMetadata(data[payloadEnd:])
	if err != nil {
		return nil, err
	}
	packet.Metadata = metadata

	payload, err := parsePayload(packet.Type, packet.Flags, data[limits.HeaderSize:payloadEnd])
	if err != nil {
		return nil, err
	}
	packet.Payload = payload

	return packet, nil
}

// encodeMetadata serializes the optional metadata block: a fixed part
// (priority, ttl, retry count, fragment flag) plus an 8-byte fragment
// info trailer when present. A nil metadata encodes to nothing.
func encodeMetadata(m *Metadata) []byte {
	if m == nil {
		return nil
	}
	size := limits.MetadataFixedSize
	if m.Fragment != nil {
		size += limits.FragmentInfoSize
	}
	buf := make([]byte, size)
	buf[0] = byte(m.Priority)
	binary.LittleEndian.PutUint16(buf[1:3], m.TTLMs)
	buf[3] = m.RetryCount
	if m.Fragment != nil {
		buf[4] = 1
		binary.LittleEndian.PutUint16(buf[5:7], m.Fragment.FragmentID)
		binary.LittleEndian.PutUint16(buf[7:9], m.Fragment.TotalFragments)
		binary.LittleEndian.PutUint32(buf[9:13], m.Fragment.OriginalLength)
	}
	return buf
}

// decodeMetadata parses whatever trails the payload. No bytes means no
// metadata block; a partial block is a framing error.
func decodeMetadata(data []byte) (*Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < limits.MetadataFixedSize {
		return nil, fmt.Errorf("%w: truncated metadata block (%d bytes)", ErrCorruptPacket, len(data))
	}
	m := &Metadata{
		Priority:   Priority(data[0]),
		TTLMs:      binary.LittleEndian.Uint16(data[1:3]),
		RetryCount: data[3],
	}
	if m.Priority >= PriorityLevels {
		return nil, fmt.Errorf("%w: priority %d out of range", ErrCorruptPacket, m.Priority)
	}
	if data[4] == 1 {
		if len(data) < limits.MetadataFixedSize+limits.FragmentInfoSize {
			return nil, fmt.Errorf("%w: truncated fragment info", ErrCorruptPacket)
		}
		m.Fragment = &FragmentInfo{
			FragmentID:     binary.LittleEndian.Uint16(data[5:7]),
			TotalFragments: binary.LittleEndian.Uint16(data[7:9]),
			OriginalLength: binary.LittleEndian.Uint32(data[9:13]),
		}
	}
	return m, nil
}
