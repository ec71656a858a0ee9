package wire

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
)

// Fragment splits a packet whose encoding exceeds maxPayloadSize into
// ordered byte-range fragments. Each fragment is itself a well-formed
// packet carrying the original header identity (type, stream, sequence,
// timestamp), the FRAGMENTED flag, FINAL_FRAGMENT on the last slice,
// and fragment info in its metadata block. maxPayloadSize bounds each
// fragment's payload chunk, not its full encoded size.
//
// A packet that already fits in one chunk is returned unchanged as a
// single-element slice.
//
// Parameters:
//   - packet: Packet whose encoded form may be oversized
//   - maxPayloadSize: Largest payload chunk per fragment, in bytes
//
// Returns:
//   - []*Packet: Ordered fragments (or the original packet alone)
//   - error: Encoding failure or a fragment count above limits.MaxFragments
func Fragment(packet *Packet, maxPayloadSize int) ([]*Packet, error) {
	if packet == nil {
		return nil, fmt.Errorf("packet cannot be nil")
	}
	if maxPayloadSize <= 0 || maxPayloadSize > limits.MaxPayloadLength {
		return nil, fmt.Errorf("invalid max fragment payload size %d", maxPayloadSize)
	}

	encoded, err := Encode(packet)
	if err != nil {
		return nil, fmt.Errorf("encode for fragmentation: %w", err)
	}
	if len(encoded) <= maxPayloadSize {
		return []*Packet{packet}, nil
	}

	total := (len(encoded) + maxPayloadSize - 1) / maxPayloadSize
	if total > limits.MaxFragments {
		return nil, fmt.Errorf("%w: %d fragments exceed limit %d", ErrInvalidFragment, total, limits.MaxFragments)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Fragment",
		"stream":    packet.StreamID.String(),
		"sequence":  packet.SequenceNumber,
		"encoded":   len(encoded),
		"fragments": total,
	}).Debug("Fragmenting oversized packet")

	fragments := make([]*Packet, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPayloadSize
		end := start + maxPayloadSize
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk := make(Opaque, end-start)
		copy(chunk, encoded[start:end])

		frag := &Packet{
			Version:        packet.Version,
			Type:           packet.Type,
			StreamID:       packet.StreamID,
			SequenceNumber: packet.SequenceNumber,
			Timestamp:      packet.Timestamp,
			Flags:          packet.Flags | FlagFragmented,
			Payload:        chunk,
			Metadata: &Metadata{
				Priority: packet.EffectivePriority(),
				Fragment: &FragmentInfo{
					FragmentID:     uint16(i),
					TotalFragments: uint16(total),
					OriginalLength: uint32(len(encoded)),
				},
			},
		}
		if packet.Metadata != nil {
			frag.Metadata.TTLMs = packet.Metadata.TTLMs
			frag.Metadata.RetryCount = packet.Metadata.RetryCount
		}
		if i == total-1 {
			frag.Flags |= FlagFinalFragment
		}
		fragments = append(fragments, frag)
	}
	return fragments, nil
}

// Reassemble reconstructs the original packet from its fragments. The
// input order does not matter; fragments are sorted by fragment ID,
// validated as a dense 0..total-1 set with consistent totals and
// original length, concatenated, and decoded.
//
// Returns:
//   - *Packet: The decoded original
//   - error: ErrIncompleteFragmentSet when an index is missing,
//     ErrInvalidFragment or ErrCorruptPacket on inconsistent metadata
func Reassemble(fragments []*Packet) (*Packet, error) {
	if len(fragments) == 0 {
		return nil, fmt.Errorf("%w: no fragments", ErrIncompleteFragmentSet)
	}
	for _, frag := range fragments {
		if frag == nil || !frag.IsFragment() {
			return nil, ErrNotFragmented
		}
	}

	sorted := make([]*Packet, len(fragments))
	copy(sorted, fragments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Metadata.Fragment.FragmentID < sorted[j].Metadata.Fragment.FragmentID
	})

	first := sorted[0].Metadata.Fragment
	total := int(first.TotalFragments)
	if total == 0 || total > limits.MaxFragments {
		return nil, fmt.Errorf("%w: total fragment count %d", ErrInvalidFragment, total)
	}
	if len(sorted) < total {
		missing := missingFragmentIDs(sorted, total)
		return nil, fmt.Errorf("%w: have %d of %d (missing %v)", ErrIncompleteFragmentSet, len(sorted), total, missing)
	}

	encoded := make([]byte, 0, first.OriginalLength)
	for i, frag := range sorted {
		info := frag.Metadata.Fragment
		if info.TotalFragments != first.TotalFragments || info.OriginalLength != first.OriginalLength {
			return nil, fmt.Errorf("%w: conflicting fragment metadata at index %d", ErrCorruptPacket, i)
		}
		if int(info.FragmentID) != i {
			missing := missingFragmentIDs(sorted, total)
			return nil, fmt.Errorf("%w: missing %v", ErrIncompleteFragmentSet, missing)
		}
		chunk, ok := frag.Payload.(Opaque)
		if !ok {
			return nil, fmt.Errorf("%w: fragment payload is not opaque", ErrInvalidFragment)
		}
		encoded = append(encoded, chunk...)
	}
	if uint32(len(encoded)) != first.OriginalLength {
		return nil, fmt.Errorf("%w: reassembled %d bytes, original %d", ErrCorruptPacket, len(encoded), first.OriginalLength)
	}

	packet, err := Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode reassembled packet: %w", err)
	}
	return packet, nil
}

// missingFragmentIDs lists the indexes absent from a sorted fragment set.
func missingFragmentIDs(sorted []*Packet, total int) []int {
	present := make(map[int]bool, len(sorted))
	for _, frag := range sorted {
		present[int(frag.Metadata.Fragment.FragmentID)] = true
	}
	var missing []int
	for i := 0; i < total; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
