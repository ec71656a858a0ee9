package wire

import "errors"

// Sentinel errors for wire codec operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrCorruptPacket indicates a checksum mismatch or malformed header.
	ErrCorruptPacket = errors.New("corrupt packet")

	// ErrIncompleteFragmentSet indicates reassembly is missing at least one
	// fragment index.
	ErrIncompleteFragmentSet = errors.New("incomplete fragment set")

	// ErrUnknownPacketType indicates a type tag outside every known range.
	// Decoding still succeeds with an opaque payload; the receive pipeline
	// flags the arrival through its error event while still delivering it.
	ErrUnknownPacketType = errors.New("unknown packet type")

	// ErrPayloadMismatch indicates a payload variant that does not match the
	// packet's declared type during encoding.
	ErrPayloadMismatch = errors.New("payload does not match packet type")

	// ErrInvalidFragment indicates fragment metadata that cannot describe a
	// valid byte range (zero totals, conflicting originals, out-of-range IDs).
	ErrInvalidFragment = errors.New("invalid fragment")

	// ErrNotFragmented indicates reassembly was attempted on packets that do
	// not carry the FRAGMENTED flag.
	ErrNotFragmented = errors.New("packet is not fragmented")
)
