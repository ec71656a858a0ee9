package wire

import "hash/crc32"

// checksumOffset is where the u32 checksum field sits in the header.
const checksumOffset = 20

// checksumSentinel is transmitted when the computed CRC happens to be
// zero, because a zero field on the wire means "checksum absent".
const checksumSentinel uint32 = 0xFFFFFFFF

// ComputeChecksum returns the CRC-32 (IEEE) of a fully encoded packet
// with the checksum field treated as zero. A computed value of 0 is
// mapped to the sentinel 0xFFFFFFFF so it remains distinguishable from
// an absent checksum.
func ComputeChecksum(encoded []byte) uint32 {
	h := crc32.NewIEEE()
	if len(encoded) <= checksumOffset {
		h.Write(encoded)
	} else {
		h.Write(encoded[:checksumOffset])
		var zero [4]byte
		if len(encoded) >= checksumOffset+4 {
			h.Write(zero[:])
			h.Write(encoded[checksumOffset+4:])
		} else {
			h.Write(zero[:len(encoded)-checksumOffset])
		}
	}
	sum := h.Sum32()
	if sum == 0 {
		return checksumSentinel
	}
	return sum
}

// VerifyChecksum checks the embedded checksum of an encoded packet.
// A zero field means the sender omitted the checksum; that verifies
// trivially. The sentinel value matches a computed CRC of zero as well
// as a literal sentinel.
func VerifyChecksum(encoded []byte, embedded uint32) bool {
	if embedded == 0 {
		return true
	}
	return ComputeChecksum(encoded) == embedded
}
