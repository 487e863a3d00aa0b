package proxyhdr

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// crc32cTable is the Castagnoli polynomial table the PROXY protocol spec
// mandates for the optional PP2_TYPE_CRC32C TLV.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ErrValidateCRC32cChecksum is returned (wrapped in a DecodeError) when
// WithCRC32cChecksum is enabled and a decoded v2 header's checksum TLV
// doesn't match the computed checksum.
var ErrValidateCRC32cChecksum = errors.New("proxyhdr: CRC-32c checksum validation failed")

// CalcCRC32cChecksum computes the CRC-32c checksum of raw as it would be
// embedded in a PP2_TYPE_CRC32C TLV value.
func CalcCRC32cChecksum(raw []byte) []byte {
	sum := crc32.Checksum(raw, crc32cTable)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, sum)
	return buf
}

// VerifyCRC32c validates a decoded v2 header's PP2_TYPE_CRC32C TLV, if
// present. It returns true when no checksum TLV is present (nothing to
// verify), for v1 or LOCAL headers and for an unrecognized address family
// or transport protocol, or when the embedded checksum matches; false on
// mismatch.
//
// Per the upstream PROXY protocol spec, the checksum covers the whole
// header with the 4-byte checksum field zeroed. Verification zeroes that
// field in a copy of h.Raw and recomputes; h.Raw itself is not modified.
func VerifyCRC32c(h *Header) bool {
	if h == nil || h.Version != Version2 || h.Command != CMD_PROXY {
		return true
	}
	if h.TransportProtocol != SOCK_STREAM && h.TransportProtocol != SOCK_DGRAM {
		return true
	}

	offset := v2HeaderLength
	switch h.AddressFamily {
	case AF_INET:
		offset += addressLengthIPv4
	case AF_INET6:
		offset += addressLengthIPv6
	case AF_UNIX:
		offset += addressLengthUnix
	default:
		return true
	}

	length := len(h.Raw)
	for offset < length {
		typ := PP2Type(h.Raw[offset])
		offset++
		if offset+2 > length {
			break
		}
		tlvLen := int(binary.BigEndian.Uint16(h.Raw[offset : offset+2]))
		offset += 2

		if typ == PP2_TYPE_CRC32C {
			if offset+4 > length {
				return true
			}
			scratch := make([]byte, length)
			copy(scratch, h.Raw)

			received := binary.BigEndian.Uint32(scratch[offset : offset+4])
			copy(scratch[offset:offset+4], []byte{0, 0, 0, 0})
			computed := crc32.Checksum(scratch, crc32cTable)
			return received == computed
		}

		offset += tlvLen
	}

	// No checksum TLV present: nothing to verify.
	return true
}
