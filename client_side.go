package proxyhdr

import (
	"bytes"
	"errors"
	"math"
	"net"
	"strconv"
)

// v1LocalValue and v2LocalValue are the wire encodings of a LOCAL header,
// used when the dialing side wants to signal "no real client" (e.g. a
// health check) rather than proxying a connection.
var (
	v1LocalValue = []byte("PROXY UNKNOWN\r\n")
	v2LocalValue = []byte("\r\n\r\n\x00\r\nQUIT\n\x20\x00\x00\x00")
)

var (
	ErrUnknownVersion      = errors.New("proxyhdr: cannot format header with unknown version")
	ErrUnknownAddrFamily   = errors.New("proxyhdr: source/destination addresses don't match a known family")
	ErrInvalidAddress      = errors.New("proxyhdr: header missing source or destination address")
	ErrExceedPayloadLength = errors.New("proxyhdr: TLV payload would exceed the 65535-byte v2 length field")
)

// formatHeader is the wire-encoding counterpart to ReadHeader: it turns a
// Header back into bytes, for a dialer that wants to prepend a PROXY
// preface to an outbound connection (a client-side PROXY protocol sender,
// as used by some load balancer health checks and connection poolers).
func formatHeader(h *Header, wantChecksum bool) ([]byte, error) {
	if h == nil {
		return nil, errors.New("proxyhdr: nil header")
	}
	if h.Command != CMD_LOCAL && (h.SrcAddr == nil || h.DstAddr == nil) {
		return nil, ErrInvalidAddress
	}

	switch h.Version {
	case Version1:
		return formatV1(h)
	case Version2:
		return formatV2(h, wantChecksum)
	default:
		return nil, ErrUnknownVersion
	}
}

func formatV1(h *Header) ([]byte, error) {
	if h.Command == CMD_LOCAL {
		h.Raw = v1LocalValue
		return h.Raw, nil
	}

	src, srcOK := h.SrcAddr.(*net.TCPAddr)
	dst, dstOK := h.DstAddr.(*net.TCPAddr)
	if !srcOK || !dstOK {
		return nil, ErrInvalidAddress
	}
	h.TransportProtocol = SOCK_STREAM

	var buf bytes.Buffer
	buf.Write(v1Prefix)

	switch {
	case src.IP.To4() != nil && dst.IP.To4() != nil:
		buf.WriteString("TCP4 ")
		buf.WriteString(src.IP.To4().String())
		buf.WriteByte(' ')
		buf.WriteString(dst.IP.To4().String())
		buf.WriteByte(' ')
		h.AddressFamily = AF_INET
	case src.IP.To16() != nil && dst.IP.To16() != nil:
		buf.WriteString("TCP6 ")
		buf.WriteString(src.IP.To16().String())
		buf.WriteByte(' ')
		buf.WriteString(dst.IP.To16().String())
		buf.WriteByte(' ')
		h.AddressFamily = AF_INET6
	default:
		return nil, ErrUnknownAddrFamily
	}

	buf.WriteString(strconv.Itoa(src.Port))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(dst.Port))
	buf.WriteString("\r\n")

	h.Raw = buf.Bytes()
	return h.Raw, nil
}

func formatV2(h *Header, wantChecksum bool) ([]byte, error) {
	if h.Command == CMD_LOCAL {
		h.Raw = v2LocalValue
		return h.Raw, nil
	}

	payloadBuf, payloadLength, af, tp := guessAndParseAddrs(h.SrcAddr, h.DstAddr)
	if payloadBuf == nil || uint16(payloadBuf.Len()) != payloadLength {
		return nil, ErrInvalidAddress
	}
	h.AddressFamily, h.TransportProtocol = af, tp

	verCmd := byte(Version2<<4) | byte(CMD_PROXY)
	famTrans := byte(h.AddressFamily<<4) | byte(h.TransportProtocol)

	if len(h.TLVs) == 0 && !wantChecksum {
		h.Raw = make([]byte, 0, v2HeaderLength+int(payloadLength))
		h.Raw = append(h.Raw, v2Signature...)
		h.Raw = append(h.Raw, verCmd, famTrans, byte(payloadLength>>8), byte(payloadLength))
		h.Raw = append(h.Raw, payloadBuf.Bytes()...)
		return h.Raw, nil
	}

	for _, tlv := range h.TLVs {
		data := tlv.Format()
		if l := len(data); l > 3 && l < math.MaxUint16 {
			if payloadBuf.Len()+l > math.MaxUint16 {
				return nil, ErrExceedPayloadLength
			}
			payloadBuf.Write(data)
			payloadLength += uint16(l)
		}
	}

	var err error
	h.Raw, err = formatV2Bytes(verCmd, famTrans, payloadLength, payloadBuf, wantChecksum)
	return h.Raw, err
}

// formatV2Bytes finishes a v2 payload that already carries addresses and
// any caller-supplied TLVs. It always trails the payload with an 8-byte
// PP2_TYPE_NOOP pad, then, if a checksum is wanted, reserves a
// PP2_TYPE_CRC32C TLV ahead of that pad, writes the whole header out with
// the checksum field zeroed, computes CRC-32c over it, and patches the
// real value back in place — so the header's total length never changes
// between reserving the field and filling it in.
func formatV2Bytes(verCmd, famTrans byte, length uint16, payload *bytes.Buffer, wantChecksum bool) ([]byte, error) {
	checksumOffset := -1
	if wantChecksum {
		if int(length)+7 > math.MaxUint16 {
			return nil, ErrExceedPayloadLength
		}
		checksumOffset = v2HeaderLength + payload.Len() + 3
		payload.Write([]byte{byte(PP2_TYPE_CRC32C), 0, 4, 0, 0, 0, 0})
		length += 7
	}

	if int(length)+11 > math.MaxUint16 {
		return nil, ErrExceedPayloadLength
	}
	payload.Write(NewNoOpTLV(8).Format())
	length += 11

	buf := make([]byte, 0, v2HeaderLength+int(length))
	buf = append(buf, v2Signature...)
	buf = append(buf, verCmd, famTrans, byte(length>>8), byte(length))
	raw := append(buf, payload.Bytes()...)

	if wantChecksum {
		checksum := CalcCRC32cChecksum(raw)
		copy(raw[checksumOffset:checksumOffset+4], checksum)
	}
	return raw, nil
}
