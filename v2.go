package proxyhdr

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	v2HeaderLength = 16 // fixed 16-byte v2 header

	// addressLengthIPv4 is 2*4 + 2*2 = 12 bytes.
	addressLengthIPv4 = 12
	// addressLengthIPv6 is 2*16 + 2*2 = 36 bytes.
	addressLengthIPv6 = 36
	// addressLengthUnix is 2*108 = 216 bytes. Accept-time decoding never
	// sees this family (readV2 rejects non-LOCAL AF_UNIX); it exists so
	// Header.Format can encode a Header a caller built by hand with
	// net.UnixAddr source/destination. Such a header does not decode back.
	addressLengthUnix = 216
)

var (
	ErrUnknownVersionOrCommand = errors.New("v2 unknown version or command nibble")
	ErrUnknownFamilyOrProto    = errors.New("v2 unknown address family or transport nibble")
	ErrUnsupportedMode         = errors.New("v2 non-LOCAL header requires family INET/INET6 and transport STREAM")
	ErrPayloadTooLarge         = errors.New("v2 declared payload length exceeds the configured maximum")
	ErrPayloadTooShort         = errors.New("v2 payload too short for the declared address family")
)

// readAndParseV2 validates the 16-byte binary header (magic, ver_cmd,
// fam_trans, len), reads exactly `len` payload bytes, then derives
// addresses and TLVs from the payload.
func readAndParseV2(reader *bufio.Reader, maxHeaderLength uint16) (*Header, error) {
	return readAndParseV2WithLogger(reader, maxHeaderLength, nil)
}

func readAndParseV2WithLogger(reader *bufio.Reader, maxHeaderLength uint16, logger *logrus.Entry) (*Header, error) {
	header, payload, err := readV2(reader, maxHeaderLength)
	if err != nil {
		return nil, err
	}
	if err := parseV2(header, payload, logger); err != nil {
		return nil, err
	}
	return header, nil
}

func readV2(reader *bufio.Reader, maxHeaderLength uint16) (*Header, []byte, error) {
	if maxHeaderLength == 0 {
		maxHeaderLength = DefaultMaxHeaderLength
	}

	fixed := make([]byte, v2HeaderLength)
	if _, err := io.ReadFull(reader, fixed); err != nil {
		return nil, nil, fatal(KindTruncated, errors.Wrap(err, "v2 fixed header"))
	}
	if !bytes.Equal(fixed[:len(v2Signature)], v2Signature) {
		return nil, nil, fatal(KindMalformed, errors.New("v2 bad magic"))
	}

	verCmd := fixed[12]
	ver, cmd := Version(verCmd>>4), Command(verCmd&0x0F)
	if ver != Version2 || (cmd != CMD_LOCAL && cmd != CMD_PROXY) {
		return nil, nil, fatal(KindMalformed, ErrUnknownVersionOrCommand)
	}

	famTrans := fixed[13]
	af, tp := AddressFamily(famTrans>>4), TransportProtocol(famTrans&0x0F)
	if af > AF_UNIX || tp > SOCK_DGRAM {
		return nil, nil, fatal(KindMalformed, ErrUnknownFamilyOrProto)
	}

	length := binary.BigEndian.Uint16(fixed[14:16])
	if length > maxHeaderLength {
		return nil, nil, fatal(KindOversize, ErrPayloadTooLarge)
	}

	if cmd != CMD_LOCAL {
		if af == AF_UNSPEC || af == AF_UNIX || tp != SOCK_STREAM {
			return nil, nil, fatal(KindUnsupportedMode, ErrUnsupportedMode)
		}
	}

	header := &Header{
		Version:           Version2,
		Command:           cmd,
		AddressFamily:     af,
		TransportProtocol: tp,
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, nil, fatal(KindTruncated, errors.Wrap(err, "v2 payload"))
		}
	}

	header.Raw = make([]byte, 0, v2HeaderLength+int(length))
	header.Raw = append(header.Raw, fixed...)
	header.Raw = append(header.Raw, payload...)
	return header, payload, nil
}

// parseV2 derives src/dst addresses from the payload (LOCAL headers carry
// none), then walks trailing TLVs.
func parseV2(header *Header, payload []byte, logger *logrus.Entry) error {
	if header.Command == CMD_LOCAL {
		return nil
	}

	var srcAddr, dstAddr net.Addr
	var rawTLVs []byte
	var err error

	switch header.AddressFamily {
	case AF_INET:
		if len(payload) < addressLengthIPv4 {
			return fatal(KindMalformed, ErrPayloadTooShort)
		}
		srcAddr, dstAddr, err = parseV2IPv4(payload, header.TransportProtocol)
		rawTLVs = payload[addressLengthIPv4:]
	case AF_INET6:
		if len(payload) < addressLengthIPv6 {
			return fatal(KindMalformed, ErrPayloadTooShort)
		}
		srcAddr, dstAddr, err = parseV2IPv6(payload, header.TransportProtocol)
		rawTLVs = payload[addressLengthIPv6:]
	default:
		// readV2 already rejects non-LOCAL headers outside INET/INET6.
		return fatal(KindUnsupportedMode, ErrUnsupportedMode)
	}
	if err != nil {
		return fatal(KindMalformed, err)
	}

	header.SrcAddr = srcAddr
	header.DstAddr = dstAddr
	header.TLVs = parseTLVsLenient(rawTLVs, logger)
	return nil
}

func parseV2IPv4(payload []byte, tp TransportProtocol) (src, dst net.Addr, err error) {
	srcIP := net.IPv4(payload[0], payload[1], payload[2], payload[3])
	dstIP := net.IPv4(payload[4], payload[5], payload[6], payload[7])
	srcPort := int(binary.BigEndian.Uint16(payload[8:10]))
	dstPort := int(binary.BigEndian.Uint16(payload[10:addressLengthIPv4]))

	if tp == SOCK_DGRAM {
		return &net.UDPAddr{IP: srcIP, Port: srcPort}, &net.UDPAddr{IP: dstIP, Port: dstPort}, nil
	}
	return &net.TCPAddr{IP: srcIP, Port: srcPort}, &net.TCPAddr{IP: dstIP, Port: dstPort}, nil
}

func parseV2IPv6(payload []byte, tp TransportProtocol) (src, dst net.Addr, err error) {
	srcIP := net.IP(append([]byte(nil), payload[:16]...))
	dstIP := net.IP(append([]byte(nil), payload[16:32]...))
	srcPort := int(binary.BigEndian.Uint16(payload[32:34]))
	dstPort := int(binary.BigEndian.Uint16(payload[34:addressLengthIPv6]))

	if tp == SOCK_DGRAM {
		return &net.UDPAddr{IP: srcIP, Port: srcPort}, &net.UDPAddr{IP: dstIP, Port: dstPort}, nil
	}
	return &net.TCPAddr{IP: srcIP, Port: srcPort}, &net.TCPAddr{IP: dstIP, Port: dstPort}, nil
}
