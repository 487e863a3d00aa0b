package proxyhdr

import (
	"bufio"
	"net"

	"github.com/pkg/errors"
)

const (
	// v1HeaderMaxLength is the 108-byte hard cap, the worst case being:
	// "PROXY UNKNOWN ffff:f...f:ffff ffff:f...f:ffff 65535 65535\r\n"
	v1HeaderMaxLength = 108
)

// v1 token indices.
const (
	v1FieldTag = iota
	v1FieldFamily
	v1FieldSrcIP
	v1FieldDstIP
	v1FieldSrcPort
	v1FieldDstPort
	v1FieldCount
)

var (
	ErrMustEndWithCRLF       = errors.New("v1 header must end with CRLF")
	ErrHeaderTooLong         = errors.New("v1 header exceeds 108 bytes")
	ErrBadTag                = errors.New("v1 header does not start with PROXY")
	ErrInvalidAddressFamily  = errors.New("v1 invalid address family")
	ErrNotFoundAddressOrPort = errors.New("v1 header missing address or port fields")
	ErrControlByteInToken    = errors.New("v1 control byte inside token")
)

// readAndParseV1 tokenizes the ASCII preface one byte at a time, bounded
// to v1HeaderMaxLength, then turns the six tokens into a Header.
func readAndParseV1(reader *bufio.Reader) (*Header, error) {
	raw, fields, err := readV1(reader)
	if err != nil {
		return nil, err
	}
	return parseV1(raw, fields)
}

// readV1 runs an index=0..7 state machine over the incoming bytes:
//
//	index=0..5 : reading a token; on ' ' advance index; on '\r' set index=6
//	index=6    : expect '\n'; on '\n' the preface is complete and readV1
//	             returns; anything else is fatal
func readV1(reader *bufio.Reader) ([]byte, []string, error) {
	raw := make([]byte, 0, v1HeaderMaxLength)
	fields := make([]string, 0, v1FieldCount)
	var accum []byte

	index := 0
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, nil, fatal(KindTruncated, errors.Wrap(err, "v1 preface"))
		}
		raw = append(raw, b)
		if len(raw) > v1HeaderMaxLength {
			return nil, nil, fatal(KindOversize, ErrHeaderTooLong)
		}

		const lastField = v1FieldCount - 1 // index of the dstPort token (5)

		switch {
		case index <= lastField && b == ' ' && index < lastField:
			fields = append(fields, string(accum))
			accum = nil
			index++

		case index <= lastField && b == '\r':
			fields = append(fields, string(accum))
			accum = nil
			index = 6

		case index <= lastField:
			if b < 0x20 {
				return nil, nil, fatal(KindMalformed, ErrControlByteInToken)
			}
			accum = append(accum, b)

		case index == 6:
			if b != '\n' {
				return nil, nil, fatal(KindMalformed, ErrMustEndWithCRLF)
			}
			return raw, fields, nil
		}
	}
}

func parseV1(raw []byte, fields []string) (*Header, error) {
	// "PROXY UNKNOWN\r\n" is a complete preface: UNKNOWN may omit the
	// address and port fields.
	unknown := len(fields) > v1FieldFamily && fields[v1FieldFamily] == "UNKNOWN"
	if len(fields) != v1FieldCount && !unknown {
		return nil, fatal(KindMalformed, ErrNotFoundAddressOrPort)
	}
	if fields[v1FieldTag] != "PROXY" {
		return nil, fatal(KindMalformed, ErrBadTag)
	}

	var af AddressFamily
	switch fields[v1FieldFamily] {
	case "TCP4":
		af = AF_INET
	case "TCP6":
		af = AF_INET6
	case "UNKNOWN":
		af = AF_UNSPEC
	default:
		return nil, fatal(KindMalformed, ErrInvalidAddressFamily)
	}

	header := &Header{Version: Version1, AddressFamily: af, Raw: raw}
	if af == AF_UNSPEC {
		// UNKNOWN mode: address/port fields are ignored entirely, the
		// caller falls back to the transport's own addresses.
		header.Command = CMD_LOCAL
		return header, nil
	}

	header.Command = CMD_PROXY
	header.TransportProtocol = SOCK_STREAM

	srcIP, dstIP, err := parseAndValidateIP(fields[v1FieldSrcIP], fields[v1FieldDstIP], af)
	if err != nil {
		return nil, fatal(KindMalformed, err)
	}

	srcPort, dstPort, err := parseAndValidatePort(fields[v1FieldSrcPort], fields[v1FieldDstPort])
	if err != nil {
		return nil, fatal(KindMalformed, err)
	}

	header.SrcAddr = &net.TCPAddr{IP: srcIP, Port: srcPort}
	header.DstAddr = &net.TCPAddr{IP: dstIP, Port: dstPort}
	return header, nil
}
