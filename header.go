// Package proxyhdr decodes the PROXY protocol preface (v1 and v2) that a
// load balancer such as HAProxy prepends to a proxied TCP connection, and
// re-exposes the connection with the real client/server addresses it
// carried.
package proxyhdr

import (
	"bufio"
	"errors"
	"io"
	"net"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

type (
	Version           byte // Version 1 or 2
	Command           byte // Local or Proxy
	AddressFamily     byte // IPv4, IPv6 or Unix
	TransportProtocol byte // TCP or UDP
)

// Header is the parsed result of a PROXY preface, v1 or v2.
type Header struct {
	Version           Version
	Command           Command
	AddressFamily     AddressFamily
	TransportProtocol TransportProtocol

	SrcAddr net.Addr // source address
	DstAddr net.Addr // destination address

	Raw  []byte // raw bytes of the preface, as read from the wire
	TLVs TLVs   // v2 TLV groups, empty for v1 or LOCAL
}

const (
	Version1 Version = 0x1
	Version2 Version = 0x2

	CMD_LOCAL Command = 0x0
	CMD_PROXY Command = 0x1

	AF_UNSPEC AddressFamily = 0x0
	AF_INET   AddressFamily = 0x1
	AF_INET6  AddressFamily = 0x2
	AF_UNIX   AddressFamily = 0x3

	SOCK_UNSPEC TransportProtocol = 0x0
	SOCK_STREAM TransportProtocol = 0x1
	SOCK_DGRAM  TransportProtocol = 0x2

	Unknown string = "Unknown"
)

var (
	v1Prefix = []byte("PROXY ")
	// v2 signature: \x0D\x0A\x0D\x0A\x00\x0D\x0A\x51\x55\x49\x54\x0A
	v2Signature = []byte("\r\n\r\n\x00\r\nQUIT\n")

	// ErrNoProxyProtocol is returned when the stream does not start with
	// either preface; this is not one of the fatal ErrorKinds, the caller
	// decides what to do with an un-proxied connection.
	ErrNoProxyProtocol = errors.New("proxy protocol prefix not present")
)

// DefaultMaxHeaderLength is the v2 payload cap used when a
// Listener/Connector is not configured with WithMaxHeaderLength.
const DefaultMaxHeaderLength = 1024

// ReadHeader is the version-detect decoder: it peeks a single byte to
// tell v1 ('P', 0x50) from v2 (0x0D) apart, then delegates to the
// matching decoder. It never consumes more than its header needs; the
// reader keeps whatever comes after available to the next reader.
func ReadHeader(reader *bufio.Reader, maxHeaderLength uint16) (*Header, error) {
	return ReadHeaderWithLogger(reader, maxHeaderLength, nil)
}

// ReadHeaderWithLogger is ReadHeader with an explicit logger for the v2
// TLV walk's "malformed TLVs are logged but do not abort" warnings. A nil
// logger falls back to logrus's standard logger.
func ReadHeaderWithLogger(reader *bufio.Reader, maxHeaderLength uint16, logger *logrus.Entry) (*Header, error) {
	first, err := reader.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoProxyProtocol
		}
		return nil, err
	}

	switch first[0] {
	case v1Prefix[0]: // 'P'
		return readAndParseV1(reader)
	case v2Signature[0]: // 0x0D
		return readAndParseV2WithLogger(reader, maxHeaderLength, logger)
	default:
		return nil, ErrNoProxyProtocol
	}
}

// Format formats the header back to wire bytes (v1 or v2, no checksum).
func (h *Header) Format() ([]byte, error) {
	return formatHeader(h, false)
}

// FormatWithChecksum formats the header to wire bytes and appends a
// PP2_TYPE_CRC32C TLV (v2 only; ignored for v1).
func (h *Header) FormatWithChecksum() ([]byte, error) {
	return formatHeader(h, true)
}

// WriteTo writes the already-formatted Raw bytes to w. It returns an int
// count, not io.WriterTo's int64, so Header does not satisfy io.WriterTo.
func (h *Header) WriteTo(w io.Writer) (int, error) {
	return w.Write(h.Raw)
}

func (h *Header) ZapFields() []zap.Field {
	var srcAddr, dstAddr string
	if h.SrcAddr != nil {
		srcAddr = h.SrcAddr.String()
	}
	if h.DstAddr != nil {
		dstAddr = h.DstAddr.String()
	}

	fields := make([]zap.Field, 0, 7)
	fields = append(fields,
		zap.String("version", h.Version.String()),
		zap.String("command", h.Command.String()),
		zap.String("address_family", h.AddressFamily.String()),
		zap.String("transport_protocol", h.TransportProtocol.String()),
		zap.String("source_address", srcAddr),
		zap.String("destination_address", dstAddr),
	)
	if h.Version == Version2 && h.Command == CMD_PROXY && len(h.TLVs) > 0 {
		fields = append(fields, zap.String("tlv_groups", h.TLVs.String()))
	}
	return fields
}

func (h *Header) LogrusFields() logrus.Fields {
	var srcAddr, dstAddr string
	if h.SrcAddr != nil {
		srcAddr = h.SrcAddr.String()
	}
	if h.DstAddr != nil {
		dstAddr = h.DstAddr.String()
	}

	fields := make(logrus.Fields, 7)
	fields["version"] = h.Version.String()
	fields["command"] = h.Command.String()
	fields["address_family"] = h.AddressFamily.String()
	fields["transport_protocol"] = h.TransportProtocol.String()
	fields["source_address"] = srcAddr
	fields["destination_address"] = dstAddr
	if h.Version == Version2 && h.Command == CMD_PROXY && len(h.TLVs) > 0 {
		fields["tlv_groups"] = h.TLVs.String()
	}
	return fields
}

func (v Version) String() string {
	switch v {
	case Version1:
		return "V1"
	case Version2:
		return "V2"
	}
	return Unknown
}

func (c Command) String() string {
	switch c {
	case CMD_LOCAL:
		return "LOCAL"
	case CMD_PROXY:
		return "PROXY"
	}
	return Unknown
}

func (af AddressFamily) String() string {
	switch af {
	case AF_INET:
		return "IPv4"
	case AF_INET6:
		return "IPv6"
	case AF_UNIX:
		return "Unix"
	case AF_UNSPEC:
		return "Unspec"
	}
	return Unknown
}

func (tp TransportProtocol) String() string {
	switch tp {
	case SOCK_STREAM:
		return "TCP"
	case SOCK_DGRAM:
		return "UDP"
	case SOCK_UNSPEC:
		return "Unspec"
	}
	return Unknown
}
