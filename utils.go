package proxyhdr

import (
	"bytes"
	"math"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

func parseAndValidateIP(srcIPStr, dstIPStr string, af AddressFamily) (net.IP, net.IP, error) {
	srcIP := net.ParseIP(srcIPStr)
	if err := validateIP(srcIP, af); err != nil {
		return nil, nil, errors.Wrap(err, "source IP")
	}

	dstIP := net.ParseIP(dstIPStr)
	if err := validateIP(dstIP, af); err != nil {
		return nil, nil, errors.Wrap(err, "destination IP")
	}
	return srcIP, dstIP, nil
}

func validateIP(ip net.IP, af AddressFamily) error {
	if ip == nil {
		return errors.New("invalid or empty IP")
	}
	if af == AF_INET && ip.To4() == nil {
		return errors.New("invalid IPv4")
	}
	if af == AF_INET6 && ip.To16() == nil {
		return errors.New("invalid IPv6")
	}
	return nil
}

func parseAndValidatePort(srcPortStr, dstPortStr string) (int, int, error) {
	srcPort, err := strconv.Atoi(srcPortStr)
	if err != nil {
		return 0, 0, errors.Wrap(err, "source port")
	}
	if err := validatePort(srcPort); err != nil {
		return 0, 0, errors.Wrap(err, "source port")
	}

	dstPort, err := strconv.Atoi(dstPortStr)
	if err != nil {
		return 0, 0, errors.Wrap(err, "destination port")
	}
	if err := validatePort(dstPort); err != nil {
		return 0, 0, errors.Wrap(err, "destination port")
	}
	return srcPort, dstPort, nil
}

func validatePort(port int) error {
	if port <= 0 || port > math.MaxUint16 {
		return errors.New("invalid port")
	}
	return nil
}

// guessAndParseAddrs classifies (srcAddr, dstAddr) into the payload bytes,
// declared length, family, and transport the v2 encoder needs. It returns
// a nil buffer if the pair doesn't fit any supported address shape.
func guessAndParseAddrs(srcAddr, dstAddr net.Addr) (*bytes.Buffer, uint16, AddressFamily, TransportProtocol) {
	var srcIP, dstIP net.IP
	var srcPort, dstPort int
	var tp TransportProtocol

	switch src := srcAddr.(type) {
	case *net.TCPAddr:
		dst, ok := dstAddr.(*net.TCPAddr)
		if !ok {
			return nil, 0, 0, 0
		}
		srcIP, dstIP, srcPort, dstPort = src.IP, dst.IP, src.Port, dst.Port
		tp = SOCK_STREAM

	case *net.UDPAddr:
		dst, ok := dstAddr.(*net.UDPAddr)
		if !ok {
			return nil, 0, 0, 0
		}
		srcIP, dstIP, srcPort, dstPort = src.IP, dst.IP, src.Port, dst.Port
		tp = SOCK_DGRAM

	case *net.UnixAddr:
		dst, ok := dstAddr.(*net.UnixAddr)
		if !ok {
			return nil, 0, 0, 0
		}
		if src.Net == "unixgram" {
			tp = SOCK_DGRAM
		} else {
			tp = SOCK_STREAM
		}
		buf := bytes.NewBufferString(formatUnixName(src.Name) + formatUnixName(dst.Name))
		return buf, addressLengthUnix, AF_UNIX, tp

	default:
		return nil, 0, 0, 0
	}

	if len(srcIP) == 0 || len(dstIP) == 0 || validatePort(srcPort) != nil || validatePort(dstPort) != nil {
		return nil, 0, 0, 0
	}

	buf := &bytes.Buffer{}
	if srcIP.To4() != nil && dstIP.To4() != nil {
		buf.Write(srcIP.To4())
		buf.Write(dstIP.To4())
		buf.Write([]byte{byte(srcPort >> 8), byte(srcPort), byte(dstPort >> 8), byte(dstPort)})
		return buf, addressLengthIPv4, AF_INET, tp
	}
	if srcIP.To16() != nil && dstIP.To16() != nil {
		buf.Write(srcIP.To16())
		buf.Write(dstIP.To16())
		buf.Write([]byte{byte(srcPort >> 8), byte(srcPort), byte(dstPort >> 8), byte(dstPort)})
		return buf, addressLengthIPv6, AF_INET6, tp
	}
	return nil, 0, 0, 0
}

func formatUnixName(name string) string {
	const half = addressLengthUnix / 2
	if len(name) >= half {
		return name[:half]
	}
	return name + string(make([]byte, half-len(name)))
}
