package proxyhdr

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var readAndParseV1Tests = []struct {
	name string
	raw  string
	want *Header
}{
	{
		name: "tcp4",
		raw:  "PROXY TCP4 127.0.0.1 127.0.0.1 12345 56789\r\n",
		want: &Header{
			Version:           Version1,
			Command:           CMD_PROXY,
			AddressFamily:     AF_INET,
			TransportProtocol: SOCK_STREAM,
			SrcAddr:           &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345},
			DstAddr:           &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 56789},
			Raw:               []byte("PROXY TCP4 127.0.0.1 127.0.0.1 12345 56789\r\n"),
		},
	}, {
		name: "tcp6",
		raw:  "PROXY TCP6 1:2:3:4:5:6:7:8 1:2:3:4:5:6:7:8 12345 56789\r\n",
		want: &Header{
			Version:           Version1,
			Command:           CMD_PROXY,
			AddressFamily:     AF_INET6,
			TransportProtocol: SOCK_STREAM,
			SrcAddr:           &net.TCPAddr{IP: net.ParseIP("1:2:3:4:5:6:7:8"), Port: 12345},
			DstAddr:           &net.TCPAddr{IP: net.ParseIP("1:2:3:4:5:6:7:8"), Port: 56789},
			Raw:               []byte("PROXY TCP6 1:2:3:4:5:6:7:8 1:2:3:4:5:6:7:8 12345 56789\r\n"),
		},
	}, {
		name: "unknown",
		raw:  "PROXY UNKNOWN\r\n",
		want: &Header{
			Version:           Version1,
			Command:           CMD_LOCAL,
			AddressFamily:     AF_UNSPEC,
			TransportProtocol: SOCK_UNSPEC,
			Raw:               []byte("PROXY UNKNOWN\r\n"),
		},
	},
}

func Test_readAndParseV1(t *testing.T) {
	for _, tt := range readAndParseV1Tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := bufio.NewReader(strings.NewReader(tt.raw))
			got, err := readAndParseV1(reader)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func Test_readV1(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantSubstr string
		wantEOF    bool
	}{
		{
			name:    "truncated-after-tag",
			raw:     "PROXY ",
			wantEOF: true,
		}, {
			name:    "early-EOF",
			raw:     "PROXY TCP4 127.0.0.1 127.0.0.1 12345 56789",
			wantEOF: true,
		}, {
			name:       "must-end-with-crlf",
			raw:        "PROXY TCP4 127.0.0.1 127.0.0.1 12345 56789\rX",
			wantSubstr: ErrMustEndWithCRLF.Error(),
		}, {
			name:       "control-byte-in-token",
			raw:        "PROXY TCP4 \x007.0.0.1 127.0.0.1 12345 56789\r\n",
			wantSubstr: ErrControlByteInToken.Error(),
		}, {
			name:       "too-long",
			raw:        "PROXY UNKNOWN ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff 12345 56789 xx\r\n",
			wantSubstr: ErrHeaderTooLong.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := bufio.NewReader(strings.NewReader(tt.raw))
			_, _, err := readV1(reader)
			require.Error(t, err)
			if tt.wantEOF {
				require.ErrorIs(t, err, io.EOF)
				return
			}
			require.ErrorContains(t, err, tt.wantSubstr)
		})
	}
}

func Test_parseV1(t *testing.T) {
	tests := []struct {
		name       string
		raw        []byte
		fields     []string
		wantSubstr string
	}{
		{
			name:       "not-enough-fields",
			raw:        []byte("PROXY \r\n"),
			fields:     []string{"PROXY", ""},
			wantSubstr: ErrNotFoundAddressOrPort.Error(),
		}, {
			name:       "bad-tag",
			raw:        []byte("WRONG TCP4 127.0.0.1 127.0.0.1 12345 56789\r\n"),
			fields:     []string{"WRONG", "TCP4", "127.0.0.1", "127.0.0.1", "12345", "56789"},
			wantSubstr: ErrBadTag.Error(),
		}, {
			name:       "invalid-address-family",
			raw:        []byte("PROXY UNIX 127.0.0.1 127.0.0.1 12345 56789\r\n"),
			fields:     []string{"PROXY", "UNIX", "127.0.0.1", "127.0.0.1", "12345", "56789"},
			wantSubstr: ErrInvalidAddressFamily.Error(),
		}, {
			name:       "invalid-source-ip",
			raw:        []byte("PROXY TCP4 256.0.0.1 127.0.0.1 12345 56789\r\n"),
			fields:     []string{"PROXY", "TCP4", "256.0.0.1", "127.0.0.1", "12345", "56789"},
			wantSubstr: "source IP: invalid or empty IP",
		}, {
			name:       "invalid-destination-port",
			raw:        []byte("PROXY TCP4 127.0.0.1 127.0.0.1 12345 67890\r\n"),
			fields:     []string{"PROXY", "TCP4", "127.0.0.1", "127.0.0.1", "12345", "67890"},
			wantSubstr: "destination port: invalid port",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseV1(tt.raw, tt.fields)
			require.Error(t, err)
			require.ErrorContains(t, err, tt.wantSubstr)
		})
	}
}
