package proxyhdr

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func pipeWithPreface(t *testing.T, preface, payload []byte) (server net.Conn) {
	t.Helper()
	client, srv := net.Pipe()
	go func() {
		_, _ = client.Write(preface)
		_, _ = client.Write(payload)
		_ = client.Close()
	}()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func Test_Conn_v1Header(t *testing.T) {
	h := &Header{
		Version: Version1,
		Command: CMD_PROXY,
		SrcAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345},
		DstAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 56789},
	}
	preface, err := h.Format()
	require.NoError(t, err)

	raw := pipeWithPreface(t, preface, []byte("hello"))
	conn := NewConn(raw)

	buf := make([]byte, 5)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, conn.Err())
	require.Equal(t, "127.0.0.1:12345", conn.RemoteAddr().String())
	require.Equal(t, "127.0.0.1:56789", conn.LocalAddr().String())
	require.NotNil(t, conn.Endpoint())
}

func Test_Conn_localCommand(t *testing.T) {
	h := &Header{Version: Version2, Command: CMD_LOCAL}
	preface, err := h.Format()
	require.NoError(t, err)

	raw := pipeWithPreface(t, preface, []byte("ping"))
	conn := NewConn(raw)

	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	require.NoError(t, conn.Err())
	require.Nil(t, conn.Endpoint())
}

func Test_Conn_noProxyProtocol(t *testing.T) {
	raw := pipeWithPreface(t, []byte("GET / HTTP/1.1\r\n"), nil)
	conn := NewConn(raw)

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "GET / HTTP/1.1\r\n", string(buf[:n]))

	require.NoError(t, conn.Err())
	require.Nil(t, conn.Header())
	require.Nil(t, conn.Endpoint())
}

func Test_Conn_disableProxyProtocol(t *testing.T) {
	h := &Header{Version: Version1, Command: CMD_PROXY,
		SrcAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1},
		DstAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2},
	}
	preface, err := h.Format()
	require.NoError(t, err)

	raw := pipeWithPreface(t, preface, []byte("x"))
	conn := NewConn(raw, WithDisableProxyProto(true))

	buf := make([]byte, len(preface))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, preface, buf)
	require.Nil(t, conn.Header())
}

func Test_Conn_checksumMismatch(t *testing.T) {
	h := &Header{
		Version: Version2,
		Command: CMD_PROXY,
		SrcAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345},
		DstAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 56789},
	}
	preface, err := h.FormatWithChecksum()
	require.NoError(t, err)
	preface[len(preface)-1] ^= 0xFF // corrupt the trailing NOOP pad

	raw := pipeWithPreface(t, preface, nil)
	conn := NewConn(raw, WithCRC32cChecksum(true))

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, ErrValidateCRC32cChecksum)
	require.Error(t, conn.Err())
	require.ErrorIs(t, conn.Err(), ErrValidateCRC32cChecksum)
}

func Test_Conn_malformedPrefaceFailsClosed(t *testing.T) {
	raw := pipeWithPreface(t, []byte("PROXY BOGUS 1.2.3.4 5.6.7.8 1 2\r\n"), []byte("trailing"))
	conn := NewConn(raw)

	buf := make([]byte, 8)
	_, err := conn.Read(buf)
	require.Error(t, err)
	require.Error(t, conn.Err())
	require.Equal(t, err, conn.Err())

	// Read keeps failing the same way, it never falls through to reader.
	_, err = conn.Read(buf)
	require.Equal(t, conn.Err(), err)
}

func Test_Conn_endpointReadsBufferedApplicationBytes(t *testing.T) {
	h := &Header{
		Version: Version1,
		Command: CMD_PROXY,
		SrcAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345},
		DstAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 56789},
	}
	preface, err := h.Format()
	require.NoError(t, err)

	// A single combined write mimics a real socket coalescing the preface
	// and the following application bytes into one bufio fill.
	payload := []byte("GET / HTTP/1.1\r\n")
	combined := append(append([]byte(nil), preface...), payload...)
	client, srv := net.Pipe()
	go func() {
		_, _ = client.Write(combined)
		_ = client.Close()
	}()
	t.Cleanup(func() { _ = srv.Close() })

	conn := NewConn(srv)
	conn.readHeader()
	require.NoError(t, conn.Err())
	require.NotNil(t, conn.Endpoint())

	buf := make([]byte, len(payload))
	n, err := conn.Endpoint().Read(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func Test_Conn_vpceTLV(t *testing.T) {
	h := &Header{
		Version: Version2,
		Command: CMD_PROXY,
		SrcAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345},
		DstAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 56789},
		TLVs:    TLVs{NewTLV(PP2Type(234), []byte("Xvpce-abc"))},
	}
	preface, err := h.Format()
	require.NoError(t, err)

	raw := pipeWithPreface(t, preface, nil)
	conn := NewConn(raw)
	conn.readHeader()

	require.Equal(t, "vpce-abc", conn.GetVpceID())
}
