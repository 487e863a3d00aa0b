package proxyhdr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Connector_nextProtocolAfterProxy(t *testing.T) {
	t.Run("resolves-entry-after-proxy", func(t *testing.T) {
		c := NewConnector()
		c.Register("proxy", nil)
		c.Register("http", nil)
		name, err := c.nextProtocolAfterProxy()
		require.NoError(t, err)
		require.Equal(t, "http", name)
	})
	t.Run("case-insensitive", func(t *testing.T) {
		c := NewConnector()
		c.Register("PROXY", nil)
		c.Register("tls", nil)
		name, err := c.nextProtocolAfterProxy()
		require.NoError(t, err)
		require.Equal(t, "tls", name)
	})
	t.Run("proxy-is-last", func(t *testing.T) {
		c := NewConnector()
		c.Register("proxy", nil)
		_, err := c.nextProtocolAfterProxy()
		require.Error(t, err)
	})
	t.Run("proxy-absent", func(t *testing.T) {
		c := NewConnector()
		c.Register("http", nil)
		_, err := c.nextProtocolAfterProxy()
		require.Error(t, err)
	})
}

func Test_Connector_Handle_success(t *testing.T) {
	h := &Header{
		Version: Version1,
		Command: CMD_PROXY,
		SrcAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345},
		DstAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 56789},
	}
	preface, err := h.Format()
	require.NoError(t, err)

	client, srv := net.Pipe()
	go func() {
		_, _ = client.Write(preface)
	}()
	t.Cleanup(func() { _ = client.Close() })

	var gotConn net.Conn
	factory := ConnectionFactoryFunc(func(conn net.Conn) (net.Conn, error) {
		gotConn = conn
		return conn, nil
	})

	connector := NewConnector()
	connector.Register(ProxyProtocolName, factory)
	connector.Register("http", factory)

	out, err := connector.Handle(srv, "")
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, "127.0.0.1:12345", gotConn.RemoteAddr().String())
}

func Test_Connector_Handle_strandedBytesReachFactory(t *testing.T) {
	h := &Header{
		Version: Version1,
		Command: CMD_PROXY,
		SrcAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345},
		DstAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 56789},
	}
	preface, err := h.Format()
	require.NoError(t, err)

	// One combined write, the way a real socket coalesces the preface with
	// the application bytes that immediately follow it into a single read.
	payload := []byte("GET / HTTP/1.1\r\n")
	combined := append(append([]byte(nil), preface...), payload...)

	client, srv := net.Pipe()
	go func() {
		_, _ = client.Write(combined)
	}()
	t.Cleanup(func() { _ = client.Close() })

	factory := ConnectionFactoryFunc(func(conn net.Conn) (net.Conn, error) {
		buf := make([]byte, len(payload))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, payload, buf[:n])
		return conn, nil
	})

	connector := NewConnector()
	connector.Register(ProxyProtocolName, factory)
	connector.Register("http", factory)

	_, err = connector.Handle(srv, "")
	require.NoError(t, err)
}

func Test_Connector_Handle_noPreface(t *testing.T) {
	client, srv := net.Pipe()
	go func() {
		_, _ = client.Write([]byte("GET / HTTP/1.1\r\n"))
	}()
	t.Cleanup(func() { _ = client.Close() })

	connector := NewConnector()
	connector.Register(ProxyProtocolName, ConnectionFactoryFunc(func(conn net.Conn) (net.Conn, error) { return conn, nil }))
	connector.Register("http", ConnectionFactoryFunc(func(conn net.Conn) (net.Conn, error) { return conn, nil }))

	_, err := connector.Handle(srv, "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoProxyProtocol)
}

func Test_Connector_Handle_noFactory(t *testing.T) {
	h := &Header{Version: Version2, Command: CMD_LOCAL}
	preface, err := h.Format()
	require.NoError(t, err)

	client, srv := net.Pipe()
	go func() {
		_, _ = client.Write(preface)
	}()
	t.Cleanup(func() { _ = client.Close() })

	connector := NewConnector()
	_, err = connector.Handle(srv, "http")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoFactoryRegistered)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindNoNextProtocol, kind)
}
