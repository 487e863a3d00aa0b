package proxyhdr

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
)

// ErrNoFactoryRegistered is wrapped by Handle when the resolved next
// protocol has no registered ConnectionFactory.
var ErrNoFactoryRegistered = errors.New("proxyhdr: no connection factory registered")

// ConnectionFactory builds the next-protocol connection from an endpoint
// that has already had its PROXY preface consumed. A factory typically
// just returns conn unchanged (e.g. "hand it to net/http") or wraps it
// again for a further protocol-specific handshake.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) (net.Conn, error)
}

// ConnectionFactoryFunc adapts a function to a ConnectionFactory.
type ConnectionFactoryFunc func(conn net.Conn) (net.Conn, error)

func (f ConnectionFactoryFunc) NewConnection(conn net.Conn) (net.Conn, error) { return f(conn) }

// ProxyProtocolName is the conventional protocol-list entry a Connector
// scans for when resolving the next protocol automatically.
const ProxyProtocolName = "proxy"

// Connector resolves, for one accepted connection, which protocol's
// ConnectionFactory should take over once the PROXY preface has been
// decoded: an ordered protocol list plus a name->factory lookup.
type Connector struct {
	mu        sync.RWMutex
	protocols []string
	factories map[string]ConnectionFactory
}

// NewConnector returns an empty Connector; register protocols in the
// order a connection should move through them, starting with "proxy".
func NewConnector() *Connector {
	return &Connector{factories: make(map[string]ConnectionFactory)}
}

// Register appends name to the ordered protocol list (if not already
// present) and binds it to factory.
func (c *Connector) Register(name string, factory ConnectionFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; !exists {
		c.protocols = append(c.protocols, name)
	}
	c.factories[name] = factory
}

// Protocols returns the ordered protocol list.
func (c *Connector) Protocols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.protocols...)
}

// Factory looks up the registered factory for name; ok is false when none
// is registered.
func (c *Connector) Factory(name string) (factory ConnectionFactory, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	factory, ok = c.factories[name]
	return
}

// nextProtocolAfterProxy scans the ordered protocol list,
// case-insensitively, for "proxy" and returns the entry immediately after
// it. If "proxy" is absent or is the last entry, this is a configuration
// error, not a guess.
func (c *Connector) nextProtocolAfterProxy() (string, error) {
	protocols := c.Protocols()
	for i, name := range protocols {
		if !strings.EqualFold(name, ProxyProtocolName) {
			continue
		}
		if i+1 >= len(protocols) {
			return "", fmt.Errorf("proxyhdr: %q is the last registered protocol, no next protocol to resolve", ProxyProtocolName)
		}
		return protocols[i+1], nil
	}
	return "", fmt.Errorf("proxyhdr: %q is not a registered protocol", ProxyProtocolName)
}

// Handle runs the full accept-time flow for one connection: decode the
// PROXY preface, determine the command, and hand the resulting connection
// (wrapped in a ProxyEndpoint unless the command was LOCAL) to the next
// protocol's factory. protocolName overrides auto-discovery; pass "" to
// use the protocol immediately after "proxy" in c.Protocols().
//
// Unlike the lazy default Conn/Listener path, a connection routed through
// a Connector is required to carry a PROXY preface — the whole point of
// registering "proxy" in the protocol list is to make the decoded header
// available to factories further down the chain, so a missing preface is
// treated the same as a malformed one: log and close.
func (c *Connector) Handle(raw net.Conn, protocolName string, opts ...Option) (net.Conn, error) {
	conn := NewConn(raw, opts...)

	// warn logs the fatal-close line for errors raised here; decode errors
	// returned by conn.Err() were already logged by readHeader.
	warn := func(err error) error {
		kind, _ := KindOf(err)
		conn.logger.WithError(err).WithField("remote_addr", raw.RemoteAddr().String()).
			WithField("kind", kind.String()).
			Warn("proxyhdr: cannot hand off PROXY connection, closing connection")
		return err
	}

	// Force eager decoding: a factory needs the header before it can
	// construct the next-protocol connection, unlike the lazy-Conn default
	// path used without a Connector.
	conn.readHeader()
	if err := conn.Err(); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if conn.Header() == nil {
		_ = raw.Close()
		return nil, warn(fatal(KindMalformed, ErrNoProxyProtocol))
	}

	if protocolName == "" {
		name, err := c.nextProtocolAfterProxy()
		if err != nil {
			_ = raw.Close()
			return nil, warn(fatalf(KindNoNextProtocol, err, "proxyhdr: resolving next protocol"))
		}
		protocolName = name
	}

	factory, ok := c.Factory(protocolName)
	if !ok {
		_ = raw.Close()
		return nil, warn(fatalf(KindNoNextProtocol, ErrNoFactoryRegistered, "proxyhdr: protocol %q", protocolName))
	}

	// conn.Endpoint(), when present, wraps conn itself rather than the raw
	// socket, so Read still goes through the bufio.Reader that consumed the
	// preface — any application bytes that fill buffered alongside the
	// header stay visible to the factory's connection.
	var endpoint net.Conn = conn
	if conn.Endpoint() != nil {
		endpoint = conn.Endpoint()
	}
	return factory.NewConnection(endpoint)
}
