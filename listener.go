package proxyhdr

import (
	"net"
	"time"
)

const defaultReadHeaderTimeout = time.Second * 5

// Listener wraps a net.Listener so every Accept returns a Conn that will
// transparently decode a PROXY preface on first use.
//
// When configured with WithConnector, Accept instead runs the factory
// flow eagerly: decode the preface, then hand the resulting connection to
// the next protocol's ConnectionFactory. Without a connector, Listener
// keeps the simpler default of just returning the lazily-decoding Conn,
// which is what a plain net.Listener-consuming server (net/http, for
// instance) wants.
type Listener struct {
	net.Listener

	options   []Option
	connector *Connector
	protocol  string
}

// ListenerOption configures a Listener itself, as opposed to the Conns it
// produces (see Option).
type ListenerOption func(*Listener)

// WithConnector attaches a Connector, switching Accept to the eager
// decode-then-resolve-next-protocol flow.
func WithConnector(connector *Connector) ListenerOption {
	return func(ln *Listener) { ln.connector = connector }
}

// WithProtocolName sets the explicit next-protocol name to hand decoded
// connections to. When unset, the Connector auto-discovers it as the
// protocol immediately following "proxy" in its ordered protocol list.
func WithProtocolName(name string) ListenerOption {
	return func(ln *Listener) { ln.protocol = name }
}

// NewListener wraps listener. opts configure the Conn returned by Accept.
func NewListener(listener net.Listener, opts ...Option) *Listener {
	return &Listener{Listener: listener, options: opts}
}

// NewListenerWithConnector wraps listener and attaches a Connector for the
// eager factory-resolution Accept flow.
func NewListenerWithConnector(listener net.Listener, connector *Connector, lnOpts []ListenerOption, opts ...Option) *Listener {
	ln := &Listener{Listener: listener, options: opts, connector: connector}
	for _, o := range lnOpts {
		o(ln)
	}
	return ln
}

// Accept implements net.Listener.
func (ln *Listener) Accept() (net.Conn, error) {
	raw, err := ln.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if ln.connector != nil {
		return ln.connector.Handle(raw, ln.protocol, ln.options...)
	}
	return NewConn(raw, ln.options...), nil
}
