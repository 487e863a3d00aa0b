package proxyhdr

import "net"

// TLSVersionAttribute is the one attribute key this core defines: the
// ASCII TLS version string extracted from a v2 SSL TLV's SSL_VERSION
// sub-TLV.
const TLSVersionAttribute = "TLS_VERSION"

// ProxyEndpoint is a transparent net.Conn wrapper that overrides the
// reported remote/local addresses with the ones decoded from a PROXY
// preface, and carries a small attribute bag (currently just
// TLS_VERSION). Every other net.Conn operation — Read, Write, Close,
// SetDeadline, ... — delegates unchanged to the wrapped connection; this
// is composition, not inheritance.
type ProxyEndpoint struct {
	net.Conn

	remote, local net.Addr
	attributes    map[string]any
}

// NewProxyEndpoint wraps conn so LocalAddr/RemoteAddr report local/remote
// instead of the transport's own addresses.
func NewProxyEndpoint(conn net.Conn, remote, local net.Addr) *ProxyEndpoint {
	return &ProxyEndpoint{Conn: conn, remote: remote, local: local}
}

// RemoteAddr returns the address decoded from the PROXY preface, not the
// transport's own (typically the load balancer's) peer address.
func (p *ProxyEndpoint) RemoteAddr() net.Addr {
	if p.remote != nil {
		return p.remote
	}
	return p.Conn.RemoteAddr()
}

// LocalAddr returns the address decoded from the PROXY preface.
func (p *ProxyEndpoint) LocalAddr() net.Addr {
	if p.local != nil {
		return p.local
	}
	return p.Conn.LocalAddr()
}

// SetAttribute sets a named attribute on the endpoint. The only attribute
// this core defines is TLSVersionAttribute; the bag exists so hosts can
// stash their own without needing another wrapper type.
func (p *ProxyEndpoint) SetAttribute(key string, value any) {
	if p.attributes == nil {
		p.attributes = make(map[string]any)
	}
	p.attributes[key] = value
}

// Attribute looks up a named attribute set via SetAttribute.
func (p *ProxyEndpoint) Attribute(key string) (any, bool) {
	v, ok := p.attributes[key]
	return v, ok
}

// TLSVersion is a convenience accessor over the TLSVersionAttribute.
func (p *ProxyEndpoint) TLSVersion() (string, bool) {
	v, ok := p.Attribute(TLSVersionAttribute)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Unwrap returns the wrapped connection, matching the errors.Unwrap /
// net.Conn-unwrapping convention hosts may use to reach the raw socket
// (e.g. to access syscall.Conn for SO_* options).
func (p *ProxyEndpoint) Unwrap() net.Conn {
	return p.Conn
}
