package proxyhdr

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// PostReadHeader, if configured, is called once the header has been read
// (successfully or not), for logging or metrics hooks.
type PostReadHeader func(h *Header, err error)

// Conn is the connection a Listener hands back from Accept. It lazily runs
// the version-detect/v1/v2 decoders the first time the caller touches the
// connection (Read, LocalAddr, or RemoteAddr), so that Accept itself
// never blocks on a slow or hostile preface — the decoding happens on
// whatever goroutine actually services the connection, where Go's
// netpoller provides the suspend/resume a callback-driven reactor would
// otherwise need a separate mechanism for.
//
// Once decoding finishes, non-LOCAL headers cause Conn to construct a
// ProxyEndpoint wrapping the Conn itself (so reads through the endpoint
// still go through the buffered reader that consumed the preface); LocalAddr and RemoteAddr
// delegate to it. There is no second connection object to swap in, Conn
// simply starts reporting through the endpoint it built.
type Conn struct {
	net.Conn

	reader *bufio.Reader

	header         *Header
	endpoint       *ProxyEndpoint
	readHeaderOnce sync.Once
	readHeaderErr  error

	readHeaderTimeout time.Duration
	originalDeadline  time.Time

	disableProxyProtocol bool
	maxHeaderLength      uint16
	checksum             bool
	logger               *logrus.Entry
	postFunc             PostReadHeader
}

// NewConn wraps conn, deferring PROXY-preface decoding until first use.
func NewConn(conn net.Conn, opts ...Option) *Conn {
	c := &Conn{
		Conn:   conn,
		reader: bufio.NewReader(conn),
	}
	for _, o := range opts {
		o(c)
	}
	if c.readHeaderTimeout <= 0 {
		c.readHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.maxHeaderLength == 0 {
		c.maxHeaderLength = DefaultMaxHeaderLength
	}
	if c.logger == nil {
		c.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

// Read implements net.Conn, triggering header decoding on first call. Once
// readHeader has recorded a fatal decode error, Read keeps failing with it
// instead of serving whatever trailing bytes are sitting in reader — a
// malformed preface must close the connection, not leak into the next
// protocol as if it were application data.
func (c *Conn) Read(b []byte) (int, error) {
	c.readHeader()
	if c.readHeaderErr != nil {
		return 0, c.readHeaderErr
	}
	return c.reader.Read(b)
}

// Unwrap exposes the wrapped net.Conn for hosts that walk an Unwrap chain
// to reach the raw socket (e.g. for syscall.Conn access).
func (c *Conn) Unwrap() net.Conn {
	return c.Conn
}

// LocalAddr implements net.Conn, returning the decoded destination address
// once a non-LOCAL header has been parsed.
func (c *Conn) LocalAddr() net.Addr {
	c.readHeader()
	if c.endpoint != nil {
		return c.endpoint.LocalAddr()
	}
	return c.Conn.LocalAddr()
}

// RemoteAddr implements net.Conn, returning the decoded source address
// once a non-LOCAL header has been parsed.
func (c *Conn) RemoteAddr() net.Addr {
	c.readHeader()
	if c.endpoint != nil {
		return c.endpoint.RemoteAddr()
	}
	return c.Conn.RemoteAddr()
}

// SetDeadline and SetReadDeadline remember the caller's deadline so
// readHeader can restore it after temporarily tightening it to
// readHeaderTimeout.
func (c *Conn) SetDeadline(t time.Time) error {
	c.originalDeadline = t
	return c.Conn.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.originalDeadline = t
	return c.Conn.SetReadDeadline(t)
}

// Header returns the decoded header, or nil before decoding has happened
// or when the connection carried no PROXY preface at all.
func (c *Conn) Header() *Header {
	return c.header
}

// Endpoint returns the ProxyEndpoint built for a non-LOCAL header, or nil
// for LOCAL headers, un-proxied connections, or before decoding.
func (c *Conn) Endpoint() *ProxyEndpoint {
	return c.endpoint
}

// TLVs returns the v2 TLV groups of the decoded header, if any.
func (c *Conn) TLVs() TLVs {
	if c.header == nil {
		return nil
	}
	return c.header.TLVs
}

// GetVpceID finds a VPC-endpoint ID carried in an unregistered TLV type —
// common behind AWS PrivateLink/NLB deployments that tag connections this
// way. The first byte of the TLV's value is discarded by convention.
func (c *Conn) GetVpceID() string {
	for _, tlv := range c.TLVs() {
		if !tlv.IsRegistered() && len(tlv.Value) > 0 {
			return string(tlv.Value[1:])
		}
	}
	return ""
}

// GetVpceIDWithType looks up a VPC-endpoint ID by a specific TLV type and
// (optionally) sub-type. A zero subType returns the whole value.
func (c *Conn) GetVpceIDWithType(typ, subType PP2Type) string {
	for _, tlv := range c.TLVs() {
		if tlv.Type != typ {
			continue
		}
		if subType == 0 {
			return string(tlv.Value)
		}
		if len(tlv.Value) > 0 && PP2Type(tlv.Value[0]) == subType {
			return string(tlv.Value[1:])
		}
	}
	return ""
}

// RawHeader returns the raw preface bytes as read from the wire.
func (c *Conn) RawHeader() []byte {
	if c.header == nil {
		return nil
	}
	return c.header.Raw
}

// Err returns the fatal decode error, if any. Callers should close the
// connection when this is non-nil.
func (c *Conn) Err() error {
	return c.readHeaderErr
}

func (c *Conn) ZapFields() []zap.Field {
	if c.header == nil {
		return nil
	}
	return c.header.ZapFields()
}

func (c *Conn) LogrusFields() logrus.Fields {
	if c.header == nil {
		return nil
	}
	return c.header.LogrusFields()
}

func (c *Conn) readHeader() {
	c.readHeaderOnce.Do(func() {
		if c.disableProxyProtocol {
			return
		}

		originalDeadline := c.originalDeadline
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.readHeaderTimeout))
		defer c.Conn.SetReadDeadline(originalDeadline)

		header, err := ReadHeaderWithLogger(c.reader, c.maxHeaderLength, c.logger)
		if c.postFunc != nil {
			c.postFunc(header, err)
		}

		if err != nil {
			if errors.Is(err, ErrNoProxyProtocol) {
				// Not a proxied connection at all; this is not a fatal
				// ErrorKind, the caller just sees a plain passthrough Conn.
				return
			}
			c.readHeaderErr = err
			kind, _ := KindOf(err)
			c.logger.WithError(err).
				WithField("remote_addr", c.Conn.RemoteAddr().String()).
				WithField("kind", kind.String()).
				Warn("proxyhdr: failed to decode PROXY preface, closing connection")
			_ = c.Conn.Close()
			return
		}

		if c.checksum && !VerifyCRC32c(header) {
			c.readHeaderErr = fatal(KindMalformed, ErrValidateCRC32cChecksum)
			c.logger.WithField("remote_addr", c.Conn.RemoteAddr().String()).
				Warn("proxyhdr: PROXY v2 CRC32c checksum mismatch, closing connection")
			_ = c.Conn.Close()
			return
		}

		c.header = header
		if header.Command == CMD_LOCAL {
			// LOCAL transparency: no wrapping, caller sees the transport's
			// own addresses through c.Conn directly.
			return
		}

		// Wrap c, not c.Conn: c.Read serves through the bufio.Reader that
		// consumed the preface, so bytes the first fill buffered past the
		// header (real sockets routinely coalesce the preface with the
		// application data that follows it) stay visible to whatever reads
		// this endpoint next. Wrapping the raw socket here would strand
		// those bytes in c.reader's buffer instead.
		endpoint := NewProxyEndpoint(c, header.SrcAddr, header.DstAddr)
		if version, ok := header.TLVs.ExtractTLSVersion(); ok {
			endpoint.SetAttribute(TLSVersionAttribute, version)
		}
		c.endpoint = endpoint
	})
}
