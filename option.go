package proxyhdr

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Conn built by NewConn or a Listener's Accept.
type Option func(*Conn)

// WithReadHeaderTimeout bounds how long decoding the preface may block the
// goroutine that first touches the connection.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(c *Conn) { c.readHeaderTimeout = d }
}

// WithDisableProxyProto skips preface decoding entirely; Read/LocalAddr/
// RemoteAddr behave as plain passthroughs to the wrapped net.Conn.
func WithDisableProxyProto(disable bool) Option {
	return func(c *Conn) { c.disableProxyProtocol = disable }
}

// WithPostReadHeader registers a hook invoked once decoding finishes,
// successfully or not — typically used for logging or metrics.
func WithPostReadHeader(fn PostReadHeader) Option {
	return func(c *Conn) { c.postFunc = fn }
}

// WithCRC32cChecksum enables PP2_TYPE_CRC32C verification on v2 headers.
func WithCRC32cChecksum(want bool) Option {
	return func(c *Conn) { c.checksum = want }
}

// WithMaxHeaderLength sets the v2 payload cap. Zero means
// DefaultMaxHeaderLength.
func WithMaxHeaderLength(n uint16) Option {
	return func(c *Conn) { c.maxHeaderLength = n }
}

// WithLogger sets the logger used for the fatal-close warning line and the
// malformed-TLV warning. Defaults to logrus's standard logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(c *Conn) { c.logger = logger }
}
