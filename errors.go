package proxyhdr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorKind classifies why a decode failed. Every kind is fatal to the
// connection: the caller logs one warning line and closes.
type ErrorKind int

const (
	// KindMalformed covers a bad v1 token, a missing CRLF, or a bad v2
	// magic/version/family/transport byte.
	KindMalformed ErrorKind = iota + 1
	// KindOversize covers a v1 preface over 108 bytes or a v2 payload over
	// the configured max_proxy_header.
	KindOversize
	// KindTruncated covers EOF before the header was fully read.
	KindTruncated
	// KindUnsupportedMode covers a non-LOCAL v2 header whose family/transport
	// isn't {INET, INET6} x STREAM.
	KindUnsupportedMode
	// KindNoNextProtocol covers a configured or auto-discovered next-protocol
	// name with no matching registered factory.
	KindNoNextProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed-preface"
	case KindOversize:
		return "oversize"
	case KindTruncated:
		return "truncated"
	case KindUnsupportedMode:
		return "unsupported-mode"
	case KindNoNextProtocol:
		return "no-next-protocol"
	default:
		return "unknown"
	}
}

// DecodeError is the fatal-close error every decode path in this package
// returns. It wraps the underlying cause with pkg/errors so callers keep
// the ability to errors.Is/errors.As against package sentinels while still
// getting the ErrorKind classification needed to decide how loudly to log.
type DecodeError struct {
	Kind ErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("proxyhdr: %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func fatal(kind ErrorKind, err error) error {
	return &DecodeError{Kind: kind, Err: err}
}

func fatalf(kind ErrorKind, cause error, format string, args ...any) error {
	return &DecodeError{Kind: kind, Err: pkgerrors.Wrapf(cause, format, args...)}
}

// KindOf extracts the ErrorKind from err, if it (or something it wraps) is
// a *DecodeError. Used by callers that want to log differently per kind.
func KindOf(err error) (ErrorKind, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}
