package proxyhdr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// PP2Type is a v2 TLV type or SSL sub-TLV subtype.
type PP2Type byte

// Registered TLV types and SSL sub-TLV subtypes.
const (
	PP2_TYPE_ALPN           PP2Type = 0x01
	PP2_TYPE_AUTHORITY      PP2Type = 0x02
	PP2_TYPE_CRC32C         PP2Type = 0x03
	PP2_TYPE_NOOP           PP2Type = 0x04
	PP2_TYPE_UNIQUE_ID      PP2Type = 0x05
	PP2_TYPE_SSL            PP2Type = 0x20
	PP2_SUBTYPE_SSL_VERSION PP2Type = 0x21
	PP2_SUBTYPE_SSL_CN      PP2Type = 0x22
	PP2_SUBTYPE_SSL_CIPHER  PP2Type = 0x23
	PP2_SUBTYPE_SSL_SIG_ALG PP2Type = 0x24
	PP2_SUBTYPE_SSL_KEY_ALG PP2Type = 0x25
	PP2_TYPE_NETNS          PP2Type = 0x30
)

// PP2ClientSSL is the low bit of the SSL TLV's client byte; when set, the
// TLV's sub-TLVs (starting at offset 5) are walked for SSL_VERSION.
const PP2ClientSSL byte = 0x01

// TLV is one Type-Length-Value group from a v2 payload.
type TLV struct {
	Type   PP2Type
	Length uint16
	Value  []byte
}

// TLVs is an ordered list of TLV groups.
type TLVs []TLV

var (
	ErrTlvLenTooShort = errors.New("proxyhdr: TLV header truncated before length field")
	ErrTlvValTooShort = errors.New("proxyhdr: TLV value shorter than its declared length")
)

// NewTLV constructs a TLV, computing Length from len(value).
func NewTLV(typ PP2Type, value []byte) TLV {
	return TLV{Type: typ, Length: uint16(len(value)), Value: value}
}

// NewNoOpTLV constructs a PP2_TYPE_NOOP TLV padded to padLen bytes, used by
// the v2 encoder in client_side.go to pad headers so in-place CRC32c
// recalculation never changes the header's total length.
func NewNoOpTLV(padLen int) TLV {
	return NewTLV(PP2_TYPE_NOOP, make([]byte, padLen))
}

// Format serializes the TLV back to wire bytes: type, BE length, value.
func (tlv TLV) Format() []byte {
	buf := make([]byte, 0, 3+len(tlv.Value))
	buf = append(buf, byte(tlv.Type))
	buf = binary.BigEndian.AppendUint16(buf, tlv.Length)
	buf = append(buf, tlv.Value...)
	return buf
}

// IsRegistered reports whether Type is one of the known PP2_TYPE_*/
// PP2_SUBTYPE_* constants, as opposed to a vendor-private type.
func (tlv TLV) IsRegistered() bool {
	switch tlv.Type {
	case PP2_TYPE_ALPN, PP2_TYPE_AUTHORITY, PP2_TYPE_CRC32C, PP2_TYPE_NOOP,
		PP2_TYPE_UNIQUE_ID, PP2_TYPE_SSL, PP2_SUBTYPE_SSL_VERSION,
		PP2_SUBTYPE_SSL_CN, PP2_SUBTYPE_SSL_CIPHER, PP2_SUBTYPE_SSL_SIG_ALG,
		PP2_SUBTYPE_SSL_KEY_ALG, PP2_TYPE_NETNS:
		return true
	}
	return false
}

func (tlv TLV) String() string {
	return fmt.Sprintf("[type:%d,length:%d,value:%q]", tlv.Type, tlv.Length, tlv.Value)
}

func (s TLVs) String() string {
	if len(s) == 0 {
		return ""
	}
	var fields []string
	for _, tlv := range s {
		if tlv.IsRegistered() {
			continue
		}
		fields = append(fields, tlv.String())
	}
	return strings.Join(fields, ",")
}

// parseTLVs walks a flat run of type/length/value groups. It returns
// whatever TLVs parsed cleanly up to the first malformed one, plus that
// error.
func parseTLVs(raw []byte) (TLVs, error) {
	var tlvs TLVs
	cursor := 0
	for cursor < len(raw) {
		if cursor+3 > len(raw) {
			return tlvs, ErrTlvLenTooShort
		}
		typ := PP2Type(raw[cursor])
		length := int(binary.BigEndian.Uint16(raw[cursor+1 : cursor+3]))
		cursor += 3

		if cursor+length > len(raw) {
			return tlvs, ErrTlvValTooShort
		}
		value := make([]byte, length)
		copy(value, raw[cursor:cursor+length])
		cursor += length

		tlvs = append(tlvs, TLV{Type: typ, Length: uint16(length), Value: value})
	}
	return tlvs, nil
}

// parseTLVsLenient keeps whatever TLVs parsed cleanly and logs a warning
// on a parse failure instead of propagating it, so a malformed trailing
// TLV never aborts an otherwise-valid header.
func parseTLVsLenient(raw []byte, logger *logrus.Entry) TLVs {
	tlvs, err := parseTLVs(raw)
	if err != nil {
		if logger == nil {
			logger = logrus.NewEntry(logrus.StandardLogger())
		}
		logger.WithError(err).Warn("proxyhdr: malformed v2 TLV, keeping TLVs parsed before it")
	}
	return tlvs
}

// ExtractTLSVersion walks any PP2_TYPE_SSL TLV: its value begins with a
// client bitmask byte and a 4-byte verify field, followed by sub-TLVs of
// the same shape starting at offset 5. When the PP2ClientSSL bit is set,
// the PP2_SUBTYPE_SSL_VERSION sub-TLV's value is the negotiated TLS
// version as ASCII. Other TLV types are left alone.
func (tlvs TLVs) ExtractTLSVersion() (string, bool) {
	const sslHeaderLen = 5 // 1 byte client + 4 bytes verify
	for _, tlv := range tlvs {
		if tlv.Type != PP2_TYPE_SSL || len(tlv.Value) < sslHeaderLen {
			continue
		}
		client := tlv.Value[0]
		if client&PP2ClientSSL == 0 {
			continue
		}
		subTLVs, err := parseTLVs(tlv.Value[sslHeaderLen:])
		if err != nil && len(subTLVs) == 0 {
			continue
		}
		for _, sub := range subTLVs {
			if sub.Type == PP2_SUBTYPE_SSL_VERSION {
				return string(sub.Value), true
			}
		}
	}
	return "", false
}
