package proxyhdr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ErrorKind_String(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindMalformed, "malformed-preface"},
		{KindOversize, "oversize"},
		{KindTruncated, "truncated"},
		{KindUnsupportedMode, "unsupported-mode"},
		{KindNoNextProtocol, "no-next-protocol"},
		{ErrorKind(0), "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.kind.String())
	}
}

func Test_DecodeError(t *testing.T) {
	cause := errors.New("boom")
	err := fatal(KindMalformed, cause)

	require.ErrorContains(t, err, "malformed-preface")
	require.ErrorContains(t, err, "boom")
	require.ErrorIs(t, err, cause)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindMalformed, kind)
}

func Test_KindOf_nonDecodeError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}
