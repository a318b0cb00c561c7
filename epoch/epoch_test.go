package epoch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexRoundTrip(t *testing.T) {
	var id ID
	id[0] = 0x01
	id[31] = 0xff

	got, err := FromHex(id.Hex())
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestNull(t *testing.T) {
	require.True(t, Null.IsNull())

	var id ID
	id[5] = 1
	require.False(t, id.IsNull())
}

func TestFromHexBadLength(t *testing.T) {
	_, err := FromHex("aabb")
	require.Error(t, err)
}

func TestFromHexBadChars(t *testing.T) {
	_, err := FromHex("zz" + id64zeroes())
	require.Error(t, err)
}

func id64zeroes() string {
	b := make([]byte, 62)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}
