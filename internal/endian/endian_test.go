package endian

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOrder(t *testing.T) {
	require := require.New(t)

	for _, s := range []string{"", "0", "little", "LE", "LittleEndian"} {
		o, err := ParseOrder(s)
		require.NoError(err, s)
		require.Equal(Little, o, s)
	}
	for _, s := range []string{"1", "big", "BE", " bigendian "} {
		o, err := ParseOrder(s)
		require.NoError(err, s)
		require.Equal(Big, o, s)
	}

	_, err := ParseOrder("middle")
	require.Error(err)
}

func TestEngine(t *testing.T) {
	require := require.New(t)

	require.Equal(binary.LittleEndian, Little.Engine())
	require.Equal(binary.BigEndian, Big.Engine())

	buf := Big.Engine().AppendUint32(nil, 1)
	require.Equal([]byte{0, 0, 0, 1}, buf)
}

func TestTextRoundTrip(t *testing.T) {
	var o Order
	require.NoError(t, o.UnmarshalText([]byte("big")))
	require.Equal(t, Big, o)

	b, err := o.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "big", string(b))
}
