package bptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64CodecOrderPreserving(t *testing.T) {
	t.Parallel()

	c := Uint64Codec{}
	vals := []uint64{0, 1, 2, 255, 256, 1 << 32, ^uint64(0)}
	for i := 1; i < len(vals); i++ {
		a, err := c.Encode(vals[i-1])
		require.NoError(t, err)
		b, err := c.Encode(vals[i])
		require.NoError(t, err)
		assert.Negative(t, compareBytes(a, b))
	}
}

func TestInt64CodecOrderPreserving(t *testing.T) {
	t.Parallel()

	c := Int64Codec{}
	vals := []int64{-1 << 40, -1000, -1, 0, 1, 1000, 1 << 40}
	for i := 1; i < len(vals); i++ {
		a, err := c.Encode(vals[i-1])
		require.NoError(t, err)
		b, err := c.Encode(vals[i])
		require.NoError(t, err)
		assert.Negative(t, compareBytes(a, b))

		back, err := c.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, vals[i], back)
	}
}

func TestStringCodecRoundTrip(t *testing.T) {
	t.Parallel()

	c := StringCodec{}
	for _, s := range []string{"", "a", "hello world"} {
		enc, err := c.Encode(s)
		require.NoError(t, err)
		dec, err := c.Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, s, dec)
	}
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}
