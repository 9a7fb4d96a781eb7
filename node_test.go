package bptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafNodeRoundTrip(t *testing.T) {
	t.Parallel()

	n := newLeaf(3)
	n.keys = [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	n.values = [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	n.next = 4
	n.prev = 2

	buf, err := n.encode(4096)
	require.NoError(t, err)

	got, err := decodeNode(3, buf)
	require.NoError(t, err)
	assert.True(t, got.isLeaf)
	assert.Equal(t, n.keys, got.keys)
	assert.Equal(t, n.values, got.values)
	assert.Equal(t, n.next, got.next)
	assert.Equal(t, n.prev, got.prev)
}

func TestBranchNodeRoundTrip(t *testing.T) {
	t.Parallel()

	n := newBranch(10)
	n.separators = [][]byte{[]byte("m")}
	n.children = []PageID{1, 2}

	buf, err := n.encode(4096)
	require.NoError(t, err)

	got, err := decodeNode(10, buf)
	require.NoError(t, err)
	assert.False(t, got.isLeaf)
	assert.Equal(t, n.separators, got.separators)
	assert.Equal(t, n.children, got.children)
}

func TestNodeEncodeOverflow(t *testing.T) {
	t.Parallel()

	n := newLeaf(1)
	big := make([]byte, 8192)
	n.keys = [][]byte{big}
	n.values = [][]byte{[]byte("v")}

	_, err := n.encode(4096)
	assert.ErrorIs(t, err, ErrNodeOverflow)
}

func TestDecodeNodeUnknownTag(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 4096)
	buf[0] = 0xEE

	_, err := decodeNode(1, buf)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindFormat, berr.Kind)
}
