package bptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingFreeListRelease(t *testing.T) {
	t.Parallel()

	fl := newPendingFreeList()
	fl.add(10, []PageID{100, 101, 102})
	fl.add(11, []PageID{200, 201})
	fl.add(12, []PageID{300})

	assert.Equal(t, 6, fl.size())

	released := fl.releasable(11)
	assert.ElementsMatch(t, []PageID{100, 101, 102}, released)
	assert.Equal(t, 3, fl.size())

	released = fl.releasable(100)
	assert.ElementsMatch(t, []PageID{200, 201, 300}, released)
	assert.Equal(t, 0, fl.size())
}

func TestPendingFreeListNoneReleasable(t *testing.T) {
	t.Parallel()

	fl := newPendingFreeList()
	fl.add(5, []PageID{1, 2})

	assert.Empty(t, fl.releasable(5))
	assert.Equal(t, 2, fl.size())
}
