package bptree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// insertKV is a test helper that drives insertRec, and the new root a root
// split needs, the same way Tree.Insert does, without going through the WAL.
func insertKV(t *testing.T, p *pager, root PageID, branching int, key, val []byte) PageID {
	t.Helper()
	wc := newWriteCtx(p)
	if root == noPage {
		id, err := p.allocate()
		require.NoError(t, err)
		leaf := newLeaf(id)
		leaf.keys = [][]byte{key}
		leaf.values = [][]byte{val}
		require.NoError(t, p.writePage(leaf))
		return id
	}
	newRootID, splitKey, splitRight, err := insertRec(wc, root, key, val, branching)
	require.NoError(t, err)
	for id, n := range wc.dirty {
		require.NoError(t, p.writePage(n))
		_ = id
	}
	p.numPages = wc.nextPageID
	p.sb.FreeHead = wc.freeHead
	if splitRight != noPage {
		id, err := p.allocate()
		require.NoError(t, err)
		b := newBranch(id)
		b.separators = [][]byte{splitKey}
		b.children = []PageID{newRootID, splitRight}
		require.NoError(t, p.writePage(b))
		return id
	}
	return newRootID
}

func deleteKV(t *testing.T, p *pager, root PageID, branching int, key []byte) (PageID, bool) {
	t.Helper()
	wc := newWriteCtx(p)
	newRootID, found, _, err := deleteRec(wc, root, key, branching)
	require.NoError(t, err)
	for _, n := range wc.dirty {
		require.NoError(t, p.writePage(n))
	}
	p.numPages = wc.nextPageID
	p.sb.FreeHead = wc.freeHead
	n, err := p.readPage(newRootID)
	require.NoError(t, err)
	if !n.isLeaf && len(n.separators) == 0 {
		newRootID = n.children[0]
	}
	return newRootID, found
}

func TestBTreeInsertCausesLeafSplit(t *testing.T) {
	t.Parallel()

	p := newTestPager(t)
	branching := 4
	root := PageID(noPage)
	for i := 0; i < branching; i++ {
		root = insertKV(t, p, root, branching, []byte(fmt.Sprintf("k%02d", i)), []byte("v"))
	}

	require.NoError(t, verify(p, root, branching))
	n, err := p.readPage(root)
	require.NoError(t, err)
	require.False(t, n.isLeaf, "root should have split into a branch by now")
}

func TestBTreeSearchFindsAllInsertedKeys(t *testing.T) {
	t.Parallel()

	p := newTestPager(t)
	branching := 4
	root := PageID(noPage)
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		root = insertKV(t, p, root, branching, []byte(k), []byte(k+"v"))
	}

	for _, k := range keys {
		v, found, err := search(p, root, []byte(k))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, k+"v", string(v))
	}
	require.NoError(t, verify(p, root, branching))
}

func TestBTreeInsertReplacesExistingKey(t *testing.T) {
	t.Parallel()

	p := newTestPager(t)
	branching := 4
	root := insertKV(t, p, noPage, branching, []byte("a"), []byte("1"))
	root = insertKV(t, p, root, branching, []byte("a"), []byte("2"))

	v, found, err := search(p, root, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", string(v))
}

func TestBTreeDeleteMergesUnderflowingSiblings(t *testing.T) {
	t.Parallel()

	p := newTestPager(t)
	branching := 4
	root := PageID(noPage)
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for _, k := range keys {
		root = insertKV(t, p, root, branching, []byte(k), []byte(k))
	}
	require.NoError(t, verify(p, root, branching))

	for _, k := range keys[:len(keys)-1] {
		var found bool
		root, found = deleteKV(t, p, root, branching, []byte(k))
		require.True(t, found)
		require.NoError(t, verify(p, root, branching))
	}

	_, found, err := search(p, root, []byte(keys[len(keys)-1]))
	require.NoError(t, err)
	require.True(t, found)
}

func TestBTreeDeleteMissingKeyIsNoop(t *testing.T) {
	t.Parallel()

	p := newTestPager(t)
	branching := 4
	root := insertKV(t, p, noPage, branching, []byte("a"), []byte("1"))

	_, found := deleteKV(t, p, root, branching, []byte("zzz"))
	require.False(t, found)
}

func TestBTreeRootCollapsesAfterDeletes(t *testing.T) {
	t.Parallel()

	p := newTestPager(t)
	branching := 4
	root := PageID(noPage)
	keys := []string{"a", "b", "c", "d", "e", "f"}
	for _, k := range keys {
		root = insertKV(t, p, root, branching, []byte(k), []byte(k))
	}
	n, err := p.readPage(root)
	require.NoError(t, err)
	require.False(t, n.isLeaf)

	for _, k := range keys[:len(keys)-1] {
		root, _ = deleteKV(t, p, root, branching, []byte(k))
	}

	n, err = p.readPage(root)
	require.NoError(t, err)
	require.True(t, n.isLeaf, "root should have collapsed back to a single leaf")
}

func TestChildIndexRoutesRightOnEquality(t *testing.T) {
	t.Parallel()

	seps := [][]byte{[]byte("m")}
	require.Equal(t, 0, childIndex(seps, []byte("a")))
	require.Equal(t, 1, childIndex(seps, []byte("m")))
	require.Equal(t, 1, childIndex(seps, []byte("z")))
}

func TestMinKeysFloor(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, minKeys(3))
	require.Equal(t, 1, minKeys(4))
	require.Equal(t, 2, minKeys(5))
}

func TestMinLeafKeysIsOneMoreThanBranchMinimum(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2, minLeafKeys(3))
	require.Equal(t, 2, minLeafKeys(4))
	require.Equal(t, 3, minLeafKeys(5))

	for _, b := range []int{3, 4, 5, 8, 9} {
		require.Equal(t, minKeys(b)+1, minLeafKeys(b))
	}
}

func TestMinOccupancyDispatchesByNodeKind(t *testing.T) {
	t.Parallel()

	branching := 4
	require.Equal(t, minLeafKeys(branching), minOccupancy(newLeaf(1), branching))
	require.Equal(t, minKeys(branching), minOccupancy(newBranch(2), branching))
}
