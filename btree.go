package bptree

import "bytes"

// childIndex returns the index of the child a key routes to in a branch
// node: separators[i] holds the minimum key of children[i+1], so a key
// routes right of separator i once it is >= that separator.
func childIndex(separators [][]byte, key []byte) int {
	i := 0
	for i < len(separators) && bytes.Compare(key, separators[i]) >= 0 {
		i++
	}
	return i
}

// search walks from root to the leaf that would hold key and returns its
// value, without copy-on-write.
func search(p *pager, root PageID, key []byte) ([]byte, bool, error) {
	if root == noPage {
		return nil, false, nil
	}
	id := root
	for {
		n, err := p.readPage(id)
		if err != nil {
			return nil, false, err
		}
		if n.isLeaf {
			i := lowerBound(n.keys, key)
			if i < len(n.keys) && bytes.Equal(n.keys[i], key) {
				return n.values[i], true, nil
			}
			return nil, false, nil
		}
		id = n.children[childIndex(n.separators, key)]
	}
}

// lowerBound returns the index of the first key >= target.
func lowerBound(keys [][]byte, target []byte) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(keys[mid], target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func insertAtBytes(s [][]byte, i int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAtBytes(s [][]byte, i int) [][]byte {
	return append(s[:i], s[i+1:]...)
}

func insertAtPageID(s []PageID, i int, v PageID) []PageID {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAtPageID(s []PageID, i int) []PageID {
	return append(s[:i], s[i+1:]...)
}

// insertRec performs a copy-on-write descent that inserts key/val (or
// replaces val if key already exists), splitting any node that overflows
// branching-1 entries. It returns the id the subtree rooted at pageID now
// lives at, and, if a split propagated up, the separator and new right
// sibling for the caller to insert into its own node.
func insertRec(wc *writeCtx, pageID PageID, key, val []byte, branching int) (PageID, []byte, PageID, error) {
	n, err := wc.load(pageID)
	if err != nil {
		return 0, nil, noPage, err
	}
	cp, err := wc.cow(n)
	if err != nil {
		return 0, nil, noPage, err
	}

	if cp.isLeaf {
		i := lowerBound(cp.keys, key)
		if i < len(cp.keys) && bytes.Equal(cp.keys[i], key) {
			cp.values[i] = val
		} else {
			cp.keys = insertAtBytes(cp.keys, i, key)
			cp.values = insertAtBytes(cp.values, i, val)
		}

		if len(cp.keys) <= branching-1 {
			return cp.pageID, nil, noPage, nil
		}

		mid := len(cp.keys) / 2
		rightID, err := wc.allocate()
		if err != nil {
			return 0, nil, noPage, err
		}
		right := newLeaf(rightID)
		right.keys = append([][]byte(nil), cp.keys[mid:]...)
		right.values = append([][]byte(nil), cp.values[mid:]...)
		right.next = cp.next
		right.prev = cp.pageID
		cp.keys = cp.keys[:mid]
		cp.values = cp.values[:mid]
		cp.next = right.pageID
		wc.dirty[right.pageID] = right

		return cp.pageID, right.keys[0], right.pageID, nil
	}

	i := childIndex(cp.separators, key)
	childNewID, splitKey, splitRight, err := insertRec(wc, cp.children[i], key, val, branching)
	if err != nil {
		return 0, nil, noPage, err
	}
	cp.children[i] = childNewID

	if splitRight != noPage {
		cp.separators = insertAtBytes(cp.separators, i, splitKey)
		cp.children = insertAtPageID(cp.children, i+1, splitRight)
	}

	if len(cp.separators) <= branching-1 {
		return cp.pageID, nil, noPage, nil
	}

	mid := len(cp.separators) / 2
	promote := cp.separators[mid]
	rightID, err := wc.allocate()
	if err != nil {
		return 0, nil, noPage, err
	}
	right := newBranch(rightID)
	right.separators = append([][]byte(nil), cp.separators[mid+1:]...)
	right.children = append([]PageID(nil), cp.children[mid+1:]...)
	cp.separators = cp.separators[:mid]
	cp.children = cp.children[:mid+1]
	wc.dirty[right.pageID] = right

	return cp.pageID, promote, right.pageID, nil
}

// minKeys is the minimum number of separators a non-root branch node may
// hold before it underflows: ceil(branching/2)-1, per spec.md §3.
func minKeys(branching int) int {
	m := (branching - 1) / 2
	if m < 1 {
		m = 1
	}
	return m
}

// minLeafKeys is the minimum number of entries a non-root leaf may hold
// before it underflows: ceil(branching/2), one more than a branch node's
// minimum per spec.md §3 (a leaf holds no separate child pointers, so it
// can run one entry fuller before splitting and must run one entry fuller
// before merging too).
func minLeafKeys(branching int) int {
	return (branching + 1) / 2
}

// minOccupancy returns the right minimum-occupancy floor for n's kind.
func minOccupancy(n *node, branching int) int {
	if n.isLeaf {
		return minLeafKeys(branching)
	}
	return minKeys(branching)
}

// deleteRec performs a copy-on-write descent that removes key if present.
// It returns the new id of the subtree rooted at pageID, whether the key
// was found, and whether the returned subtree now underflows and must be
// fixed by the caller (borrow or merge with a sibling).
func deleteRec(wc *writeCtx, pageID PageID, key []byte, branching int) (PageID, bool, bool, error) {
	n, err := wc.load(pageID)
	if err != nil {
		return 0, false, false, err
	}

	if n.isLeaf {
		i := lowerBound(n.keys, key)
		if i >= len(n.keys) || !bytes.Equal(n.keys[i], key) {
			return pageID, false, false, nil
		}
		cp, err := wc.cow(n)
		if err != nil {
			return 0, false, false, err
		}
		cp.keys = removeAtBytes(cp.keys, i)
		cp.values = removeAtBytes(cp.values, i)
		underflow := len(cp.keys) < minLeafKeys(branching)
		return cp.pageID, true, underflow, nil
	}

	i := childIndex(n.separators, key)
	childNewID, found, childUnderflow, err := deleteRec(wc, n.children[i], key, branching)
	if err != nil {
		return 0, false, false, err
	}
	if !found {
		return pageID, false, false, nil
	}

	cp, err := wc.cow(n)
	if err != nil {
		return 0, false, false, err
	}
	cp.children[i] = childNewID

	if !childUnderflow {
		return cp.pageID, true, false, nil
	}

	if err := fixUnderflow(wc, cp, i, branching); err != nil {
		return 0, false, false, err
	}
	underflow := len(cp.separators) < minKeys(branching)
	return cp.pageID, true, underflow, nil
}

// fixUnderflow repairs parent.children[idx], which has just underflowed, by
// borrowing from a sibling through parent or merging with one. Tie-break
// order per spec.md §4.3: borrow from the left sibling, then borrow from the
// right sibling; only when neither can lend, merge with the left sibling if
// there is one, otherwise with the right.
func fixUnderflow(wc *writeCtx, parent *node, idx int, branching int) error {
	if idx > 0 {
		left, err := wc.load(parent.children[idx-1])
		if err != nil {
			return err
		}
		if entries(left) > minOccupancy(left, branching) {
			return borrowLeft(wc, parent, idx, branching)
		}
	}
	if idx < len(parent.children)-1 {
		right, err := wc.load(parent.children[idx+1])
		if err != nil {
			return err
		}
		if entries(right) > minOccupancy(right, branching) {
			return borrowRight(wc, parent, idx, branching)
		}
	}
	if idx > 0 {
		return mergeLeft(wc, parent, idx, branching)
	}
	return mergeRight(wc, parent, idx, branching)
}

func entries(n *node) int {
	if n.isLeaf {
		return len(n.keys)
	}
	return len(n.separators)
}

func borrowLeft(wc *writeCtx, parent *node, idx int, branching int) error {
	left, err := wc.load(parent.children[idx-1])
	if err != nil {
		return err
	}
	child, err := wc.load(parent.children[idx])
	if err != nil {
		return err
	}
	leftCp, err := wc.cow(left)
	if err != nil {
		return err
	}
	childCp, err := wc.cow(child)
	if err != nil {
		return err
	}

	if childCp.isLeaf {
		n := len(leftCp.keys) - 1
		childCp.keys = insertAtBytes(childCp.keys, 0, leftCp.keys[n])
		childCp.values = insertAtBytes(childCp.values, 0, leftCp.values[n])
		leftCp.keys = leftCp.keys[:n]
		leftCp.values = leftCp.values[:n]
		parent.separators[idx-1] = childCp.keys[0]
	} else {
		n := len(leftCp.separators) - 1
		childCp.separators = insertAtBytes(childCp.separators, 0, parent.separators[idx-1])
		childCp.children = insertAtPageID(childCp.children, 0, leftCp.children[len(leftCp.children)-1])
		parent.separators[idx-1] = leftCp.separators[n]
		leftCp.separators = leftCp.separators[:n]
		leftCp.children = leftCp.children[:len(leftCp.children)-1]
	}

	parent.children[idx-1] = leftCp.pageID
	parent.children[idx] = childCp.pageID
	return nil
}

func borrowRight(wc *writeCtx, parent *node, idx int, branching int) error {
	child, err := wc.load(parent.children[idx])
	if err != nil {
		return err
	}
	right, err := wc.load(parent.children[idx+1])
	if err != nil {
		return err
	}
	childCp, err := wc.cow(child)
	if err != nil {
		return err
	}
	rightCp, err := wc.cow(right)
	if err != nil {
		return err
	}

	if childCp.isLeaf {
		childCp.keys = append(childCp.keys, rightCp.keys[0])
		childCp.values = append(childCp.values, rightCp.values[0])
		rightCp.keys = rightCp.keys[1:]
		rightCp.values = rightCp.values[1:]
		parent.separators[idx] = rightCp.keys[0]
	} else {
		childCp.separators = append(childCp.separators, parent.separators[idx])
		childCp.children = append(childCp.children, rightCp.children[0])
		parent.separators[idx] = rightCp.separators[0]
		rightCp.separators = rightCp.separators[1:]
		rightCp.children = rightCp.children[1:]
	}

	parent.children[idx] = childCp.pageID
	parent.children[idx+1] = rightCp.pageID
	return nil
}

// mergeLeft folds children[idx] into children[idx-1] and removes the
// separator between them, retiring children[idx]'s old page.
func mergeLeft(wc *writeCtx, parent *node, idx int, branching int) error {
	left, err := wc.load(parent.children[idx-1])
	if err != nil {
		return err
	}
	child, err := wc.load(parent.children[idx])
	if err != nil {
		return err
	}
	leftCp, err := wc.cow(left)
	if err != nil {
		return err
	}

	if leftCp.isLeaf {
		leftCp.keys = append(leftCp.keys, child.keys...)
		leftCp.values = append(leftCp.values, child.values...)
		leftCp.next = child.next
	} else {
		leftCp.separators = append(leftCp.separators, parent.separators[idx-1])
		leftCp.separators = append(leftCp.separators, child.separators...)
		leftCp.children = append(leftCp.children, child.children...)
	}
	wc.retire = append(wc.retire, child.pageID)

	parent.separators = removeAtBytes(parent.separators, idx-1)
	parent.children = removeAtPageID(parent.children, idx)
	parent.children[idx-1] = leftCp.pageID
	return nil
}

// mergeRight folds children[idx+1] into children[idx].
func mergeRight(wc *writeCtx, parent *node, idx int, branching int) error {
	child, err := wc.load(parent.children[idx])
	if err != nil {
		return err
	}
	right, err := wc.load(parent.children[idx+1])
	if err != nil {
		return err
	}
	childCp, err := wc.cow(child)
	if err != nil {
		return err
	}

	if childCp.isLeaf {
		childCp.keys = append(childCp.keys, right.keys...)
		childCp.values = append(childCp.values, right.values...)
		childCp.next = right.next
	} else {
		childCp.separators = append(childCp.separators, parent.separators[idx])
		childCp.separators = append(childCp.separators, right.separators...)
		childCp.children = append(childCp.children, right.children...)
	}
	wc.retire = append(wc.retire, right.pageID)

	parent.separators = removeAtBytes(parent.separators, idx)
	parent.children = removeAtPageID(parent.children, idx+1)
	parent.children[idx] = childCp.pageID
	return nil
}

// verify walks every reachable page and checks: keys strictly increasing
// within each node, every key within the bounds its ancestors' separators
// give it, branch children count one more than separator count, no node
// holding more than branching-1 entries, and no non-root node below its
// minimum occupancy. It does not check that all leaves lie at the same
// depth, does not follow the leaves' next/prev pointers, and does not check
// page ids against the free list.
func verify(p *pager, root PageID, branching int) error {
	if root == noPage {
		return nil
	}
	return verifyNode(p, root, branching, nil, nil, true)
}

func verifyNode(p *pager, id PageID, branching int, lo, hi []byte, isRoot bool) error {
	n, err := p.readPage(id)
	if err != nil {
		return err
	}

	count := entries(n)
	if count > branching-1 {
		return newErr(KindCorruption, "verify", errOverfull)
	}
	if !isRoot && count < minOccupancy(n, branching) {
		return newErr(KindCorruption, "verify", errUnderfull)
	}

	if n.isLeaf {
		for i := 1; i < len(n.keys); i++ {
			if bytes.Compare(n.keys[i-1], n.keys[i]) >= 0 {
				return newErr(KindCorruption, "verify", errOutOfOrder)
			}
		}
		for i, k := range n.keys {
			if lo != nil && bytes.Compare(k, lo) < 0 {
				return newErr(KindCorruption, "verify", errOutOfOrder)
			}
			if hi != nil && bytes.Compare(k, hi) >= 0 {
				return newErr(KindCorruption, "verify", errOutOfOrder)
			}
			_ = i
		}
		return nil
	}

	if len(n.children) != len(n.separators)+1 {
		return newErr(KindCorruption, "verify", errChildCount)
	}
	for i := 1; i < len(n.separators); i++ {
		if bytes.Compare(n.separators[i-1], n.separators[i]) >= 0 {
			return newErr(KindCorruption, "verify", errOutOfOrder)
		}
	}
	for i, child := range n.children {
		childLo, childHi := lo, hi
		if i > 0 {
			childLo = n.separators[i-1]
		}
		if i < len(n.separators) {
			childHi = n.separators[i]
		}
		if err := verifyNode(p, child, branching, childLo, childHi, false); err != nil {
			return err
		}
	}
	return nil
}

var errOverfull = verifyErr("node exceeds branching factor")
var errUnderfull = verifyErr("node underflows minimum occupancy")
var errOutOfOrder = verifyErr("keys not strictly increasing")
var errChildCount = verifyErr("branch child count does not match separator count")

type verifyErr string

func (e verifyErr) Error() string { return string(e) }
