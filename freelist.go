package bptree

import "sort"

// pendingFreeList tracks pages freed by a transaction that cannot yet be
// spliced into the on-disk free chain because a reader whose snapshot
// predates the freeing transaction might still dereference them. Pages
// move from pending into the real free chain once releasable reports them
// safe, per spec.md §5's grace-period scheme keyed on reader generation.
type pendingFreeList struct {
	pending map[uint64][]PageID // freeing transaction's WAL LSN -> page ids
}

func newPendingFreeList() *pendingFreeList {
	return &pendingFreeList{pending: make(map[uint64][]PageID)}
}

// add records pages freed by the transaction committing at lsn.
func (p *pendingFreeList) add(lsn uint64, ids []PageID) {
	if len(ids) == 0 {
		return
	}
	p.pending[lsn] = append(p.pending[lsn], ids...)
}

// releasable returns, in a deterministic order, all pages freed at an LSN
// strictly less than minReaderLSN (no live reader's snapshot can still
// reference them), and removes them from the pending set.
func (p *pendingFreeList) releasable(minReaderLSN uint64) []PageID {
	var lsns []uint64
	for lsn := range p.pending {
		if lsn < minReaderLSN {
			lsns = append(lsns, lsn)
		}
	}
	sort.Slice(lsns, func(i, j int) bool { return lsns[i] < lsns[j] })

	var out []PageID
	for _, lsn := range lsns {
		out = append(out, p.pending[lsn]...)
		delete(p.pending, lsn)
	}
	return out
}

// size returns the number of pages currently withheld from reuse.
func (p *pendingFreeList) size() int {
	n := 0
	for _, ids := range p.pending {
		n += len(ids)
	}
	return n
}
