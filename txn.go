package bptree

import (
	"sort"
	"sync"

	"bptree/internal/wal"
)

// writeCtx accumulates the copy-on-write effects of a single write
// transaction: every node touched gets a freshly allocated page id, the old
// id it replaces is retired, and nothing is applied to the data file until
// the transaction's WAL records are durable.
type writeCtx struct {
	p      *pager
	dirty  map[PageID]*node
	retire []PageID

	// nextPageID and freeHead are wc's staged view of the pager's page
	// counter and free chain head, seeded from the pager at creation and
	// advanced by allocate as the transaction plans its copy-on-write
	// pages. They never touch p.numPages/p.sb.FreeHead directly — those
	// only advance once this transaction's WAL record is durable (see
	// commit below) — so a transaction that errors out before committing
	// leaves the pager's real counters exactly as it found them.
	nextPageID uint64
	freeHead   PageID
}

func newWriteCtx(p *pager) *writeCtx {
	return &writeCtx{
		p:          p,
		dirty:      make(map[PageID]*node),
		nextPageID: p.numPages,
		freeHead:   p.sb.FreeHead,
	}
}

// load returns the node at id, preferring a copy already staged earlier in
// this same transaction over the on-disk version.
func (wc *writeCtx) load(id PageID) (*node, error) {
	if n, ok := wc.dirty[id]; ok {
		return n, nil
	}
	return wc.p.readPage(id)
}

// allocate returns an unused page id from wc's staged counters, preferring
// the free chain over growing the file, same as pager.allocate — but
// without mutating the pager until commit succeeds.
func (wc *writeCtx) allocate() (PageID, error) {
	if wc.freeHead != noPage {
		id := wc.freeHead
		next, err := wc.p.readRawFree(id)
		if err != nil {
			return 0, err
		}
		wc.freeHead = next
		return id, nil
	}
	id := PageID(wc.nextPageID)
	wc.nextPageID++
	return id, nil
}

// cow stages a modifiable copy of n under a freshly allocated page id and
// marks n's old id for retirement once no reader can still see it.
func (wc *writeCtx) cow(n *node) (*node, error) {
	id, err := wc.allocate()
	if err != nil {
		return nil, err
	}
	cp := cloneNode(n)
	wc.retire = append(wc.retire, n.pageID)
	cp.pageID = id
	wc.dirty[id] = cp
	return cp, nil
}

func cloneNode(n *node) *node {
	cp := &node{pageID: n.pageID, isLeaf: n.isLeaf, next: n.next, prev: n.prev}
	if n.isLeaf {
		cp.keys = append([][]byte(nil), n.keys...)
		cp.values = append([][]byte(nil), n.values...)
	} else {
		cp.separators = append([][]byte(nil), n.separators...)
		cp.children = append([]PageID(nil), n.children...)
	}
	return cp
}

// readers tracks the WAL LSN each live snapshot (cursor or read transaction)
// was opened at, so the free list knows when a retired page can be reused:
// once no registered reader predates the freeing transaction's commit LSN.
type readers struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]uint64 // reader handle -> snapshot LSN
}

func newReaders() *readers {
	return &readers{live: make(map[uint64]uint64)}
}

func (r *readers) register(lsn uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.live[h] = lsn
	return h
}

func (r *readers) unregister(h uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, h)
}

// min returns the oldest live snapshot LSN, or atLeast if there are no
// active readers (nothing older to protect).
func (r *readers) min(atLeast uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := atLeast
	first := true
	for _, lsn := range r.live {
		if first || lsn < m {
			m = lsn
			first = false
		}
	}
	return m
}

// commit durably journals wc's effects via wal, applies them to the pager,
// and returns the commit LSN, which becomes the transaction's snapshot/free
// generation marker (the superblock's WalLSN field).
func commit(w *wal.WAL, p *pager, wc *writeCtx, newRoot PageID, txid uint64, minReaderLSN uint64) (uint64, error) {
	if _, err := w.Begin(txid); err != nil {
		return 0, newErr(KindIO, "commit", err)
	}

	ids := make([]PageID, 0, len(wc.dirty))
	for id := range wc.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		buf, err := wc.dirty[id].encode(p.pageSize)
		if err != nil {
			return 0, err
		}
		if _, err := w.AppendPageImage(txid, uint64(id), buf); err != nil {
			return 0, newErr(KindIO, "commit", err)
		}
	}

	releasable := p.pending.releasable(minReaderLSN)
	for _, id := range releasable {
		if _, err := w.AppendFree(txid, uint64(id)); err != nil {
			return 0, newErr(KindIO, "commit", err)
		}
	}

	// The journaled superblock must reflect every counter this transaction
	// changes, not just the new root: wc's staged free-chain pops, and the
	// pages about to be returned to the free list below, since free()
	// pushes releasable ids onto the head in order.
	sb := p.sb
	sb.Root = newRoot
	sb.FreeHead = wc.freeHead
	if len(releasable) > 0 {
		sb.FreeHead = releasable[len(releasable)-1]
	}
	sbBuf := sb.encode(p.pageSize)
	if _, err := w.AppendSuperblock(txid, sbBuf); err != nil {
		return 0, newErr(KindIO, "commit", err)
	}

	lsn, err := w.Commit(txid)
	if err != nil {
		return 0, newErr(KindIO, "commit", err)
	}

	// Durable in the WAL: wc's staged allocations become the pager's real
	// counters, and it's safe to write the transaction's pages.
	p.numPages = wc.nextPageID
	p.sb.FreeHead = wc.freeHead

	for _, id := range ids {
		if err := p.writePage(wc.dirty[id]); err != nil {
			return 0, err
		}
	}
	for _, id := range releasable {
		if err := p.free(id, lsn); err != nil {
			return 0, err
		}
	}
	if len(wc.retire) > 0 {
		p.pending.add(lsn, wc.retire)
	}

	// Every other page of the transaction reaches stable storage before
	// page 0 is rewritten to point at it.
	if err := p.flush(); err != nil {
		return 0, newErr(KindIO, "commit", err)
	}

	p.sb.Root = newRoot
	p.sb.WalLSN = lsn
	if err := p.writeSuperblock(&p.sb); err != nil {
		return 0, err
	}

	if err := p.flush(); err != nil {
		return 0, newErr(KindIO, "commit", err)
	}

	return lsn, nil
}
