package bptree

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"bptree/internal/wal"
)

// Tree is an embedded, persistent B+Tree index keyed and valued by the
// types K and V via their Codec, backed by a single data file and a
// write-ahead log for crash-atomic structural mutations.
type Tree[K, V any] struct {
	writeMu sync.Mutex

	p   *pager
	wal *wal.WAL
	log Logger

	keyCodec Codec[K]
	valCodec Codec[V]

	branching int

	root    atomic.Uint64 // PageID, atomic so readers can snapshot it lock-free
	rootLSN atomic.Uint64 // WAL LSN the current root was committed at

	readers *readers
	txnSeq  uint64

	closed atomic.Bool
}

// Open opens or creates the database file at path. When create is true and
// the file is empty, a new database is initialized with pageSize and
// branchingFactor; otherwise those stored in the file's superblock govern,
// and a mismatch against WithPageSize is reported as ErrPageSizeMismatch.
func Open[K, V any](path string, keyCodec Codec[K], valCodec Codec[V], branchingFactor int, create bool, opts ...Option) (*Tree[K, V], error) {
	options := defaultOptions()
	for _, o := range opts {
		o(&options)
	}
	if branchingFactor > 0 {
		options.Branching = branchingFactor
	}
	if options.Branching < 3 {
		return nil, ErrBranchingFactor
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, newErr(KindIO, "open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newErr(KindIO, "open", err)
	}

	p, err := newPager(f, options.PageSize, options.PageCacheSize)
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if !create {
			f.Close()
			return nil, ErrNotFound
		}
		sb := superblock{
			Magic:     magicNumber,
			Version:   formatVersion,
			PageSize:  options.PageSize,
			Branching: uint32(options.Branching),
			Root:      noPage,
			FreeHead:  noPage,
			WalLSN:    0,
		}
		p.numPages = 1
		if err := p.writeSuperblock(&sb); err != nil {
			f.Close()
			return nil, err
		}
		if err := p.flush(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		sb, err := p.readSuperblock()
		if err != nil {
			f.Close()
			return nil, err
		}
		if sb.PageSize != options.PageSize {
			f.Close()
			return nil, ErrPageSizeMismatch
		}
		p.sb = *sb
		p.numPages = uint64(info.Size()) / int64toU64(int64(sb.PageSize))
		options.Branching = int(sb.Branching)
	}

	w, err := wal.Open(path + ".wal")
	if err != nil {
		f.Close()
		return nil, newErr(KindIO, "open", err)
	}
	w.SetSyncPolicy(syncPolicyFor(options.SyncMode), options.SyncBytesLimit)

	fromLSN := p.sb.WalLSN + 1
	maxLSN := p.sb.WalLSN
	replayed := 0
	replayErr := w.Replay(fromLSN, func(rec wal.Record) error {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		replayed++
		switch rec.Kind {
		case wal.KindPageImage:
			id := PageID(binary.LittleEndian.Uint64(rec.Body[0:8]))
			nd, err := decodeNode(id, rec.Body[8:])
			if err != nil {
				return err
			}
			return p.writePage(nd)
		case wal.KindFree:
			id := PageID(binary.LittleEndian.Uint64(rec.Body))
			return p.free(id, rec.LSN)
		case wal.KindSuperblock:
			sb, err := decodeSuperblock(rec.Body)
			if err != nil {
				return err
			}
			p.sb = *sb
			return nil
		}
		return nil
	})
	if replayErr != nil {
		options.Logger.Error("wal replay failed", "path", path, "fromLSN", fromLSN, "err", replayErr)
		w.Close()
		f.Close()
		return nil, newErr(KindCorruption, "open", replayErr)
	}
	if replayed > 0 {
		options.Logger.Info("wal replay recovered records", "path", path, "fromLSN", fromLSN, "toLSN", maxLSN, "records", replayed)
	}
	w.SetNextLSN(maxLSN + 1)
	p.sb.WalLSN = maxLSN
	if err := p.writeSuperblock(&p.sb); err != nil {
		w.Close()
		f.Close()
		return nil, err
	}
	if err := p.flush(); err != nil {
		w.Close()
		f.Close()
		return nil, err
	}

	t := &Tree[K, V]{
		p:         p,
		wal:       w,
		log:       options.Logger,
		keyCodec:  keyCodec,
		valCodec:  valCodec,
		branching: options.Branching,
		readers:   newReaders(),
	}
	t.root.Store(uint64(p.sb.Root))
	t.rootLSN.Store(p.sb.WalLSN)
	t.log.Info("opened", "path", path, "branching", t.branching, "root", p.sb.Root, "walLSN", p.sb.WalLSN)
	return t, nil
}

func int64toU64(n int64) uint64 { return uint64(n) }

func syncPolicyFor(m SyncMode) wal.SyncPolicy {
	switch m {
	case SyncBytes:
		return wal.SyncByBytes
	case SyncOff:
		return wal.SyncNever
	default:
		return wal.SyncAlways
	}
}

// Get returns the value stored for key, if any.
func (t *Tree[K, V]) Get(key K) (V, bool, error) {
	var zero V
	if t.closed.Load() {
		return zero, false, ErrClosed
	}
	kb, err := t.keyCodec.Encode(key)
	if err != nil {
		return zero, false, err
	}
	vb, found, err := search(t.p, PageID(t.root.Load()), kb)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := t.valCodec.Decode(vb)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Contains reports whether key is present.
func (t *Tree[K, V]) Contains(key K) (bool, error) {
	_, found, err := t.Get(key)
	return found, err
}

// Insert stores value under key, replacing any existing value, and returns
// the previous value if one was replaced.
func (t *Tree[K, V]) Insert(key K, value V) (V, bool, error) {
	var zero V
	if t.closed.Load() {
		return zero, false, ErrClosed
	}
	kb, err := t.keyCodec.Encode(key)
	if err != nil {
		return zero, false, err
	}
	vb, err := t.valCodec.Encode(value)
	if err != nil {
		return zero, false, err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	oldVB, hadOld, err := search(t.p, PageID(t.root.Load()), kb)
	if err != nil {
		return zero, false, err
	}

	wc := newWriteCtx(t.p)
	root := PageID(t.root.Load())

	var newRoot PageID
	if root == noPage {
		id, err := wc.allocate()
		if err != nil {
			return zero, false, err
		}
		leaf := newLeaf(id)
		leaf.keys = [][]byte{kb}
		leaf.values = [][]byte{vb}
		wc.dirty[id] = leaf
		newRoot = id
	} else {
		newRootID, splitKey, splitRight, err := insertRec(wc, root, kb, vb, t.branching)
		if err != nil {
			return zero, false, err
		}
		if splitRight != noPage {
			id, err := wc.allocate()
			if err != nil {
				return zero, false, err
			}
			rootNode := newBranch(id)
			rootNode.separators = [][]byte{splitKey}
			rootNode.children = []PageID{newRootID, splitRight}
			wc.dirty[id] = rootNode
			newRoot = id
		} else {
			newRoot = newRootID
		}
	}

	if err := t.applyCommit(wc, newRoot); err != nil {
		return zero, false, err
	}

	if !hadOld {
		return zero, false, nil
	}
	old, err := t.valCodec.Decode(oldVB)
	return old, true, err
}

// Delete removes key, if present, and returns the value it held.
func (t *Tree[K, V]) Delete(key K) (V, bool, error) {
	var zero V
	if t.closed.Load() {
		return zero, false, ErrClosed
	}
	kb, err := t.keyCodec.Encode(key)
	if err != nil {
		return zero, false, err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	root := PageID(t.root.Load())
	if root == noPage {
		return zero, false, nil
	}

	oldVB, hadOld, err := search(t.p, root, kb)
	if err != nil || !hadOld {
		return zero, false, err
	}

	wc := newWriteCtx(t.p)
	newRootID, _, _, err := deleteRec(wc, root, kb, t.branching)
	if err != nil {
		return zero, false, err
	}

	newRoot, err := t.collapseRoot(wc, newRootID)
	if err != nil {
		return zero, false, err
	}

	if err := t.applyCommit(wc, newRoot); err != nil {
		return zero, false, err
	}

	old, err := t.valCodec.Decode(oldVB)
	return old, true, err
}

// collapseRoot replaces a branch root left with zero separators (its one
// child absorbed everything) by that child, shrinking the tree's height.
func (t *Tree[K, V]) collapseRoot(wc *writeCtx, rootID PageID) (PageID, error) {
	n, err := wc.load(rootID)
	if err != nil {
		return 0, err
	}
	if n.isLeaf || len(n.separators) > 0 {
		return rootID, nil
	}
	return n.children[0], nil
}

func (t *Tree[K, V]) applyCommit(wc *writeCtx, newRoot PageID) error {
	t.txnSeq++
	minLSN := t.readers.min(t.rootLSN.Load())
	lsn, err := commit(t.wal, t.p, wc, newRoot, t.txnSeq, minLSN)
	if err != nil {
		t.log.Error("commit failed", "txn", t.txnSeq, "err", err)
		return err
	}
	t.root.Store(uint64(newRoot))
	t.rootLSN.Store(lsn)
	t.log.Info("commit", "txn", t.txnSeq, "lsn", lsn, "root", newRoot, "dirtyPages", len(wc.dirty))
	return nil
}

// Clear removes every entry, leaving an empty tree.
func (t *Tree[K, V]) Clear() error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	wc := newWriteCtx(t.p)
	root := PageID(t.root.Load())
	if root != noPage {
		collectPages(t.p, root, &wc.retire)
	}
	return t.applyCommit(wc, noPage)
}

func collectPages(p *pager, id PageID, out *[]PageID) {
	n, err := p.readPage(id)
	if err != nil {
		return
	}
	*out = append(*out, id)
	if !n.isLeaf {
		for _, c := range n.children {
			collectPages(p, c, out)
		}
	}
}

// Count returns the number of entries, walking the leaf level.
func (t *Tree[K, V]) Count() uint64 {
	root := PageID(t.root.Load())
	if root == noPage {
		return 0
	}
	var n uint64
	var walk func(PageID)
	walk = func(id PageID) {
		nd, err := t.p.readPage(id)
		if err != nil {
			return
		}
		if nd.isLeaf {
			n += uint64(len(nd.keys))
			return
		}
		for _, c := range nd.children {
			walk(c)
		}
	}
	walk(root)
	return n
}

// Verify walks the tree and returns the first structural invariant
// violation found, or nil.
func (t *Tree[K, V]) Verify() error {
	err := verify(t.p, PageID(t.root.Load()), t.branching)
	if err != nil {
		t.log.Error("verify failed", "root", t.root.Load(), "err", err)
	}
	return err
}

// NodeSummary describes one page for diagnostic inspection via Nodes.
type NodeSummary struct {
	PageID   PageID
	IsLeaf   bool
	Entries  int
	Children []PageID
}

// Nodes returns a summary of every page reachable from the current root.
func (t *Tree[K, V]) Nodes() ([]NodeSummary, error) {
	var out []NodeSummary
	root := PageID(t.root.Load())
	if root == noPage {
		return out, nil
	}
	var walk func(PageID) error
	walk = func(id PageID) error {
		n, err := t.p.readPage(id)
		if err != nil {
			return err
		}
		s := NodeSummary{PageID: id, IsLeaf: n.isLeaf, Entries: entries(n)}
		if !n.isLeaf {
			s.Children = append([]PageID(nil), n.children...)
		}
		out = append(out, s)
		if !n.isLeaf {
			for _, c := range n.children {
				if err := walk(c); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the WAL and the data file. It syncs neither file itself;
// every commit has already flushed the data file.
func (t *Tree[K, V]) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.log.Info("closing", "root", t.root.Load(), "walLSN", t.rootLSN.Load())
	if err := t.wal.Close(); err != nil {
		return newErr(KindIO, "close", err)
	}
	return t.p.close()
}
