package bptree

import (
	"os"

	"github.com/elastic/go-freelru"
)

// pager handles page-level disk I/O for a single data file: allocation,
// the free list, and a clean-page cache. Dirty pages are staged in memory
// by the caller (the writer transaction) and only reach the pager's
// WriteAt call once the WAL record for them is durable.
type pager struct {
	file *os.File

	pageSize uint32
	numPages uint64 // highest allocated page id + 1

	sb      superblock
	pending *pendingFreeList

	// cache is a SyncedLRU, not the plain LRU, because readPage is called
	// concurrently by live cursors as well as the single writer.
	cache *freelru.SyncedLRU[PageID, *node]
}

func hashPageID(id PageID) uint32 {
	// Splitmix64-style avalanche, truncated; good enough dispersion for an
	// in-process LRU keyed on a monotonically increasing page counter.
	x := uint64(id)
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x = x ^ (x >> 31)
	return uint32(x)
}

func newPager(file *os.File, pageSize uint32, cacheSize int) (*pager, error) {
	cache, err := freelru.NewSynced[PageID, *node](uint32(cacheSize), hashPageID)
	if err != nil {
		return nil, newErr(KindConfig, "open", err)
	}
	return &pager{
		file:     file,
		pageSize: pageSize,
		pending:  newPendingFreeList(),
		cache:    cache,
	}, nil
}

func (p *pager) readPage(id PageID) (*node, error) {
	if id == superblockPageID {
		return nil, newErr(KindConfig, "readPage", errSuperblockAsNode)
	}
	if n, ok := p.cache.Get(id); ok {
		return n, nil
	}

	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	n, err := p.file.ReadAt(buf, off)
	if err != nil {
		return nil, newErr(KindIO, "readPage", err)
	}
	if n != int(p.pageSize) {
		return nil, newErr(KindIO, "readPage", errShortIO)
	}

	nd, err := decodeNode(id, buf)
	if err != nil {
		return nil, err
	}
	p.cache.Add(id, nd)
	return nd, nil
}

// writePage persists nd's current content at its page id and refreshes the
// cache. The WAL record for nd must already be durable before this is
// called; the pager itself does not order writes against the log.
func (p *pager) writePage(nd *node) error {
	buf, err := nd.encode(p.pageSize)
	if err != nil {
		return err
	}
	off := int64(nd.pageID) * int64(p.pageSize)
	n, err := p.file.WriteAt(buf, off)
	if err != nil {
		return newErr(KindIO, "writePage", err)
	}
	if n != int(p.pageSize) {
		return newErr(KindIO, "writePage", errShortIO)
	}
	p.cache.Add(nd.pageID, nd)
	return nil
}

func (p *pager) writeSuperblock(sb *superblock) error {
	buf := sb.encode(p.pageSize)
	off := int64(superblockPageID) * int64(p.pageSize)
	n, err := p.file.WriteAt(buf, off)
	if err != nil {
		return newErr(KindIO, "writeSuperblock", err)
	}
	if n != int(p.pageSize) {
		return newErr(KindIO, "writeSuperblock", errShortIO)
	}
	p.sb = *sb
	return nil
}

func (p *pager) readSuperblock() (*superblock, error) {
	buf := make([]byte, p.pageSize)
	n, err := p.file.ReadAt(buf, 0)
	if err != nil {
		return nil, newErr(KindIO, "readSuperblock", err)
	}
	if n != int(p.pageSize) {
		return nil, newErr(KindIO, "readSuperblock", errShortIO)
	}
	return decodeSuperblock(buf)
}

// allocate returns an unused page id, preferring the free chain over
// growing the file, and mutates numPages/sb.FreeHead immediately. Write
// transactions go through writeCtx.allocate instead, which stages the same
// decision without touching the pager until the transaction's WAL record
// is durable; this method is for callers outside that machinery.
func (p *pager) allocate() (PageID, error) {
	if p.sb.FreeHead != noPage {
		id := p.sb.FreeHead
		nd, err := p.readRawFree(id)
		if err != nil {
			return 0, err
		}
		p.sb.FreeHead = nd
		return id, nil
	}

	id := PageID(p.numPages)
	p.numPages++
	return id, nil
}

// readRawFree reads a free page's chain pointer directly, bypassing the
// node cache (free pages are never decoded as nodes).
func (p *pager) readRawFree(id PageID) (PageID, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return 0, newErr(KindIO, "allocate", err)
	}
	next, _ := decodeFreePage(buf)
	return next, nil
}

// free splices id onto the head of the on-disk free chain, marking it freed
// at lsn for the deferred-release grace period.
func (p *pager) free(id PageID, lsn uint64) error {
	buf := encodeFreePage(p.pageSize, p.sb.FreeHead, lsn)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return newErr(KindIO, "free", err)
	}
	p.sb.FreeHead = id
	p.cache.Remove(id)
	return nil
}

// flush durably persists everything written so far. On Linux this uses
// fdatasync to skip flushing inode metadata that didn't change.
func (p *pager) flush() error {
	return fdatasync(p.file)
}

func (p *pager) close() error {
	return p.file.Close()
}

var errShortIO = shortIOErr{}

type shortIOErr struct{}

func (shortIOErr) Error() string { return "short read or write" }

var errSuperblockAsNode = superblockAsNodeErr{}

type superblockAsNodeErr struct{}

func (superblockAsNodeErr) Error() string { return "page 0 is the superblock, not a node" }
