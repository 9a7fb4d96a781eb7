package bptree

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// PageID identifies a page within the data file. 0 is reserved for the
// superblock and doubles as the "none" sentinel for sibling/child pointers.
type PageID uint64

const noPage PageID = 0

// Reserved page ids.
const superblockPageID PageID = 0

// MagicNumber identifies a bptree data file.
const magicNumber uint64 = 0x6270747265650100 // "bptree" + format marker

// FormatVersion is the on-disk format version this build writes and reads.
const formatVersion uint32 = 1

// Page tag bytes, the first byte of every non-superblock page.
const (
	tagFree   byte = 0
	tagLeaf   byte = 1
	tagBranch byte = 2
)

// nodeHeaderSize is the fixed header every branch/leaf page carries:
// tag(1) + numKeys(u16) + next(u64) + prev(u64).
const nodeHeaderSize = 1 + 2 + 8 + 8

// freePageBodySize is the fixed body of a free page: next(u64) + freedAtLSN(u64).
const freePageBodySize = 8 + 8

// superblockSize is the fixed byte width of the superblock fields.
// magic(8) + version(4) + pageSize(4) + branching(4) + root(8) + freeHead(8) + walLSN(8) + checksum(4)
const superblockSize = 8 + 4 + 4 + 4 + 8 + 8 + 8 + 4

// superblock mirrors spec.md §3/§6: the fixed-offset fields stored in page 0.
type superblock struct {
	Magic     uint64
	Version   uint32
	PageSize  uint32
	Branching uint32
	Root      PageID
	FreeHead  PageID
	WalLSN    uint64
	Checksum  uint32
}

func (s *superblock) encode(pageSize uint32) []byte {
	buf := make([]byte, pageSize)
	binary.LittleEndian.PutUint64(buf[0:8], s.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], s.Version)
	binary.LittleEndian.PutUint32(buf[12:16], s.PageSize)
	binary.LittleEndian.PutUint32(buf[16:20], s.Branching)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(s.Root))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(s.FreeHead))
	binary.LittleEndian.PutUint64(buf[36:44], s.WalLSN)
	s.Checksum = uint32(xxhash.Sum64(buf[0:44]))
	binary.LittleEndian.PutUint32(buf[44:48], s.Checksum)
	return buf
}

func decodeSuperblock(buf []byte) (*superblock, error) {
	if len(buf) < superblockSize {
		return nil, newErr(KindFormat, "open", errShortPage)
	}
	s := &superblock{
		Magic:     binary.LittleEndian.Uint64(buf[0:8]),
		Version:   binary.LittleEndian.Uint32(buf[8:12]),
		PageSize:  binary.LittleEndian.Uint32(buf[12:16]),
		Branching: binary.LittleEndian.Uint32(buf[16:20]),
		Root:      PageID(binary.LittleEndian.Uint64(buf[20:28])),
		FreeHead:  PageID(binary.LittleEndian.Uint64(buf[28:36])),
		WalLSN:    binary.LittleEndian.Uint64(buf[36:44]),
		Checksum:  binary.LittleEndian.Uint32(buf[44:48]),
	}
	if s.Magic != magicNumber {
		return nil, ErrBadMagic
	}
	if s.Version != formatVersion {
		return nil, ErrBadVersion
	}
	want := uint32(xxhash.Sum64(buf[0:44]))
	if want != s.Checksum {
		return nil, ErrChecksum
	}
	return s, nil
}

// encodeFreePage writes a free page body: the next id in the free chain and
// the LSN of the transaction that freed this page (used to hold it back
// from reuse until no reader could still observe it).
func encodeFreePage(pageSize uint32, next PageID, freedAtLSN uint64) []byte {
	buf := make([]byte, pageSize)
	buf[0] = tagFree
	binary.LittleEndian.PutUint64(buf[1:9], uint64(next))
	binary.LittleEndian.PutUint64(buf[9:17], freedAtLSN)
	return buf
}

func decodeFreePage(buf []byte) (next PageID, freedAtLSN uint64) {
	next = PageID(binary.LittleEndian.Uint64(buf[1:9]))
	freedAtLSN = binary.LittleEndian.Uint64(buf[9:17])
	return
}

var errShortPage = shortPageErr{}

type shortPageErr struct{}

func (shortPageErr) Error() string { return "page too short to decode" }
