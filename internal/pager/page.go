// Package pager implements StreamDb's paged file backend: fixed-size page
// I/O over an OS file or a memory-mapped region, a free-list allocator, a
// bounded page cache, optional compression and authenticated encryption,
// a write-ahead log, and crash recovery.
//
// The on-disk file is a sequence of fixed-size pages. Page 0 is the
// database header (see superblock.go); pages 1..N hold document chains,
// free-list chains, and index chains for the path trie and the document
// table. Every page carries a 32-byte header (crc32, version,
// prev_page_id, next_page_id, flags, data_length, padding) followed by
// its (possibly compressed and encrypted) payload.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ───────────────────────────────────────────────────────────────────────────
// Constants
// ───────────────────────────────────────────────────────────────────────────

const (
	// DefaultPageSize is the default page size in bytes.
	DefaultPageSize = 4096

	// MinPageSize is the minimum allowed page size.
	MinPageSize = 4096

	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 65536

	// PageHeaderSize is the size of the common page header in bytes:
	// crc32(4) + version(4) + prev(8) + next(8) + flags(1) + data_length(4) + padding(3).
	PageHeaderSize = 32
)

// PageID identifies a page by its offset within the file (file offset =
// PageID * page_size). -1 denotes "no page" (chain head's prev, chain
// tail's next, an empty optional pointer).
type PageID int64

// InvalidPageID is the sentinel for "no page".
const InvalidPageID PageID = -1

// Version is a monotonic per-object version counter stored in a page header.
type Version int32

// ───────────────────────────────────────────────────────────────────────────
// Flags
// ───────────────────────────────────────────────────────────────────────────

// Flags is the page-header flags bitmask (spec.md §3).
type Flags uint8

const (
	FlagData     Flags = 1 << 0 // document chain page
	FlagFreeList Flags = 1 << 2 // free-list page
	FlagIndex    Flags = 1 << 3 // index (trie / document-table) page
)

func (f Flags) String() string {
	switch {
	case f&FlagData != 0:
		return "data"
	case f&FlagFreeList != 0:
		return "free-list"
	case f&FlagIndex != 0:
		return "index"
	default:
		return fmt.Sprintf("flags(0x%02x)", uint8(f))
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Page header
// ───────────────────────────────────────────────────────────────────────────

// PageHeader is the 32-byte header present at the start of every page.
type PageHeader struct {
	CRC32      uint32  // CRC-32/ISO-HDLC of the decoded (logical) payload
	Version    Version // owning object's version at time of write
	PrevPageID PageID  // -1 if this is the head of its chain
	NextPageID PageID  // -1 if this is the tail of its chain
	Flags      Flags
	DataLength uint32 // on-disk payload length (post compress/encrypt)
}

// MarshalHeader writes h into the first PageHeaderSize bytes of buf.
func MarshalHeader(h *PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("pager: buffer too small for PageHeader")
	}
	binary.LittleEndian.PutUint32(buf[0:4], h.CRC32)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Version))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.PrevPageID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.NextPageID))
	buf[24] = byte(h.Flags)
	binary.LittleEndian.PutUint32(buf[25:29], h.DataLength)
	buf[29], buf[30], buf[31] = 0, 0, 0
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) PageHeader {
	var h PageHeader
	h.CRC32 = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = Version(binary.LittleEndian.Uint32(buf[4:8]))
	h.PrevPageID = PageID(binary.LittleEndian.Uint64(buf[8:16]))
	h.NextPageID = PageID(binary.LittleEndian.Uint64(buf[16:24]))
	h.Flags = Flags(buf[24])
	h.DataLength = binary.LittleEndian.Uint32(buf[25:29])
	return h
}

// ───────────────────────────────────────────────────────────────────────────
// CRC
// ───────────────────────────────────────────────────────────────────────────

// crcTable is CRC-32/ISO-HDLC, the algorithm spec.md §3 names explicitly —
// the standard library's default table, not the Castagnoli variant.
var crcTable = crc32.MakeTable(crc32.IEEE)

// ChecksumPayload computes the CRC-32/ISO-HDLC of decoded (logical) bytes.
func ChecksumPayload(payload []byte) uint32 {
	return crc32.Checksum(payload, crcTable)
}

// ───────────────────────────────────────────────────────────────────────────
// Page helper
// ───────────────────────────────────────────────────────────────────────────

// NewPageBuf allocates a zeroed page-sized buffer with its header pre-filled.
func NewPageBuf(pageSize int, flags Flags) []byte {
	buf := make([]byte, pageSize)
	h := &PageHeader{Flags: flags, PrevPageID: InvalidPageID, NextPageID: InvalidPageID}
	MarshalHeader(h, buf)
	return buf
}

// PayloadCapacity returns the maximum on-disk payload size for a given page size.
func PayloadCapacity(pageSize int) int {
	return pageSize - PageHeaderSize
}
