package pager

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ───────────────────────────────────────────────────────────────────────────
// Database header — page 0
// ───────────────────────────────────────────────────────────────────────────
//
// Layout of page 0's logical payload (spec.md §3):
//
//	offset  size  field
//	0       8     Magic            55 AA FE ED FA CE DA 7A
//	8       12    DocIndexRoot     (page_id int64, version int32)
//	20      12    PathIndexRoot    (page_id int64, version int32)
//	32      12    FreeListRoot     (page_id int64, version int32)
//
// The header lives inside page 0's payload, after the common 32-byte page
// header, and is covered by the common page CRC like any other payload.

var magicBytes = [8]byte{0x55, 0xAA, 0xFE, 0xED, 0xFA, 0xCE, 0xDA, 0x7A}

const (
	rootEntrySize      = 12 // int64 page id + int32 version
	hdrMagicOff        = 0
	hdrDocIndexOff     = 8
	hdrPathIndexOff    = hdrDocIndexOff + rootEntrySize
	hdrFreeListOff     = hdrPathIndexOff + rootEntrySize
	HeaderPayloadBytes = hdrFreeListOff + rootEntrySize
)

// ErrBadMagic is returned by DecodeHeader when the magic bytes don't match.
var ErrBadMagic = errors.New("pager: bad database header magic")

// Root is a (page, version) pointer into the file, used for the three
// header roots: document index, path index, and free-list head.
type Root struct {
	Page    PageID
	Version Version
}

// Header is the decoded contents of page 0's payload.
type Header struct {
	DocIndexRoot  Root
	PathIndexRoot Root
	FreeListRoot  Root
}

// NewHeader returns a header with all roots pointing nowhere.
func NewHeader() *Header {
	none := Root{Page: InvalidPageID, Version: 0}
	return &Header{DocIndexRoot: none, PathIndexRoot: none, FreeListRoot: none}
}

// EncodeHeader serialises h into page 0's logical payload bytes.
func EncodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderPayloadBytes)
	copy(buf[hdrMagicOff:hdrMagicOff+8], magicBytes[:])
	putRoot(buf[hdrDocIndexOff:], h.DocIndexRoot)
	putRoot(buf[hdrPathIndexOff:], h.PathIndexRoot)
	putRoot(buf[hdrFreeListOff:], h.FreeListRoot)
	return buf
}

// DecodeHeader parses page 0's logical payload. It returns ErrBadMagic when
// the magic bytes don't match — callers must reinitialise the database on
// this error (spec.md §3: "Mismatched magic triggers reinitialisation").
func DecodeHeader(payload []byte) (*Header, error) {
	if len(payload) < HeaderPayloadBytes {
		return nil, errors.Wrap(ErrBadMagic, "header payload truncated")
	}
	if string(payload[hdrMagicOff:hdrMagicOff+8]) != string(magicBytes[:]) {
		return nil, ErrBadMagic
	}
	return &Header{
		DocIndexRoot:  getRoot(payload[hdrDocIndexOff:]),
		PathIndexRoot: getRoot(payload[hdrPathIndexOff:]),
		FreeListRoot:  getRoot(payload[hdrFreeListOff:]),
	}, nil
}

func putRoot(buf []byte, r Root) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Page))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Version))
}

func getRoot(buf []byte) Root {
	return Root{
		Page:    PageID(binary.LittleEndian.Uint64(buf[0:8])),
		Version: Version(binary.LittleEndian.Uint32(buf[8:12])),
	}
}
