// Package docstore implements StreamDb's document store (spec.md §4.3):
// chunking a byte stream into a page chain, the document-id→record index,
// and per-document version retention and GC.
package docstore

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pageforge/streamdb/internal/errs"
	"github.com/pageforge/streamdb/internal/pager"
)

// RetainedVersion is a prior version of a document kept around until GC.
type RetainedVersion struct {
	Version     pager.Version
	FirstPageID pager.PageID
}

// Record is a document record (spec.md §3: "id, first_page_id,
// current_version, paths").
type Record struct {
	ID             uuid.UUID
	FirstPageID    pager.PageID
	CurrentVersion pager.Version
	Paths          []string
	Retained       []RetainedVersion
}

// Index is the in-memory document-id→Record table, persisted as a chain
// of index pages exactly like internal/pathtrie's arena (spec.md §4.5
// "the document-id→document-record table... serialised into index
// pages").
type Index struct {
	records map[uuid.UUID]*Record
}

// NewIndex returns an empty document index.
func NewIndex() *Index {
	return &Index{records: make(map[uuid.UUID]*Record)}
}

// Get returns the record for id, if present.
func (ix *Index) Get(id uuid.UUID) (*Record, bool) {
	r, ok := ix.records[id]
	return r, ok
}

// Put inserts or replaces the record for rec.ID.
func (ix *Index) Put(rec *Record) {
	ix.records[rec.ID] = rec
}

// Delete removes the record for id.
func (ix *Index) Delete(id uuid.UUID) {
	delete(ix.records, id)
}

// All returns every record in the index, in unspecified order.
func (ix *Index) All() []*Record {
	out := make([]*Record, 0, len(ix.records))
	for _, r := range ix.records {
		out = append(out, r)
	}
	return out
}

// ── Encoding ─────────────────────────────────────────────────────────────
//
// Record stream: [4]count, then per record:
//
//	[16]   id
//	[8]    first_page_id (i64 LE)
//	[4]    current_version (i32 LE)
//	[4]    path count
//	per path: [4]len + bytes
//	[4]    retained count
//	per retained: [4]version + [8]first_page_id

// Encode flattens ix into a single byte stream.
func Encode(ix *Index) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(ix.records)))

	for _, r := range ix.records {
		idBytes, _ := r.ID.MarshalBinary()
		buf = append(buf, idBytes...)

		var fixed [16]byte
		binary.LittleEndian.PutUint64(fixed[0:8], uint64(int64(r.FirstPageID)))
		binary.LittleEndian.PutUint32(fixed[8:12], uint32(r.CurrentVersion))
		binary.LittleEndian.PutUint32(fixed[12:16], uint32(len(r.Paths)))
		buf = append(buf, fixed[:]...)

		for _, p := range r.Paths {
			var lenBuf [4]byte
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, []byte(p)...)
		}

		var retCountBuf [4]byte
		binary.LittleEndian.PutUint32(retCountBuf[:], uint32(len(r.Retained)))
		buf = append(buf, retCountBuf[:]...)
		for _, rv := range r.Retained {
			var rvBuf [12]byte
			binary.LittleEndian.PutUint32(rvBuf[0:4], uint32(rv.Version))
			binary.LittleEndian.PutUint64(rvBuf[4:12], uint64(int64(rv.FirstPageID)))
			buf = append(buf, rvBuf[:]...)
		}
	}
	return buf
}

// Decode rebuilds an Index from bytes produced by Encode.
func Decode(data []byte) (*Index, error) {
	if len(data) < 4 {
		return nil, errors.Wrap(errs.ErrInvalidData, "docstore: truncated index header")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	ix := NewIndex()
	off := 4

	readU32 := func() (uint32, error) {
		if off+4 > len(data) {
			return 0, errors.Wrap(errs.ErrInvalidData, "docstore: truncated record")
		}
		v := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		return v, nil
	}

	for i := 0; i < count; i++ {
		if off+16 > len(data) {
			return nil, errors.Wrap(errs.ErrInvalidData, "docstore: truncated id")
		}
		id, err := uuid.FromBytes(data[off : off+16])
		if err != nil {
			return nil, errors.Wrap(errs.ErrInvalidData, "docstore: bad uuid")
		}
		off += 16

		if off+16 > len(data) {
			return nil, errors.Wrap(errs.ErrInvalidData, "docstore: truncated fixed fields")
		}
		firstPage := pager.PageID(int64(binary.LittleEndian.Uint64(data[off : off+8])))
		version := pager.Version(binary.LittleEndian.Uint32(data[off+8 : off+12]))
		pathCount := binary.LittleEndian.Uint32(data[off+12 : off+16])
		off += 16

		rec := &Record{ID: id, FirstPageID: firstPage, CurrentVersion: version}
		for p := uint32(0); p < pathCount; p++ {
			plen, err := readU32()
			if err != nil {
				return nil, err
			}
			if off+int(plen) > len(data) {
				return nil, errors.Wrap(errs.ErrInvalidData, "docstore: truncated path")
			}
			rec.Paths = append(rec.Paths, string(data[off:off+int(plen)]))
			off += int(plen)
		}

		retCount, err := readU32()
		if err != nil {
			return nil, err
		}
		for r := uint32(0); r < retCount; r++ {
			if off+12 > len(data) {
				return nil, errors.Wrap(errs.ErrInvalidData, "docstore: truncated retained version")
			}
			ver := pager.Version(binary.LittleEndian.Uint32(data[off : off+4]))
			fp := pager.PageID(int64(binary.LittleEndian.Uint64(data[off+4 : off+12])))
			rec.Retained = append(rec.Retained, RetainedVersion{Version: ver, FirstPageID: fp})
			off += 12
		}

		ix.Put(rec)
	}
	return ix, nil
}

// WriteChain writes the encoded index through p as a chain of FlagIndex
// pages, exactly as internal/pathtrie.WriteChain does for the trie arena,
// and returns the new chain's head as a Root plus the updated free-list
// head.
func WriteChain(p *pager.Pager, fl *pager.FreeList, freeListHead pager.Root, ix *Index, version pager.Version) (pager.Root, pager.Root, error) {
	data := Encode(ix)
	chunkSize := pager.PayloadCapacity(p.PageSize())

	var chunks [][]byte
	if len(data) == 0 {
		chunks = [][]byte{{}}
	}
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}

	ids := make([]pager.PageID, len(chunks))
	head := freeListHead
	for i := range chunks {
		id, newHead, err := fl.Allocate(head)
		if err != nil {
			return pager.Root{}, head, err
		}
		head = newHead
		ids[i] = id
	}

	for i, chunk := range chunks {
		prev, next := pager.InvalidPageID, pager.InvalidPageID
		if i > 0 {
			prev = ids[i-1]
		}
		if i < len(chunks)-1 {
			next = ids[i+1]
		}
		if err := p.WritePage(ids[i], chunk, version, prev, next, pager.FlagIndex); err != nil {
			return pager.Root{}, head, err
		}
	}

	return pager.Root{Page: ids[0], Version: version}, head, nil
}

// ReadChain reads the chain rooted at root and decodes it into an Index.
func ReadChain(p *pager.Pager, root pager.Root) (*Index, error) {
	if root.Page == pager.InvalidPageID {
		return NewIndex(), nil
	}
	var data []byte
	id := root.Page
	for id != pager.InvalidPageID {
		payload, hdr, err := p.ReadPage(id)
		if err != nil {
			return nil, err
		}
		data = append(data, payload...)
		id = hdr.NextPageID
	}
	return Decode(data)
}
