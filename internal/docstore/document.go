package docstore

import (
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pageforge/streamdb/internal/errs"
	"github.com/pageforge/streamdb/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Document chains — a byte stream as a singly-linked chain of data pages
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's slotted/overflow page chaining
// (internal/storage/pager in the teacher repo: a record that overflows one
// page continues on a linked successor) generalised to spec.md §4.3's
// whole-document chain: every page of a document is a full data page, not
// a slot, and the chain head's id becomes the document's identity.

// WriteDocument reads r fully (bounded by maxDocumentSize), splits it into
// page_size-page_header_size chunks, allocates pages lazily via fl, writes
// the chain, and returns a fresh Record with a new UUIDv4 identity. The
// caller (internal/txn) is responsible for inserting the record into the
// Index and updating the trie.
func WriteDocument(p *pager.Pager, fl *pager.FreeList, freeListHead pager.Root, r io.Reader, maxDocumentSize int64) (*Record, pager.Root, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, freeListHead, errors.Wrap(errs.ErrIO, "generate document id")
	}
	return WriteDocumentWithID(p, fl, freeListHead, id, r, maxDocumentSize)
}

// WriteDocumentWithID is WriteDocument with an explicit id, used by WAL
// replay to re-run a crashed write deterministically against the id
// recorded in the log rather than minting a fresh one.
func WriteDocumentWithID(p *pager.Pager, fl *pager.FreeList, freeListHead pager.Root, id uuid.UUID, r io.Reader, maxDocumentSize int64) (*Record, pager.Root, error) {
	data, err := readBounded(r, maxDocumentSize)
	if err != nil {
		return nil, freeListHead, err
	}

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

	head := freeListHead
	ids := make([]pager.PageID, len(chunks))
	for i := range chunks {
		id, newHead, err := fl.Allocate(head)
		if err != nil {
			return nil, head, err
		}
		head = newHead
		ids[i] = id
	}

	for i := len(chunks) - 1; i >= 0; i-- {
		chunk := chunks[i]
		prev, next := pager.InvalidPageID, pager.InvalidPageID
		if i > 0 {
			prev = ids[i-1]
		}
		if i < len(chunks)-1 {
			next = ids[i+1]
		}
		// The successor page is written first where possible so a crash
		// never leaves a page's next_page_id pointing at an unwritten
		// page (spec.md §5 "a chain's next_page_id patch is written
		// after the successor page").
		if err := p.WritePage(ids[i], chunk, 0, prev, next, pager.FlagData); err != nil {
			return nil, head, err
		}
	}

	rec := &Record{
		ID:             id,
		FirstPageID:    ids[0],
		CurrentVersion: 1,
	}
	return rec, head, nil
}

// OverwriteDocument writes r as a brand new chain for an existing
// document, retaining the old chain as a prior version (spec.md §4.3 step
// 4: "pushes the old (prev_version, old_first_page_id) onto that
// document's retained-versions list"). The record's Paths are preserved.
func OverwriteDocument(p *pager.Pager, fl *pager.FreeList, freeListHead pager.Root, rec *Record, r io.Reader, maxDocumentSize int64) (pager.Root, error) {
	fresh, newHead, err := WriteDocument(p, fl, freeListHead, r, maxDocumentSize)
	if err != nil {
		return freeListHead, err
	}

	rec.Retained = append(rec.Retained, RetainedVersion{
		Version:     rec.CurrentVersion,
		FirstPageID: rec.FirstPageID,
	})
	rec.FirstPageID = fresh.FirstPageID
	rec.CurrentVersion++
	return newHead, nil
}

func readBounded(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	if int64(len(data)) > limit {
		return nil, errors.Wrapf(errs.ErrInvalidInput, "document exceeds max_document_size %d", limit)
	}
	return data, nil
}

// ReadDocument walks rec's current chain and returns its full contents. If
// quick is true, the pager's CRC verification is suspended for the
// duration of the read (spec.md §4.1 "quick mode... used for
// throughput-sensitive scans").
func ReadDocument(p *pager.Pager, rec *Record, quick bool) ([]byte, error) {
	return readChain(p, rec.FirstPageID, quick)
}

func readChain(p *pager.Pager, head pager.PageID, quick bool) ([]byte, error) {
	if quick {
		prior := p.QuickMode()
		p.SetQuickMode(true)
		defer p.SetQuickMode(prior)
	}

	var data []byte
	id := head
	for id != pager.InvalidPageID {
		payload, hdr, err := p.ReadPage(id)
		if err != nil {
			return nil, err
		}
		data = append(data, payload...)
		id = hdr.NextPageID
	}
	return data, nil
}

// chainReader lazily walks a document's pages one at a time, handing back
// each page's payload as it is read, so callers streaming a large
// document are never forced to materialise the whole thing (spec.md §4.3
// "get_stream... returns a lazy per-page iterator").
type chainReader struct {
	p      *pager.Pager
	next   pager.PageID
	buf    []byte
	offset int
}

// GetStream returns an io.Reader over rec's current chain that reads one
// page at a time.
func GetStream(p *pager.Pager, rec *Record) io.Reader {
	return &chainReader{p: p, next: rec.FirstPageID}
}

func (c *chainReader) Read(dst []byte) (int, error) {
	if c.offset >= len(c.buf) {
		if c.next == pager.InvalidPageID {
			return 0, io.EOF
		}
		payload, hdr, err := c.p.ReadPage(c.next)
		if err != nil {
			return 0, err
		}
		c.buf = payload
		c.offset = 0
		c.next = hdr.NextPageID
	}
	n := copy(dst, c.buf[c.offset:])
	c.offset += n
	return n, nil
}

// FreeChain releases every page of the chain starting at head back to the
// free list, returning the updated free-list head.
func FreeChain(p *pager.Pager, fl *pager.FreeList, freeListHead pager.Root, head pager.PageID) (pager.Root, error) {
	freeHead := freeListHead
	id := head
	for id != pager.InvalidPageID {
		_, hdr, err := p.ReadPage(id)
		if err != nil {
			return freeHead, err
		}
		next := hdr.NextPageID
		freeHead, err = fl.Release(freeHead, id)
		if err != nil {
			return freeHead, err
		}
		id = next
	}
	return freeHead, nil
}

// DeleteDocument frees every page of rec's current chain. Prior (retained)
// version chains are left intact until GCOldVersions prunes them.
func DeleteDocument(p *pager.Pager, fl *pager.FreeList, freeListHead pager.Root, rec *Record) (pager.Root, error) {
	return FreeChain(p, fl, freeListHead, rec.FirstPageID)
}
