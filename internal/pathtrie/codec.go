package pathtrie

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pageforge/streamdb/internal/errs"
	"github.com/pageforge/streamdb/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// On-disk codec — the whole arena as a chain of index pages
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's chain-of-pages document layout
// (internal/storage/pager in the teacher repo): the trie's arena is
// flattened into one byte stream and split across a singly-linked chain
// of FlagIndex pages, exactly like a document store chain, because
// spec.md §4.5 calls the trie root "serialised... into index pages
// referenced from the database header" without prescribing a format of
// its own.
//
// Per-node record:
//
//	[0]     hasValue (1 byte)
//	[1:17]  value (16-byte UUID, present only if hasValue)
//	[.. :4] childCount (uint32 LE)
//	per child: [1 byte key][4 bytes childIndex LE]
//
// Arena header: [0:4] node count (uint32 LE), [4:8] root index (int32 LE).

// Encode flattens t's entire arena (every snapshot it still holds nodes
// for) into a single byte stream.
func Encode(t *Trie) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(t.arena)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(t.root)))

	for _, n := range t.arena {
		if n.value != nil {
			buf = append(buf, 1)
			idBytes, _ := n.value.MarshalBinary()
			buf = append(buf, idBytes...)
		} else {
			buf = append(buf, 0)
		}
		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(n.children)))
		buf = append(buf, countBuf[:]...)
		for k, v := range n.children {
			buf = append(buf, k)
			var refBuf [4]byte
			binary.LittleEndian.PutUint32(refBuf[:], uint32(int32(v)))
			buf = append(buf, refBuf[:]...)
		}
	}
	return buf
}

// Decode rebuilds a Trie from bytes produced by Encode.
func Decode(data []byte) (*Trie, error) {
	if len(data) < 8 {
		return nil, errors.Wrap(errs.ErrInvalidData, "pathtrie: truncated arena header")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	root := NodeRef(int32(binary.LittleEndian.Uint32(data[4:8])))

	t := &Trie{arena: make([]node, 0, count), root: root}
	off := 8
	for i := 0; i < count; i++ {
		if off >= len(data) {
			return nil, errors.Wrap(errs.ErrInvalidData, "pathtrie: truncated node record")
		}
		hasValue := data[off] == 1
		off++
		var value *uuid.UUID
		if hasValue {
			if off+16 > len(data) {
				return nil, errors.Wrap(errs.ErrInvalidData, "pathtrie: truncated uuid")
			}
			id, err := uuid.FromBytes(data[off : off+16])
			if err != nil {
				return nil, errors.Wrap(errs.ErrInvalidData, "pathtrie: bad uuid")
			}
			value = &id
			off += 16
		}
		if off+4 > len(data) {
			return nil, errors.Wrap(errs.ErrInvalidData, "pathtrie: truncated child count")
		}
		childCount := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		children := make(map[byte]NodeRef, childCount)
		for c := 0; c < childCount; c++ {
			if off+5 > len(data) {
				return nil, errors.Wrap(errs.ErrInvalidData, "pathtrie: truncated child entry")
			}
			key := data[off]
			ref := NodeRef(int32(binary.LittleEndian.Uint32(data[off+1 : off+5])))
			children[key] = ref
			off += 5
		}
		t.arena = append(t.arena, node{children: children, value: value})
	}
	return t, nil
}

// WriteChain writes the encoded arena through p as a chain of FlagIndex
// pages allocated via fl, and returns the new chain's head as a Root plus
// the updated free-list head. It does not free any previous chain; the
// caller releases a superseded chain itself.
func WriteChain(p *pager.Pager, fl *pager.FreeList, freeListHead pager.Root, t *Trie, version pager.Version) (pager.Root, pager.Root, error) {
	data := Encode(t)
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

// ReadChain reads the chain rooted at root and decodes it into a Trie.
func ReadChain(p *pager.Pager, root pager.Root) (*Trie, error) {
	if root.Page == pager.InvalidPageID {
		return New(), nil
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
