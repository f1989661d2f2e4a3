package streamdb

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pageforge/streamdb/internal/docstore"
	"github.com/pageforge/streamdb/internal/errs"
	"github.com/pageforge/streamdb/internal/pager"
	"github.com/pageforge/streamdb/internal/pathtrie"
)

// recoveryState carries the in-memory structures recovery.Replay mutates
// directly, since no internal/txn.Coordinator exists yet this early in
// Open (spec.md §4.5's 6-step algorithm, step 5: "replay WAL entries in
// order, applying each to the in-memory state").
type recoveryState struct {
	pg              *pager.Pager
	fl              *pager.FreeList
	ix              *docstore.Index
	tr              *pathtrie.Trie
	maxDocumentSize int64

	freeListRoot pager.Root
}

// recover runs spec.md §4.5's recovery algorithm: load the header
// (already done by pg.ReadHeader before this is called), load the index
// and free-list roots, load the trie and document index from their
// chains, sweep pages accounted for by neither (step 4), replay the WAL,
// and checkpoint.
func recover(pg *pager.Pager, wal *pager.WAL, fl *pager.FreeList, hdr *pager.Header, maxDocumentSize int64) (*docstore.Index, *pathtrie.Trie, pager.Root, error) {
	ix, err := docstore.ReadChain(pg, hdr.DocIndexRoot)
	if err != nil {
		return nil, nil, pager.Root{}, errors.Wrap(err, "recover: load document index")
	}
	tr, err := pathtrie.ReadChain(pg, hdr.PathIndexRoot)
	if err != nil {
		return nil, nil, pager.Root{}, errors.Wrap(err, "recover: load path trie")
	}

	sweptFreeRoot, err := sweepOrphanPages(pg, fl, hdr, ix, hdr.FreeListRoot)
	if err != nil {
		return nil, nil, pager.Root{}, errors.Wrap(err, "recover: sweep orphan pages")
	}

	st := &recoveryState{pg: pg, fl: fl, ix: ix, tr: tr, maxDocumentSize: maxDocumentSize, freeListRoot: sweptFreeRoot}

	if err := pager.Replay(wal, st.apply); err != nil {
		return nil, nil, pager.Root{}, errors.Wrap(err, "recover: replay WAL")
	}

	if err := wal.Checkpoint(); err != nil {
		return nil, nil, pager.Root{}, errors.Wrap(err, "recover: checkpoint")
	}

	return st.ix, st.tr, st.freeListRoot, nil
}

// apply re-runs one surviving logical operation against the in-memory
// index and trie. It never restores a raw page image — re-running the
// operation is itself the fix for spec.md §9's first Open Question, and
// means a replayed write allocates fresh pages rather than trusting
// whatever was left on disk by the crashed attempt.
func (st *recoveryState) apply(rec pager.WALRecord) error {
	switch rec.Op {
	case pager.WALOpWrite:
		id, err := uuid.Parse(rec.Path)
		if err != nil {
			return errors.Wrap(errs.ErrInvalidData, "recover: bad document id in WAL write record")
		}
		doc, newFreeRoot, err := docstore.WriteDocumentWithID(st.pg, st.fl, st.freeListRoot, id, bytes.NewReader(rec.Value), st.maxDocumentSize)
		if err != nil {
			return err
		}
		st.freeListRoot = newFreeRoot
		st.ix.Put(doc)
		return nil

	case pager.WALOpOverwrite:
		id, err := uuid.Parse(rec.Path)
		if err != nil {
			return errors.Wrap(errs.ErrInvalidData, "recover: bad document id in WAL overwrite record")
		}
		fresh, newFreeRoot, err := docstore.WriteDocument(st.pg, st.fl, st.freeListRoot, bytes.NewReader(rec.Value), st.maxDocumentSize)
		if err != nil {
			return err
		}
		st.freeListRoot = newFreeRoot
		if existing, ok := st.ix.Get(id); ok {
			existing.Retained = append(existing.Retained, docstore.RetainedVersion{
				Version:     existing.CurrentVersion,
				FirstPageID: existing.FirstPageID,
			})
			existing.FirstPageID = fresh.FirstPageID
			existing.CurrentVersion++
		}
		return nil

	case pager.WALOpDelete:
		id, err := uuid.Parse(rec.Path)
		if err != nil {
			return errors.Wrap(errs.ErrInvalidData, "recover: bad document id in WAL delete record")
		}
		if existing, ok := st.ix.Get(id); ok {
			newFreeRoot, err := docstore.DeleteDocument(st.pg, st.fl, st.freeListRoot, existing)
			if err != nil {
				return err
			}
			st.freeListRoot = newFreeRoot
			st.ix.Delete(id)
		}
		return nil

	case pager.WALOpBind:
		id, err := uuid.FromBytes(rec.Value)
		if err != nil {
			return errors.Wrap(errs.ErrInvalidData, "recover: bad id in WAL bind record")
		}
		st.tr.Bind(rec.Path, id)
		if doc, ok := st.ix.Get(id); ok {
			doc.Paths = appendUniquePath(doc.Paths, rec.Path)
		}
		return nil

	case pager.WALOpUnbind:
		st.tr.Unbind(rec.Path)
		if id, err := uuid.FromBytes(rec.Value); err == nil {
			if doc, ok := st.ix.Get(id); ok {
				doc.Paths = removeStringPath(doc.Paths, rec.Path)
			}
		}
		return nil
	}
	return nil
}

// sweepOrphanPages implements spec.md §4.5 step 4: for every page
// accounted for by neither the document/trie indices nor the free list,
// read its header. An unreadable or CRC-mismatched page is corrupt and
// released straight to the free list (tolerant recovery). A readable page
// that is a document chain head (no predecessor, FlagData set) is left
// alone — its chain is "accepted" by marking it accounted for, not
// reclaimed, since it may be the product of a write the WAL has yet to
// replay. Anything else unaccounted for (a stray continuation page, or a
// page that is neither a recognised head nor corrupt) is released.
func sweepOrphanPages(pg *pager.Pager, fl *pager.FreeList, hdr *pager.Header, ix *docstore.Index, freeListRoot pager.Root) (pager.Root, error) {
	accounted, err := fl.KnownPages(freeListRoot)
	if err != nil {
		return freeListRoot, err
	}
	accounted[0] = true // page 0 is always the header

	if err := collectChainPages(pg, hdr.DocIndexRoot.Page, accounted); err != nil {
		return freeListRoot, err
	}
	if err := collectChainPages(pg, hdr.PathIndexRoot.Page, accounted); err != nil {
		return freeListRoot, err
	}
	for _, rec := range ix.All() {
		if err := collectChainPages(pg, rec.FirstPageID, accounted); err != nil {
			return freeListRoot, err
		}
		for _, rv := range rec.Retained {
			if err := collectChainPages(pg, rv.FirstPageID, accounted); err != nil {
				return freeListRoot, err
			}
		}
	}

	freeRoot := freeListRoot
	total := pg.NumPages()
	for id := pager.PageID(1); id < pager.PageID(total); id++ {
		if accounted[id] {
			continue
		}

		_, ph, err := pg.ReadPage(id)
		if err != nil {
			freeRoot, err = fl.Release(freeRoot, id)
			if err != nil {
				return freeRoot, err
			}
			accounted[id] = true
			continue
		}

		if ph.PrevPageID == pager.InvalidPageID && ph.Flags&pager.FlagData != 0 {
			if err := collectChainPages(pg, id, accounted); err != nil {
				return freeRoot, err
			}
			continue
		}

		freeRoot, err = fl.Release(freeRoot, id)
		if err != nil {
			return freeRoot, err
		}
		accounted[id] = true
	}
	return freeRoot, nil
}

// collectChainPages walks the chain rooted at head and marks every page it
// visits as accounted for in into. A head of InvalidPageID is a no-op.
func collectChainPages(pg *pager.Pager, head pager.PageID, into map[pager.PageID]bool) error {
	id := head
	for id != pager.InvalidPageID {
		if into[id] {
			return nil
		}
		_, hdr, err := pg.ReadPage(id)
		if err != nil {
			return err
		}
		into[id] = true
		id = hdr.NextPageID
	}
	return nil
}

func appendUniquePath(paths []string, path string) []string {
	for _, p := range paths {
		if p == path {
			return paths
		}
	}
	return append(paths, path)
}

func removeStringPath(paths []string, path string) []string {
	out := paths[:0]
	for _, p := range paths {
		if p != path {
			out = append(out, p)
		}
	}
	return out
}
