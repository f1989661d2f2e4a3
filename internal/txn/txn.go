// Package txn implements StreamDb's transaction coordinator (spec.md
// §4.6): a single-writer-at-a-time state machine that shadows mutations
// in a staging set until commit, appending WAL records before any page
// write and merging the staging set into the authoritative document
// index and path trie only at commit.
//
// Grounded on the teacher's scheduler/coordinator pattern
// (internal/storage/scheduler.go and concurrency.go in the teacher repo:
// a mutex-guarded "current transaction" with explicit begin/commit/
// rollback), adapted to spec.md's staging-set semantics rather than the
// teacher's direct-apply MVCC model.
package txn

import (
	"bytes"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pageforge/streamdb/internal/docstore"
	"github.com/pageforge/streamdb/internal/errs"
	"github.com/pageforge/streamdb/internal/pager"
	"github.com/pageforge/streamdb/internal/pathtrie"
)

const maxPathBytes = 1024

// ValidatePath enforces spec.md §3's path-validity invariant: non-empty,
// at most 1024 bytes, no NUL, no "//".
func ValidatePath(path string) error {
	if path == "" {
		return errors.Wrap(errs.ErrInvalidInput, "path must not be empty")
	}
	if len(path) > maxPathBytes {
		return errors.Wrapf(errs.ErrInvalidInput, "path exceeds %d bytes", maxPathBytes)
	}
	if strings.ContainsRune(path, 0) {
		return errors.Wrap(errs.ErrInvalidInput, "path must not contain NUL")
	}
	if strings.Contains(path, "//") {
		return errors.Wrap(errs.ErrInvalidInput, "path must not contain //")
	}
	return nil
}

// stagedKind identifies one buffered mutation.
type stagedKind int

const (
	stagedInsertDoc stagedKind = iota
	stagedDeleteDoc
	stagedBind
	stagedUnbind
	stagedOverwriteDoc
)

type stagedOp struct {
	kind         stagedKind
	rec          *docstore.Record // stagedInsertDoc
	id           uuid.UUID        // stagedDeleteDoc, stagedBind, stagedUnbind, stagedOverwriteDoc
	path         string           // stagedBind, stagedUnbind
	newFirstPage pager.PageID     // stagedOverwriteDoc
}

// Coordinator owns the authoritative document index and path trie, the
// pager, WAL, and free list beneath them, and enforces that at most one
// Txn is in flight at a time.
type Coordinator struct {
	pg              *pager.Pager
	wal             *pager.WAL
	fl              *pager.FreeList
	maxDocumentSize int64

	guardMu sync.Mutex
	active  bool
	nextTx  uint64

	stateMu       sync.RWMutex
	ix            *docstore.Index
	trie          *pathtrie.Trie
	docIndexRoot  pager.Root
	pathIndexRoot pager.Root
	freeListRoot  pager.Root
}

// NewCoordinator constructs a Coordinator over already-loaded state
// (typically produced by recovery on open).
func NewCoordinator(pg *pager.Pager, wal *pager.WAL, fl *pager.FreeList, maxDocumentSize int64, ix *docstore.Index, trie *pathtrie.Trie, docIndexRoot, pathIndexRoot, freeListRoot pager.Root) *Coordinator {
	return &Coordinator{
		pg: pg, wal: wal, fl: fl, maxDocumentSize: maxDocumentSize,
		ix: ix, trie: trie,
		docIndexRoot: docIndexRoot, pathIndexRoot: pathIndexRoot, freeListRoot: freeListRoot,
	}
}

// State returns references to the coordinator's current authoritative
// index and trie, for use by read-only operations (streamdb.Engine's
// get/search/list_paths/stats). Callers must not mutate the returned
// values; State acquires and releases stateMu's read lock around the
// snapshot of root values, but the index/trie pointers themselves are
// only ever replaced (never mutated in place) by Commit so holding them
// past the call is safe.
func (c *Coordinator) State() (*docstore.Index, *pathtrie.Trie) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.ix, c.trie
}

// Roots returns the coordinator's current header roots.
func (c *Coordinator) Roots() (doc, path, freeList pager.Root) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.docIndexRoot, c.pathIndexRoot, c.freeListRoot
}

// UpdateFreeListRoot overwrites the coordinator's free-list root, for use
// by maintenance operations (GC) that release pages outside the normal
// staged-transaction path but must still keep the coordinator's view of
// the free list current.
func (c *Coordinator) UpdateFreeListRoot(root pager.Root) {
	c.stateMu.Lock()
	c.freeListRoot = root
	c.stateMu.Unlock()
}

// CountFreePages walks the free list and returns how many page IDs it
// currently holds (spec.md §9 Open Questions, third bullet).
func (c *Coordinator) CountFreePages() (int, error) {
	_, _, freeRoot := c.Roots()
	return c.fl.CountFree(freeRoot)
}

// Txn is one in-flight transaction: a staging set plus the WAL TxID it
// was assigned at Begin.
type Txn struct {
	c        *Coordinator
	txID     uint64
	staged   []stagedOp
	allocated []pager.PageID // chain heads allocated during this txn, freed on Rollback
	done     bool
}

// Begin starts a new transaction. It fails with a TransactionError if
// another transaction is already in progress (spec.md §4.6).
func (c *Coordinator) Begin() (*Txn, error) {
	c.guardMu.Lock()
	if c.active {
		c.guardMu.Unlock()
		return nil, errs.TransactionError("already in progress")
	}
	c.active = true
	c.nextTx++
	txID := c.nextTx
	c.guardMu.Unlock()

	if err := c.wal.Append(pager.WALRecord{Op: pager.WALOpBegin, TxID: txID}); err != nil {
		c.guardMu.Lock()
		c.active = false
		c.guardMu.Unlock()
		return nil, err
	}
	return &Txn{c: c, txID: txID}, nil
}

func (t *Txn) checkOpen() error {
	if t.done {
		return errs.TransactionError("transaction already committed or rolled back")
	}
	return nil
}

// lookupStaged resolves a path against this transaction's own staged
// binds/unbinds layered over the authoritative trie, so a txn that writes
// then immediately binds/deletes the same path within itself behaves
// consistently before commit.
func (t *Txn) lookupStaged(path string) (uuid.UUID, bool) {
	id, bound := t.c.trie.Lookup(path)
	for _, op := range t.staged {
		switch op.kind {
		case stagedBind:
			if op.path == path {
				id, bound = op.id, true
			}
		case stagedUnbind:
			if op.path == path {
				bound = false
			}
		}
	}
	return id, bound
}

// Write creates a new document from data, binds path to its new id, and
// returns that id. path must be valid and not already bound.
func (t *Txn) Write(path string, data []byte) (uuid.UUID, error) {
	if err := t.checkOpen(); err != nil {
		return uuid.UUID{}, err
	}
	if err := ValidatePath(path); err != nil {
		return uuid.UUID{}, err
	}
	if _, bound := t.lookupStaged(path); bound {
		return uuid.UUID{}, errors.Wrapf(errs.ErrInvalidInput, "path %q already bound", path)
	}

	t.c.stateMu.RLock()
	freeRoot := t.c.freeListRoot
	t.c.stateMu.RUnlock()

	docID, err := uuid.NewRandom()
	if err != nil {
		return uuid.UUID{}, errors.Wrap(errs.ErrIO, "generate document id")
	}
	if err := t.c.wal.Append(pager.WALRecord{Op: pager.WALOpWrite, TxID: t.txID, Path: docID.String(), Value: data}); err != nil {
		return uuid.UUID{}, err
	}

	rec, newFreeRoot, err := docstore.WriteDocumentWithID(t.c.pg, t.c.fl, freeRoot, docID, bytes.NewReader(data), t.c.maxDocumentSize)
	if err != nil {
		return uuid.UUID{}, err
	}

	rec.Paths = []string{path}
	t.c.stateMu.Lock()
	t.c.freeListRoot = newFreeRoot
	t.c.stateMu.Unlock()

	t.allocated = append(t.allocated, rec.FirstPageID)
	t.staged = append(t.staged, stagedOp{kind: stagedInsertDoc, rec: rec})

	if err := t.c.wal.Append(pager.WALRecord{Op: pager.WALOpBind, TxID: t.txID, Path: path, Value: rec.ID[:]}); err != nil {
		return uuid.UUID{}, err
	}
	t.staged = append(t.staged, stagedOp{kind: stagedBind, id: rec.ID, path: path})

	return rec.ID, nil
}

// Overwrite replaces the bytes of the document currently bound to path,
// keeping its id and path bindings but retaining the superseded chain as a
// prior version until GCOldVersions prunes it (spec.md §4.3 step 4: "pushes
// the old (prev_version, old_first_page_id) onto that document's
// retained-versions list").
func (t *Txn) Overwrite(path string, data []byte) (uuid.UUID, error) {
	if err := t.checkOpen(); err != nil {
		return uuid.UUID{}, err
	}
	id, bound := t.lookupStaged(path)
	if !bound {
		return uuid.UUID{}, errors.Wrapf(errs.ErrNotFound, "path %q not bound", path)
	}

	t.c.stateMu.RLock()
	freeRoot := t.c.freeListRoot
	t.c.stateMu.RUnlock()

	if err := t.c.wal.Append(pager.WALRecord{Op: pager.WALOpOverwrite, TxID: t.txID, Path: id.String(), Value: data}); err != nil {
		return uuid.UUID{}, err
	}

	fresh, newFreeRoot, err := docstore.WriteDocument(t.c.pg, t.c.fl, freeRoot, bytes.NewReader(data), t.c.maxDocumentSize)
	if err != nil {
		return uuid.UUID{}, err
	}

	t.c.stateMu.Lock()
	t.c.freeListRoot = newFreeRoot
	t.c.stateMu.Unlock()

	t.allocated = append(t.allocated, fresh.FirstPageID)
	t.staged = append(t.staged, stagedOp{kind: stagedOverwriteDoc, id: id, newFirstPage: fresh.FirstPageID})

	return id, nil
}

// Delete removes path's binding and the underlying document (all
// versions), exactly as streamdb.Engine.Delete's contract requires.
func (t *Txn) Delete(path string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	id, bound := t.lookupStaged(path)
	if !bound {
		return errors.Wrapf(errs.ErrNotFound, "path %q not bound", path)
	}

	if err := t.c.wal.Append(pager.WALRecord{Op: pager.WALOpUnbind, TxID: t.txID, Path: path, Value: id[:]}); err != nil {
		return err
	}
	t.staged = append(t.staged, stagedOp{kind: stagedUnbind, id: id, path: path})

	if err := t.c.wal.Append(pager.WALRecord{Op: pager.WALOpDelete, TxID: t.txID, Path: id.String()}); err != nil {
		return err
	}
	t.staged = append(t.staged, stagedOp{kind: stagedDeleteDoc, id: id})
	return nil
}

// Bind adds path as an additional alias for id.
func (t *Txn) Bind(id uuid.UUID, path string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := ValidatePath(path); err != nil {
		return err
	}
	if _, bound := t.lookupStaged(path); bound {
		return errors.Wrapf(errs.ErrInvalidInput, "path %q already bound", path)
	}
	if err := t.c.wal.Append(pager.WALRecord{Op: pager.WALOpBind, TxID: t.txID, Path: path, Value: id[:]}); err != nil {
		return err
	}
	t.staged = append(t.staged, stagedOp{kind: stagedBind, id: id, path: path})
	return nil
}

// Unbind removes path as an alias for id, without deleting id's document.
func (t *Txn) Unbind(id uuid.UUID, path string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.c.wal.Append(pager.WALRecord{Op: pager.WALOpUnbind, TxID: t.txID, Path: path, Value: id[:]}); err != nil {
		return err
	}
	t.staged = append(t.staged, stagedOp{kind: stagedUnbind, id: id, path: path})
	return nil
}

// Commit merges the staging set into the authoritative document index and
// trie, persists the updated index roots via the pager, syncs the page
// file, and checkpoints the WAL. The merge happens independently of the WAL's own contents
// (spec.md §9 Open Questions, first bullet: the fix this spec requires).
func (t *Txn) Commit() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	defer t.release()

	t.c.stateMu.Lock()
	for _, op := range t.staged {
		switch op.kind {
		case stagedInsertDoc:
			t.c.ix.Put(op.rec)
		case stagedDeleteDoc:
			if rec, ok := t.c.ix.Get(op.id); ok {
				newFreeRoot, err := docstore.DeleteDocument(t.c.pg, t.c.fl, t.c.freeListRoot, rec)
				if err != nil {
					t.c.stateMu.Unlock()
					return err
				}
				for _, rv := range rec.Retained {
					newFreeRoot, err = docstore.FreeChain(t.c.pg, t.c.fl, newFreeRoot, rv.FirstPageID)
					if err != nil {
						t.c.stateMu.Unlock()
						return err
					}
				}
				t.c.freeListRoot = newFreeRoot
				t.c.ix.Delete(op.id)
			}
		case stagedOverwriteDoc:
			if rec, ok := t.c.ix.Get(op.id); ok {
				rec.Retained = append(rec.Retained, docstore.RetainedVersion{
					Version:     rec.CurrentVersion,
					FirstPageID: rec.FirstPageID,
				})
				rec.FirstPageID = op.newFirstPage
				rec.CurrentVersion++
			}
		case stagedBind:
			t.c.trie.Bind(op.path, op.id)
			if rec, ok := t.c.ix.Get(op.id); ok {
				rec.Paths = appendUnique(rec.Paths, op.path)
			}
		case stagedUnbind:
			t.c.trie.Unbind(op.path)
			if rec, ok := t.c.ix.Get(op.id); ok {
				rec.Paths = removeString(rec.Paths, op.path)
			}
		}
	}

	oldDocIndexRoot := t.c.docIndexRoot
	oldPathIndexRoot := t.c.pathIndexRoot

	docRoot, newFreeRoot, err := docstore.WriteChain(t.c.pg, t.c.fl, t.c.freeListRoot, t.c.ix, t.c.docIndexRoot.Version+1)
	if err != nil {
		t.c.stateMu.Unlock()
		return err
	}
	pathRoot, newFreeRoot2, err := pathtrie.WriteChain(t.c.pg, t.c.fl, newFreeRoot, t.c.trie, t.c.pathIndexRoot.Version+1)
	if err != nil {
		t.c.stateMu.Unlock()
		return err
	}

	// The index/trie chains just replaced are no longer reachable from the
	// header about to be written: free them so every commit doesn't leak a
	// full copy of both chains (spec.md §3 reachability invariant).
	freeRoot := newFreeRoot2
	if oldDocIndexRoot.Page != pager.InvalidPageID {
		freeRoot, err = docstore.FreeChain(t.c.pg, t.c.fl, freeRoot, oldDocIndexRoot.Page)
		if err != nil {
			t.c.stateMu.Unlock()
			return err
		}
	}
	if oldPathIndexRoot.Page != pager.InvalidPageID {
		freeRoot, err = docstore.FreeChain(t.c.pg, t.c.fl, freeRoot, oldPathIndexRoot.Page)
		if err != nil {
			t.c.stateMu.Unlock()
			return err
		}
	}

	t.c.docIndexRoot = docRoot
	t.c.pathIndexRoot = pathRoot
	t.c.freeListRoot = freeRoot

	hdr := &pager.Header{DocIndexRoot: t.c.docIndexRoot, PathIndexRoot: t.c.pathIndexRoot, FreeListRoot: t.c.freeListRoot}
	writeErr := t.c.pg.WriteHeader(hdr)
	t.c.stateMu.Unlock()
	if writeErr != nil {
		return writeErr
	}
	if err := t.c.pg.Sync(); err != nil {
		return err
	}

	return t.c.wal.Checkpoint()
}

// Rollback discards the staging set and frees any document pages this
// transaction allocated but never linked into the authoritative index.
// The WAL entries already appended are left in place; they are never
// replayed on recovery because the index roots were never advanced
// (spec.md §4.6).
func (t *Txn) Rollback() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	defer t.release()

	t.c.stateMu.Lock()
	freeRoot := t.c.freeListRoot
	for _, head := range t.allocated {
		newRoot, err := docstore.FreeChain(t.c.pg, t.c.fl, freeRoot, head)
		if err != nil {
			t.c.stateMu.Unlock()
			return err
		}
		freeRoot = newRoot
	}
	t.c.freeListRoot = freeRoot
	t.c.stateMu.Unlock()

	return t.c.wal.Append(pager.WALRecord{Op: pager.WALOpAbort, TxID: t.txID})
}

func (t *Txn) release() {
	t.done = true
	t.c.guardMu.Lock()
	t.c.active = false
	t.c.guardMu.Unlock()
}

func appendUnique(paths []string, path string) []string {
	for _, p := range paths {
		if p == path {
			return paths
		}
	}
	return append(paths, path)
}

func removeString(paths []string, path string) []string {
	out := paths[:0]
	for _, p := range paths {
		if p != path {
			out = append(out, p)
		}
	}
	return out
}
