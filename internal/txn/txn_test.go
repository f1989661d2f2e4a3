package txn

import (
	"path/filepath"
	"testing"

	"github.com/pageforge/streamdb/internal/docstore"
	"github.com/pageforge/streamdb/internal/pager"
	"github.com/pageforge/streamdb/internal/pathtrie"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	dir := t.TempDir()
	pg, err := pager.Open(filepath.Join(dir, "test.sdb"), pager.Config{})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { pg.Close() })
	// Reserve page 0 for the header, as streamdb.Open does before building
	// a Coordinator; Commit writes the header there.
	if _, err := pg.ReadHeader(); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	wal, err := pager.OpenWAL(filepath.Join(dir, "test.wal"))
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	t.Cleanup(func() { wal.Close() })

	fl := pager.NewFreeList(pg)
	emptyRoot := pager.Root{Page: pager.InvalidPageID}

	return NewCoordinator(pg, wal, fl, 1<<20, docstore.NewIndex(), pathtrie.New(), emptyRoot, emptyRoot, emptyRoot)
}

func TestBeginRejectsSecondConcurrentTxn(t *testing.T) {
	c := newTestCoordinator(t)

	tx1, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if _, err := c.Begin(); err == nil {
		t.Fatal("expected second Begin to fail while first txn is active")
	}

	if err := tx1.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	tx2, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin after release: %v", err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestWriteCommitMakesDocumentVisible(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.Write("/a/b", []byte("payload"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ix, tr := c.State()
	gotID, ok := tr.Lookup("/a/b")
	if !ok || gotID != id {
		t.Fatalf("trie lookup after commit = %s, %v, want %s, true", gotID, ok, id)
	}
	rec, ok := ix.Get(id)
	if !ok {
		t.Fatal("expected record in index after commit")
	}
	got, err := docstore.ReadDocument(c.pg, rec, false)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("ReadDocument = %q, want payload", got)
	}
}

func TestWriteRollbackLeavesNoTrace(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.Write("/a/b", []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	_, tr := c.State()
	if _, ok := tr.Lookup("/a/b"); ok {
		t.Fatal("expected no binding after rollback")
	}
}

func TestOverwriteRetainsPriorVersion(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.Write("/a/b", []byte("v1"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	overwritten, err := tx2.Overwrite("/a/b", []byte("v2"))
	if err != nil {
		t.Fatalf("Overwrite: %v", err)
	}
	if overwritten != id {
		t.Fatalf("Overwrite returned id %s, want %s", overwritten, id)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ix, tr := c.State()
	gotID, ok := tr.Lookup("/a/b")
	if !ok || gotID != id {
		t.Fatalf("trie lookup after overwrite = %s, %v, want %s, true", gotID, ok, id)
	}
	rec, ok := ix.Get(id)
	if !ok {
		t.Fatal("expected record in index after overwrite")
	}
	if rec.CurrentVersion != 2 {
		t.Fatalf("CurrentVersion = %d, want 2", rec.CurrentVersion)
	}
	if len(rec.Retained) != 1 {
		t.Fatalf("Retained len = %d, want 1", len(rec.Retained))
	}
	got, err := docstore.ReadDocument(c.pg, rec, false)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("ReadDocument = %q, want v2", got)
	}
}

func TestOverwriteUnboundPathFails(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.Overwrite("/missing", []byte("v1")); err == nil {
		t.Fatal("expected error overwriting an unbound path")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestWriteDuplicatePathRejected(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.Write("/dup", []byte("one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := tx.Write("/dup", []byte("two")); err == nil {
		t.Fatal("expected error binding an already-bound path within the same txn")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestDeleteRemovesBindingAndDocument(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.Write("/to/delete", []byte("bye"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx2.Delete("/to/delete"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ix, tr := c.State()
	if _, ok := tr.Lookup("/to/delete"); ok {
		t.Fatal("expected binding removed after delete commit")
	}
	if _, ok := ix.Get(id); ok {
		t.Fatal("expected record removed from index after delete commit")
	}
}

func TestDeleteUnboundPathFails(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Delete("/nope"); err == nil {
		t.Fatal("expected error deleting an unbound path")
	}
	_ = tx.Rollback()
}

func TestBindAddsAdditionalAlias(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.Write("/primary", []byte("data"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tx.Bind(id, "/alias"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, tr := c.State()
	got, ok := tr.Lookup("/alias")
	if !ok || got != id {
		t.Fatalf("Lookup(/alias) = %s, %v, want %s, true", got, ok, id)
	}
}

func TestValidatePathRejectsInvalidPaths(t *testing.T) {
	cases := []string{"", "has\x00nul", "double//slash"}
	for _, p := range cases {
		if err := ValidatePath(p); err == nil {
			t.Fatalf("ValidatePath(%q) = nil, want error", p)
		}
	}
	if err := ValidatePath("/a/perfectly/fine/path"); err != nil {
		t.Fatalf("ValidatePath(valid) = %v, want nil", err)
	}
}

func TestOperationsAfterCommitFail(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.Write("/a", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := tx.Write("/b", []byte("y")); err == nil {
		t.Fatal("expected error writing on an already-committed txn")
	}
}

func TestCountFreePagesReflectsRollback(t *testing.T) {
	c := newTestCoordinator(t)

	tx, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.Write("/a", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	afterWrite, err := c.fl.CountFree(c.freeListRoot)
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	afterRollback, err := c.CountFreePages()
	if err != nil {
		t.Fatalf("CountFreePages: %v", err)
	}
	if afterRollback <= afterWrite {
		t.Fatalf("expected rollback to release the page it allocated: afterWrite=%d afterRollback=%d", afterWrite, afterRollback)
	}
}
