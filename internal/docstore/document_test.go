package docstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/pageforge/streamdb/internal/pager"
)

func openTestPager(t *testing.T, pageSize int) (*pager.Pager, *pager.FreeList) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.sdb")
	p, err := pager.Open(path, pager.Config{PageSize: pageSize})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, pager.NewFreeList(p)
}

func TestWriteReadDocumentSinglePage(t *testing.T) {
	p, fl := openTestPager(t, pager.DefaultPageSize)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	payload := []byte("a small document")
	rec, freeListHead, err := WriteDocument(p, fl, freeListHead, bytes.NewReader(payload), 1<<20)
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	if rec.CurrentVersion != 1 {
		t.Fatalf("CurrentVersion = %d, want 1", rec.CurrentVersion)
	}

	got, err := ReadDocument(p, rec, false)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadDocument = %q, want %q", got, payload)
	}
	_ = freeListHead
}

func TestWriteReadDocumentMultiPageChain(t *testing.T) {
	p, fl := openTestPager(t, pager.MinPageSize)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	payload := bytes.Repeat([]byte("streamdb-chunk-"), 2000)
	rec, freeListHead, err := WriteDocument(p, fl, freeListHead, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}

	got, err := ReadDocument(p, rec, false)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("multi-page document round trip mismatch")
	}
	_ = freeListHead
}

func TestWriteDocumentExceedsMaxSizeFails(t *testing.T) {
	p, fl := openTestPager(t, pager.DefaultPageSize)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	payload := bytes.Repeat([]byte("x"), 100)
	if _, _, err := WriteDocument(p, fl, freeListHead, bytes.NewReader(payload), 10); err == nil {
		t.Fatal("expected error for document exceeding max_document_size")
	}
}

func TestGetStreamMatchesReadDocument(t *testing.T) {
	p, fl := openTestPager(t, pager.MinPageSize)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	payload := bytes.Repeat([]byte("stream-me-"), 1000)
	rec, _, err := WriteDocument(p, fl, freeListHead, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(GetStream(p, rec)); err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatal("GetStream contents mismatch")
	}
}

func TestOverwriteDocumentRetainsPriorVersion(t *testing.T) {
	p, fl := openTestPager(t, pager.DefaultPageSize)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	rec, freeListHead, err := WriteDocument(p, fl, freeListHead, bytes.NewReader([]byte("v1")), 1<<20)
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	oldFirstPage := rec.FirstPageID

	freeListHead, err = OverwriteDocument(p, fl, freeListHead, rec, bytes.NewReader([]byte("v2")), 1<<20)
	if err != nil {
		t.Fatalf("OverwriteDocument: %v", err)
	}

	if rec.CurrentVersion != 2 {
		t.Fatalf("CurrentVersion = %d, want 2", rec.CurrentVersion)
	}
	if len(rec.Retained) != 1 || rec.Retained[0].FirstPageID != oldFirstPage {
		t.Fatalf("expected retained version pointing at old chain, got %+v", rec.Retained)
	}

	got, err := ReadDocument(p, rec, false)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("ReadDocument = %q, want v2", got)
	}
	_ = freeListHead
}

func TestDeleteDocumentFreesChain(t *testing.T) {
	p, fl := openTestPager(t, pager.DefaultPageSize)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	rec, freeListHead, err := WriteDocument(p, fl, freeListHead, bytes.NewReader([]byte("gone soon")), 1<<20)
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}

	before, err := fl.CountFree(freeListHead)
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}

	freeListHead, err = DeleteDocument(p, fl, freeListHead, rec)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	after, err := fl.CountFree(freeListHead)
	if err != nil {
		t.Fatalf("CountFree: %v", err)
	}
	if after <= before {
		t.Fatalf("expected free page count to grow after delete: before=%d after=%d", before, after)
	}
}

func TestReadDocumentQuickModeRestoresPriorState(t *testing.T) {
	p, fl := openTestPager(t, pager.DefaultPageSize)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	rec, _, err := WriteDocument(p, fl, freeListHead, bytes.NewReader([]byte("quick")), 1<<20)
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}

	p.SetQuickMode(false)
	if _, err := ReadDocument(p, rec, true); err != nil {
		t.Fatalf("ReadDocument(quick=true): %v", err)
	}
	if p.QuickMode() {
		t.Fatal("expected quick mode to be restored to prior state after ReadDocument")
	}
}

func TestWriteDocumentWithIDIsDeterministic(t *testing.T) {
	p, fl := openTestPager(t, pager.DefaultPageSize)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	id := uuid.New()
	rec, _, err := WriteDocumentWithID(p, fl, freeListHead, id, bytes.NewReader([]byte("replayed")), 1<<20)
	if err != nil {
		t.Fatalf("WriteDocumentWithID: %v", err)
	}
	if rec.ID != id {
		t.Fatalf("rec.ID = %s, want %s", rec.ID, id)
	}
}
