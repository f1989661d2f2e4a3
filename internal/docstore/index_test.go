package docstore

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/pageforge/streamdb/internal/pager"
)

func TestIndexPutGetDelete(t *testing.T) {
	ix := NewIndex()
	rec := &Record{ID: uuid.New(), FirstPageID: 3, CurrentVersion: 1, Paths: []string{"/a"}}
	ix.Put(rec)

	got, ok := ix.Get(rec.ID)
	if !ok || got != rec {
		t.Fatalf("Get = %+v, %v, want %+v, true", got, ok, rec)
	}

	ix.Delete(rec.ID)
	if _, ok := ix.Get(rec.ID); ok {
		t.Fatal("expected record to be gone after Delete")
	}
}

func TestIndexEncodeDecodeRoundTrip(t *testing.T) {
	ix := NewIndex()
	rec1 := &Record{
		ID:             uuid.New(),
		FirstPageID:    10,
		CurrentVersion: 3,
		Paths:          []string{"/a", "/a/alias"},
		Retained: []RetainedVersion{
			{Version: 1, FirstPageID: 4},
			{Version: 2, FirstPageID: 7},
		},
	}
	rec2 := &Record{ID: uuid.New(), FirstPageID: 20, CurrentVersion: 1}
	ix.Put(rec1)
	ix.Put(rec2)

	decoded, err := Decode(Encode(ix))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	got1, ok := decoded.Get(rec1.ID)
	if !ok {
		t.Fatal("rec1 missing after round trip")
	}
	if got1.FirstPageID != rec1.FirstPageID || got1.CurrentVersion != rec1.CurrentVersion {
		t.Fatalf("rec1 fixed fields mismatch: got %+v, want %+v", got1, rec1)
	}
	if len(got1.Paths) != 2 || got1.Paths[0] != "/a" || got1.Paths[1] != "/a/alias" {
		t.Fatalf("rec1.Paths = %v, want [/a /a/alias]", got1.Paths)
	}
	if len(got1.Retained) != 2 {
		t.Fatalf("rec1.Retained len = %d, want 2", len(got1.Retained))
	}

	got2, ok := decoded.Get(rec2.ID)
	if !ok || got2.FirstPageID != rec2.FirstPageID {
		t.Fatalf("rec2 missing or mismatched after round trip: %+v", got2)
	}
}

func TestIndexDecodeTruncatedFails(t *testing.T) {
	if _, err := Decode([]byte{1, 2}); err == nil {
		t.Fatal("expected error for truncated index header")
	}
}

func TestIndexWriteChainReadChainRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sdb")
	p, err := pager.Open(path, pager.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	fl := pager.NewFreeList(p)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	ix := NewIndex()
	rec := &Record{ID: uuid.New(), FirstPageID: 5, CurrentVersion: 1, Paths: []string{"/p"}}
	ix.Put(rec)

	root, freeListHead, err := WriteChain(p, fl, freeListHead, ix, 1)
	if err != nil {
		t.Fatalf("WriteChain: %v", err)
	}

	got, err := ReadChain(p, root)
	if err != nil {
		t.Fatalf("ReadChain: %v", err)
	}
	gotRec, ok := got.Get(rec.ID)
	if !ok || gotRec.FirstPageID != rec.FirstPageID {
		t.Fatalf("record missing or mismatched after chain round trip: %+v", gotRec)
	}
	_ = freeListHead
}

func TestReadChainEmptyRootReturnsEmptyIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index_empty.sdb")
	p, err := pager.Open(path, pager.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	ix, err := ReadChain(p, pager.Root{Page: pager.InvalidPageID})
	if err != nil {
		t.Fatalf("ReadChain: %v", err)
	}
	if len(ix.All()) != 0 {
		t.Fatalf("expected empty index, got %d records", len(ix.All()))
	}
}
