package pathtrie

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/pageforge/streamdb/internal/pager"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tr := New()
	ids := map[string]uuid.UUID{
		"/a":     uuid.New(),
		"/a/b":   uuid.New(),
		"/a/b/c": uuid.New(),
	}
	for p, id := range ids {
		tr.Bind(p, id)
	}

	decoded, err := Decode(Encode(tr))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for p, id := range ids {
		got, ok := decoded.Lookup(p)
		if !ok || got != id {
			t.Fatalf("Lookup(%q) = %s, %v, want %s, true", p, got, ok, id)
		}
	}
}

func TestDecodeTruncatedHeaderFails(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decoding truncated arena header")
	}
}

func TestWriteChainReadChainRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trie.sdb")
	p, err := pager.Open(path, pager.Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	fl := pager.NewFreeList(p)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	tr := New()
	tr.Bind("/a/b/c", uuid.New())
	tr.Bind("/a/b/d", uuid.New())

	root, freeListHead, err := WriteChain(p, fl, freeListHead, tr, 1)
	if err != nil {
		t.Fatalf("WriteChain: %v", err)
	}

	got, err := ReadChain(p, root)
	if err != nil {
		t.Fatalf("ReadChain: %v", err)
	}
	for _, path := range []string{"/a/b/c", "/a/b/d"} {
		want, _ := tr.Lookup(path)
		gotID, ok := got.Lookup(path)
		if !ok || gotID != want {
			t.Fatalf("Lookup(%q) after round trip = %s, %v, want %s", path, gotID, ok, want)
		}
	}
	_ = freeListHead
}

func TestWriteChainSpansMultiplePages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trie_big.sdb")
	p, err := pager.Open(path, pager.Config{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	fl := pager.NewFreeList(p)
	freeListHead := pager.Root{Page: pager.InvalidPageID}

	tr := New()
	for i := 0; i < 2000; i++ {
		tr.Bind(syntheticPath(i), uuid.New())
	}

	root, _, err := WriteChain(p, fl, freeListHead, tr, 1)
	if err != nil {
		t.Fatalf("WriteChain: %v", err)
	}

	got, err := ReadChain(p, root)
	if err != nil {
		t.Fatalf("ReadChain: %v", err)
	}
	for i := 0; i < 2000; i++ {
		path := syntheticPath(i)
		want, _ := tr.Lookup(path)
		gotID, ok := got.Lookup(path)
		if !ok || gotID != want {
			t.Fatalf("Lookup(%q) after multi-page round trip mismatch", path)
		}
	}
}

func syntheticPath(i int) string {
	digits := []byte{byte('0' + i%10), byte('0' + (i/10)%10), byte('0' + (i/100)%10), byte('0' + (i/1000)%10)}
	return "/docs/" + string(digits)
}
