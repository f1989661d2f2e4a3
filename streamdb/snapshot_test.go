package streamdb

import (
	"path/filepath"
	"testing"
)

func TestSnapshotIsIndependentCopy(t *testing.T) {
	e, err := Open(newTestConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if _, err := e.Write("/a", []byte("original")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snapPath := filepath.Join(t.TempDir(), "snap.sdb")
	snap, err := e.Snapshot(snapPath)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()

	got, err := snap.Get("/a")
	if err != nil {
		t.Fatalf("Get on snapshot: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("Get on snapshot = %q, want original", got)
	}

	// Writes to the live engine after the snapshot was taken must not
	// appear in the snapshot.
	if _, err := e.Write("/b", []byte("post-snapshot")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := snap.Get("/b"); err == nil {
		t.Fatal("expected snapshot to be unaffected by writes made after it was taken")
	}
}
