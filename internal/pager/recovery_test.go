package pager

import (
	"testing"

	"github.com/pkg/errors"
)

func TestReplayAppliesOnlyCommittedTransactions(t *testing.T) {
	w := openTestWAL(t)

	// Tx 1 reaches commit: its operations must be replayed.
	writeAll(t, w, []WALRecord{
		{Op: WALOpBegin, TxID: 1},
		{Op: WALOpWrite, TxID: 1, Path: "doc-1", Value: []byte("a")},
		{Op: WALOpCommit, TxID: 1},
	})
	// Tx 2 never commits (simulated crash mid-transaction): its operations
	// must be discarded.
	writeAll(t, w, []WALRecord{
		{Op: WALOpBegin, TxID: 2},
		{Op: WALOpWrite, TxID: 2, Path: "doc-2", Value: []byte("b")},
	})

	var applied []WALRecord
	err := Replay(w, func(r WALRecord) error {
		applied = append(applied, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(applied) != 1 {
		t.Fatalf("Replay applied %d records, want 1 (only tx 1's write)", len(applied))
	}
	if applied[0].TxID != 1 || applied[0].Path != "doc-1" {
		t.Fatalf("Replay applied %+v, want tx 1's write", applied[0])
	}
}

func TestReplayEmptyLogIsNoop(t *testing.T) {
	w := openTestWAL(t)
	called := false
	if err := Replay(w, func(WALRecord) error { called = true; return nil }); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if called {
		t.Fatal("expected no apply calls for an empty WAL")
	}
}

func TestReplayPropagatesApplyError(t *testing.T) {
	w := openTestWAL(t)
	writeAll(t, w, []WALRecord{
		{Op: WALOpBegin, TxID: 1},
		{Op: WALOpWrite, TxID: 1, Path: "doc-1", Value: []byte("a")},
		{Op: WALOpCommit, TxID: 1},
	})

	sentinel := errors.New("boom")
	err := Replay(w, func(WALRecord) error { return sentinel })
	if err == nil {
		t.Fatal("expected Replay to propagate apply's error")
	}
}

func writeAll(t *testing.T, w *WAL, recs []WALRecord) {
	t.Helper()
	for _, r := range recs {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}
