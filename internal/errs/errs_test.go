package errs

import (
	"testing"

	"github.com/pkg/errors"
)

func TestCodeOfMapsEachSentinel(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeSuccess},
		{ErrIO, CodeIO},
		{ErrNotFound, CodeNotFound},
		{ErrInvalidInput, CodeInvalidInput},
		{ErrInvalidData, CodeInvalidData},
		{ErrEncryption, CodeEncryption},
		{ErrTransaction, CodeTransaction},
		{ErrPanic, CodePanic},
	}
	for _, c := range cases {
		if got := CodeOf(c.err); got != c.want {
			t.Errorf("CodeOf(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestCodeOfWrappedError(t *testing.T) {
	wrapped := errors.Wrap(ErrNotFound, "document missing")
	if got := CodeOf(wrapped); got != CodeNotFound {
		t.Fatalf("CodeOf(wrapped) = %d, want %d", got, CodeNotFound)
	}
}

func TestCodeOfUnclassifiedErrorIsIO(t *testing.T) {
	if got := CodeOf(errors.New("something else entirely")); got != CodeIO {
		t.Fatalf("CodeOf(unclassified) = %d, want %d", got, CodeIO)
	}
}

func TestTransactionErrorWrapsErrTransaction(t *testing.T) {
	err := TransactionError("already in progress")
	if !errors.Is(err, ErrTransaction) {
		t.Fatal("expected TransactionError to wrap ErrTransaction")
	}
	if CodeOf(err) != CodeTransaction {
		t.Fatalf("CodeOf(TransactionError(...)) = %d, want %d", CodeOf(err), CodeTransaction)
	}
}
