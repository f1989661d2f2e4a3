// Package errs defines StreamDb's error taxonomy (spec.md §7) and the
// numeric codes exposed at the foreign-function boundary (spec.md §6).
package errs

import "github.com/pkg/errors"

// Sentinel errors. Components wrap one of these with github.com/pkg/errors
// so every failure carries both a stack frame and a stable category that
// CodeOf can recover.
var (
	ErrIO          = errors.New("streamdb: I/O error")
	ErrNotFound    = errors.New("streamdb: not found")
	ErrInvalidInput = errors.New("streamdb: invalid input")
	ErrInvalidData = errors.New("streamdb: invalid data")
	ErrEncryption  = errors.New("streamdb: encryption error")
	ErrTransaction = errors.New("streamdb: transaction error")
	ErrPanic       = errors.New("streamdb: panic")
)

// Code is the small integer status exposed to foreign callers (spec.md §6).
type Code int

const (
	CodeSuccess     Code = 0
	CodeIO          Code = -1
	CodeNotFound    Code = -2
	CodeInvalidInput Code = -3
	CodePanic       Code = -4
	CodeTransaction Code = -5
	CodeInvalidData Code = -6
	CodeEncryption  Code = -7
)

// CodeOf maps err to its foreign-function status code by walking its
// wrapped chain for one of the sentinels above. A nil error is Success;
// an error matching none of the sentinels is reported as IO, the most
// conservative category for an unclassified failure.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrTransaction):
		return CodeTransaction
	case errors.Is(err, ErrInvalidData):
		return CodeInvalidData
	case errors.Is(err, ErrEncryption):
		return CodeEncryption
	case errors.Is(err, ErrPanic):
		return CodePanic
	case errors.Is(err, ErrIO):
		return CodeIO
	default:
		return CodeIO
	}
}

// TransactionError wraps msg as an ErrTransaction, matching spec.md §4.6's
// literal `TransactionError("already in progress")`.
func TransactionError(msg string) error {
	return errors.Wrap(ErrTransaction, msg)
}
