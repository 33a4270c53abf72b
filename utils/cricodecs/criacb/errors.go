package criacb

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is wrapped by every error caused by malformed input: a bad
	// magic, a truncated buffer or an unsupported header field.
	ErrFormat = errors.New("criacb: invalid format")

	// ErrIndexOutOfRange is matched by every *IndexError.
	ErrIndexOutOfRange = errors.New("criacb: index out of range")

	// ErrMissingResolver is returned when a cue sheet names external AWB
	// files but no Resolver was supplied.
	ErrMissingResolver = errors.New("criacb: no method to resolve stream AWBs")

	// ErrArchiveNotFound may be returned (or wrapped) by a Resolver to report
	// that an external archive does not exist. The port is left empty instead
	// of failing the whole open.
	ErrArchiveNotFound = errors.New("criacb: AWB not found")
)

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...)
}

// TypeMismatchError is returned when a column value is read through an
// accessor that does not match its kind.
type TypeMismatchError struct {
	Column   string
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("invalid column type for %q (expected %s, got %s)", e.Column, e.Expected, e.Actual)
}

// IndexError is returned when a row or asset index is out of bounds.
type IndexError struct {
	What  string
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index out of range: %d (length %d)", e.What, e.Index, e.Len)
}

func (e *IndexError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}

// MissingArchiveError is returned by OpenACBWithResolver when a streamed
// waveform points at a port with no resolved archive.
type MissingArchiveError struct {
	Name string
	Port int
}

func (e *MissingArchiveError) Error() string {
	return fmt.Sprintf("missing %s (stream port %d)", e.Name, e.Port)
}
