package dbuf

import (
	"errors"
	"fmt"
)

// Errors exposed to clients (spec.md §6 "Error codes exposed").
var (
	// ErrIO covers a NOFILL read attempt and a read failure with no dirty
	// content to resolve against.
	ErrIO = errors.New("dbuf: i/o error")

	// ErrNotFound is returned by Hold when fail_sparse is set and the
	// resolved block pointer is a hole.
	ErrNotFound = errors.New("dbuf: block not found (sparse)")

	// ErrNotSupported is returned when a spill operation is attempted on a
	// non-spill block id.
	ErrNotSupported = errors.New("dbuf: operation not supported for this block id")

	// ErrClosed is returned once the owning cache has been torn down.
	ErrClosed = errors.New("dbuf: cache closed")

	// ErrSpillDirty is returned by SpillSetBlksz when the spill block
	// already has a dirty record open in a TXG (SPEC_FULL.md §4).
	ErrSpillDirty = errors.New("dbuf: spill block has an open dirty record")

	// ErrSyncDeferred is returned by Sync when a FILL is still outstanding
	// on the record being synced. The caller is expected to retry once the
	// writer completes (SPEC_FULL.md §5 "FILL-vs-sync ambiguity"); the dbuf
	// layer itself never races a fill to build the write I/O.
	ErrSyncDeferred = errors.New("dbuf: sync deferred, fill in progress")
)

// invariantf panics with a formatted message. It is the dbuf layer's
// equivalent of a debug-build assertion (spec.md §7.5): invariant
// violations are fatal, never recovered from at runtime.
func invariantf(format string, args ...any) {
	panic(newInvariantError(format, args...))
}

type invariantError struct{ msg string }

func (e *invariantError) Error() string { return e.msg }

func newInvariantError(format string, args ...any) *invariantError {
	return &invariantError{msg: fmt.Sprintf(format, args...)}
}
