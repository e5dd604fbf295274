// Package arc declares the contract the dbuf layer consumes from the
// underlying adaptive, checksum-verified block cache (the ARC in ZFS
// terms). The dbuf layer never allocates its large data buffers directly;
// this interface is the sole allocator, and dbuf only ever holds, releases,
// freezes and thaws buffers it obtains here.
//
// The pool-level I/O pipeline (zio_*), the on-disk block pointer format and
// durability ordering below this layer are out of scope (spec.md §1); this
// package only describes the shape of the collaboration, not an
// implementation of the ARC itself. See pkg/dbuf/arcsim for a test double.
package arc

import "context"

// ContentType distinguishes data blocks from metadata (indirect) blocks so
// the underlying cache can apply different eviction/compression policy.
type ContentType int

const (
	ContentData ContentType = iota
	ContentMetadata
)

// Priority expresses how urgently a read should be serviced relative to
// other pending cache misses.
type Priority int

const (
	PrioritySync Priority = iota
	PriorityAsync
)

// Buf is a reference-counted buffer owned by the cache. The dbuf layer
// never allocates the backing array itself; it always gets one from Cache
// and gives it back via Release.
type Buf interface {
	// Bytes returns the buffer's current content. The slice is only safe to
	// mutate by the exclusive FILL holder (spec.md invariant 3).
	Bytes() []byte
	Size() int
	// Frozen reports whether the buffer has been marked immutable.
	Frozen() bool
}

// ReadDoneFunc is invoked (possibly on another goroutine) when an
// asynchronous Read completes.
type ReadDoneFunc func(buf Buf, err error)

// WriteReadyFunc is invoked once a Write's content is staged but before it
// is considered durable; the dbuf layer uses this to learn the final
// physical size for space accounting.
type WriteReadyFunc func(physicalSize int)

// WriteDoneFunc is invoked once a Write completes (successfully or not).
type WriteDoneFunc func(err error)

// BlockPointer is an opaque on-disk locator + checksum. The dbuf layer
// treats it as opaque except for the Hole check, which it needs to decide
// fail_sparse and hole-read behavior.
type BlockPointer interface {
	IsHole() bool
}

// SimplePointer is a minimal concrete BlockPointer used by callers (and
// pkg/dbuf/arcsim) that don't need a real checksum/DVA payload — only the
// hole/non-hole distinction the dbuf layer actually branches on.
type SimplePointer struct {
	Hole bool
}

func (p SimplePointer) IsHole() bool { return p.Hole }

// HolePointer is the canonical hole value, reported for never-written
// children of an indirect block.
var HolePointer = SimplePointer{Hole: true}

// Cache is the contract consumed from the underlying ARC (spec.md §6).
type Cache interface {
	Alloc(size int, owner string, contentType ContentType) Buf

	// Read may return synchronously (found=true, err=nil) on a cache hit.
	// Otherwise it issues an async read and invokes done on completion.
	Read(ctx context.Context, bp BlockPointer, priority Priority, done ReadDoneFunc) (buf Buf, found bool, err error)

	// Write issues an asynchronous write of data at txg, invoking ready once
	// the physical size is known and done once the write completes.
	Write(ctx context.Context, txg uint64, bp BlockPointer, data []byte, ready WriteReadyFunc, done WriteDoneFunc) error

	Release(buf Buf, owner string)
	Freeze(buf Buf)
	Thaw(buf Buf)
	// RemoveRef drops owner's reference; reports whether the buffer became
	// unreferenced (and therefore evictable/duplicate-checkable) as a result.
	RemoveRef(buf Buf, owner string) bool
	Released(buf Buf) bool

	// IsDuplicate reports whether the cache already holds an identical copy
	// of buf's content under a different key (used by the eviction policy
	// in spec.md §4.2 "rele").
	IsDuplicate(buf Buf) bool
}
