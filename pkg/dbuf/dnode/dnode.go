// Package dnode is the minimal external-collaborator stub the dbuf layer
// needs from the object-descriptor layer (spec.md §6). The dnode layer
// itself — object sizes, indirection levels, on-disk layout — is out of
// scope; this package only reproduces the few pieces of synchronization
// and state dbuf reaches into: the struct rwlock guarding nlevels/blkptr
// stability, the per-object dbuf-list mutex, and the per-TXG dirty-record
// lists that the meta-dnode exception (SPEC_FULL.md §4) checks.
package dnode

import (
	"sync"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
)

// Handle is the subset of a dnode that the dbuf layer holds a reference to
// and synchronizes against.
type Handle struct {
	// StructLock guards NLevels/BlockPointer stability (spec.md §5 lock
	// order: "dnode struct rwlock" is the outermost lock).
	StructLock sync.RWMutex

	// DbufsMtx guards the per-object list of live dbufs.
	DbufsMtx sync.Mutex
	dbufs    map[dbufKey]struct{}

	// IsMetaDnode marks object 0, the sole exception permitted to dirty an
	// older, already-open TXG (spec.md invariant 2; SPEC_FULL.md §4).
	IsMetaDnode bool

	Dataset   string
	Object    uint64
	NLevels   int
	BlockSize uint32

	// IndirBlockShift is log2(pointers per indirect block); blkid >>
	// IndirBlockShift gives a child's parent block-id at the next level.
	IndirBlockShift uint

	// SpillBlockSize is the size of the object's spill block, independently
	// resizable from BlockSize via SpillSetBlksz (spec.md §6). Defaults to
	// BlockSize; allocation of the spill region's buffer itself still
	// follows the shared BlockSize convention used by every other content
	// type in this package, so this field is bookkeeping for the
	// dirty-record check in SpillSetBlksz rather than a distinct allocator
	// input.
	SpillBlockSize uint32

	ptrMu    sync.Mutex
	pointers map[uint64]arc.BlockPointer
}

// BlockPointer returns the block pointer dbuf has recorded directly
// against the dnode for blkid (a top-level block, or the bonus/spill
// region), or a hole if never set.
func (h *Handle) BlockPointer(blkid uint64) arc.BlockPointer {
	h.ptrMu.Lock()
	defer h.ptrMu.Unlock()
	if bp, ok := h.pointers[blkid]; ok {
		return bp
	}
	return arc.HolePointer
}

// SetBlockPointer records blkid's resolved block pointer directly against
// the dnode.
func (h *Handle) SetBlockPointer(blkid uint64, bp arc.BlockPointer) {
	h.ptrMu.Lock()
	defer h.ptrMu.Unlock()
	if h.pointers == nil {
		h.pointers = make(map[uint64]arc.BlockPointer)
	}
	h.pointers[blkid] = bp
}

type dbufKey struct {
	level int
	blkid uint64
}

// New creates a dnode handle for the given object.
func New(object uint64, nlevels int, blockSize uint32) *Handle {
	return &Handle{
		Object:         object,
		NLevels:        nlevels,
		BlockSize:      blockSize,
		SpillBlockSize: blockSize,
		dbufs:          make(map[dbufKey]struct{}),
		pointers:       make(map[uint64]arc.BlockPointer),
	}
}

// RegisterDbuf records that a dbuf at (level, blkid) is live for this
// object. Must be called with DbufsMtx held by the caller's discipline
// (lock order: dbufs mtx before any dbuf mutex).
func (h *Handle) RegisterDbuf(level int, blkid uint64) {
	h.DbufsMtx.Lock()
	defer h.DbufsMtx.Unlock()
	h.dbufs[dbufKey{level, blkid}] = struct{}{}
}

// UnregisterDbuf removes the (level, blkid) entry.
func (h *Handle) UnregisterDbuf(level int, blkid uint64) {
	h.DbufsMtx.Lock()
	defer h.DbufsMtx.Unlock()
	delete(h.dbufs, dbufKey{level, blkid})
}

// LiveCount returns the number of dbufs currently registered for this
// object. Exposed for tests and for hold/eviction accounting.
func (h *Handle) LiveCount() int {
	h.DbufsMtx.Lock()
	defer h.DbufsMtx.Unlock()
	return len(h.dbufs)
}
