package dbuf

import (
	"context"
	"sync"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/dnode"
)

// Cache owns the hash index (C1) and the backing ARC, and is the entry
// point clients construct and hold dbufs through (spec.md §2 C7).
// Grounded on the teacher's pkg/cache.Cache, which plays the same
// top-level-owner role over its file/block table and its backing
// persister.
type Cache struct {
	idx     *hashIndex
	backend arc.Cache
	metrics CacheMetrics
	loss    LossReporter

	mu     sync.Mutex
	closed bool
}

// LossReporter durably records a dirty-write loss (spec.md §7.3). dbuf
// never imports a concrete ledger implementation directly — that would
// create an import cycle back from e.g. pkg/dbuf/losslog, which needs
// Coord — so callers wire one in via WithLossReporter.
type LossReporter interface {
	ReportLoss(c Coord, txg uint64, bytes int)
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithMetrics attaches a CacheMetrics sink.
func WithMetrics(m CacheMetrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithStripes overrides the hash index's mutex-stripe count (defaults to
// defaultMutexStripes).
func WithStripes(n int) Option {
	return func(c *Cache) { c.idx = newHashIndex(n) }
}

// WithLossReporter attaches a durable ledger for dirty-write-loss events.
func WithLossReporter(r LossReporter) Option {
	return func(c *Cache) { c.loss = r }
}

// New constructs a Cache backed by backend.
func New(backend arc.Cache, opts ...Option) *Cache {
	c := &Cache{
		idx:     newHashIndex(defaultMutexStripes),
		backend: backend,
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close marks the cache closed; subsequent Hold calls fail with ErrClosed.
// Existing held dbufs remain usable until released.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// pointerSlot is where a dbuf's on-disk block pointer lives: either the
// owning dnode directly (level == nlevels-1, or bonus/spill), or an entry
// inside the parent indirect block's content (spec.md §3 invariant 6:
// "a dbuf's block pointer is either embedded in its dnode or aliases a
// slot inside its parent's buffer").
//
// A real dnode/indirect-block layout stores block pointers packed into the
// raw buffer bytes; this module represents the parsed view as a map on the
// parent dbuf (indirectSlots) rather than re-deriving a byte layout the
// spec leaves unconstrained, which keeps the invariant (one logical slot,
// never copied) without inventing an on-disk format.
type pointerSlot struct {
	dn     *dnode.Handle // set when this is a top-level block (no parent)
	parent *Dbuf         // set when this slot lives inside a parent's content
	index  uint64        // block-id: child key into parent.indirectSlots, or dn.pointers
}

func (s pointerSlot) get() arc.BlockPointer {
	if s.parent != nil {
		return s.parent.childPointer(s.index)
	}
	return s.dn.BlockPointer(s.index)
}

func (s pointerSlot) set(bp arc.BlockPointer) {
	if s.parent != nil {
		s.parent.setChildPointer(s.index, bp)
		return
	}
	s.dn.SetBlockPointer(s.index, bp)
}

// userEvictionRecord is the deferred eviction callback registered via
// SetUserEvict (spec.md §4.7 "User eviction callbacks").
type userEvictionRecord struct {
	fn  func(data arc.Buf, userArg any)
	arg any
}

// Dbuf is a single cached block (C2): the hash-index entry, state
// machine, dirty-record chain and held data buffer for one
// (dataset, object, level, block-id) coordinate.
//
// Grounded on the teacher's blockBuffer/chunk pairing in pkg/cache/types.go
// (per-block state + coverage bookkeeping) generalized to the dbuf state
// bitmask and TXG-indexed dirty chain from spec.md §3/§4.3.
type Dbuf struct {
	coord Coord
	cache *Cache
	dn    *dnode.Handle
	slot  pointerSlot

	// mu guards everything below. cond is signaled on every state
	// transition and hold-count change so blocked waiters (read-in-
	// progress, fill-in-progress, pending eviction) can recheck.
	mu   sync.Mutex
	cond *sync.Cond

	state State

	// frontend is the buffer clients see: the latest resolved data,
	// valid whenever state.Has(StateCached) or an overlay state has
	// completed a fill (spec.md invariant 3: "only the FILL holder may
	// mutate frontend; all other readers treat it as read-only").
	frontend arc.Buf

	holdCount int

	// dirty holds at most TXGConcurrentStates records, strictly
	// decreasing by TXG (newest first) (spec.md §3 invariant 1).
	dirty []*Record

	// dataPending is the record currently being written out by the sync
	// path (spec.md §4.5); nil outside of an active sync.
	dataPending *Record

	// readErr latches the most recent backing-read failure so readers
	// blocked behind a READ transition can observe it (spec.md §4.6).
	readErr error

	// parent is the held indirect dbuf one level up, or nil for a
	// top-level block (level == nlevels-1) or bonus/spill.
	parent *Dbuf

	// indirectSlots holds this (indirect) dbuf's parsed view of its
	// children's block pointers, keyed by child block-id. See
	// pointerSlot's doc comment.
	indirectSlots map[uint64]arc.BlockPointer

	// freedInFlight marks that a free_range landed on this dbuf while a
	// fill was outstanding (spec.md §4.4 "Free races with filler").
	freedInFlight bool

	userEvict *userEvictionRecord
}

func newDbuf(c *Cache, dn *dnode.Handle, coord Coord, slot pointerSlot) *Dbuf {
	d := &Dbuf{
		coord: coord,
		cache: c,
		dn:    dn,
		slot:  slot,
		state: StateUncached,
	}
	d.cond = sync.NewCond(&d.mu)
	if coord.Level > 0 {
		d.indirectSlots = make(map[uint64]arc.BlockPointer)
	}
	return d
}

// childPointer returns the block pointer this (indirect) dbuf's content
// currently records for blkid, or HolePointer if never set.
func (d *Dbuf) childPointer(blkid uint64) arc.BlockPointer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bp, ok := d.indirectSlots[blkid]; ok {
		return bp
	}
	return arc.HolePointer
}

// setChildPointer records blkid's resolved block pointer in this
// (indirect) dbuf's content. Called by the sync path once a child
// completes its own write (spec.md §4.5 "indirect block update").
func (d *Dbuf) setChildPointer(blkid uint64, bp arc.BlockPointer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.indirectSlots[blkid] = bp
}

// Coord returns the dbuf's identity.
func (d *Dbuf) Coord() Coord { return d.coord }

// setState transitions the dbuf to next, asserting the transition is one
// of the combinations spec.md §4.3 allows, logging it, and waking any
// goroutine blocked on d.cond.
func (d *Dbuf) setState(next State) {
	if !next.valid() {
		invariantf("dbuf %+v: invalid state %s", d.coord, next)
	}
	prev := d.state
	d.state = next
	d.cache.metrics.ObserveStateTransition(prev, next)
	d.cond.Broadcast()
}

// Hold resolves coord to a live Dbuf, creating it (and, transitively, its
// ancestors) if necessary, and increments its hold count (spec.md §4.2
// "Dbuf Creation & Hold", C7). failSparse requests ErrNotFound instead of
// a usable dbuf when the resolved block pointer turns out to be a hole.
//
// The caller must eventually call Rele with the same tag.
func Hold(ctx context.Context, c *Cache, dn *dnode.Handle, level int, blkid uint64, tag string, failSparse bool) (*Dbuf, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	coord := Coord{Dataset: dn.Dataset, Object: dn.Object, Level: level, BlockID: blkid}

	for {
		if d := c.idx.find(coord); d != nil {
			d.holdCount++
			d.mu.Unlock()
			c.metrics.ObserveHold(true)
			return resolveHole(ctx, d, failSparse)
		}

		slot, parent, err := resolveSlot(ctx, c, dn, level, blkid, tag)
		if err != nil {
			return nil, err
		}

		candidate := newDbuf(c, dn, coord, slot)
		existing := c.idx.insert(candidate)
		if existing == nil {
			// Lost the race to a concurrent eviction; retry the hold.
			if parent != nil {
				parent.rele(tag)
			}
			continue
		}
		if existing != candidate {
			// Someone else created this dbuf first; our transient parent
			// hold isn't needed, existing already owns one.
			if parent != nil {
				parent.rele(tag)
			}
			existing.holdCount++
			existing.mu.Unlock()
			c.metrics.ObserveHold(true)
			return resolveHole(ctx, existing, failSparse)
		}

		existing.holdCount++
		// The transient parent hold taken by resolveSlot becomes the new
		// dbuf's permanent reference on its parent, released when this
		// dbuf is itself evicted (see maybeEvict).
		existing.parent = parent
		dn.RegisterDbuf(level, blkid)
		existing.mu.Unlock()
		c.metrics.ObserveHold(false)
		return resolveHole(ctx, existing, failSparse)
	}
}

// resolveSlot walks one level up and holds the parent indirect dbuf
// (recursively, via Hold) to obtain the pointerSlot this (level, blkid)
// dbuf should read/write through. Top-level blocks and bonus/spill
// resolve directly against the dnode instead (spec.md §3 invariant 6).
func resolveSlot(ctx context.Context, c *Cache, dn *dnode.Handle, level int, blkid uint64, tag string) (pointerSlot, *Dbuf, error) {
	if blkid == BlockIDBonus || blkid == BlockIDSpill || level >= dn.NLevels-1 {
		return pointerSlot{dn: dn, index: blkid}, nil, nil
	}
	parentBlkid := blkid >> dn.IndirBlockShift
	parent, err := Hold(ctx, c, dn, level+1, parentBlkid, tag, false)
	if err != nil {
		return pointerSlot{}, nil, err
	}
	return pointerSlot{parent: parent, index: blkid}, parent, nil
}

// resolveHole applies fail_sparse: if requested and the dbuf's block
// pointer is a hole with no cached content and no dirty record, the hold
// is rejected with ErrNotFound (spec.md §4.2 step 6).
func resolveHole(ctx context.Context, d *Dbuf, failSparse bool) (*Dbuf, error) {
	if !failSparse {
		return d, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dirty) > 0 || d.state.Has(StateCached) {
		return d, nil
	}
	if d.slot.get().IsHole() {
		d.holdCount--
		if d.holdCount == 0 {
			d.cache.maybeEvict(d)
		}
		return nil, ErrNotFound
	}
	return d, nil
}

// Rele releases one hold acquired via Hold (spec.md §4.7, C7).
func (d *Dbuf) Rele(tag string) {
	d.rele(tag)
}

func (d *Dbuf) rele(tag string) {
	d.mu.Lock()
	if d.holdCount <= 0 {
		d.mu.Unlock()
		invariantf("dbuf %+v: rele with holdCount already %d", d.coord, d.holdCount)
	}
	d.holdCount--
	holds := d.holdCount
	d.cache.metrics.ObserveRelease()
	d.mu.Unlock()

	if holds == 0 {
		d.cache.maybeEvict(d)
	}
}
