package dbuf

import (
	"hash/maphash"
	"sync"
)

// defaultMutexStripes is DBUF_MUTEXES from spec.md §4.1 — a striping
// factor for the bucket-mutex array. Grounded on the teacher's two-level
// locking in pkg/cache.Cache (globalMu + per-file mutex), generalized here
// to a fixed stripe count instead of one mutex per file/object.
const defaultMutexStripes = 16

// hashIndex is the closed-addressing hash table keyed on
// (dataset, object, level, block-id) described in spec.md §4.1 (C1).
//
// Lock order: bucket mutex > dbuf mutex (spec.md §5). A bucket mutex is
// only held while looking a dbuf up or inserting/removing it; it is never
// held while blocking on a dbuf mutex for a *different* dbuf.
type hashIndex struct {
	seed    maphash.Seed
	stripes []sync.Mutex
	buckets []map[Coord]*Dbuf
}

func newHashIndex(stripes int) *hashIndex {
	if stripes <= 0 {
		stripes = defaultMutexStripes
	}
	h := &hashIndex{
		seed:    maphash.MakeSeed(),
		stripes: make([]sync.Mutex, stripes),
		buckets: make([]map[Coord]*Dbuf, stripes),
	}
	for i := range h.buckets {
		h.buckets[i] = make(map[Coord]*Dbuf)
	}
	return h
}

func (h *hashIndex) stripeFor(c Coord) int {
	var mh maphash.Hash
	mh.SetSeed(h.seed)
	_, _ = mh.WriteString(c.Dataset)
	var buf [24]byte
	putUint64(buf[0:8], c.Object)
	putUint64(buf[8:16], uint64(c.Level))
	putUint64(buf[16:24], c.BlockID)
	_, _ = mh.Write(buf[:])
	return int(mh.Sum64() % uint64(len(h.stripes)))
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// find looks up coord. If found and not EVICTING, it returns the dbuf with
// its mutex held (caller must Unlock). Returns nil otherwise (spec.md §8
// "dbuf_find never returns an EVICTING entry").
func (h *hashIndex) find(c Coord) *Dbuf {
	stripe := h.stripeFor(c)
	h.stripes[stripe].Lock()
	d, ok := h.buckets[stripe][c]
	if !ok {
		h.stripes[stripe].Unlock()
		return nil
	}
	d.mu.Lock()
	// Dbuf mutex acquired before the bucket mutex is released, per the
	// lock-order discipline in spec.md §4.1.
	h.stripes[stripe].Unlock()
	if d.state.Has(StateEvicting) {
		d.mu.Unlock()
		return nil
	}
	return d
}

// insert idempotently inserts candidate. If an equivalent entry already
// exists, candidate is discarded and the existing dbuf is returned with its
// mutex held; otherwise candidate is inserted and returned with its mutex
// held.
func (h *hashIndex) insert(candidate *Dbuf) *Dbuf {
	stripe := h.stripeFor(candidate.coord)
	h.stripes[stripe].Lock()
	if existing, ok := h.buckets[stripe][candidate.coord]; ok {
		existing.mu.Lock()
		h.stripes[stripe].Unlock()
		if existing.state.Has(StateEvicting) {
			// Lost the race against an eviction in progress; caller should
			// retry the whole hold (spec.md §4.2 step 4).
			existing.mu.Unlock()
			return nil
		}
		return existing
	}
	h.buckets[stripe][candidate.coord] = candidate
	candidate.mu.Lock()
	h.stripes[stripe].Unlock()
	return candidate
}

// remove deletes coord from the index. The caller must hold d.mu and have
// already verified hold_count==0 and state==EVICTING (spec.md §4.1).
func (h *hashIndex) remove(d *Dbuf) {
	if d.holdCount != 0 || !d.state.Has(StateEvicting) {
		invariantf("hashIndex.remove: dbuf %+v not ready for removal (holds=%d state=%s)", d.coord, d.holdCount, d.state)
	}
	stripe := h.stripeFor(d.coord)
	h.stripes[stripe].Lock()
	delete(h.buckets[stripe], d.coord)
	h.stripes[stripe].Unlock()
}
