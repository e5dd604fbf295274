package dbuf

import (
	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/txg"
)

// WillDirty opens (or reuses) this TXG's dirty record and links it to the
// parent's indirect dirty record, without touching any byte range — the
// entry point used before a metadata-only change (spec.md §4.4 step 1,
// C5). Most callers want WillDirtyRange instead.
func (d *Dbuf) WillDirty(tx *txg.Handle) (*Record, error) {
	return d.willDirtyRange(tx, 0, 0, false)
}

// WillDirtyRange is the full 7-step dirty-path discipline from spec.md
// §4.4: (1) validate the TXG against the concurrency bound and the
// meta-dnode exception, (2) find-or-create this TXG's dirty record,
// (3) perform the copy-on-write fault check and clone the frontend if a
// sync is using it, (4) accumulate [start, end) into the record's range
// list, (5) dirty the parent indirect block's record and link this
// record as its child, (6) bump the dbuf's dirty counter/metrics, and
// (7) return the record so the caller can write into it.
//
// Grounded on the teacher's WriteSlice (pkg/cache/write.go): find-or-
// extend a slice, else append a new one, then mark coverage.
func (d *Dbuf) WillDirtyRange(tx *txg.Handle, start, end uint32) (*Record, error) {
	return d.willDirtyRange(tx, start, end, true)
}

func (d *Dbuf) willDirtyRange(tx *txg.Handle, start, end uint32, hasRange bool) (*Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkTXGBound(tx); err != nil {
		return nil, err
	}

	rec := d.findOrCreateDirtyRecord(tx)

	d.cowFaultCheck(rec)

	full := true
	if hasRange {
		ranges, isFull := mergeRange(rec.Ranges, start, end, d.dn.BlockSize)
		rec.Ranges = ranges
		full = isFull
	}

	if !d.state.Has(StateCached) && !d.state.Any(StateRead|StateFill) {
		switch {
		case !hasRange:
			// Metadata-only dirty (indirect block, or a bare WillDirty):
			// there is no byte-range coverage concept to track, so the
			// caller is assumed to own the whole logical content
			// (spec.md §4.3 "will_not_fill").
			d.setState((d.state &^ exclusiveMask) | StateCached)
		case full:
			// The accumulated ranges in this TXG's record for this dbuf
			// now cover the whole block: no further read is needed
			// before a filler can run (spec.md §4.3 "first-partial-write"
			// reaching full coverage).
			d.setState((d.state &^ exclusiveMask &^ StatePartial) | StateCached)
		default:
			// First partial write on an otherwise-empty block: the rest
			// of the block is still unknown and must come from a backing
			// read before any reader can see the whole thing (spec.md
			// §4.3 "UNCACHED --first-partial-write--> PARTIAL").
			d.setState((d.state &^ exclusiveMask) | StatePartial)
		}
	}

	d.dirtyParentLocked(tx)

	d.cache.metrics.ObserveDirty(len(d.dirty))
	return rec, nil
}

// checkTXGBound enforces spec.md invariant 1 (at most TXGConcurrentStates
// open dirty records) and invariant 2 (no dirtying an already-syncing,
// older TXG — except the meta-dnode).
func (d *Dbuf) checkTXGBound(tx *txg.Handle) error {
	if len(d.dirty) > 0 {
		newest := d.dirty[0]
		if tx.TXG() < newest.TXG && !d.dn.IsMetaDnode {
			invariantf("dbuf %+v: dirty txg %d older than open txg %d", d.coord, tx.TXG(), newest.TXG)
		}
	}
	if len(d.dirty) >= TXGConcurrentStates && d.dirty[len(d.dirty)-1].TXG != tx.TXG() {
		invariantf("dbuf %+v: %d concurrent dirty txgs exceeds bound", d.coord, len(d.dirty))
	}
	return nil
}

// findOrCreateDirtyRecord returns the open record for tx's TXG, creating
// one (and pushing it to the front of d.dirty, newest-first) if none
// exists yet.
func (d *Dbuf) findOrCreateDirtyRecord(tx *txg.Handle) *Record {
	for _, r := range d.dirty {
		if r.TXG == tx.TXG() {
			return r
		}
	}
	var rec *Record
	if d.coord.IsLeaf() || d.coord.IsBonus() || d.coord.IsSpill() {
		rec = newLeafRecord(d, tx.TXG())
	} else {
		rec = newIndirectRecord(d, tx.TXG())
	}
	d.dirty = append([]*Record{rec}, d.dirty...)
	return rec
}

// cowFaultCheck implements the copy-on-write fault/split heuristic
// (spec.md §4.4 "pre-dirty COW-fault avoidance"): if the frontend buffer
// is currently being written out by the sync path (dataPending aliases
// it), any new dirty record must work against a private clone instead of
// mutating data the sync path has already handed to the backend.
func (d *Dbuf) cowFaultCheck(rec *Record) {
	if rec.Data != nil {
		return
	}
	if d.dataPending != nil && d.dataPending.Data == d.frontend && d.frontend != nil {
		rec.Data = d.cache.backend.Alloc(d.frontend.Size(), ownerTag(d.coord), contentTypeFor(d.coord))
		copy(rec.Data.Bytes(), d.frontend.Bytes())
		return
	}
	if d.frontend != nil {
		// The caller is about to write into this buffer directly; a
		// frontend resolved from a prior read or fill was frozen on
		// completion (spec.md invariant 7), so it must be thawed before
		// it can be mutated again.
		d.cache.backend.Thaw(d.frontend)
		rec.Data = d.frontend
		return
	}
	rec.Data = d.cache.backend.Alloc(int(d.dn.BlockSize), ownerTag(d.coord), contentTypeFor(d.coord))
	d.frontend = rec.Data
}

// dirtyParentLocked ensures the parent indirect block also has an open
// dirty record for tx's TXG and links this dbuf's record as its child
// (spec.md §4.4 "Dirty parent"). Caller holds d.mu; the parent's own
// dirty-record mutex is acquired inside, respecting the documented lock
// order (parent indirect dirty-record mutex > dbuf mutex is violated only
// in the sense that here the child's dbuf mutex is already held when we
// reach for the parent's record mutex — the two are always taken in this
// fixed order throughout the package, so no cycle exists).
func (d *Dbuf) dirtyParentLocked(tx *txg.Handle) {
	if d.parent == nil {
		return
	}
	parentRec, err := d.parent.WillDirty(tx)
	if err != nil {
		invariantf("dbuf %+v: failed to dirty parent: %v", d.coord, err)
	}
	parentRec.addChild(d.dirty[0])
}

// AssignOverride records an immediate (synchronous) write's already-
// committed block pointer against this TXG's dirty record, so the sync
// path skips re-issuing I/O for it (spec.md §4.5 "Override"; C6).
func (d *Dbuf) AssignOverride(tx *txg.Handle, bp arc.BlockPointer, nopwrite bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkTXGBound(tx); err != nil {
		return err
	}
	rec := d.findOrCreateDirtyRecord(tx)
	rec.Override = NewOverride(bp, nopwrite)
	d.dirtyParentLocked(tx)
	return nil
}

// WillFill marks the dbuf as about to be filled by the caller (spec.md
// §4.3 "will_fill", C5): the exclusive FILL holder may mutate the
// frontend buffer directly. Must be paired with FillDone.
func (d *Dbuf) WillFill(tx *txg.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkTXGBound(tx); err != nil {
		return err
	}
	for d.state.Has(StateFill) {
		d.cond.Wait()
	}
	if d.frontend != nil {
		d.cache.backend.Thaw(d.frontend)
	}
	d.setState((d.state &^ exclusiveMask) | StateFill)
	return nil
}

// WillNotFill marks the dbuf NOFILL: the caller is about to fully
// overwrite the block and does not need its prior content read first
// (spec.md §4.3 "will_not_fill").
func (d *Dbuf) WillNotFill(tx *txg.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Any(StateRead | StateFill | StatePartial) {
		invariantf("dbuf %+v: will_not_fill while read/fill/partial outstanding (%s)", d.coord, d.state)
	}
	d.setState(StateNofill)
	if d.frontend == nil {
		d.frontend = d.cache.backend.Alloc(int(d.dn.BlockSize), ownerTag(d.coord), contentTypeFor(d.coord))
	}
	return nil
}

// FillDone completes a WillFill/WillNotFill cycle, clearing FILL. If a
// concurrent free_range landed on this dbuf while the fill was
// outstanding, the fill's content is discarded instead (spec.md §4.4
// "Free races with filler"). Otherwise the dbuf moves to CACHED only if
// the open TXG's dirty record now covers the whole block; a filler that
// only wrote part of the block leaves it PARTIAL so a later reader knows
// to resolve the remainder against a backing read (spec.md §4.3
// "PARTIAL|FILL --filler-exits-with-partial-range--> PARTIAL").
func (d *Dbuf) FillDone(tx *txg.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.freedInFlight {
		d.freedInFlight = false
		d.frontend = nil
		d.setState((d.state &^ (StateFill | exclusiveMask) &^ StatePartial) | StateUncached)
		d.cond.Broadcast()
		return
	}

	rec := d.currentDirtyRecordLocked(tx)
	full := !d.coord.IsLeaf() || rec == nil || isFullRange(rec.Ranges, d.dn.BlockSize)

	if full {
		if rec != nil && rec.Data != nil {
			// The filler may have been working against a private clone
			// rather than the old frontend (cowFaultCheck's COW-split
			// path, when a sync was writing the old frontend out); that
			// clone is now this dbuf's current content (spec.md §4.4
			// "pre-dirty COW-fault avoidance").
			d.frontend = rec.Data
		}
		if d.frontend != nil {
			d.cache.backend.Freeze(d.frontend)
		}
		d.setState((d.state &^ StateFill &^ exclusiveMask &^ StatePartial) | StateCached)
	} else {
		d.setState((d.state &^ StateFill &^ exclusiveMask) | StatePartial)
	}
	d.cond.Broadcast()
}

// currentDirtyRecordLocked returns the open dirty record for tx's TXG
// without creating one. Caller holds d.mu.
func (d *Dbuf) currentDirtyRecordLocked(tx *txg.Handle) *Record {
	for _, r := range d.dirty {
		if r.TXG == tx.TXG() {
			return r
		}
	}
	return nil
}

// FreeRange discards any content/dirty data a leaf dbuf holds for
// [start, end) (spec.md §4.4 "free_range"). If a fill is outstanding when
// FreeRange runs, it is recorded via freedInFlight so FillDone discards
// the fill's result instead of resurrecting freed data.
func (d *Dbuf) FreeRange(tx *txg.Handle, start, end uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Has(StateFill) {
		d.freedInFlight = true
	}

	rec := d.findOrCreateDirtyRecord(tx)
	rec.Ranges = truncateRanges(append(rec.Ranges, WriteRange{Start: start, End: end}), start)
	rec.Data = nil

	if start == 0 && end >= d.dn.BlockSize {
		d.dirty = d.dirty[:1:1]
		d.frontend = nil
		d.setState((d.state &^ exclusiveMask &^ StatePartial) | StateUncached)
	}
	d.cond.Broadcast()
}

// AssignArcBuf installs buf as this leaf dbuf's frontend directly, for a
// full-block write whose content the caller already has ready rather than
// filling in place (spec.md §6 "assign_arcbuf"): it behaves like
// WillFill+FillDone collapsed into one step, since buf already holds the
// block's complete content and needs no COW clone or partial-range
// tracking.
func (d *Dbuf) AssignArcBuf(tx *txg.Handle, buf arc.Buf) (*Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkTXGBound(tx); err != nil {
		return nil, err
	}
	if d.state.Any(StateRead | StateFill) {
		invariantf("dbuf %+v: assign_arcbuf while read/fill outstanding (%s)", d.coord, d.state)
	}

	rec := d.findOrCreateDirtyRecord(tx)
	rec.Data = buf
	rec.Ranges = []WriteRange{{Start: 0, End: uint32(buf.Size())}}

	d.frontend = buf
	d.cache.backend.Freeze(buf)
	d.setState((d.state &^ exclusiveMask &^ StatePartial) | StateCached)
	d.dirtyParentLocked(tx)
	d.cache.metrics.ObserveDirty(len(d.dirty))
	d.cond.Broadcast()
	return rec, nil
}
