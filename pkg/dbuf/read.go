package dbuf

import (
	"context"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
)

// Read returns the dbuf's current content, issuing a backing read if
// necessary and blocking until any in-flight READ or FILL completes
// (spec.md §4.6, C4). The returned Buf is only valid until the caller's
// hold is released or a subsequent write invalidates it.
func (d *Dbuf) Read(ctx context.Context) (arc.Buf, error) {
	d.mu.Lock()

	for {
		switch {
		case d.state.Has(StateCached):
			buf := d.frontend
			d.mu.Unlock()
			return buf, nil

		case d.state.Base() == StateNofill:
			d.mu.Unlock()
			return nil, ErrIO

		case d.state.Any(StateRead | StateFill):
			// A read or fill is already outstanding; wait for it.
			d.cond.Wait()
			continue

		case d.state.Base() == StateUncached, d.state.Has(StatePartial):
			// UNCACHED has never been read; bare PARTIAL was written
			// without ever being read, so the rest of the block is still
			// unknown. Either way a backing read is required before any
			// caller can see complete content (spec.md §4.6 "If UNCACHED
			// or PARTIAL: transition to READ").
			d.beginRead(ctx)
			d.cond.Wait()
			continue

		default:
			d.cond.Wait()
			continue
		}
	}
}

// TryRead returns the dbuf's content only if already cached, without
// issuing a backing read or blocking — the cache-only fast path used by
// callers that would rather fall back to a different strategy than wait
// (SPEC_FULL.md §4 "TryRead cache-only fast path").
func (d *Dbuf) TryRead() (arc.Buf, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.state.Has(StateCached) {
		return nil, false
	}
	return d.frontend, true
}

// beginRead issues the backing ARC read for d. Caller must hold d.mu;
// beginRead transitions to READ and releases the lock around the
// (possibly blocking) call into the backend, matching the teacher's
// pattern in pkg/cache of never holding the entry lock across I/O.
func (d *Dbuf) beginRead(ctx context.Context) {
	// Clear whichever exclusive base state was set (UNCACHED, or none if
	// we arrived from bare PARTIAL) but keep the PARTIAL overlay bit, so a
	// read that fails can be distinguished from one that started clean
	// (spec.md §4.3 "PARTIAL --cow-fault-decision--> PARTIAL|READ").
	d.setState((d.state &^ exclusiveMask) | StateRead)
	bp := d.slot.get()

	if bp.IsHole() {
		// A hole reads as zero-filled content with no backing I/O
		// (spec.md §4.6 "hole-read synthesis").
		buf := d.cache.backend.Alloc(int(d.dn.BlockSize), ownerTag(d.coord), contentTypeFor(d.coord))
		go d.completeRead(buf, nil)
		return
	}

	d.mu.Unlock()
	buf, found, err := d.cache.backend.Read(ctx, bp, arc.PrioritySync, d.completeRead)
	if found || err != nil {
		// Synchronous hit: apply the result directly rather than
		// waiting for a callback that will never fire.
		d.completeRead(buf, err)
	}
	d.mu.Lock()
	// Otherwise the async callback invokes completeRead itself, later,
	// on its own goroutine.
}

func contentTypeFor(c Coord) arc.ContentType {
	if c.IsLeaf() {
		return arc.ContentData
	}
	return arc.ContentMetadata
}
