package dbuf

import "github.com/marmos91/dbufcache/pkg/dbuf/arc"

// State-machine transitions that don't belong to a single concern file
// (read, dirty, sync) live here: the RMW resolve/inverse-merge run when a
// READ completes while a dirty record is already open (spec.md §4.3
// "resolve"), grounded on the teacher's mergeSlicesForRead in
// pkg/cache/read.go (newest-write-wins merge over a byte range), adapted
// from "merge slices for a read reply" to "merge a completed read under
// already-applied writes".

// resolveAgainstDirty overlays every range already written in the given
// dirty records onto freshly read data, so a READ that
// raced with local writes never clobbers them — the inverse of a normal
// read-merge: the dirty ranges win, not the read (spec.md §4.3 "On read
// completion, if a dirty record exists, the read buffer is the new
// baseline but the dirty record's ranges must be re-applied on top of
// it").
func resolveAgainstDirty(readBuf []byte, dirty []*Record) {
	// dirty is newest-first; apply oldest-to-newest so the newest range
	// wins where multiple records touch the same bytes.
	for i := len(dirty) - 1; i >= 0; i-- {
		rec := dirty[i]
		if rec.Data == nil {
			continue
		}
		src := rec.Data.Bytes()
		for _, rng := range rec.Ranges {
			end := rng.End
			if int(end) > len(readBuf) {
				end = uint32(len(readBuf))
			}
			if rng.Start >= end {
				continue
			}
			copy(readBuf[rng.Start:end], src[rng.Start:end])
		}
	}
}

// completeRead transitions a dbuf out of READ once the ARC read callback
// fires. On success it installs buf as frontend, resolves it against any
// dirty ranges accumulated while the read was outstanding, and moves to
// CACHED (clearing PARTIAL, preserving a FILL bit that arrived concurrently).
// On failure it reports ErrIO through waiters unless a dirty record can
// substitute as the only available content (spec.md §4.6 "Read failure
// with outstanding dirty data").
func (d *Dbuf) completeRead(buf arc.Buf, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		if len(d.dirty) == 0 {
			d.readErr = err
			d.setState((d.state &^ StateRead &^ exclusiveMask &^ StatePartial) | StateUncached)
			d.cond.Broadcast()
			return
		}
		// Dirty content survives a backing read failure; the dbuf is
		// still usable from the writer's perspective (spec.md §4.6 "Read
		// failure with outstanding dirty data"). The newest record's
		// buffer becomes the frontend so a subsequent Read sees whatever
		// was actually written rather than nothing.
		d.readErr = nil
		if newest := d.dirty[0]; newest.Data != nil {
			d.frontend = newest.Data
		}
		d.setState((d.state &^ StateRead &^ exclusiveMask &^ StatePartial) | StateCached)
		d.cond.Broadcast()
		return
	}

	start := timeNow()
	if len(d.dirty) > 0 {
		resolveAgainstDirty(buf.Bytes(), d.dirty)
	}
	d.cache.metrics.ObserveResolve(timeNow().Sub(start))

	d.frontend = buf
	d.readErr = nil
	d.cache.backend.Freeze(buf)
	d.setState((d.state &^ StateRead &^ exclusiveMask &^ StatePartial) | StateCached)
	d.cond.Broadcast()
}
