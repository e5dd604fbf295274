package dbuf

import "github.com/marmos91/dbufcache/pkg/dbuf/arc"

// Package-internal hold/eviction policy (C7), grounded on the teacher's
// pkg/cache/eviction.go EvictLRU/evictUploadedFromEntry pairing: a dbuf is
// only a candidate for removal once nothing references it, and removal
// itself is a two-step "decide, then evict" sequence so the decision can
// run the user's eviction callback and downgrade the buffer's cache
// residency without holding the dbuf mutex across an unbounded call into
// client code.

// maybeEvict is called whenever a dbuf's hold count reaches zero. If the
// dbuf has no dirty records, no pending sync and no outstanding
// read/fill/partial bit, and its frontend is absent or reported releasable
// by the underlying cache, it moves to EVICTING and is removed from the
// index; otherwise it stays resident unchanged (spec.md §4.3 transitions "{UNCACHED|CACHED|
// NOFILL} --hold→0 & not-cacheable--> EVICTING", §4.7 "rele").
func (c *Cache) maybeEvict(d *Dbuf) {
	d.mu.Lock()
	if d.holdCount != 0 {
		d.mu.Unlock()
		return
	}
	if len(d.dirty) != 0 || d.dataPending != nil {
		// Still has in-flight dirty data; stays resident until sync
		// completes and releases it.
		d.mu.Unlock()
		return
	}
	if d.state.Any(StateRead | StateFill | StatePartial) {
		// A fill/read is still outstanding; its completion path will
		// re-invoke maybeEvict once holdCount is re-checked.
		d.mu.Unlock()
		return
	}

	evict := d.frontend == nil || c.backend.Released(d.frontend)
	runCB := d.userEvict != nil && d.state.Has(StateCached)

	if !evict {
		d.mu.Unlock()
		return
	}

	d.setState(StateEvicting)
	frontend := d.frontend
	d.frontend = nil
	userEvict := d.userEvict
	d.userEvict = nil
	d.mu.Unlock()

	if userEvict != nil && runCB {
		userEvict.fn(frontend, userEvict.arg)
	}
	if frontend != nil {
		c.backend.Release(frontend, ownerTag(d.coord))
	}
	if d.parent != nil {
		d.parent.rele(ownerTag(d.coord))
	}
	d.dn.UnregisterDbuf(d.coord.Level, d.coord.BlockID)

	c.idx.remove(d)
}

func ownerTag(c Coord) string {
	return c.Dataset
}

// SetUserEvict registers fn to run once when this dbuf is evicted from
// the cache with data still resident (spec.md §4.7 "User eviction
// callbacks"). Only one callback may be registered at a time; a second
// call replaces the first and returns the replaced (fn, arg) pair so the
// caller can detect an unexpected overwrite.
func (d *Dbuf) SetUserEvict(fn func(data arc.Buf, userArg any), arg any) (prevFn func(data arc.Buf, userArg any), prevArg any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userEvict != nil {
		prevFn, prevArg = d.userEvict.fn, d.userEvict.arg
	}
	if fn == nil {
		d.userEvict = nil
	} else {
		d.userEvict = &userEvictionRecord{fn: fn, arg: arg}
	}
	return prevFn, prevArg
}

// GetUserEvict returns the currently-registered eviction callback and its
// argument, and whether one is registered at all.
func (d *Dbuf) GetUserEvict() (fn func(data arc.Buf, userArg any), arg any, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userEvict == nil {
		return nil, nil, false
	}
	return d.userEvict.fn, d.userEvict.arg, true
}

// RemoveUserEvict clears the registered eviction callback without running
// it, but only if it was registered with expectedArg as its argument —
// mirroring the "remove_user(x): if the current user is y != x, return nil
// and leave y in place" contract so a caller can't accidentally clear a
// different owner's callback out from under it. currentArg is always the
// argument actually registered (possibly expectedArg itself) so a mismatched
// caller can see who holds it.
func (d *Dbuf) RemoveUserEvict(expectedArg any) (removed bool, currentArg any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userEvict == nil {
		return false, nil
	}
	if d.userEvict.arg != expectedArg {
		return false, d.userEvict.arg
	}
	d.userEvict = nil
	return true, expectedArg
}

// HoldCount reports the current reference count, for tests and metrics.
func (d *Dbuf) HoldCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holdCount
}

// State reports the current state bitmask, for tests and metrics.
func (d *Dbuf) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
