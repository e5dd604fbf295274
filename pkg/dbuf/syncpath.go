package dbuf

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
)

// Sync drives this dbuf's dirty record for txgNum through the write-out
// path (spec.md §4.5, C6): pop the record from the dirty chain into
// dataPending, issue the backing write (for a leaf/bonus/spill) or sync
// every child record and wait for them (for an indirect), then report
// completion and drop dataPending. An indirect's own content is not
// rewritten with its children's block pointers, and no backing write is
// issued for it.
//
// Grounded on the teacher's CoalesceWrites/partitionByState
// (pkg/cache/flush.go) for "gather this generation's dirty state and
// hand it to the backend", generalized from per-chunk slice coalescing
// to the indirect-block child fan-out the dbuf sync path requires.
func (d *Dbuf) Sync(ctx context.Context, txgNum uint64) error {
	rec, ok, deferred := d.beginSync(txgNum)
	if deferred {
		return ErrSyncDeferred
	}
	if !ok {
		return nil
	}

	var err error
	if d.coord.IsLeaf() || d.coord.IsBonus() || d.coord.IsSpill() {
		err = d.syncLeaf(ctx, rec)
	} else {
		err = d.syncIndirect(ctx, rec)
	}

	d.completeSync(rec, err)
	return err
}

// beginSync pops the dirty record for txgNum into dataPending. Returns
// ok=false if there is nothing to sync for this TXG (e.g. a no-op TXG
// after a free_range collapsed the chain), or deferred=true if a fill is
// still outstanding on this dbuf — the caller must retry rather than race
// the writer for the record's content (SPEC_FULL.md §5).
func (d *Dbuf) beginSync(txgNum uint64) (rec *Record, ok bool, deferred bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Has(StateFill) {
		return nil, false, true
	}

	if len(d.dirty) == 0 {
		return nil, false, false
	}
	idx := -1
	for i, r := range d.dirty {
		if r.TXG == txgNum {
			idx = i
		}
	}
	if idx < 0 {
		return nil, false, false
	}
	rec = d.dirty[idx]
	d.dirty = append(d.dirty[:idx], d.dirty[idx+1:]...)
	d.dataPending = rec
	return rec, true, false
}

// syncLeaf issues the backing write for a leaf/bonus/spill dirty record.
// An Override (an immediate/synchronous write already holding a
// pre-committed block pointer) skips re-issuing I/O entirely (spec.md
// §4.5 "Override"). A record whose write ranges don't cover the whole
// block needs a read-modify-write: the write can't be built until the
// rest of the block's content is known, so it is stashed as deferredIO and
// only dispatched once the resolving read lands (spec.md §4.5 "Leaf
// sync"; §4.3 "Resolve").
func (d *Dbuf) syncLeaf(ctx context.Context, rec *Record) error {
	if rec.Override != nil {
		d.slot.set(rec.Override.BlockPointer)
		return nil
	}

	if !isFullRange(rec.Ranges, d.dn.BlockSize) {
		rec.deferredIO = func() error { return d.issueWrite(ctx, rec) }
		if err := d.resolvePartialRecord(ctx, rec); err != nil {
			return err
		}
		write := rec.deferredIO
		rec.deferredIO = nil
		return write()
	}

	return d.issueWrite(ctx, rec)
}

// resolvePartialRecord performs the read-modify-write a partial leaf
// record needs before it can be written out whole: its write ranges only
// cover part of the block, so the unwritten remainder is read from the
// current backing content and merged underneath the record's own writes
// (spec.md §4.3 "Resolve"). A hole has no backing content to merge; the
// record's own (zero-initialized, partially-written) buffer already
// stands in for it.
func (d *Dbuf) resolvePartialRecord(ctx context.Context, rec *Record) error {
	bp := d.slot.get()
	if bp.IsHole() {
		return nil
	}

	type result struct {
		buf arc.Buf
		err error
	}
	done := make(chan result, 1)
	buf, found, err := d.cache.backend.Read(ctx, bp, arc.PrioritySync, func(b arc.Buf, e error) {
		done <- result{b, e}
	})
	if err != nil {
		return err
	}
	if !found {
		r := <-done
		buf, err = r.buf, r.err
	}
	if err != nil {
		return err
	}

	start := timeNow()
	resolveAgainstDirty(buf.Bytes(), []*Record{rec})
	d.cache.metrics.ObserveResolve(time.Since(start))
	copy(rec.Data.Bytes(), buf.Bytes())
	return nil
}

func (d *Dbuf) issueWrite(ctx context.Context, rec *Record) error {
	start := timeNow()
	done := make(chan error, 1)
	err := d.cache.backend.Write(ctx, rec.TXG, d.slot.get(), rec.Data.Bytes(),
		func(int) {},
		func(writeErr error) { done <- writeErr },
	)
	if err != nil {
		return err
	}
	writeErr := <-done
	d.cache.metrics.ObserveSyncWrite(rec.Data.Size(), time.Since(start))
	if writeErr != nil {
		return writeErr
	}
	rec.writeIssued = true
	return nil
}

// syncIndirect syncs every child dirty record linked to rec and waits for
// them all (spec.md §4.5 "indirect sync waits for children"), returning
// the first child error. Children run concurrently via errgroup, since
// their Sync calls are independent. It writes nothing for the indirect
// block itself and does not copy the children's block pointers into it.
func (d *Dbuf) syncIndirect(ctx context.Context, rec *Record) error {
	rec.childMu.Lock()
	children := append([]*Record(nil), rec.children...)
	rec.childMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			return child.owner.Sync(gctx, child.TXG)
		})
	}
	return g.Wait()
}

// completeSync clears dataPending. On success it moves the dbuf to CACHED
// if no further dirty record remains and wakes waiters; the frontend is
// left as it is (spec.md §4.5 "sync completion"). On failure the record is
// re-queued on the dirty chain and its bytes are reported as lost.
func (d *Dbuf) completeSync(rec *Record, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dataPending = nil
	if err != nil {
		// The write failed; re-queue the record so a future sync retries
		// it (spec.md §7.2 "sync failures are retried, never silently
		// dropped"). The bytes are still reported as at-risk so an
		// operator auditing the durability ledger sees every exposure,
		// not only permanent losses.
		if d.cache.loss != nil && rec.Data != nil {
			d.cache.loss.ReportLoss(d.coord, rec.TXG, rec.Data.Size())
		}
		d.cache.metrics.ObserveDirtyWritesLost(dataSize(rec))
		d.dirty = append(d.dirty, rec)
		return
	}

	if len(d.dirty) == 0 {
		d.setState((d.state &^ exclusiveMask) | StateCached)
	}
	d.cond.Broadcast()
}

func timeNow() time.Time { return time.Now() }

func dataSize(rec *Record) int {
	if rec.Data == nil {
		return 0
	}
	return rec.Data.Size()
}
