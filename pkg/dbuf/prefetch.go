package dbuf

import (
	"context"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/dnode"
)

const prefetchTag = "prefetch"

// Prefetch issues a best-effort, asynchronous backing read of (level,
// blkid) to warm the cache ahead of an expected future Read (spec.md §6
// "prefetch"). Unlike Hold, it never blocks the caller and never returns an
// error: a prefetch that can't be started (the block is a hole, the cache
// is closed, a read or fill is already outstanding) is simply a no-op, and
// any read failure is discarded the same way — prefetch is advisory only
// and a later real Read will surface any genuine problem.
func Prefetch(ctx context.Context, c *Cache, dn *dnode.Handle, level int, blkid uint64) {
	d, err := Hold(ctx, c, dn, level, blkid, prefetchTag, true)
	if err != nil {
		return
	}

	d.mu.Lock()
	if d.state.Has(StateCached) || d.state.Any(StateRead|StateFill) {
		d.mu.Unlock()
		d.Rele(prefetchTag)
		return
	}
	bp := d.slot.get()
	d.setState((d.state &^ exclusiveMask) | StateRead)
	d.mu.Unlock()

	go func() {
		defer d.Rele(prefetchTag)
		buf, found, err := c.backend.Read(ctx, bp, arc.PriorityAsync, d.completeRead)
		if found || err != nil {
			d.completeRead(buf, err)
		}
	}()
}
