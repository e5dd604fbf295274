package dbuf

import (
	"context"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/dnode"
	"github.com/marmos91/dbufcache/pkg/dbuf/txg"
)

// SpillSetBlksz resizes the object's spill block (spec.md §6
// "spill_set_blksz"; SPEC_FULL.md §4 "Spill block handling detail"). It
// fails with ErrSpillDirty if the spill block already has an open dirty
// record or write in flight in some TXG — the caller must sync (or abandon)
// that TXG before the size can change, exactly as a regular block's size
// may not change underneath a pending write.
func SpillSetBlksz(c *Cache, dn *dnode.Handle, newBlockSize uint32) error {
	coord := Coord{Dataset: dn.Dataset, Object: dn.Object, Level: 0, BlockID: BlockIDSpill}
	if d := c.idx.find(coord); d != nil {
		dirty := len(d.dirty) > 0 || d.dataPending != nil
		d.mu.Unlock()
		if dirty {
			return ErrSpillDirty
		}
	}

	dn.StructLock.Lock()
	defer dn.StructLock.Unlock()
	dn.SpillBlockSize = newBlockSize
	return nil
}

// RmSpill frees the object's spill block entirely (spec.md §6 "rm_spill"):
// any cached or dirty content is discarded and the dnode's spill pointer is
// cleared to a hole, mirroring FreeRange's full-block path but also
// dropping the on-disk pointer since, unlike a regular free_range, a
// removed spill block has no logical size to preserve.
func RmSpill(ctx context.Context, c *Cache, dn *dnode.Handle, tx *txg.Handle, tag string) error {
	d, err := Hold(ctx, c, dn, 0, BlockIDSpill, tag, false)
	if err != nil {
		return err
	}
	defer d.Rele(tag)

	d.FreeRange(tx, 0, dn.BlockSize)
	dn.SetBlockPointer(BlockIDSpill, arc.HolePointer)
	return nil
}
