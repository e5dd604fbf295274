package dbuf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf"
	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/arcsim"
	"github.com/marmos91/dbufcache/pkg/dbuf/dbuftest"
)

func TestSyncWritesLeafThenClearsDirty(t *testing.T) {
	ctx := context.Background()
	h := dbuftest.NewHarness(t, "tank", 9, 1, 8)

	d := h.HoldLeaf(ctx, 0, "w")
	defer d.Rele("w")

	// A real allocator assigns the block pointer as part of the dirty
	// path; arcsim has none, so the test stands in for that allocation
	// step the way a unit test for the sync path alone should.
	ptr := arcsim.NewPointer("tank", 9, 0, 0)
	h.Dnode.SetBlockPointer(0, ptr)

	tx := h.TxgPool.Open(5)
	rec, err := d.WillDirtyRange(tx, 0, 8)
	require.NoError(t, err)
	require.NoError(t, d.WillFill(tx))
	copy(rec.Data.Bytes(), []byte("ABCDEFGH"))
	d.FillDone(tx)

	require.NoError(t, d.Sync(ctx, 5))

	buf, found, err := h.Backend.Read(ctx, ptr, arc.PrioritySync, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("ABCDEFGH"), buf.Bytes())
}

func TestSyncIndirectWaitsForChildren(t *testing.T) {
	ctx := context.Background()
	// nlevels=2: level-0 leaves, level-1 indirect block over blkid 0.
	h := dbuftest.NewHarness(t, "tank", 3, 2, 8)

	leaf := h.HoldLeaf(ctx, 0, "leaf") // holding the leaf resolves and holds its level-1 parent internally
	defer leaf.Rele("leaf")

	h.Dnode.SetBlockPointer(0, arcsim.NewPointer("tank", 3, 0, 0))

	tx := h.TxgPool.Open(1)
	rec, err := leaf.WillDirtyRange(tx, 0, 8)
	require.NoError(t, err)
	require.NoError(t, leaf.WillFill(tx))
	copy(rec.Data.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	leaf.FillDone(tx)

	// The same parent the leaf's hold created internally; holding it
	// again here only bumps its reference count.
	indirect, err := dbuf.Hold(ctx, h.Cache, h.Dnode, 1, 0, "indirect", false)
	require.NoError(t, err)
	defer indirect.Rele("indirect")

	require.NoError(t, indirect.Sync(ctx, 1))
}
