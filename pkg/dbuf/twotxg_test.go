package dbuf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/arcsim"
	"github.com/marmos91/dbufcache/pkg/dbuf/dbuftest"
)

// TestTwoTXGOverwriteLastWriterWins exercises spec.md §8's two-TXG
// overwrite scenario: TXG1 dirties and syncs a full block, then TXG2
// dirties and syncs the same block with different content. The backing
// store must end up holding TXG2's content, not a merge of both.
func TestTwoTXGOverwriteLastWriterWins(t *testing.T) {
	ctx := context.Background()
	h := dbuftest.NewHarness(t, "tank", 11, 1, 8)

	d := h.HoldLeaf(ctx, 0, "w")
	defer d.Rele("w")

	ptr := arcsim.NewPointer("tank", 11, 0, 0)
	h.Dnode.SetBlockPointer(0, ptr)

	tx1 := h.TxgPool.Open(1)
	rec1, err := d.WillDirtyRange(tx1, 0, 8)
	require.NoError(t, err)
	require.NoError(t, d.WillFill(tx1))
	copy(rec1.Data.Bytes(), []byte("AAAAAAAA"))
	d.FillDone(tx1)
	require.NoError(t, d.Sync(ctx, 1))

	buf, found, err := h.Backend.Read(ctx, ptr, arc.PrioritySync, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("AAAAAAAA"), buf.Bytes())

	tx2 := h.TxgPool.Open(2)
	rec2, err := d.WillDirtyRange(tx2, 0, 8)
	require.NoError(t, err)
	require.NoError(t, d.WillFill(tx2))
	copy(rec2.Data.Bytes(), []byte("BBBBBBBB"))
	d.FillDone(tx2)
	require.NoError(t, d.Sync(ctx, 2))

	buf, found, err = h.Backend.Read(ctx, ptr, arc.PrioritySync, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("BBBBBBBB"), buf.Bytes())

	dbuftest.RequireContent(ctx, t, d, []byte("BBBBBBBB"))
}

// TestPartialWriteThenSyncResolvesAgainstBackingContent exercises spec.md
// §8's partial-write-then-resolve scenario: the backing store already
// holds a full block's content; a dirty record only writes part of the
// block. Sync must read-modify-write — merging the dirty bytes on top of
// the unwritten remainder — rather than writing a half-zeroed block.
func TestPartialWriteThenSyncResolvesAgainstBackingContent(t *testing.T) {
	ctx := context.Background()
	h := dbuftest.NewHarness(t, "tank", 12, 1, 8)

	ptr := arcsim.NewPointer("tank", 12, 0, 0)
	h.Dnode.SetBlockPointer(0, ptr)
	require.NoError(t, h.Backend.Write(ctx, 0, ptr, []byte("01234567"), nil, nil))

	d := h.HoldLeaf(ctx, 0, "w")
	defer d.Rele("w")

	tx := h.TxgPool.Open(1)
	rec, err := d.WillDirtyRange(tx, 2, 4) // write only bytes [2,4)
	require.NoError(t, err)
	require.NoError(t, d.WillFill(tx))
	copy(rec.Data.Bytes()[2:4], []byte("XY"))
	d.FillDone(tx)

	require.NoError(t, d.Sync(ctx, 1))

	buf, found, err := h.Backend.Read(ctx, ptr, arc.PrioritySync, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("01XY4567"), buf.Bytes())
}
