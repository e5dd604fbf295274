package dbuf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf"
	"github.com/marmos91/dbufcache/pkg/dbuf/arcsim"
	"github.com/marmos91/dbufcache/pkg/dbuf/dbuftest"
)

func TestSyncHonorsOverrideWithoutReissuingWrite(t *testing.T) {
	ctx := context.Background()
	h := dbuftest.NewHarness(t, "tank", 11, 1, 8)

	d := h.HoldLeaf(ctx, 0, "w")
	defer d.Rele("w")

	ptr := arcsim.NewPointer("tank", 11, 0, 0)
	tx := h.TxgPool.Open(2)
	require.NoError(t, d.AssignOverride(tx, ptr, false))

	require.NoError(t, d.Sync(ctx, 2))
	require.Equal(t, ptr, h.Dnode.BlockPointer(0))
}

func TestSyncDeferredWhileFillOutstanding(t *testing.T) {
	ctx := context.Background()
	h := dbuftest.NewHarness(t, "tank", 12, 1, 8)

	d := h.HoldLeaf(ctx, 0, "w")
	defer d.Rele("w")

	tx := h.TxgPool.Open(3)
	_, err := d.WillDirtyRange(tx, 0, 8)
	require.NoError(t, err)
	require.NoError(t, d.WillFill(tx))

	err = d.Sync(ctx, 3)
	require.ErrorIs(t, err, dbuf.ErrSyncDeferred)
}
