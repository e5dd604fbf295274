package dbuf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf"
	"github.com/marmos91/dbufcache/pkg/dbuf/dbuftest"
)

func TestAssignArcBufInstallsContentAndGoesCached(t *testing.T) {
	ctx := context.Background()
	h := dbuftest.NewHarness(t, "tank", 70, 1, 8)

	d := h.HoldLeaf(ctx, 0, "w")
	defer d.Rele("w")

	tx := h.TxgPool.Open(1)
	buf := h.Backend.Alloc(8, "w", 0)
	copy(buf.Bytes(), []byte("ASSIGNED"))

	rec, err := d.AssignArcBuf(tx, buf)
	require.NoError(t, err)
	require.Same(t, buf, rec.Data)

	dbuftest.RequireState(t, d, dbuf.StateCached)
	dbuftest.RequireContent(ctx, t, d, []byte("ASSIGNED"))
	require.True(t, buf.Frozen())
}
