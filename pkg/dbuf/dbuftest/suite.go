// Package dbuftest provides reusable assertions shared by the dbuf
// package's own tests and by any downstream package that embeds a dbuf
// cache, grounded on the teacher's pkg/cache/testing.CacheTestSuite
// pattern: a struct holding a constructor thunk, whose methods run a
// named battery of subtests via t.Run.
package dbuftest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf"
	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/arcsim"
	"github.com/marmos91/dbufcache/pkg/dbuf/config"
	"github.com/marmos91/dbufcache/pkg/dbuf/dnode"
	"github.com/marmos91/dbufcache/pkg/dbuf/txg"
)

// Harness bundles a ready-to-use Cache, backend, dnode and TXG pool for
// a single test, each built fresh so tests never share state.
type Harness struct {
	T       *testing.T
	Cache   *dbuf.Cache
	Backend *arcsim.Cache
	Dnode   *dnode.Handle
	TxgPool *txg.Pool
}

// NewHarness constructs a Harness backed by an in-memory arcsim.Cache
// and a single-object dnode with nlevels indirection levels.
func NewHarness(t *testing.T, dataset string, object uint64, nlevels int, blockSize uint32) *Harness {
	t.Helper()
	backend := arcsim.New()
	cache := dbuf.New(backend)
	dn := dnode.New(object, nlevels, blockSize)
	dn.Dataset = dataset
	dn.IndirBlockShift = config.Default().IndirBlockShift
	return &Harness{T: t, Cache: cache, Backend: backend, Dnode: dn, TxgPool: txg.NewPool()}
}

// HoldLeaf holds and returns a leaf dbuf at blkid, failing the test on
// error.
func (h *Harness) HoldLeaf(ctx context.Context, blkid uint64, tag string) *dbuf.Dbuf {
	h.T.Helper()
	d, err := dbuf.Hold(ctx, h.Cache, h.Dnode, 0, blkid, tag, false)
	require.NoError(h.T, err)
	return d
}

// RequireState asserts d is currently in exactly state want.
func RequireState(t *testing.T, d *dbuf.Dbuf, want dbuf.State) {
	t.Helper()
	require.Equal(t, want.String(), d.State().String())
}

// RequireContent reads d and asserts its bytes equal want.
func RequireContent(ctx context.Context, t *testing.T, d *dbuf.Dbuf, want []byte) {
	t.Helper()
	b, err := d.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, want, b.Bytes())
}

// RunStateMachineTests runs a battery of C4 state-machine assertions
// shared across any harness, grounded on the teacher's
// pkg/cache/testing.CacheTestSuite pattern (a named battery of subtests
// driven by a fresh-instance constructor, so no subtest's state leaks into
// another's).
func RunStateMachineTests(t *testing.T, newHarness func(t *testing.T) *Harness) {
	t.Run("HoldStartsUncached", func(t *testing.T) {
		h := newHarness(t)
		d := h.HoldLeaf(context.Background(), 0, "t")
		defer d.Rele("t")
		RequireState(t, d, dbuf.StateUncached)
	})

	t.Run("ReadTransitionsUncachedToCached", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		d := h.HoldLeaf(ctx, 0, "t")
		defer d.Rele("t")
		_, err := d.Read(ctx)
		require.NoError(t, err)
		RequireState(t, d, dbuf.StateCached)
	})

	t.Run("PartialFillLeavesStatePartial", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		d := h.HoldLeaf(ctx, 0, "t")
		defer d.Rele("t")

		tx := h.TxgPool.Open(1)
		half := h.Dnode.BlockSize / 2
		rec, err := d.WillDirtyRange(tx, 0, half)
		require.NoError(t, err)
		require.NoError(t, d.WillFill(tx))
		copy(rec.Data.Bytes()[:half], make([]byte, half))
		d.FillDone(tx)

		RequireState(t, d, dbuf.StatePartial)
	})

	t.Run("FullWriteFromUncachedGoesStraightToCached", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		d := h.HoldLeaf(ctx, 0, "t")
		defer d.Rele("t")

		tx := h.TxgPool.Open(1)
		_, err := d.WillDirtyRange(tx, 0, h.Dnode.BlockSize)
		require.NoError(t, err)
		RequireState(t, d, dbuf.StateCached)
	})
}

// RunDirtyPathTests runs a battery of C5 dirty-path assertions shared
// across any harness.
func RunDirtyPathTests(t *testing.T, newHarness func(t *testing.T) *Harness) {
	t.Run("FreeRangeWholeBlockReturnsToUncached", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		d := h.HoldLeaf(ctx, 0, "t")
		defer d.Rele("t")

		tx := h.TxgPool.Open(1)
		_, err := d.WillDirtyRange(tx, 0, h.Dnode.BlockSize)
		require.NoError(t, err)
		d.FreeRange(tx, 0, h.Dnode.BlockSize)

		RequireState(t, d, dbuf.StateUncached)
	})

	t.Run("DirtyingSameTXGTwiceReusesOneRecord", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		d := h.HoldLeaf(ctx, 0, "t")
		defer d.Rele("t")

		tx := h.TxgPool.Open(1)
		half := h.Dnode.BlockSize / 2
		rec1, err := d.WillDirtyRange(tx, 0, half)
		require.NoError(t, err)
		rec2, err := d.WillDirtyRange(tx, half, h.Dnode.BlockSize)
		require.NoError(t, err)
		require.Same(t, rec1, rec2)

		RequireState(t, d, dbuf.StateCached)
	})
}

var _ arc.Cache = (*arcsim.Cache)(nil)
