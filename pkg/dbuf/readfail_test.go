package dbuf_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf"
	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/arcsim"
	"github.com/marmos91/dbufcache/pkg/dbuf/dnode"
	"github.com/marmos91/dbufcache/pkg/dbuf/txg"
)

var errBackingRead = errors.New("simulated backing read failure")

// failingReadBackend wraps arcsim.Cache and fails every Read, exercising
// spec.md §8's read-failure-with-outstanding-dirty scenario without
// needing a real backing store that can actually fail.
type failingReadBackend struct {
	*arcsim.Cache
}

func (b *failingReadBackend) Read(ctx context.Context, bp arc.BlockPointer, prio arc.Priority, done arc.ReadDoneFunc) (arc.Buf, bool, error) {
	return nil, false, errBackingRead
}

func TestReadFailureWithOutstandingDirtySurvives(t *testing.T) {
	ctx := context.Background()
	backend := &failingReadBackend{Cache: arcsim.New()}
	cache := dbuf.New(backend)
	dn := dnode.New(30, 1, 8)
	dn.Dataset = "tank"
	pool := txg.NewPool()

	d, err := dbuf.Hold(ctx, cache, dn, 0, 0, "w", false)
	require.NoError(t, err)
	defer d.Rele("w")

	ptr := arcsim.NewPointer("tank", 30, 0, 0)
	dn.SetBlockPointer(0, ptr)

	tx := pool.Open(1)
	rec, err := d.WillDirtyRange(tx, 2, 4) // partial write, leaves StatePartial
	require.NoError(t, err)
	require.NoError(t, d.WillFill(tx))
	copy(rec.Data.Bytes()[2:4], []byte("XY"))
	d.FillDone(tx)

	// Read triggers a backing fetch to resolve the rest of the block
	// (bare PARTIAL); the backend fails, but the dirty record's content
	// must still be available afterward rather than a permanent error.
	buf, err := d.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.Equal(t, byte('X'), buf.Bytes()[2])
	require.Equal(t, byte('Y'), buf.Bytes()[3])
}
