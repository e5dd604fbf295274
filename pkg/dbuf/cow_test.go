package dbuf_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf"
	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/arcsim"
	"github.com/marmos91/dbufcache/pkg/dbuf/dnode"
	"github.com/marmos91/dbufcache/pkg/dbuf/txg"
)

// blockingBackend lets a test hold a Sync's Write call open so it can
// dirty a new TXG while the previous one's record is still dataPending,
// exercising cowFaultCheck's clone-on-conflict path. Only the first Write
// blocks; later syncs in the same test proceed immediately.
type blockingBackend struct {
	*arcsim.Cache
	started chan struct{}
	proceed chan struct{}
	blocked atomic.Bool
}

func (b *blockingBackend) Write(ctx context.Context, txgNum uint64, bp arc.BlockPointer, data []byte, ready arc.WriteReadyFunc, done arc.WriteDoneFunc) error {
	if b.blocked.CompareAndSwap(false, true) {
		close(b.started)
		<-b.proceed
	}
	return b.Cache.Write(ctx, txgNum, bp, data, ready, done)
}

func TestDirtyDuringSyncClonesInsteadOfMutatingPendingWrite(t *testing.T) {
	ctx := context.Background()
	backend := &blockingBackend{Cache: arcsim.New(), started: make(chan struct{}), proceed: make(chan struct{})}
	cache := dbuf.New(backend)
	dn := dnode.New(20, 1, 8)
	dn.Dataset = "tank"
	pool := txg.NewPool()

	d, err := dbuf.Hold(ctx, cache, dn, 0, 0, "w", false)
	require.NoError(t, err)
	defer d.Rele("w")

	ptr := arcsim.NewPointer("tank", 20, 0, 0)
	dn.SetBlockPointer(0, ptr)

	tx1 := pool.Open(1)
	rec1, err := d.WillDirtyRange(tx1, 0, 8)
	require.NoError(t, err)
	require.NoError(t, d.WillFill(tx1))
	copy(rec1.Data.Bytes(), []byte("AAAAAAAA"))
	d.FillDone(tx1)

	originalFrontend := rec1.Data

	var syncErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		syncErr = d.Sync(ctx, 1)
	}()

	<-backend.started // Sync is now blocked inside Write; dataPending aliases originalFrontend.

	tx2 := pool.Open(2)
	rec2, err := d.WillDirtyRange(tx2, 0, 8)
	require.NoError(t, err)
	require.NotSame(t, originalFrontend, rec2.Data,
		"a dirty write racing an in-flight sync must clone rather than mutate the buffer being written out")
	require.NoError(t, d.WillFill(tx2))
	copy(rec2.Data.Bytes(), []byte("BBBBBBBB"))
	d.FillDone(tx2)

	close(backend.proceed)
	wg.Wait()
	require.NoError(t, syncErr)
	require.Equal(t, []byte("AAAAAAAA"), originalFrontend.Bytes(),
		"the clone must not have mutated the buffer the concurrent sync was writing out")

	require.NoError(t, d.Sync(ctx, 2))
	buf, found, err := backend.Read(ctx, ptr, arc.PrioritySync, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("BBBBBBBB"), buf.Bytes())
}
