package txg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf/txg"
)

func TestHandleReportsItsTXG(t *testing.T) {
	pool := txg.NewPool()
	h := pool.Open(42)
	require.Equal(t, uint64(42), h.TXG())
}

func TestIsSyncingTracksPoolState(t *testing.T) {
	pool := txg.NewPool()
	h1 := pool.Open(1)
	h2 := pool.Open(2)

	require.False(t, h1.IsSyncing())
	require.False(t, h2.IsSyncing())

	pool.BeginSync(1)
	require.True(t, h1.IsSyncing())
	require.False(t, h2.IsSyncing())

	pool.EndSync()
	require.False(t, h1.IsSyncing())
}

func TestHandleWithNilSyncingMarkerNeverSyncing(t *testing.T) {
	h := txg.New(1, nil)
	require.False(t, h.IsSyncing())
}
