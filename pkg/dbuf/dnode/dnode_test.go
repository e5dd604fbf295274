package dnode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/dnode"
)

func TestBlockPointerDefaultsToHole(t *testing.T) {
	dn := dnode.New(1, 1, 4096)
	require.True(t, dn.BlockPointer(0).IsHole())
}

func TestSetBlockPointerIsRetrievable(t *testing.T) {
	dn := dnode.New(1, 1, 4096)
	ptr := arc.SimplePointer{Hole: false}
	dn.SetBlockPointer(5, ptr)
	require.Equal(t, ptr, dn.BlockPointer(5))
	require.True(t, dn.BlockPointer(6).IsHole())
}

func TestRegisterUnregisterDbufTracksLiveCount(t *testing.T) {
	dn := dnode.New(1, 1, 4096)
	require.Equal(t, 0, dn.LiveCount())

	dn.RegisterDbuf(0, 0)
	dn.RegisterDbuf(0, 1)
	require.Equal(t, 2, dn.LiveCount())

	dn.UnregisterDbuf(0, 0)
	require.Equal(t, 1, dn.LiveCount())
}
