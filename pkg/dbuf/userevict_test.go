package dbuf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf/arc"
	"github.com/marmos91/dbufcache/pkg/dbuf/dbuftest"
)

func TestGetUserEvictReportsRegisteredCallback(t *testing.T) {
	ctx := context.Background()
	h := dbuftest.NewHarness(t, "tank", 60, 1, 8)
	d := h.HoldLeaf(ctx, 0, "w")
	defer d.Rele("w")

	_, _, ok := d.GetUserEvict()
	require.False(t, ok)

	arg := "owner-x"
	d.SetUserEvict(func(data arc.Buf, userArg any) {}, arg)

	_, gotArg, ok := d.GetUserEvict()
	require.True(t, ok)
	require.Equal(t, arg, gotArg)
}

func TestRemoveUserEvictRejectsWrongOwner(t *testing.T) {
	ctx := context.Background()
	h := dbuftest.NewHarness(t, "tank", 61, 1, 8)
	d := h.HoldLeaf(ctx, 0, "w")
	defer d.Rele("w")

	owner := "owner-y"
	d.SetUserEvict(func(data arc.Buf, userArg any) {}, owner)

	removed, current := d.RemoveUserEvict("owner-x")
	require.False(t, removed)
	require.Equal(t, owner, current)

	_, gotArg, ok := d.GetUserEvict()
	require.True(t, ok)
	require.Equal(t, owner, gotArg)

	removed, current = d.RemoveUserEvict(owner)
	require.True(t, removed)
	require.Equal(t, owner, current)

	_, _, ok = d.GetUserEvict()
	require.False(t, ok)
}
