package objfile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
)

func TestArenaAllocateGrowsAndZeroes(t *testing.T) {
	a := objfile.NewArena(4)
	buf := a.Allocate(4)
	require.Len(t, buf, 4)
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
	require.Equal(t, 4, a.Len())
}

func TestArenaResetReclaimsLength(t *testing.T) {
	a := objfile.NewArena(8)
	a.Allocate(8)
	a.Reset()
	require.Equal(t, 0, a.Len())
}
