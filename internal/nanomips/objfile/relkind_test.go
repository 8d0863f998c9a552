package objfile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
)

func TestRelKindString(t *testing.T) {
	require.Equal(t, "R_NANOMIPS_PC25_S1", objfile.RelPC25S1.String())
	require.Equal(t, "R_NANOMIPS_UNKNOWN", objfile.RelKind(250).String())
}

func TestClassifyRelExpr(t *testing.T) {
	require.Equal(t, objfile.ExprPC, objfile.ClassifyRelExpr(objfile.RelPC25S1))
	require.Equal(t, objfile.ExprNegComposite, objfile.ClassifyRelExpr(objfile.RelNeg))
	require.Equal(t, objfile.ExprGPRel, objfile.ClassifyRelExpr(objfile.RelGPREL7S2))
	require.Equal(t, objfile.ExprRelaxHint, objfile.ClassifyRelExpr(objfile.RelAlign))
	require.Equal(t, objfile.ExprPagePC, objfile.ClassifyRelExpr(objfile.RelPCHI20))
}

func TestIsSigned8Or16(t *testing.T) {
	require.True(t, objfile.RelSigned8.IsSigned8Or16())
	require.True(t, objfile.RelSigned16.IsSigned8Or16())
	require.False(t, objfile.RelUnsigned8.IsSigned8Or16())
}

func TestObjectFileLinkRelax(t *testing.T) {
	o := &objfile.ObjectFile{EFlags: objfile.EF_NANOMIPS_LINKRELAX}
	require.True(t, o.LinkRelax())

	o2 := &objfile.ObjectFile{}
	require.False(t, o2.LinkRelax())
}
