package section_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanomips-lld/relax/internal/nanomips/codec"
	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
	"github.com/nanomips-lld/relax/internal/nanomips/section"
	"github.com/nanomips-lld/relax/internal/nanomips/transform"
)

func newLinkRelaxSection(t *testing.T, content []byte, relocs []objfile.Relocation) *objfile.Section {
	t.Helper()
	obj := &objfile.ObjectFile{EFlags: objfile.EF_NANOMIPS_LINKRELAX}
	return &objfile.Section{
		Name:        "text",
		Content:     content,
		Relocations: relocs,
		Object:      obj,
	}
}

func TestPassNoopWithoutAux(t *testing.T) {
	sec := newLinkRelaxSection(t, make([]byte, 4), nil)
	rw := &section.Rewriter{Endian: objfile.LittleEndian}
	ctrl := transform.NewController(false, 31)

	changed, err := rw.Pass(sec, ctrl)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestInitAuxSkipsSectionsNotSafeToModify(t *testing.T) {
	sec := &objfile.Section{
		Name:        "text",
		Content:     make([]byte, 4),
		Relocations: []objfile.Relocation{{Kind: objfile.RelPC21S1}},
		Object:      &objfile.ObjectFile{},
	}
	rw := &section.Rewriter{Endian: objfile.LittleEndian}
	rw.InitAux([]*objfile.Section{sec}, objfile.NewSymbolTable())
	require.Nil(t, sec.Aux)
}

func TestInitAuxAllocatesForEligibleSection(t *testing.T) {
	sec := newLinkRelaxSection(t, make([]byte, 4), []objfile.Relocation{{Kind: objfile.RelPC21S1}})
	symtab := objfile.NewSymbolTable()
	symtab.Add(objfile.Symbol{Name: "foo", Value: 0, Size: 4, Defined: true, SectionIdx: 0})

	rw := &section.Rewriter{Endian: objfile.LittleEndian}
	rw.InitAux([]*objfile.Section{sec}, symtab)

	require.NotNil(t, sec.Aux)
	require.Len(t, sec.Aux.RelocInfo, 1)
	require.Len(t, sec.Aux.Anchors, 2) // start anchor + end anchor, since size > 0
}

func TestPassRelaxesAndFinalizeShrinksContent(t *testing.T) {
	content := make([]byte, 4)
	require.NoError(t, codec.WriteInsn(objfile.LittleEndian, content, 0, 0x1111, 4))

	sec := newLinkRelaxSection(t, content, []objfile.Relocation{{Offset: 0, Kind: objfile.RelPC21S1}})

	symtab := objfile.NewSymbolTable()
	symtab.Add(objfile.Symbol{Name: "target", Value: 100, Defined: true, SectionIdx: 0})

	rw := &section.Rewriter{
		Endian:  objfile.LittleEndian,
		Encode:  func(insn uint64, from, to int) uint64 { return insn & 0xFFFF },
		Resolve: &section.SymbolResolver{Symbols: symtab},
		Symbols: symtab,
	}
	rw.InitAux([]*objfile.Section{sec}, symtab)

	ctrl := transform.NewController(false, 31)
	ctrl.ChangeState(transform.StateRelax)

	changed, err := rw.Pass(sec, ctrl)
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, rw.FinalizeSection(sec))
	require.Len(t, sec.Content, 2)
	require.Equal(t, objfile.RelPC21S1, sec.Relocations[0].Kind)
}

func TestPassSkipsUndefinedWeakSymbol(t *testing.T) {
	content := make([]byte, 4)
	require.NoError(t, codec.WriteInsn(objfile.LittleEndian, content, 0, 0x1111, 4))

	sec := newLinkRelaxSection(t, content, []objfile.Relocation{{Offset: 0, Kind: objfile.RelPC21S1}})

	symtab := objfile.NewSymbolTable()
	symtab.Add(objfile.Symbol{Name: "weak", UndefWeak: true})

	rw := &section.Rewriter{
		Endian:  objfile.LittleEndian,
		Encode:  func(insn uint64, from, to int) uint64 { return insn & 0xFFFF },
		Resolve: &section.SymbolResolver{Symbols: symtab},
		Symbols: symtab,
	}
	rw.InitAux([]*objfile.Section{sec}, symtab)

	ctrl := transform.NewController(false, 31)
	ctrl.ChangeState(transform.StateRelax)

	changed, err := rw.Pass(sec, ctrl)
	require.NoError(t, err)
	require.False(t, changed, "an undefined-weak target must not be relaxed")
	require.Len(t, sec.Content, 4)
}

func TestPassFreezesAnchorsPastTheTransformedInstruction(t *testing.T) {
	content := make([]byte, 8)
	require.NoError(t, codec.WriteInsn(objfile.LittleEndian, content, 0, 0x1111, 4))

	sec := newLinkRelaxSection(t, content, []objfile.Relocation{{Offset: 0, Kind: objfile.RelPC21S1}})

	symtab := objfile.NewSymbolTable()
	symtab.Add(objfile.Symbol{Name: "branch-target", Value: 100, Defined: true, SectionIdx: 0})
	anchoredIdx := symtab.Add(objfile.Symbol{Name: "tail", Value: 4, Size: 4, Defined: true, SectionIdx: 0})

	rw := &section.Rewriter{
		Endian:  objfile.LittleEndian,
		Encode:  func(insn uint64, from, to int) uint64 { return insn & 0xFFFF },
		Resolve: &section.SymbolResolver{Symbols: symtab},
		Symbols: symtab,
	}
	rw.InitAux([]*objfile.Section{sec}, symtab)

	ctrl := transform.NewController(false, 31)
	ctrl.ChangeState(transform.StateRelax)

	changed, err := rw.Pass(sec, ctrl)
	require.NoError(t, err)
	require.True(t, changed)

	anchored := symtab.Get(anchoredIdx)
	require.Equal(t, uint64(2), anchored.Value, "tail's anchor sat past the shrunk instruction; value must drop by the 2-byte delta")
	require.Equal(t, uint64(4), anchored.Size, "size is preserved across the freeze, only the base offset shifts")
}

func TestPassSplicesAlignPadding(t *testing.T) {
	content := make([]byte, 24)
	sec := newLinkRelaxSection(t, content, []objfile.Relocation{{Offset: 8, Kind: objfile.RelAlign}})

	symtab := objfile.NewSymbolTable()
	alignSym := symtab.Add(objfile.Symbol{Name: "align", Value: 4, Size: 0, Defined: true, SectionIdx: -1})
	sec.Relocations[0].SymIdx = alignSym

	rw := &section.Rewriter{
		Endian:  objfile.LittleEndian,
		Resolve: &section.SymbolResolver{Symbols: symtab},
		Symbols: symtab,
	}
	rw.InitAux([]*objfile.Section{sec}, symtab)

	ctrl := transform.NewController(false, 31)
	ctrl.ChangeState(transform.StateRelax)

	changed, err := rw.Pass(sec, ctrl)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, sec.Content, 32) // offset 8 rounds up to align 16: 8 bytes of padding grown in place
	require.Equal(t, uint64(8), symtab.Get(alignSym).Size)
}
