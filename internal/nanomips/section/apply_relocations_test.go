package section_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
	"github.com/nanomips-lld/relax/internal/nanomips/section"
)

func TestApplyRelocationsPatchesResolvedValue(t *testing.T) {
	content := make([]byte, 8)
	sec := newLinkRelaxSection(t, content, []objfile.Relocation{{Offset: 0, Kind: objfile.RelUnsigned16}})

	symtab := objfile.NewSymbolTable()
	symtab.Add(objfile.Symbol{Name: "target", Value: 0x1234, Defined: true, SectionIdx: 0})

	rw := &section.Rewriter{
		Endian:  objfile.LittleEndian,
		Resolve: &section.SymbolResolver{Symbols: symtab},
	}

	require.NoError(t, rw.ApplyRelocations(sec, 4))
	require.Equal(t, []byte{0x12, 0x34}, sec.Content[0:2], "the 16-bit field stays big-endian on the wire regardless of link endianness")
}

func TestApplyRelocationsFoldsNegComposite(t *testing.T) {
	content := make([]byte, 8)
	sec := newLinkRelaxSection(t, content, []objfile.Relocation{
		{Offset: 0, Kind: objfile.RelNeg, Addend: -100},
		{Offset: 0, Kind: objfile.RelSigned16, Addend: 150},
	})

	symtab := objfile.NewSymbolTable()
	symtab.Add(objfile.Symbol{Name: "zero", Value: 0, Defined: true, SectionIdx: 0})

	rw := &section.Rewriter{
		Endian:  objfile.LittleEndian,
		Resolve: &section.SymbolResolver{Symbols: symtab},
	}

	require.NoError(t, rw.ApplyRelocations(sec, 4))
	require.Equal(t, []byte{0x00, 0x32}, sec.Content[0:2], "folded value (150 + -100) = 50 written at the composite's tail offset")
}
