package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanomips-lld/relax/internal/nanomips/codec"
	"github.com/nanomips-lld/relax/internal/nanomips/engine"
	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
)

func TestMayRelaxRespectsRelocatable(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Relocatable = true
	e := engine.New(cfg, nil, objfile.NewSymbolTable(), nil, nil)
	require.False(t, e.MayRelax())
}

func TestMayRelaxWithDefaults(t *testing.T) {
	e := engine.New(engine.DefaultConfig(), nil, objfile.NewSymbolTable(), nil, nil)
	require.True(t, e.MayRelax())
}

func TestRunConvergesWhenNoSections(t *testing.T) {
	e := engine.New(engine.DefaultConfig(), nil, objfile.NewSymbolTable(), nil, nil)
	passes, err := e.Run(8)
	require.NoError(t, err)
	require.LessOrEqual(t, passes, 8)
}

func TestRunRelaxesUntilFixedPoint(t *testing.T) {
	content := make([]byte, 4)
	require.NoError(t, codec.WriteInsn(objfile.LittleEndian, content, 0, 0x2222, 4))

	sec := &objfile.Section{
		Name:        "text",
		Content:     content,
		Relocations: []objfile.Relocation{{Offset: 0, Kind: objfile.RelPC21S1}},
		Object:      &objfile.ObjectFile{EFlags: objfile.EF_NANOMIPS_LINKRELAX},
	}

	symtab := objfile.NewSymbolTable()
	symtab.Add(objfile.Symbol{Name: "target", Value: 100, Defined: true, SectionIdx: 0})

	encode := func(insn uint64, from, to int) uint64 { return insn & 0xFFFF }
	e := engine.New(engine.DefaultConfig(), []*objfile.Section{sec}, symtab, encode, nil)

	passes, err := e.Run(8)
	require.NoError(t, err)
	require.Greater(t, passes, 0)
	require.Len(t, sec.Content, 2)
}
