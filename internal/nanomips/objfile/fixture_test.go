package objfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
)

const sampleFixture = `
name: sample
eflags: 1
symbols:
  - name: target
    value: 1024
    size: 4
    defined: true
sections:
  - name: .text
    content: [0x11, 0x22, 0x33, 0x44]
    relocations:
      - offset: 0
        kind: R_NANOMIPS_PC25_S1
        symbol: target
        addend: 0
`

func TestLoadFixtureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFixture), 0o644))

	sections, symtab, err := objfile.LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, ".text", sections[0].Name)
	require.True(t, sections[0].SafeToModify())
	require.Equal(t, objfile.RelPC25S1, sections[0].Relocations[0].Kind)
	require.Equal(t, 1, symtab.Len())
	require.Equal(t, "target", symtab.Get(sections[0].Relocations[0].SymIdx).Name)
}

const badFixture = `
name: bad
sections:
  - name: .text
    content: []
    relocations:
      - offset: 0
        kind: NOT_A_KIND
`

func TestLoadFixtureUnknownKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(badFixture), 0o644))

	_, _, err := objfile.LoadFixture(path)
	require.Error(t, err)
}

const legacyFixture = `
name: legacy
eflags: 1
content_hex: "11223344"
relocations:
  - offset: 0
    kind: R_NANOMIPS_HI20
`

func TestLoadLegacyFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(legacyFixture), 0o644))

	sec, err := objfile.LoadLegacyFixture(path)
	require.NoError(t, err)
	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, sec.Content)
	require.Equal(t, objfile.RelHI20, sec.Relocations[0].Kind)
}
