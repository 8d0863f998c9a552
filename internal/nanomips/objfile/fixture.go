package objfile

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Fixture is the on-disk description of one object file's worth of
// sections, symbols and relocations, used to drive the engine from a
// test/CLI input without a full ELF reader attached.
type Fixture struct {
	Name     string            `yaml:"name"`
	EFlags   uint32            `yaml:"eflags"`
	Sections []FixtureSection  `yaml:"sections"`
	Symbols  []FixtureSymbol   `yaml:"symbols"`
}

type FixtureSection struct {
	Name        string             `yaml:"name"`
	Content     []byte             `yaml:"content"`
	Relocations []FixtureReloc     `yaml:"relocations"`
}

type FixtureReloc struct {
	Offset int64  `yaml:"offset"`
	Kind   string `yaml:"kind"`
	Symbol string `yaml:"symbol"`
	Addend int64  `yaml:"addend"`
}

type FixtureSymbol struct {
	Name    string `yaml:"name"`
	Value   uint64 `yaml:"value"`
	Size    uint64 `yaml:"size"`
	Section string `yaml:"section"`
	Defined bool   `yaml:"defined"`
}

// LoadFixture reads a YAML fixture file and builds the Sections/SymbolTable
// the engine operates on.
func LoadFixture(path string) ([]*Section, *SymbolTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("objfile: reading fixture %s: %w", path, err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, nil, fmt.Errorf("objfile: parsing fixture %s: %w", path, err)
	}

	obj := &ObjectFile{Name: fx.Name, EFlags: fx.EFlags}
	symtab := NewSymbolTable()
	symIdx := make(map[string]int, len(fx.Symbols))
	for _, s := range fx.Symbols {
		idx := symtab.Add(Symbol{Name: s.Name, Value: s.Value, Size: s.Size, Defined: s.Defined})
		symIdx[s.Name] = idx
	}

	sections := make([]*Section, 0, len(fx.Sections))
	for _, fs := range fx.Sections {
		sec := &Section{
			Name:    fs.Name,
			Content: append([]byte(nil), fs.Content...),
			Object:  obj,
		}
		for _, fr := range fs.Relocations {
			kind, ok := relKindFromString[fr.Kind]
			if !ok {
				return nil, nil, fmt.Errorf("objfile: fixture %s: unknown relocation kind %q", path, fr.Kind)
			}
			sec.Relocations = append(sec.Relocations, Relocation{
				Offset: fr.Offset,
				Kind:   kind,
				SymIdx: symIdx[fr.Symbol],
				Addend: fr.Addend,
			})
		}
		sections = append(sections, sec)
	}

	return sections, symtab, nil
}

var relKindFromString = func() map[string]RelKind {
	m := make(map[string]RelKind, len(relKindNames))
	for k, name := range relKindNames {
		m[name] = k
	}
	return m
}()
