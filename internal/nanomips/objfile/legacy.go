package objfile

import (
	"encoding/hex"
	"fmt"
	"os"

	yamlv2 "gopkg.in/yaml.v2"
)

// legacyFixture is the older, flatter fixture shape some checked-in test
// inputs still use: a single section's content as a hex string rather
// than a YAML byte sequence, and no symbol table. LoadLegacyFixture keeps
// those inputs readable without migrating them to the current Fixture
// schema.
type legacyFixture struct {
	Name        string `yaml:"name"`
	EFlags      uint32 `yaml:"eflags"`
	ContentHex  string `yaml:"content_hex"`
	Relocations []struct {
		Offset int64  `yaml:"offset"`
		Kind   string `yaml:"kind"`
	} `yaml:"relocations"`
}

// LoadLegacyFixture reads the legacy single-section hex-content fixture
// format via yaml.v2.
func LoadLegacyFixture(path string) (*Section, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("objfile: reading legacy fixture %s: %w", path, err)
	}

	var lf legacyFixture
	if err := yamlv2.Unmarshal(raw, &lf); err != nil {
		return nil, fmt.Errorf("objfile: parsing legacy fixture %s: %w", path, err)
	}

	content, err := hex.DecodeString(lf.ContentHex)
	if err != nil {
		return nil, fmt.Errorf("objfile: legacy fixture %s: decoding content_hex: %w", path, err)
	}

	sec := &Section{
		Name:    lf.Name,
		Content: content,
		Object:  &ObjectFile{Name: lf.Name, EFlags: lf.EFlags},
	}
	for _, r := range lf.Relocations {
		kind, ok := relKindFromString[r.Kind]
		if !ok {
			return nil, fmt.Errorf("objfile: legacy fixture %s: unknown relocation kind %q", path, r.Kind)
		}
		sec.Relocations = append(sec.Relocations, Relocation{Offset: r.Offset, Kind: kind})
	}
	return sec, nil
}
