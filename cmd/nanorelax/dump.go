package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <fixture.yaml>",
	Short: "Print a fixture's sections, relocations and symbols",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func runDump(_ *cobra.Command, args []string) error {
	sections, symtab, err := objfile.LoadFixture(args[0])
	if err != nil {
		return err
	}

	for _, sec := range sections {
		fmt.Printf("section %s (%d bytes, linkrelax=%v)\n", sec.Name, len(sec.Content), sec.SafeToModify())
		for _, r := range sec.Relocations {
			sym := "?"
			if r.SymIdx >= 0 && r.SymIdx < symtab.Len() {
				sym = symtab.Get(r.SymIdx).Name
			}
			fmt.Printf("  %#06x  %-24s sym=%s addend=%d\n", r.Offset, r.Kind, sym, r.Addend)
		}
	}
	return nil
}
