package section

import (
	"fmt"

	"github.com/nanomips-lld/relax/internal/nanomips/bitutil"
	"github.com/nanomips-lld/relax/internal/nanomips/codec"
	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
)

// SymbolResolver is the concrete Resolver this module ships: it computes
// addend+symbol.value and, per the relocation kind's rel_expr
// classification, folds in the owning instruction's own address
// (PC-relative and page-PC kinds) or the link's GP register value
// (GP-relative kinds), the same three-way split getRelocTargetVA makes in
// the original. Full ELF symbol resolution, layout and GP setup remain
// external collaborators (§ out of scope); GPValue is supplied by the
// caller rather than computed here.
type SymbolResolver struct {
	Symbols  *objfile.SymbolTable
	GPValue  int64
	WordSize int // 4 or 8; 0 defaults to 4
}

func (r *SymbolResolver) bits() int {
	if r.WordSize <= 0 {
		return 32
	}
	return r.WordSize * 8
}

// Resolve implements Rewriter's Resolver interface. addrLoc is the
// instruction's own address (secAddr + reloc.offset − total_delta, per
// spec.md §4.5 step 2) so PC-relative and page-PC kinds see
// post-relaxation addresses.
func (r *SymbolResolver) Resolve(sec *objfile.Section, rel objfile.Relocation, addrLoc int64) (int64, bool, error) {
	if rel.SymIdx < 0 || rel.SymIdx >= r.Symbols.Len() {
		return 0, false, fmt.Errorf("section: relocation %s references unknown symbol index %d", rel.Kind, rel.SymIdx)
	}
	sym := r.Symbols.Get(rel.SymIdx)
	if sym.UndefWeak {
		return 0, true, nil
	}

	base := int64(sym.Value) + rel.Addend
	var value int64
	switch objfile.ClassifyRelExpr(rel.Kind) {
	case objfile.ExprPC:
		value = base - addrLoc
	case objfile.ExprPagePC:
		value = int64(codec.PageMask(uint64(base))) - int64(codec.PageMask(uint64(addrLoc)))
	case objfile.ExprGPRel:
		value = base - r.GPValue
	default:
		value = base
	}
	return bitutil.SignExtend64(value, r.bits()), false, nil
}
