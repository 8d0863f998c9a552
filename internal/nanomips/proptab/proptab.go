// Package proptab holds the declarative property tables the transform
// controller and relocation applier consult: one row per relocation kind,
// one row per instruction opcode family that can relax or expand.
//
// The tables here are checked-in data, the same way the teacher's
// instruction descriptor tables are hand-authored Go literals rather than
// parsed from an external format; the upstream nanoMIPS backend generates
// its equivalent tables from TableGen source, a generation step this
// module does not reproduce.
package proptab

import "github.com/nanomips-lld/relax/internal/nanomips/objfile"

// RelocProperty describes the static shape of one relocation kind: its
// instruction-field width, bit shift, alignment requirement and signedness,
// everything the applier's bit-field writers need beyond the value itself.
type RelocProperty struct {
	Kind     objfile.RelKind
	Expr     objfile.RelExprKind
	BitsSize uint8
	Shift    uint8
	Signed   bool
	InsnSize int // size in bytes of the instruction the field lives in, 0 if kind has no instruction encoding (hints)

	// Mask is the opcode mask MatchInsProperty ANDs against an instruction
	// word before comparing to an InsProperty's Opcode. Zero means this
	// kind's property table has no opcode-level disambiguation to do (every
	// row for the kind already has a unique size), the case for every
	// relocation kind this module's declarative table currently carries;
	// a backend whose table genuinely overloads one kind across multiple
	// instruction encodings would give it a nonzero mask here.
	Mask uint64
}

// RelocProperties indexes every known relocation kind's static shape.
var RelocProperties = map[objfile.RelKind]RelocProperty{
	objfile.RelPC25S1:    {Kind: objfile.RelPC25S1, Expr: objfile.ExprPC, BitsSize: 26, Shift: 1, Signed: true, InsnSize: 4},
	objfile.RelPC21S1:    {Kind: objfile.RelPC21S1, Expr: objfile.ExprPC, BitsSize: 22, Shift: 1, Signed: true, InsnSize: 4},
	objfile.RelPC14S1:    {Kind: objfile.RelPC14S1, Expr: objfile.ExprPC, BitsSize: 15, Shift: 1, Signed: true, InsnSize: 4},
	objfile.RelPC11S1:    {Kind: objfile.RelPC11S1, Expr: objfile.ExprPC, BitsSize: 12, Shift: 1, Signed: true, InsnSize: 4},
	objfile.RelPC10S1:    {Kind: objfile.RelPC10S1, Expr: objfile.ExprPC, BitsSize: 10, Shift: 1, Signed: true, InsnSize: 2},
	objfile.RelPC7S1:     {Kind: objfile.RelPC7S1, Expr: objfile.ExprPC, BitsSize: 7, Shift: 1, Signed: true, InsnSize: 2},
	objfile.RelPC4S1:     {Kind: objfile.RelPC4S1, Expr: objfile.ExprPC, BitsSize: 4, Shift: 1, Signed: true, InsnSize: 2},
	objfile.RelPCI32:     {Kind: objfile.RelPCI32, Expr: objfile.ExprPC, BitsSize: 32, Shift: 0, Signed: true, InsnSize: 6},
	objfile.RelPC32:      {Kind: objfile.RelPC32, Expr: objfile.ExprPC, BitsSize: 32, Shift: 0, Signed: true, InsnSize: 4},
	objfile.RelPCHI20:    {Kind: objfile.RelPCHI20, Expr: objfile.ExprPagePC, BitsSize: 20, Shift: 12, Signed: true, InsnSize: 4},

	objfile.Rel32:        {Kind: objfile.Rel32, Expr: objfile.ExprAbs, BitsSize: 32, Shift: 0, Signed: true, InsnSize: 4},
	objfile.RelI32:       {Kind: objfile.RelI32, Expr: objfile.ExprAbs, BitsSize: 32, Shift: 0, Signed: true, InsnSize: 6},
	objfile.RelHI20:      {Kind: objfile.RelHI20, Expr: objfile.ExprAbs, BitsSize: 20, Shift: 12, Signed: true, InsnSize: 4},
	objfile.RelLO12:      {Kind: objfile.RelLO12, Expr: objfile.ExprAbs, BitsSize: 12, Shift: 0, Signed: false, InsnSize: 4},
	objfile.RelLO4S2:     {Kind: objfile.RelLO4S2, Expr: objfile.ExprAbs, BitsSize: 4, Shift: 2, Signed: false, InsnSize: 2},
	objfile.RelSigned8:   {Kind: objfile.RelSigned8, Expr: objfile.ExprAbs, BitsSize: 8, Shift: 0, Signed: true, InsnSize: 2},
	objfile.RelSigned16:  {Kind: objfile.RelSigned16, Expr: objfile.ExprAbs, BitsSize: 16, Shift: 0, Signed: true, InsnSize: 4},
	objfile.RelUnsigned8: {Kind: objfile.RelUnsigned8, Expr: objfile.ExprAbs, BitsSize: 8, Shift: 0, Signed: false, InsnSize: 2},
	objfile.RelUnsigned16: {Kind: objfile.RelUnsigned16, Expr: objfile.ExprAbs, BitsSize: 16, Shift: 0, Signed: false, InsnSize: 4},

	objfile.RelGPREL7S2:  {Kind: objfile.RelGPREL7S2, Expr: objfile.ExprGPRel, BitsSize: 7, Shift: 2, Signed: false, InsnSize: 2},
	objfile.RelGPREL17S1: {Kind: objfile.RelGPREL17S1, Expr: objfile.ExprGPRel, BitsSize: 17, Shift: 1, Signed: false, InsnSize: 4},
	objfile.RelGPREL18:   {Kind: objfile.RelGPREL18, Expr: objfile.ExprGPRel, BitsSize: 18, Shift: 0, Signed: false, InsnSize: 4},
	objfile.RelGPREL19S2: {Kind: objfile.RelGPREL19S2, Expr: objfile.ExprGPRel, BitsSize: 19, Shift: 2, Signed: false, InsnSize: 4},
	objfile.RelGPRELHI20: {Kind: objfile.RelGPRELHI20, Expr: objfile.ExprGPRel, BitsSize: 20, Shift: 12, Signed: true, InsnSize: 4},
	objfile.RelGPRELLO12: {Kind: objfile.RelGPRELLO12, Expr: objfile.ExprGPRel, BitsSize: 12, Shift: 0, Signed: false, InsnSize: 4},
	objfile.RelGPRELI32:  {Kind: objfile.RelGPRELI32, Expr: objfile.ExprGPRel, BitsSize: 32, Shift: 0, Signed: true, InsnSize: 6},

	objfile.RelNeg:      {Kind: objfile.RelNeg, Expr: objfile.ExprNegComposite},
	objfile.RelAshiftR1: {Kind: objfile.RelAshiftR1, Expr: objfile.ExprAbs, BitsSize: 31, Shift: 0, Signed: false, InsnSize: 4},

	objfile.RelFixed:       {Kind: objfile.RelFixed, Expr: objfile.ExprNone},
	objfile.RelAlign:       {Kind: objfile.RelAlign, Expr: objfile.ExprRelaxHint},
	objfile.RelInsn16:      {Kind: objfile.RelInsn16, Expr: objfile.ExprNone},
	objfile.RelInsn32:      {Kind: objfile.RelInsn32, Expr: objfile.ExprNone},
	objfile.RelFill:        {Kind: objfile.RelFill, Expr: objfile.ExprRelaxHint},
	objfile.RelMax:         {Kind: objfile.RelMax, Expr: objfile.ExprRelaxHint},
	objfile.RelSaveRestore: {Kind: objfile.RelSaveRestore, Expr: objfile.ExprNone},
}

// GetRelocProperty looks up a relocation kind's static shape.
func GetRelocProperty(k objfile.RelKind) (RelocProperty, bool) {
	p, ok := RelocProperties[k]
	return p, ok
}

// TemplateKind names which rewrite template a transform applies.
type TemplateKind uint8

const (
	TemplateNone TemplateKind = iota
	TemplateRelaxToShort       // e.g. balc (32 bit) -> bc16 (16 bit)
	TemplateExpandToLong       // e.g. addiu[rs5] (16 bit) -> addiu[gp.w] / addiu (32 bit)
)

// InsProperty describes one opcode family's relaxation/expansion behavior:
// what relocation it is keyed by, its encoded sizes at every candidate
// width, and which template rewrites between them.
type InsProperty struct {
	Name      string
	Kind      objfile.RelKind
	Opcode    uint64 // compared against insn&mask by MatchInsProperty; 0 when the owning kind's Mask is also 0
	ShortSize int    // 0 if the family has no shorter encoding
	ShortBits uint8  // signed/unsigned field width (per the owning kind's Signed) available at ShortSize, 0 if ShortSize == 0
	LongSize  int
	LongBits  uint8 // field width available at LongSize
	RelaxTo   TemplateKind
	ExpandTo  TemplateKind
}

// InsProperties lists the opcode families that can relax or expand,
// bucketed by the relocation kind keying them so MatchInsProperty doesn't
// do a full table scan.
// ShortBits/LongBits below are each taken from the RelocProperty of the
// sibling relocation kind that actually carries that width in this
// module's table (e.g. "bc"'s 16-bit target shares bc16's 10-bit field),
// since this synthetic table keeps one RelKind per instruction family
// rather than re-keying the relocation on every relax/expand the way a
// real linker's symbol table would.
var InsProperties = []InsProperty{
	{Name: "balc", Kind: objfile.RelPC25S1, ShortSize: 0, LongSize: 4, LongBits: 26, RelaxTo: TemplateNone, ExpandTo: TemplateNone},
	{Name: "bc", Kind: objfile.RelPC21S1, ShortSize: 2, ShortBits: 10, LongSize: 4, LongBits: 22, RelaxTo: TemplateRelaxToShort, ExpandTo: TemplateExpandToLong},
	{Name: "beqc", Kind: objfile.RelPC14S1, ShortSize: 2, ShortBits: 7, LongSize: 4, LongBits: 15, RelaxTo: TemplateRelaxToShort, ExpandTo: TemplateExpandToLong},
	{Name: "beqzc", Kind: objfile.RelPC11S1, ShortSize: 2, ShortBits: 4, LongSize: 4, LongBits: 12, RelaxTo: TemplateRelaxToShort, ExpandTo: TemplateExpandToLong},
	{Name: "bc16", Kind: objfile.RelPC10S1, ShortSize: 2, ShortBits: 10, LongSize: 4, LongBits: 22, RelaxTo: TemplateNone, ExpandTo: TemplateExpandToLong},
	{Name: "beqzc16", Kind: objfile.RelPC7S1, ShortSize: 2, ShortBits: 7, LongSize: 4, LongBits: 15, RelaxTo: TemplateNone, ExpandTo: TemplateExpandToLong},
	{Name: "b16", Kind: objfile.RelPC4S1, ShortSize: 2, ShortBits: 4, LongSize: 4, LongBits: 12, RelaxTo: TemplateNone, ExpandTo: TemplateExpandToLong},
	{Name: "addiu.gp48", Kind: objfile.RelGPRELI32, ShortSize: 4, ShortBits: 19, LongSize: 6, LongBits: 32, RelaxTo: TemplateRelaxToShort, ExpandTo: TemplateExpandToLong},
	{Name: "addiu.gp32", Kind: objfile.RelGPREL19S2, ShortSize: 2, ShortBits: 7, LongSize: 4, LongBits: 19, RelaxTo: TemplateRelaxToShort, ExpandTo: TemplateExpandToLong},
	{Name: "addiu.gp16", Kind: objfile.RelGPREL7S2, ShortSize: 0, LongSize: 2, LongBits: 7, RelaxTo: TemplateNone, ExpandTo: TemplateExpandToLong},
	{Name: "lui", Kind: objfile.RelHI20, ShortSize: 0, LongSize: 4, LongBits: 20, RelaxTo: TemplateNone, ExpandTo: TemplateNone},
	{Name: "ori", Kind: objfile.RelLO12, ShortSize: 0, LongSize: 4, LongBits: 12, RelaxTo: TemplateNone, ExpandTo: TemplateExpandToLong},
	{Name: "li48", Kind: objfile.RelI32, ShortSize: 4, ShortBits: 16, LongSize: 6, LongBits: 32, RelaxTo: TemplateRelaxToShort, ExpandTo: TemplateNone},
}

var insPropertyIndex = func() map[objfile.RelKind][]InsProperty {
	idx := make(map[objfile.RelKind][]InsProperty, len(InsProperties))
	for _, p := range InsProperties {
		idx[p.Kind] = append(idx[p.Kind], p)
	}
	return idx
}()

// MatchInsProperty finds the InsProperty governing an instruction keyed by
// kind whose current encoded size equals curSize, disambiguating between
// rows sharing a kind by opcode: a row only matches if mask == 0 (the
// kind's table has nothing to disambiguate) or (insn & mask) == p.Opcode,
// mirroring the original's (insn & reloc.mask) == ins.opcode check.
func MatchInsProperty(insn uint64, mask uint64, kind objfile.RelKind, curSize int) (InsProperty, bool) {
	for _, p := range insPropertyIndex[kind] {
		if p.ShortSize != curSize && p.LongSize != curSize {
			continue
		}
		if mask != 0 && (insn&mask) != p.Opcode {
			continue
		}
		return p, true
	}
	return InsProperty{}, false
}
