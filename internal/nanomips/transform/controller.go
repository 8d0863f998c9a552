// Package transform drives the per-pass state machine that decides, for
// each relocation a section rewrite visits, whether the instruction it
// points at should shrink (relax), grow (expand), or stay put, and carries
// out the ALIGN/FILL/MAX padding adjustment nanoMIPS anchors to a
// dedicated relocation rather than a plain section alignment directive.
package transform

import (
	"github.com/nanomips-lld/relax/internal/nanomips/codec"
	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
	"github.com/nanomips-lld/relax/internal/nanomips/proptab"
	"github.com/nanomips-lld/relax/internal/nanomips/reloc"
)

// State is the controller's coarse mode: whether the current configuration
// wants instructions shrunk, grown, or left untouched.
type State uint8

const (
	StateNone State = iota
	StateRelax
	StateExpand
)

const (
	nop32 = 0x8000c000
	nop16 = 0x9008
)

// Controller carries the mutable per-pass state a section rewrite
// consults: the active relax/expand mode and whether this pass changed
// anything (which gates whether another pass runs).
type Controller struct {
	state         State
	changed       bool
	insn32Config  bool // config.nanoMipsInsn32: force 32-bit encodings, suppressing relax to a 16-bit form
	expandRegLow  int  // config.nanoMipsExpandReg: highest register usable by a compact expanded encoding
}

// NewController builds a controller in StateNone; callers set the starting
// mode with ChangeState once they know whether the link wants relax,
// expand, or neither.
func NewController(insn32 bool, expandReg int) *Controller {
	return &Controller{insn32Config: insn32, expandRegLow: expandReg}
}

func (c *Controller) State() State { return c.state }

// ChangeState sets the controller's mode for the coming pass.
func (c *Controller) ChangeState(s State) { c.state = s }

// IsNone reports whether the controller is configured to do nothing,
// letting a pass driver skip section traversal entirely.
func (c *Controller) IsNone() bool { return c.state == StateNone }

// SetChanged records that this pass altered at least one instruction.
func (c *Controller) SetChanged(v bool) { c.changed = v || c.changed }

// ShouldRunAgain reports whether another pass is warranted: the controller
// is active and the previous pass changed something.
func (c *Controller) ShouldRunAgain() bool {
	return !c.IsNone() && c.changed
}

// ResetChanged clears the changed flag ahead of a new pass.
func (c *Controller) ResetChanged() { c.changed = false }

// GetInsProperty looks up the InsProperty governing the instruction a
// relocation of kind k, currently encoded in curSize bytes, points at,
// disambiguating by opcode when the kind's table has more than one row at
// the same size (insn & mask == row.Opcode, the property table's own
// matching rule — see proptab.MatchInsProperty). A relocation carrying an
// INSN16 or INSN32 hint on the same offset suppresses any transform for
// its owning instruction, the rule this module settled on for the spec's
// open question about those two hints.
func (c *Controller) GetInsProperty(insn uint64, mask uint64, kind objfile.RelKind, curSize int, forcedSize bool) (proptab.InsProperty, bool) {
	if forcedSize {
		return proptab.InsProperty{}, false
	}
	return proptab.MatchInsProperty(insn, mask, kind, curSize)
}

// fits reports whether value is representable in the given field width,
// using the signedness the owning relocation kind declares.
func fits(signed bool, value int64, bits uint8) bool {
	if bits == 0 {
		return false
	}
	if signed {
		return reloc.CheckInt(value, bits)
	}
	return reloc.CheckUint(value, bits)
}

// GetTransformTemplate picks which rewrite template applies given the
// controller's mode, an instruction's property row, and its relocation's
// resolved value: in relax mode the value must still fit the narrower
// field a shrink would leave it with; in expand mode it must fit the
// wider field a grow would give it. A matching InsProperty with no room
// at the candidate width is left untransformed rather than corrupting the
// field with a value it can't hold.
func (c *Controller) GetTransformTemplate(p proptab.InsProperty, curSize int, value int64) proptab.TemplateKind {
	relocProp, _ := proptab.GetRelocProperty(p.Kind)
	switch c.state {
	case StateRelax:
		if c.insn32Config && p.ShortSize == 2 {
			return proptab.TemplateNone
		}
		if curSize == p.LongSize && p.ShortSize != 0 && fits(relocProp.Signed, value, p.ShortBits) {
			return p.RelaxTo
		}
	case StateExpand:
		if curSize == p.ShortSize && p.LongSize != 0 && fits(relocProp.Signed, value, p.LongBits) {
			if c.insn32Config {
				return proptab.TemplateExpandToLong
			}
			return p.ExpandTo
		}
	}
	return proptab.TemplateNone
}

// Transform computes the replacement encoding for one instruction given
// the template selected for it. It returns the new instruction word, its
// new size, and whether a change actually took place.
//
// This module does not carry per-opcode encode/decode tables for the full
// nanoMIPS ISA (that belongs to an assembler/disassembler, out of scope
// per the non-goals); it models the structural effect a relax or expand
// has on an instruction's size, leaving the bit-identical encoding of the
// replacement opcode to the caller-supplied encodeFn hook.
func (c *Controller) Transform(tmpl proptab.TemplateKind, insn uint64, curSize int, p proptab.InsProperty, encodeFn func(insn uint64, fromSize, toSize int) uint64) (newInsn uint64, newSize int, changed bool) {
	switch tmpl {
	case proptab.TemplateRelaxToShort:
		newSize = p.ShortSize
	case proptab.TemplateExpandToLong:
		newSize = p.LongSize
	default:
		return insn, curSize, false
	}
	if newSize == 0 || newSize == curSize {
		return insn, curSize, false
	}
	return encodeFn(insn, curSize, newSize), newSize, true
}

// AlignResult is the outcome of resolving one ALIGN relocation: the
// section byte-count delta it introduces (negative on shrink) and the
// padding bytes to splice in at reloc.Offset+oldPadding.
type AlignResult struct {
	Delta      int64
	Padding    []byte
	NewPadSize uint64
}

// ApplyAlign computes the new padding for an ALIGN relocation anchored at
// reloc.Offset, given the section's own output address, the symbol's
// requested alignment (1<<align), its previously recorded padding size,
// and any sibling FILL/MAX relocations sharing the same offset.
//
// When shrinking padding leaves a 32-bit NOP straddling the new boundary,
// it is split into a 16-bit NOP the way the original's align() step does,
// rather than leaving a half-NOP's garbage second word behind.
func ApplyAlign(e objfile.Endianness, content []byte, outAddr uint64, offset int64, alignShift uint, oldPadding uint64, fill uint64, fillSize int, max uint64) (AlignResult, error) {
	align := uint64(1) << alignShift
	addr := outAddr + uint64(offset)
	newAddr := (addr + align - 1) &^ (align - 1)
	newPadding := newAddr - addr

	if newPadding > max {
		newPadding = 0
	}
	if newPadding == oldPadding {
		return AlignResult{NewPadSize: newPadding}, nil
	}

	count := int64(newPadding) - int64(oldPadding)

	if count < 0 && newPadding >= 2 {
		probeOff := offset + int64(newPadding) - 2
		if probeOff >= 0 && probeOff+4 <= int64(len(content)) {
			insn, err := codec.ReadInsn(e, content, probeOff, 4)
			if err == nil && insn == nop32 {
				if err := codec.WriteInsn(e, content, probeOff, nop16, 2); err != nil {
					return AlignResult{}, err
				}
			}
		}
	}

	if count <= 0 {
		return AlignResult{Delta: count, NewPadSize: newPadding}, nil
	}

	if uint64(fillSize) > uint64(count) {
		fill, fillSize = nop16, 2
	}
	padding := make([]byte, 0, count)
	for i := int64(0); i < count; i += int64(fillSize) {
		if fillSize == 1 {
			padding = append(padding, byte(fill))
		} else if fillSize == 2 {
			padding = append(padding, byte(fill), byte(fill>>8))
		} else {
			padding = append(padding,
				byte(fill), byte(fill>>8), byte(fill>>16), byte(fill>>24))
		}
	}
	return AlignResult{Delta: count, Padding: padding, NewPadSize: newPadding}, nil
}
