// Package reloc applies resolved relocation values into section content:
// range checking, bit-field placement and the NEG/ASHIFTR_1 composite
// resolution nanoMIPS uses to express add/subtract-then-shift symbol
// expressions across more than one relocation entry.
package reloc

import (
	"errors"
	"fmt"

	"github.com/nanomips-lld/relax/internal/nanomips/bitutil"
	"github.com/nanomips-lld/relax/internal/nanomips/codec"
	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
	"github.com/nanomips-lld/relax/internal/nanomips/proptab"
)

// ErrOutOfRange is returned when a resolved value does not fit the target
// field's width, the unsigned analogue of the signed overflow case.
var ErrOutOfRange = errors.New("reloc: value out of range for field")

// ErrMisaligned is returned when a resolved value's low bits, required
// zero by the field's shift amount, are nonzero.
var ErrMisaligned = errors.New("reloc: value not aligned to field shift")

// ErrCompositeLogic is returned when a NEG/ASHIFTR_1 composite sequence is
// missing its required follow-on relocations or its members disagree on
// the instruction offset they patch.
var ErrCompositeLogic = errors.New("reloc: incorrect relocation sequence for NEG composite")

// CheckInt reports whether v fits in a signed n-bit field.
func CheckInt(v int64, n uint8) bool {
	limit := int64(1) << (n - 1)
	return v >= -limit && v < limit
}

// CheckUint reports whether v fits in an unsigned n-bit field.
func CheckUint(v int64, n uint8) bool {
	if v < 0 {
		return false
	}
	limit := int64(1) << n
	return v < limit
}

func checkAligned(v int64, shift uint8) bool {
	if shift == 0 {
		return true
	}
	return v&((int64(1)<<shift)-1) == 0
}

// checkRange validates val against prop's width and signedness, returning
// ErrOutOfRange (wrapped with the relocation kind) on failure. It does not
// check alignment: the zero-low-bit check is made only by checkIntPCRel,
// and the other S{N} kinds are not checked for alignment at all. undefWeak
// symbols skip the range check the same way the original applier does,
// since an undefined weak reference's resolved value is conventionally 0
// and uninformative about the final link's range.
func checkRange(prop proptab.RelocProperty, val int64, undefWeak bool) error {
	if undefWeak {
		return nil
	}
	if prop.Signed {
		if !CheckInt(val, prop.BitsSize) {
			return fmt.Errorf("%w: %s value %#x does not fit signed %d-bit field", ErrOutOfRange, prop.Kind, val, prop.BitsSize)
		}
	} else {
		if !CheckUint(val, prop.BitsSize) {
			return fmt.Errorf("%w: %s value %#x does not fit unsigned %d-bit field", ErrOutOfRange, prop.Kind, val, prop.BitsSize)
		}
	}
	return nil
}

// Apply writes a resolved relocation value into content at the relocation's
// offset, per the field layout proptab.RelocProperties describes for kind.
//
// val is the resolved value as a Resolver produces it (already relative to
// the instruction's address for PC-relative kinds); the PC-relative
// instruction kinds other than PC32 also subtract the instruction's own
// size from val before range-checking and encoding, matching how the
// upstream applier folds "value - instruction size" into each such case.
func Apply(e objfile.Endianness, content []byte, off int64, kind objfile.RelKind, val int64, undefWeak bool) error {
	prop, ok := proptab.GetRelocProperty(kind)
	if !ok {
		return fmt.Errorf("reloc: unknown relocation kind %s", kind)
	}

	switch prop.Expr {
	case objfile.ExprNone, objfile.ExprRelaxHint:
		return nil
	case objfile.ExprNegComposite:
		return fmt.Errorf("%w: %s must be resolved via ResolveNegComposite, not Apply", ErrCompositeLogic, kind)
	}

	switch kind {
	case objfile.RelPCI32, objfile.RelPC32, objfile.Rel32, objfile.RelI32, objfile.RelGPRELI32:
		adjusted := val
		if kind == objfile.RelPCI32 {
			adjusted = val - 4
		}
		if err := checkRange(prop, adjusted, undefWeak); err != nil {
			return err
		}
		return codec.WriteImm48(e, content, off, uint32(adjusted))

	case objfile.RelHI20, objfile.RelPCHI20, objfile.RelGPRELHI20:
		if err := checkRange(prop, val, undefWeak); err != nil {
			return err
		}
		return writeHI20(e, content, off, val)

	case objfile.RelUnsigned16:
		if err := checkRange(prop, val, undefWeak); err != nil {
			return err
		}
		return codec.WriteInsn(e, content, off, uint64(uint16(val)), 2)

	case objfile.RelSigned16:
		if err := checkRange(prop, val, undefWeak); err != nil {
			return err
		}
		return codec.WriteInsn(e, content, off, uint64(uint16(val)), 2)

	case objfile.RelSigned8:
		if err := checkRange(prop, val, undefWeak); err != nil {
			return err
		}
		content[off] = byte(val)
		return nil

	case objfile.RelUnsigned8:
		if err := checkRange(prop, val, undefWeak); err != nil {
			return err
		}
		content[off] = byte(val)
		return nil

	case objfile.RelPC4S1:
		adjusted := val - 2
		if !undefWeak {
			if !CheckUint(adjusted, 5) {
				return fmt.Errorf("%w: %s value %#x out of range", ErrOutOfRange, kind, adjusted)
			}
		}
		return writeValue16(e, content, off, adjusted>>1, 4, 0)

	case objfile.RelGPREL7S2:
		if err := checkRange(prop, val, undefWeak); err != nil {
			return err
		}
		return writeValue16(e, content, off, val>>2, 7, 0)

	case objfile.RelPC10S1:
		adjusted := val - 2
		if err := checkIntPCRel(adjusted, 11, undefWeak); err != nil {
			return err
		}
		return writePCRel16(e, content, off, adjusted, 10)

	case objfile.RelPC7S1:
		adjusted := val - 2
		if err := checkIntPCRel(adjusted, 8, undefWeak); err != nil {
			return err
		}
		return writePCRel16(e, content, off, adjusted, 7)

	case objfile.RelPC25S1:
		adjusted := val - 4
		if err := checkIntPCRel(adjusted, 26, undefWeak); err != nil {
			return err
		}
		return writePCRel32(e, content, off, adjusted, 25)

	case objfile.RelPC21S1:
		adjusted := val - 4
		if err := checkIntPCRel(adjusted, 22, undefWeak); err != nil {
			return err
		}
		return writePCRel32(e, content, off, adjusted, 21)

	case objfile.RelPC14S1:
		adjusted := val - 4
		if err := checkIntPCRel(adjusted, 15, undefWeak); err != nil {
			return err
		}
		return writePCRel32(e, content, off, adjusted, 14)

	case objfile.RelPC11S1:
		adjusted := val - 4
		if err := checkIntPCRel(adjusted, 12, undefWeak); err != nil {
			return err
		}
		return writePCRel32(e, content, off, adjusted, 11)

	case objfile.RelLO12, objfile.RelGPRELLO12:
		return writeValue32BE(e, content, off, val, 12, 0)

	case objfile.RelLO4S2:
		masked := val & 0xfff
		if !undefWeak && !CheckUint(masked>>2, 6) {
			return fmt.Errorf("%w: %s value %#x out of range", ErrOutOfRange, kind, masked)
		}
		return writeValue16(e, content, off, val>>2, 4, 0)

	case objfile.RelGPREL19S2:
		if !undefWeak && !CheckUint(val, 21) {
			return fmt.Errorf("%w: %s value %#x out of range", ErrOutOfRange, kind, val)
		}
		return writeValue32BE(e, content, off, val, 19, 2)

	case objfile.RelGPREL18:
		if err := checkRange(prop, val, undefWeak); err != nil {
			return err
		}
		return writeValue32BE(e, content, off, val, 18, 0)

	case objfile.RelGPREL17S1:
		if !undefWeak && !CheckUint(val, 18) {
			return fmt.Errorf("%w: %s value %#x out of range", ErrOutOfRange, kind, val)
		}
		return writeValue32BE(e, content, off, val, 17, 1)

	default:
		return fmt.Errorf("reloc: unhandled relocation kind %s", kind)
	}
}

func checkIntPCRel(v int64, n uint8, undefWeak bool) error {
	if v&1 != 0 {
		return fmt.Errorf("%w: pc-relative value %#x has nonzero low bit", ErrMisaligned, v)
	}
	if undefWeak {
		return nil
	}
	if !CheckInt(v, n) {
		return fmt.Errorf("%w: pc-relative value %#x does not fit signed %d-bit field", ErrOutOfRange, v, n)
	}
	return nil
}

// writeHI20 patches the 20-bit high-immediate field the "lui"-family
// encoding splits across two non-contiguous bit ranges.
func writeHI20(e objfile.Endianness, content []byte, off int64, val int64) error {
	raw, err := codec.ReadInsn(e, content, off, 4)
	if err != nil {
		return err
	}
	insn := uint32(raw)
	data := (uint32(val) &^ 1) | (uint32(val>>31) & 1)
	data = (data &^ 0xffc) | (uint32(val>>19) & 0xffc)
	masked := (insn &^ 0x1ffffd) | (data & 0x1ffffd)
	return codec.WriteInsn(e, content, off, uint64(masked), 4)
}

// writeValue16 patches a bitsSize-wide field at shift within a 16-bit
// instruction word.
func writeValue16(e objfile.Endianness, content []byte, off int64, val int64, bitsSize, shift uint8) error {
	raw, err := codec.ReadInsn(e, content, off, 2)
	if err != nil {
		return err
	}
	var word uint16 = uint16(raw)
	view := bitutil.CreateBitView(&word)
	view.Write(uint16(val), int(shift), int(bitsSize))
	return codec.WriteInsn(e, content, off, uint64(word), 2)
}

// writePCRel16 patches a bitsSize-wide PC-relative field within a 16-bit
// instruction, folding the branch's own parity bit into bit [bitsSize].
func writePCRel16(e objfile.Endianness, content []byte, off int64, val int64, bitsSize uint8) error {
	raw, err := codec.ReadInsn(e, content, off, 2)
	if err != nil {
		return err
	}
	v := (val &^ 1) | ((val >> bitsSize) & 1)
	var word uint16 = uint16(raw)
	view := bitutil.CreateBitView(&word)
	view.Write(uint16(v), 0, int(bitsSize)+1)
	return codec.WriteInsn(e, content, off, uint64(word), 2)
}

// writePCRel32 patches a bitsSize-wide PC-relative field within a 32-bit
// instruction word.
func writePCRel32(e objfile.Endianness, content []byte, off int64, val int64, bitsSize uint8) error {
	raw, err := codec.ReadInsn(e, content, off, 4)
	if err != nil {
		return err
	}
	v := (val &^ 1) | ((val >> bitsSize) & 1)
	var word uint32 = uint32(raw)
	view := bitutil.CreateBitView(&word)
	view.Write(uint32(v), 0, int(bitsSize)+1)
	return codec.WriteInsn(e, content, off, uint64(word), 4)
}

// writeValue32BE patches a bitsSize-wide field at shift within a 32-bit
// instruction word, used by the GP-relative and LO12 families.
func writeValue32BE(e objfile.Endianness, content []byte, off int64, val int64, bitsSize, shift uint8) error {
	raw, err := codec.ReadInsn(e, content, off, 4)
	if err != nil {
		return err
	}
	var word uint32 = uint32(raw)
	view := bitutil.CreateBitView(&word)
	view.Write(uint32(val), int(shift), int(bitsSize))
	return codec.WriteInsn(e, content, off, uint64(word), 4)
}

// CompositeMember is one relocation entry feeding a NEG/ASHIFTR_1 composite
// sequence, paired with its already-resolved symbol+addend value.
type CompositeMember struct {
	Kind  objfile.RelKind
	Value int64
}

// ResolveNegComposite folds a R_NANOMIPS_NEG relocation and its one or two
// follow-on relocations into the single value the instruction field
// actually encodes. bits is the link's configured word size in bits
// (config->wordsize * 8 in the original), the width every intermediate
// sign-extension in the sequence uses.
//
// members[0] must be RelNeg. If members[1] is RelAshiftR1, the sequence is
// (neg + m1) >> 1, sign-extended when members[2] is one of the narrow
// signed kinds, plus members[2]; otherwise the sequence is neg + m1,
// sign-extended when m1 itself is one of the narrow signed kinds.
// ResolveNegComposite returns the folded value and how many members it
// consumed (2 or 3).
func ResolveNegComposite(members []CompositeMember, bits int) (int64, int, error) {
	if len(members) < 2 || members[0].Kind != objfile.RelNeg {
		return 0, 0, ErrCompositeLogic
	}
	neg := members[0].Value
	next1 := members[1]

	if next1.Kind == objfile.RelAshiftR1 {
		if len(members) < 3 {
			return 0, 0, ErrCompositeLogic
		}
		next2 := members[2]
		data := (next1.Value + neg) >> 1
		if next2.Kind.IsSigned8Or16() {
			data = bitutil.SignExtend64(data, bits)
		}
		data += next2.Value
		return data, 3, nil
	}

	data := next1.Value + neg
	if next1.Kind.IsSigned8Or16() {
		data = bitutil.SignExtend64(data, bits)
	}
	return data, 2, nil
}
