// Package section drives the per-section, per-pass relaxation walk: for
// each relocation in turn it resolves the instruction it points at,
// consults the transform controller for a replacement encoding, stages
// the replacement, and afterward rebuilds the section's content buffer
// and fixes up every relocation's offset and kind to match.
package section

import (
	"fmt"
	"sort"

	"github.com/nanomips-lld/relax/internal/nanomips/codec"
	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
	"github.com/nanomips-lld/relax/internal/nanomips/proptab"
	"github.com/nanomips-lld/relax/internal/nanomips/reloc"
	"github.com/nanomips-lld/relax/internal/nanomips/transform"
)

// Resolver resolves a relocation's fully-linked target value (addend plus
// symbol value, sign-extended to the link's word size), folding in the
// instruction's own address for PC-relative and page-PC kinds. addrLoc is
// that instruction address, computed by the caller as
// secAddr + reloc.offset - total_delta so relocations visited after some
// of the section has already shrunk see the post-relaxation address. The
// second return value reports an undefined-weak symbol, which the caller
// must treat as "leave this instruction alone" rather than feed to a
// transform decision.
type Resolver interface {
	Resolve(sec *objfile.Section, rel objfile.Relocation, addrLoc int64) (int64, bool, error)
}

// EncodeFunc produces a new instruction word for a relax/expand transform.
// fromSize and toSize are the encoding's size in bytes before and after.
type EncodeFunc func(insn uint64, fromSize, toSize int) uint64

// Default ALIGN padding parameters when a section has no sibling FILL/MAX
// relocation at the same offset: fill with 16-bit NOPs, no upper bound.
const (
	defaultAlignFill     = 0x9008
	defaultAlignFillSize = 2
)

var defaultAlignMax = ^uint64(0)

// Rewriter owns the InitAux/Pass/Finalize sequence a relaxation driver
// runs once per LINKRELAX section, once per fixed-point pass.
type Rewriter struct {
	Endian  objfile.Endianness
	Resolve Resolver
	Encode  EncodeFunc

	// Symbols backs the anchor-freezing walk in Pass (symbol.value/size
	// updates) and the sibling FILL/MAX lookups ALIGN relocations need.
	// Left nil, a section with no defined symbols still rewrites fine, but
	// InitAux never builds Anchors for it either in that case.
	Symbols *objfile.SymbolTable

	// Arena backs rebuilt section content buffers. Left nil, FinalizeSection
	// falls back to a plain make([]byte, ...) per call.
	Arena *objfile.Arena
}

// InitAux allocates (or resets) each section's RelaxAux ahead of pass 0:
// carrying forward bytesDropped from a prior link, building the
// SymbolAnchor list Pass's freezeAnchor walk keeps addresses in sync
// with, and zeroing this pass's relocation bookkeeping.
func (rw *Rewriter) InitAux(sections []*objfile.Section, symtab *objfile.SymbolTable) {
	for _, sec := range sections {
		if !sec.SafeToModify() || len(sec.Relocations) == 0 {
			continue
		}
		prevDropped := sec.BytesDropped
		sec.BytesDropped = 0
		sec.Aux = &objfile.RelaxAux{
			RelocInfo:        make([]objfile.RelocInfo, len(sec.Relocations)),
			PrevBytesDropped: prevDropped,
		}
		for i := 0; i < symtab.Len(); i++ {
			sym := symtab.Get(i)
			if !sym.Defined || sym.SectionIdx < 0 {
				continue
			}
			sec.Aux.Anchors = append(sec.Aux.Anchors, objfile.SymbolAnchor{Offset: int64(sym.Value), SymIdx: i})
			if sym.Size > 0 {
				sec.Aux.Anchors = append(sec.Aux.Anchors, objfile.SymbolAnchor{Offset: int64(sym.Value + sym.Size), SymIdx: i, End: true})
			}
		}
		// Pass's freeze walk advances a single cursor through this slice in
		// lockstep with increasing relocation offsets, so anchors must be in
		// ascending offset order regardless of the symbol table's own
		// ordering (an end anchor sharing its start's offset sorts after it,
		// so Value is already frozen by the time Size is computed from it).
		sort.SliceStable(sec.Aux.Anchors, func(i, j int) bool {
			a, b := sec.Aux.Anchors[i], sec.Aux.Anchors[j]
			if a.Offset != b.Offset {
				return a.Offset < b.Offset
			}
			return !a.End && b.End
		})
	}
}

// freezeAnchor pins one anchor's owning symbol to its position in the
// not-yet-rewritten buffer, minus every byte dropped by transforms already
// folded into totalDelta: symbol.value = offset - total_delta for a start
// anchor, symbol.size = (offset - total_delta) - symbol.value for an end
// anchor. The anchor's own offset is rewritten too, so later ALIGN offset
// shifts (which walk remaining anchors directly, bypassing totalDelta) see
// its frozen coordinate rather than its original one.
func (rw *Rewriter) freezeAnchor(anchor *objfile.SymbolAnchor, totalDelta int64) {
	sym := rw.Symbols.Get(anchor.SymIdx)
	newOffset := anchor.Offset - totalDelta
	if anchor.End {
		sym.Size = uint64(newOffset) - sym.Value
	} else {
		sym.Value = uint64(newOffset)
	}
	anchor.Offset = newOffset
}

// Pass runs one relaxation pass over sec, returning whether it changed
// anything. Apart from ALIGN padding, which applyAlign splices into
// sec.Content at once, it only stages instruction transforms; callers call
// FinalizeSection on sec afterward to rebuild the content (the engine does
// so right after each section's Pass), mirroring how
// finalizeSecTransformation runs as a distinct step from transform().
func (rw *Rewriter) Pass(sec *objfile.Section, ctrl *transform.Controller) (bool, error) {
	if sec.Aux == nil {
		return false, nil
	}
	aux := sec.Aux
	for i := range aux.RelocInfo {
		aux.RelocInfo[i] = objfile.RelocInfo{}
	}
	aux.Writes = aux.Writes[:0]

	var totalDelta int64
	var anchorCursor int
	changed := false

	for relNum := range sec.Relocations {
		rel := sec.Relocations[relNum]

		if rel.Kind == objfile.RelNone {
			continue
		}
		if rel.Kind == objfile.RelAlign {
			didChange, err := rw.applyAlign(sec, relNum)
			if err != nil {
				return changed, err
			}
			if didChange {
				changed = true
				ctrl.SetChanged(true)
			}
			continue
		}

		prop, ok := proptab.GetRelocProperty(rel.Kind)
		if !ok || prop.InsnSize == 0 {
			continue
		}

		curSize := prop.InsnSize
		relocOffset := rel.Offset
		if curSize == 6 {
			relocOffset -= 2
		}
		// A relocation whose recorded size no longer matches what actually
		// fits at its (possibly already-shrunk) offset belongs to an
		// instruction this module's Kind-per-family model can't re-track
		// across passes yet (relax/expand would need to retarget a
		// relocation to a sibling RelKind, e.g. bc's R_PC21_S1 to bc16's
		// R_PC10_S1, which this property table doesn't encode); leave it
		// alone rather than read or write out of bounds.
		if relocOffset < 0 || relocOffset+int64(curSize) > int64(len(sec.Content)) {
			continue
		}

		insn, err := codec.ReadInsn(rw.Endian, sec.Content, relocOffset, curSize)
		if err != nil {
			return changed, fmt.Errorf("section: reading instruction for %s at %d: %w", rel.Kind, relocOffset, err)
		}

		forced := false
		for _, other := range sec.Relocations {
			if other.Offset == rel.Offset && (other.Kind == objfile.RelInsn16 || other.Kind == objfile.RelInsn32) {
				forced = true
				break
			}
		}
		insProp, ok := ctrl.GetInsProperty(insn, prop.Mask, rel.Kind, curSize, forced)
		if !ok {
			continue
		}

		if rw.Resolve == nil {
			return changed, fmt.Errorf("section: rewriter has no Resolver configured for %s", rel.Kind)
		}
		addrLoc := int64(sec.OutputAddr) + rel.Offset - totalDelta
		value, undefWeak, err := rw.Resolve.Resolve(sec, rel, addrLoc)
		if err != nil {
			return changed, fmt.Errorf("section: resolving %s at %d: %w", rel.Kind, rel.Offset, err)
		}
		if undefWeak {
			continue
		}

		tmpl := ctrl.GetTransformTemplate(insProp, curSize, value)
		if tmpl == proptab.TemplateNone {
			continue
		}

		newInsn, newSize, didChange := ctrl.Transform(tmpl, insn, curSize, insProp, rw.Encode)
		if !didChange {
			continue
		}

		for anchorCursor < len(aux.Anchors) && aux.Anchors[anchorCursor].Offset <= relocOffset {
			rw.freezeAnchor(&aux.Anchors[anchorCursor], totalDelta)
			anchorCursor++
		}

		delta := int64(curSize - newSize)
		totalDelta += delta
		aux.RelocInfo[relNum] = objfile.RelocInfo{CumulativeDelta: totalDelta, NewKind: rel.Kind}
		aux.Writes = append(aux.Writes, objfile.StagedWrite{Insn: newInsn, Size: newSize, Continuation: false})
		changed = true
		ctrl.SetChanged(true)
	}

	if totalDelta != 0 {
		for anchorCursor < len(aux.Anchors) {
			rw.freezeAnchor(&aux.Anchors[anchorCursor], totalDelta)
			anchorCursor++
		}
	}

	return changed, nil
}

// applyAlign resolves one ALIGN relocation's padding against its requested
// alignment and any sibling FILL/MAX relocations sharing its offset, then
// splices the section content and shifts every later relocation offset and
// not-yet-frozen anchor immediately — unlike instruction transforms, ALIGN
// is not staged through aux.Writes/totalDelta, matching how the original's
// align() patches the section directly as soon as it runs rather than
// waiting for finalizeSecTransformation.
func (rw *Rewriter) applyAlign(sec *objfile.Section, relNum int) (bool, error) {
	rel := sec.Relocations[relNum]
	if rw.Symbols == nil {
		return false, fmt.Errorf("section: ALIGN relocation at %d requires a symbol table", rel.Offset)
	}
	sym := rw.Symbols.Get(rel.SymIdx)
	alignShift := uint(sym.Value)
	oldPadding := sym.Size

	fill, fillSize, max := uint64(defaultAlignFill), defaultAlignFillSize, defaultAlignMax
	for i := relNum + 1; i < len(sec.Relocations); i++ {
		sib := sec.Relocations[i]
		if sib.Offset != rel.Offset {
			break
		}
		switch sib.Kind {
		case objfile.RelFill:
			fillSym := rw.Symbols.Get(sib.SymIdx)
			fill, fillSize = fillSym.Value, int(fillSym.Size)
		case objfile.RelMax:
			max = rw.Symbols.Get(sib.SymIdx).Value
		}
	}

	res, err := transform.ApplyAlign(rw.Endian, sec.Content, sec.OutputAddr, rel.Offset, alignShift, oldPadding, fill, fillSize, max)
	if err != nil {
		return false, fmt.Errorf("section: applying ALIGN at %d: %w", rel.Offset, err)
	}
	sym.Size = res.NewPadSize
	if res.Delta == 0 {
		return false, nil
	}

	oldEnd := rel.Offset + int64(oldPadding)
	if res.Delta > 0 {
		spliced := make([]byte, 0, len(sec.Content)+len(res.Padding))
		spliced = append(spliced, sec.Content[:oldEnd]...)
		spliced = append(spliced, res.Padding...)
		spliced = append(spliced, sec.Content[oldEnd:]...)
		sec.Content = spliced
	} else {
		newEnd := rel.Offset + int64(res.NewPadSize)
		spliced := make([]byte, 0, len(sec.Content)+int(res.Delta))
		spliced = append(spliced, sec.Content[:newEnd]...)
		spliced = append(spliced, sec.Content[oldEnd:]...)
		sec.Content = spliced
	}

	for i := relNum + 1; i < len(sec.Relocations); i++ {
		if sec.Relocations[i].Offset >= oldEnd {
			sec.Relocations[i].Offset += res.Delta
		}
	}
	for i := range sec.Aux.Anchors {
		if sec.Aux.Anchors[i].Offset >= oldEnd {
			sec.Aux.Anchors[i].Offset += res.Delta
		}
	}

	return true, nil
}

// FinalizeSection rebuilds sec.Content from the staged writes a Pass
// produced, and adjusts every relocation's Offset (and, where a transform
// changed the owning instruction's width across the 48-bit/non-48-bit
// line, the +/-2 parity the 48-bit tail convention requires) to match the
// rewritten buffer.
func (rw *Rewriter) FinalizeSection(sec *objfile.Section) error {
	aux := sec.Aux
	if aux == nil || len(aux.Writes) == 0 {
		return nil
	}

	oldData := sec.Content
	var totalDelta int64
	for _, ri := range aux.RelocInfo {
		if ri.CumulativeDelta != 0 {
			totalDelta = ri.CumulativeDelta
		}
	}
	newSize := int64(len(oldData)) - int64(sec.BytesDropped) - totalDelta
	if newSize < 0 {
		return fmt.Errorf("section: computed negative new size for %s", sec.Name)
	}

	var newData []byte
	if rw.Arena != nil {
		newData = rw.Arena.Allocate(int(newSize))[:0]
	} else {
		newData = make([]byte, 0, newSize)
	}
	writesIdx := 0
	var offset int64

	for i := range sec.Relocations {
		ri := aux.RelocInfo[i]
		if ri.CumulativeDelta == 0 {
			continue
		}

		rel := sec.Relocations[i]
		prop, _ := proptab.GetRelocProperty(rel.Kind)
		relOffset := rel.Offset
		if prop.InsnSize == 6 {
			relOffset -= 2
		}

		newData = append(newData, oldData[offset:relOffset]...)

		for {
			w := aux.Writes[writesIdx]
			buf := make([]byte, w.Size)
			if err := codec.WriteInsn(rw.Endian, buf, 0, w.Insn, w.Size); err != nil {
				return err
			}
			newData = append(newData, buf...)
			cont := w.Continuation
			writesIdx++
			if !cont {
				break
			}
		}

		offset = relOffset + int64(prop.InsnSize)
	}
	newData = append(newData, oldData[offset:]...)

	sec.Content = newData
	sec.BytesDropped = 0

	rw.adjustRelocations(sec, totalDelta)
	return nil
}

func (rw *Rewriter) adjustRelocations(sec *objfile.Section, _ int64) {
	aux := sec.Aux
	var delta, prevDelta int64

	for i := range sec.Relocations {
		if i != 0 && aux.RelocInfo[i-1].CumulativeDelta != 0 {
			prevDelta = delta
			delta = aux.RelocInfo[i-1].CumulativeDelta
		}

		if aux.RelocInfo[i].CumulativeDelta != 0 {
			rel := &sec.Relocations[i]
			rel.Offset -= delta

			oldProp, _ := proptab.GetRelocProperty(rel.Kind)
			newKind := aux.RelocInfo[i].NewKind
			newProp, _ := proptab.GetRelocProperty(newKind)
			rel.Kind = newKind

			if oldProp.InsnSize == 6 && newProp.InsnSize != 6 {
				rel.Offset -= 2
			} else if oldProp.InsnSize != 6 && newProp.InsnSize == 6 {
				rel.Offset += 2
			}
		} else {
			sec.Relocations[i].Offset -= delta
		}
	}
	_ = prevDelta
}

// ApplyRelocations patches sec.Content with every relocation's fully
// resolved value, once the section's final instruction layout has settled
// (relax/expand and ALIGN passes have converged). This is the relocation
// applier's entry point into a running link: a NEG relocation and its
// ASHIFTR_1/follow-on siblings sharing its offset are folded through
// reloc.ResolveNegComposite before being written; every other kind with an
// instruction encoding is resolved through Resolver and written with
// reloc.Apply directly.
func (rw *Rewriter) ApplyRelocations(sec *objfile.Section, wordSize int) error {
	if rw.Resolve == nil {
		return fmt.Errorf("section: rewriter has no Resolver configured for %s", sec.Name)
	}
	bits := wordSize * 8
	if bits <= 0 {
		bits = 32
	}

	i := 0
	for i < len(sec.Relocations) {
		rel := sec.Relocations[i]
		prop, ok := proptab.GetRelocProperty(rel.Kind)
		if !ok {
			i++
			continue
		}

		switch prop.Expr {
		case objfile.ExprNone, objfile.ExprRelaxHint:
			i++
			continue
		case objfile.ExprNegComposite:
			members, err := rw.collectNegComposite(sec, i)
			if err != nil {
				return fmt.Errorf("section: %s composite at %d: %w", rel.Kind, rel.Offset, err)
			}
			value, consumed, err := reloc.ResolveNegComposite(members, bits)
			if err != nil {
				return fmt.Errorf("section: %s composite at %d: %w", rel.Kind, rel.Offset, err)
			}
			last := sec.Relocations[i+consumed-1]
			// Same bounds caveat as Pass: a relaxed/expanded owner of this
			// field may have left the recorded Kind's width stale.
			if lastProp, ok := proptab.GetRelocProperty(last.Kind); !ok || last.Offset+int64(sizeForApply(lastProp)) > int64(len(sec.Content)) {
				i += consumed
				continue
			}
			if err := reloc.Apply(rw.Endian, sec.Content, last.Offset, last.Kind, value, false); err != nil {
				return fmt.Errorf("section: applying %s composite at %d: %w", rel.Kind, last.Offset, err)
			}
			i += consumed
			continue
		}

		if prop.InsnSize > 0 && rel.Offset+int64(prop.InsnSize) > int64(len(sec.Content)) {
			i++
			continue
		}

		addrLoc := int64(sec.OutputAddr) + rel.Offset
		value, undefWeak, err := rw.Resolve.Resolve(sec, rel, addrLoc)
		if err != nil {
			return fmt.Errorf("section: resolving %s at %d: %w", rel.Kind, rel.Offset, err)
		}
		if err := reloc.Apply(rw.Endian, sec.Content, rel.Offset, rel.Kind, value, undefWeak); err != nil {
			return fmt.Errorf("section: applying %s at %d: %w", rel.Kind, rel.Offset, err)
		}
		i++
	}
	return nil
}

// sizeForApply reports the byte width Apply's write path actually touches
// for an absolute/composite-tail kind, for the bounds check above: the
// kind's recorded InsnSize, or 2 bytes for a kind that records none. Every
// ExprAbs kind in proptab.RelocProperties records an InsnSize.
func sizeForApply(p proptab.RelocProperty) int {
	if p.InsnSize > 0 {
		return p.InsnSize
	}
	return 2
}

// collectNegComposite gathers a RelNeg relocation and up to two follow-on
// relocations sharing its offset, resolving each member's value through
// Resolver ahead of folding them with reloc.ResolveNegComposite.
func (rw *Rewriter) collectNegComposite(sec *objfile.Section, start int) ([]reloc.CompositeMember, error) {
	end := start + 1
	for end < len(sec.Relocations) && end < start+3 && sec.Relocations[end].Offset == sec.Relocations[start].Offset {
		end++
	}
	members := make([]reloc.CompositeMember, 0, end-start)
	for idx := start; idx < end; idx++ {
		rel := sec.Relocations[idx]
		addrLoc := int64(sec.OutputAddr) + rel.Offset
		value, _, err := rw.Resolve.Resolve(sec, rel, addrLoc)
		if err != nil {
			return nil, err
		}
		members = append(members, reloc.CompositeMember{Kind: rel.Kind, Value: value})
	}
	return members, nil
}
