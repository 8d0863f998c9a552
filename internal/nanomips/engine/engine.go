// Package engine wires the codec, relocation applier, property tables,
// transform controller and section rewriter into the top-level
// RelaxOnce/Run driver a linker invokes once LINKRELAX object files and
// their relocations are loaded.
package engine

import (
	"fmt"

	"github.com/nanomips-lld/relax/internal/nanomips/diag"
	"github.com/nanomips-lld/relax/internal/nanomips/objfile"
	"github.com/nanomips-lld/relax/internal/nanomips/section"
	"github.com/nanomips-lld/relax/internal/nanomips/transform"
)

// Engine owns one link's worth of relaxation state: its configuration,
// the sections it may rewrite, the symbol table those sections' relocations
// reference, and the transform controller and rewriter driving passes.
type Engine struct {
	Config  Config
	Symbols *objfile.SymbolTable
	Sec     []*objfile.Section

	ctrl *transform.Controller
	rw   *section.Rewriter
	diag *diag.Sink
}

// New builds an Engine for the given configuration, section set, symbol
// table, encode hook (see section.EncodeFunc) and diagnostics sink.
func New(cfg Config, sections []*objfile.Section, symtab *objfile.SymbolTable, encode section.EncodeFunc, sink *diag.Sink) *Engine {
	endian := objfile.LittleEndian
	ctrl := transform.NewController(cfg.Insn32, cfg.ExpandReg)
	if cfg.Relax {
		ctrl.ChangeState(transform.StateRelax)
	} else if cfg.Expand {
		ctrl.ChangeState(transform.StateExpand)
	}

	resolver := &section.SymbolResolver{Symbols: symtab, WordSize: cfg.WordSize}

	return &Engine{
		Config:  cfg,
		Symbols: symtab,
		Sec:     sections,
		ctrl:    ctrl,
		rw:      &section.Rewriter{Endian: endian, Encode: encode, Resolve: resolver, Symbols: symtab},
		diag:    sink,
	}
}

// MayRelax reports whether this link is configured to relax or expand at
// all: a partial (relocatable) link never may, regardless of flags.
func (e *Engine) MayRelax() bool {
	return !e.Config.Relocatable && (e.Config.Relax || e.Config.Expand)
}

// SafeToModify reports whether sec's owning object opted into relaxation
// via the LINKRELAX header flag.
func (e *Engine) SafeToModify(sec *objfile.Section) bool {
	return sec.SafeToModify()
}

// RelaxOnce runs one fixed-point pass over every eligible section,
// returning whether anything changed (the caller should run another pass
// when true) and the first hard error encountered.
func (e *Engine) RelaxOnce(pass int) (bool, error) {
	if e.ctrl.IsNone() {
		return false, nil
	}
	if !e.MayRelax() {
		return false, nil
	}

	if pass == 0 {
		e.rw.InitAux(e.Sec, e.Symbols)
	}

	e.ctrl.ResetChanged()

	for _, sec := range e.Sec {
		if !e.SafeToModify(sec) || len(sec.Relocations) == 0 {
			continue
		}
		changed, err := e.rw.Pass(sec, e.ctrl)
		if err != nil {
			if e.diag != nil {
				e.diag.Report(diag.SeverityError, sec.Name, 0, err)
			}
			return false, fmt.Errorf("engine: pass %d on section %s: %w", pass, sec.Name, err)
		}
		if changed {
			if err := e.rw.FinalizeSection(sec); err != nil {
				return false, fmt.Errorf("engine: finalizing section %s: %w", sec.Name, err)
			}
		}
	}

	return e.ctrl.ShouldRunAgain(), nil
}

// Run drives RelaxOnce to a fixed point, stopping after maxPasses even if
// still changing (a defensive bound; a well-formed relaxation table
// converges in a handful of passes), then patches every eligible
// section's relocations into their final, converged content.
func (e *Engine) Run(maxPasses int) (int, error) {
	passesRun := maxPasses
	for pass := 0; pass < maxPasses; pass++ {
		changed, err := e.RelaxOnce(pass)
		if err != nil {
			return pass, err
		}
		if !changed {
			passesRun = pass + 1
			break
		}
	}
	if err := e.ApplyRelocations(); err != nil {
		return passesRun, err
	}
	return passesRun, nil
}

// ApplyRelocations patches every eligible section's relocations into its
// final content. A relocatable (partial) link leaves relocations for the
// next link step to resolve and is skipped, the same condition MayRelax
// checks for relax/expand itself.
func (e *Engine) ApplyRelocations() error {
	if e.Config.Relocatable {
		return nil
	}
	for _, sec := range e.Sec {
		if !e.SafeToModify(sec) || len(sec.Relocations) == 0 {
			continue
		}
		if err := e.rw.ApplyRelocations(sec, e.Config.WordSize); err != nil {
			if e.diag != nil {
				e.diag.Report(diag.SeverityError, sec.Name, 0, err)
			}
			return fmt.Errorf("engine: applying relocations to section %s: %w", sec.Name, err)
		}
	}
	return nil
}
