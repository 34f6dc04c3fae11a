package codegen

import (
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
)

// rewritePrologues implements spec.md §4.5 step 11: on kernel entry, emit
// code to push the state-value array and live register set onto scratch
// per the preamble spec; on kernel exit, the symmetric restore. Device
// functions needing pre/post-amble get the narrower push/pop pair. No
// SCC-preserving sequence (two alternative blocks converging on a
// successor, chosen by an SCC-preserving compare) is built around
// exec-mask writes: the exec write that luthier.write_exec lowers to stays
// a plain move. No spill/fill is emitted around individual hook calls
// either.
func rewritePrologues(clone *lift.LiftedRepresentation, specs map[*mir.Function]PreambleSpec, target *isa.TargetMachine) {
	spec, ok := specs[clone.KernelFn]
	if ok && spec.NeedsScratch {
		prependSave(clone.KernelFn, spec)
		appendRestore(clone.KernelFn, spec)
	}

	for _, fn := range clone.DeviceFunctions {
		spec, ok := specs[fn]
		if ok && spec.NeedsPrePostAmble {
			prependSave(fn, spec)
			appendRestore(fn, spec)
		}
	}
}

func prependSave(fn *mir.Function, spec PreambleSpec) {
	if len(fn.Blocks) == 0 {
		return
	}
	layout := BuildStateValueArrayLayout(spec.LiveRegisters)

	entry := fn.Blocks[0]
	saves := make([]*mir.Instr, 0, len(spec.LiveRegisters))
	for _, reg := range spec.LiveRegisters {
		offset, _ := layout.Offset(reg)
		src := mir.PhysOperand(reg)
		saves = append(saves, &mir.Instr{
			Op:       mir.OpStore,
			Operands: []mir.Operand{mir.ImmOperand(int64(offset)), src},
		})
	}
	entry.Instrs = append(saves, entry.Instrs...)
}

func appendRestore(fn *mir.Function, spec PreambleSpec) {
	if len(fn.Blocks) == 0 {
		return
	}
	layout := BuildStateValueArrayLayout(spec.LiveRegisters)

	exit := fn.Blocks[len(fn.Blocks)-1]
	restores := make([]*mir.Instr, 0, len(spec.LiveRegisters))
	for _, reg := range spec.LiveRegisters {
		offset, _ := layout.Offset(reg)
		dest := mir.PhysOperand(reg)
		restores = append(restores, &mir.Instr{
			Op:       mir.OpLoad,
			Dest:     &dest,
			Operands: []mir.Operand{mir.ImmOperand(int64(offset))},
		})
	}

	// Insert before the terminator, if any, so restores run before
	// s_endpgm/return rather than after.
	term := exit.Terminator()
	if term != nil && isTerminatorOp(term.Op) {
		exit.Instrs = append(exit.Instrs[:len(exit.Instrs)-1], append(restores, term)...)
	} else {
		exit.Instrs = append(exit.Instrs, restores...)
	}
}

func isTerminatorOp(op mir.Opcode) bool {
	switch op {
	case mir.OpSEndpgm, mir.OpReturn, mir.OpBranch, mir.OpCondBranch:
		return true
	default:
		return false
	}
}
