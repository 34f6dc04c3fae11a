package codegen

import (
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
)

// PreambleSpec states what a kernel's (or device function's) prologue
// rewrite needs to do, derived in analyzePreambles per spec.md §4.5
// step 9.
type PreambleSpec struct {
	NeedsScratch      bool
	ExtraScratchBytes int
	UsesStateValueArray bool
	NeedsPrePostAmble bool
	LiveRegisters     []mir.PhysReg
}

// analyzePreambles derives one spec per function in the clone: whether
// scratch-and-stack setup is required, how many extra scratch bytes the
// injected payload needs, and whether the state-value array is in play.
// Kernels get the full analysis; device functions only need to know
// whether they participate in state-value-array save/restore, since they
// don't own a dispatch-time stack frame of their own.
func analyzePreambles(clone *lift.LiftedRepresentation, accessSets *AccessSets) map[*mir.Function]PreambleSpec {
	specs := make(map[*mir.Function]PreambleSpec)

	specs[clone.KernelFn] = buildSpec(clone.KernelFn, accessSets, true)
	for _, fn := range clone.DeviceFunctions {
		specs[fn] = buildSpec(fn, accessSets, false)
	}

	return specs
}

func buildSpec(fn *mir.Function, accessSets *AccessSets, isKernel bool) PreambleSpec {
	regs := accessSets.PhysRegs[fn]
	live := make([]mir.PhysReg, 0, len(regs))
	for r := range regs {
		live = append(live, r)
	}

	spec := PreambleSpec{
		LiveRegisters:       live,
		UsesStateValueArray: len(live) > 0,
		NeedsPrePostAmble:   len(live) > 0 && !isKernel,
	}

	if isKernel {
		spec.NeedsScratch = len(live) > 0
		spec.ExtraScratchBytes = len(live) * 4
	}

	return spec
}
