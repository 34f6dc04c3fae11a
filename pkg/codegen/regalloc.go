package codegen

import (
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
)

// allocateRegisters assigns physical registers over every function in
// the clone, per spec.md §4.5 step 10: by this point all instrumentation
// code uses virtual registers exclusively (the virtualisation pass having
// already bracketed any remaining physical-register accesses with
// copies), so allocation is a straightforward assign-in-definition-order
// scheme rather than a full live-range-aware allocator — adequate for the
// straight-line, rarely-looping hook bodies this core instruments.
func allocateRegisters(clone *lift.LiftedRepresentation, target *isa.TargetMachine) error {
	for _, fn := range clone.MIRModule.Functions {
		if err := allocateFunction(fn, target); err != nil {
			return err
		}
	}
	return nil
}

func allocateFunction(fn *mir.Function, target *isa.TargetMachine) error {
	scalarNext := 0
	vectorNext := 0
	assigned := make(map[mir.VirtReg]mir.PhysReg)

	scalarLimit := target.Bundle.SGPRCount
	vectorLimit := target.Bundle.VGPRCount

	assign := func(v mir.VirtReg) (mir.PhysReg, error) {
		if p, ok := assigned[v]; ok {
			return p, nil
		}
		var p mir.PhysReg
		if v.Class == mir.RegClassScalar {
			if scalarNext >= scalarLimit {
				return mir.PhysReg{}, dbierr.Newf(dbierr.CodegenError, "codegen.allocateFunction", "scalar register pressure exceeds %d available SGPRs in %s", scalarLimit, fn.Name)
			}
			p = mir.PhysReg{Class: mir.RegClassScalar, Index: scalarNext}
			scalarNext++
		} else {
			if vectorLimit == 0 || vectorNext >= vectorLimit {
				return mir.PhysReg{}, dbierr.Newf(dbierr.CodegenError, "codegen.allocateFunction", "vector register pressure exceeds %d available VGPRs in %s", vectorLimit, fn.Name)
			}
			p = mir.PhysReg{Class: mir.RegClassVector, Index: vectorNext}
			vectorNext++
		}
		assigned[v] = p
		return p, nil
	}

	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if instr.Dest != nil && instr.Dest.Virt != nil {
				p, err := assign(*instr.Dest.Virt)
				if err != nil {
					return err
				}
				op := mir.PhysOperand(p)
				instr.Dest = &op
			}
			for i, operand := range instr.Operands {
				if operand.Virt != nil {
					p, err := assign(*operand.Virt)
					if err != nil {
						return err
					}
					instr.Operands[i] = mir.PhysOperand(p)
				}
			}
		}
	}

	return nil
}
