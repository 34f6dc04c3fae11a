package codegen

import (
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/intrinsics"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
)

// AccessSets records, per function, which physical registers and kernel-
// argument values an intrinsic's lowered MIR touches — spec.md §4.5 step
// 7's "records ... which physical registers and kernel-argument values
// the payload touches", consulted by the virtualisation pass (step 8) and
// the preamble analysis (step 9).
type AccessSets struct {
	PhysRegs map[*mir.Function]map[mir.PhysReg]bool
}

func newAccessSets() *AccessSets {
	return &AccessSets{PhysRegs: make(map[*mir.Function]map[mir.PhysReg]bool)}
}

func (a *AccessSets) record(fn *mir.Function, reg mir.PhysReg) {
	set, ok := a.PhysRegs[fn]
	if !ok {
		set = make(map[mir.PhysReg]bool)
		a.PhysRegs[fn] = set
	}
	set[reg] = true
}

// lowerMIRIntrinsics implements spec.md §4.5 step 7: locate each
// OpPlaceholder via its side-table index, invoke the intrinsic's MIR
// factory, and splice the resulting real MIR in place of the placeholder.
func lowerMIRIntrinsics(clone *lift.LiftedRepresentation, registry *intrinsics.Registry, sideTable *intrinsics.SideTable, target *isa.TargetMachine) (*AccessSets, error) {
	sets := newAccessSets()

	for _, fn := range clone.MIRModule.Functions {
		for _, block := range fn.Blocks {
			out := make([]*mir.Instr, 0, len(block.Instrs))
			for _, instr := range block.Instrs {
				if instr.Op != mir.OpPlaceholder {
					out = append(out, instr)
					continue
				}

				entry, ok := sideTable.Get(instr.Aux)
				if !ok {
					return nil, dbierr.Newf(dbierr.LoweringError, "codegen.lowerMIRIntrinsics", "inline-asm placeholder #%d has no side table entry (intrinsic modified its own placeholder?)", instr.Aux)
				}

				proc, ok := registry.Lookup(entry.Name)
				if !ok {
					return nil, dbierr.Newf(dbierr.LoweringError, "codegen.lowerMIRIntrinsics", "unknown intrinsic %q at call site", entry.Name)
				}

				lowered, err := proc.MIR(instr.Dest, entry.ResolvedArgs, target)
				if err != nil {
					return nil, err
				}

				for _, l := range lowered {
					if l.Dest != nil && l.Dest.Phys != nil {
						sets.record(fn, *l.Dest.Phys)
					}
					for _, op := range l.Operands {
						if op.Phys != nil {
							sets.record(fn, *op.Phys)
						}
					}
				}

				out = append(out, lowered...)
			}
			block.Instrs = out
		}
	}

	return sets, nil
}
