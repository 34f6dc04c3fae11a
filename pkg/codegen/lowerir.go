package codegen

import (
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/intrinsics"
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/lift"
)

// lowerIRIntrinsics implements spec.md §4.5 step 5: every call to a
// registered intrinsic is replaced by an InlineAsmPlaceholder carrying a
// monotonic side-table index, the first half of the two-stage intrinsic
// lowering trick. Placement at the IR level validates the intrinsic is
// known before MIR-producing work (instruction selection) ever runs on
// it.
func lowerIRIntrinsics(clone *lift.LiftedRepresentation, registry *intrinsics.Registry, sideTable *intrinsics.SideTable) error {
	for _, fn := range clone.IRModule.Functions {
		for _, block := range fn.Blocks {
			for i, instr := range block.Instrs {
				if instr.Op != ir.OpCall {
					continue
				}
				if _, ok := registry.Lookup(instr.Callee); !ok {
					continue // not every call is to a registered intrinsic
				}

				entry, _ := registry.Lookup(instr.Callee)
				decision, err := entry.IR(intrinsics.IRBundle{Call: instr, Args: instr.Operands})
				if err != nil {
					return dbierr.New(dbierr.LoweringError, "codegen.lowerIRIntrinsics", err)
				}

				idx := sideTable.Add(intrinsics.SideTableEntry{
					Name:             instr.Callee,
					Args:             decision.Args,
					ReturnConstraint: decision.ReturnConstraint,
				})
				block.Instrs[i] = &ir.Instr{
					Op:       ir.OpInlineAsmPlaceholder,
					Ty:       instr.Ty,
					Name:     instr.Name,
					Operands: instr.Operands,
					Callee:   instr.Callee,
					Aux:      idx,
				}
			}
		}
	}
	return nil
}

// validateIntrinsicKnown returns a LoweringError for an unrecognised
// intrinsic name, unlike lowerIRIntrinsics, which passes unknown calls
// through unchanged. Nothing in this package calls it.
func validateIntrinsicKnown(registry *intrinsics.Registry, name string) error {
	if _, ok := registry.Lookup(name); !ok {
		return dbierr.Newf(dbierr.LoweringError, "codegen.validateIntrinsicKnown", "unknown intrinsic %q", name)
	}
	return nil
}
