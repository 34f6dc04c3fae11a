package codegen

import (
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/intrinsics"
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
)

// selectInstructions runs this core's (simplified) instruction selection:
// a one-to-one translation from IR instructions in the injected hook code
// to MIR, preserving InlineAsmPlaceholder verbatim so the MIR-level
// lowering stage can recover it by side-table index, per spec.md §4.5
// step 6. sideTable is consulted to assign each placeholder's destination
// the register class its intrinsic's IR processor asserted, and updated
// with the placeholder's resolved argument operands for lowermir.go's
// MIR factory call to consume.
func selectInstructions(clone *lift.LiftedRepresentation, target *isa.TargetMachine, sideTable *intrinsics.SideTable) error {
	for name, fn := range clone.IRModule.Functions {
		if len(fn.Blocks) == 0 {
			continue // declaration only (e.g. a hook whose body lives in bitcode, not yet materialised here)
		}

		mirFn := clone.MIRModule.NewFunction(name, clone.TargetISA)
		vregs := make(map[string]mir.VirtReg)

		for _, block := range fn.Blocks {
			mirBlock := mirFn.NewBlock(block.Name)
			for _, instr := range block.Instrs {
				selected, err := selectOne(mirFn, mirBlock, instr, vregs, target, sideTable)
				if err != nil {
					return err
				}
				if selected != nil && instr.Name != "" {
					if v := selected.Dest; v != nil && v.Virt != nil {
						vregs[instr.Name] = *v.Virt
					}
				}
			}
		}
	}
	return nil
}

func selectOne(fn *mir.Function, block *mir.BasicBlock, instr *ir.Instr, vregs map[string]mir.VirtReg, target *isa.TargetMachine, sideTable *intrinsics.SideTable) (*mir.Instr, error) {
	if instr.Op == ir.OpInlineAsmPlaceholder {
		class := mir.RegClassScalar
		if entry, ok := sideTable.Get(instr.Aux); ok {
			class = entry.ReturnConstraint.RegClass()
			resolved := make([]mir.Operand, len(entry.Args))
			for i, a := range entry.Args {
				resolved[i] = selectOperand(a, vregs)
			}
			sideTable.SetResolvedArgs(instr.Aux, resolved)
		}
		dest := fn.NewVirt(class)
		destOp := mir.VirtOperand(dest)
		selected := &mir.Instr{Op: mir.OpPlaceholder, Dest: &destOp, Aux: instr.Aux}
		block.Append(selected)
		return selected, nil
	}

	op, ok := selectOpcode(instr.Op)
	if !ok {
		return nil, dbierr.Newf(dbierr.CodegenError, "codegen.selectOne", "no instruction selection pattern for IR op %s", instr.Op)
	}

	operands := make([]mir.Operand, 0, len(instr.Operands))
	for _, v := range instr.Operands {
		operands = append(operands, selectOperand(v, vregs))
	}

	var destPtr *mir.Operand
	if instr.Ty != ir.TypeVoid && instr.Name != "" {
		class := mir.RegClassScalar
		if instr.Ty == ir.TypeF32 || instr.Ty == ir.TypeF64 {
			class = mir.RegClassVector
		}
		v := fn.NewVirt(class)
		dest := mir.VirtOperand(v)
		destPtr = &dest
	}

	selected := &mir.Instr{Op: op, Dest: destPtr, Operands: operands}
	block.Append(selected)
	return selected, nil
}

func selectOpcode(op ir.Op) (mir.Opcode, bool) {
	switch op {
	case ir.OpBinAdd:
		return mir.OpAdd, true
	case ir.OpBinSub:
		return mir.OpSub, true
	case ir.OpBinMul:
		return mir.OpMul, true
	case ir.OpBinAnd:
		return mir.OpAnd, true
	case ir.OpBinOr:
		return mir.OpOr, true
	case ir.OpBinXor:
		return mir.OpXor, true
	case ir.OpBinShl:
		return mir.OpShl, true
	case ir.OpBinShr:
		return mir.OpShr, true
	case ir.OpICmpEq:
		return mir.OpCmpEq, true
	case ir.OpICmpLt:
		return mir.OpCmpLt, true
	case ir.OpLoad:
		return mir.OpLoad, true
	case ir.OpStore:
		return mir.OpStore, true
	case ir.OpCall:
		return mir.OpCall, true
	case ir.OpBr:
		return mir.OpBranch, true
	case ir.OpCondBr:
		return mir.OpCondBranch, true
	case ir.OpRet:
		return mir.OpReturn, true
	case ir.OpConstMove:
		return mir.OpMov, true
	default:
		return 0, false
	}
}

func selectOperand(v ir.Value, vregs map[string]mir.VirtReg) mir.Operand {
	switch val := v.(type) {
	case *ir.Const:
		return mir.ImmOperand(int64(val.Bits))
	case *ir.Global:
		return mir.SymbolOperand(val.Name)
	case *ir.Arg:
		if reg, ok := vregs[val.Name]; ok {
			return mir.VirtOperand(reg)
		}
		return mir.SymbolOperand(val.Name)
	case *ir.Instr:
		if reg, ok := vregs[val.Name]; ok {
			return mir.VirtOperand(reg)
		}
		return mir.SymbolOperand(val.Name)
	case *ir.PhysRegRef:
		return mir.PhysOperand(val.Reg)
	default:
		return mir.ImmOperand(0)
	}
}
