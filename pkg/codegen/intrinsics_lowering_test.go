package codegen

import (
	"testing"

	"github.com/luthier-go/luthier/pkg/intrinsics"
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
	"github.com/luthier-go/luthier/pkg/symbol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntrinsicLowering_ReadRegRoundTripsThePhysicalRegisterArgument
// exercises the full two-stage intrinsic lowering pipeline
// (lowerIRIntrinsics -> selectInstructions -> lowerMIRIntrinsics) end to
// end: a hook body calling luthier.read_reg(s4) must still reference s4,
// not a hardcoded immediate 0, once it reaches real MIR.
func TestIntrinsicLowering_ReadRegRoundTripsThePhysicalRegisterArgument(t *testing.T) {
	irModule := ir.NewModule("hook")
	fn := irModule.NewFunction("my_hook", ir.TypeI32, nil)
	block := fn.NewBlock("entry")
	call := block.Append(&ir.Instr{
		Op:       ir.OpCall,
		Ty:       ir.TypeI32,
		Name:     "v0",
		Callee:   "luthier.read_reg",
		Operands: []ir.Value{&ir.PhysRegRef{Reg: mir.PhysReg{Class: mir.RegClassScalar, Index: 4}}},
	})
	block.Append(&ir.Instr{Op: ir.OpRet, Operands: []ir.Value{call}})

	mirModule := mir.NewModule()
	clone := &lift.LiftedRepresentation{
		Kernel:    &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}},
		IRModule:  irModule,
		MIRModule: mirModule,
		TargetISA: "gfx90a",
	}

	registry := intrinsics.NewRegistry()
	intrinsics.RegisterBuiltins(registry)
	sideTable := intrinsics.NewSideTable()

	require.NoError(t, lowerIRIntrinsics(clone, registry, sideTable))

	placeholder := block.Instrs[0]
	assert.Equal(t, ir.OpInlineAsmPlaceholder, placeholder.Op)

	target, err := isa.NewManager(nil).NewTargetMachine("gfx90a")
	require.NoError(t, err)

	require.NoError(t, selectInstructions(clone, target, sideTable))

	entry, ok := sideTable.Get(placeholder.Aux)
	require.True(t, ok)
	require.Len(t, entry.ResolvedArgs, 1)
	require.NotNil(t, entry.ResolvedArgs[0].Phys)
	assert.Equal(t, mir.PhysReg{Class: mir.RegClassScalar, Index: 4}, *entry.ResolvedArgs[0].Phys)

	accessSets, err := lowerMIRIntrinsics(clone, registry, sideTable, target)
	require.NoError(t, err)

	mirFn := mirModule.Functions["my_hook"]
	require.NotNil(t, mirFn)
	mirBlock := mirFn.Blocks[0]

	var movFromS4 *mir.Instr
	for _, instr := range mirBlock.Instrs {
		if instr.Op == mir.OpMov && len(instr.Operands) == 1 && instr.Operands[0].Phys != nil {
			movFromS4 = instr
			break
		}
	}
	require.NotNil(t, movFromS4, "expected the lowered read_reg to still reference a physical register operand")
	assert.Equal(t, mir.PhysReg{Class: mir.RegClassScalar, Index: 4}, *movFromS4.Operands[0].Phys)

	assert.True(t, accessSets.PhysRegs[mirFn][mir.PhysReg{Class: mir.RegClassScalar, Index: 4}])
}

func TestLowerIRIntrinsics_SkipsCallsToUnregisteredNames(t *testing.T) {
	irModule := ir.NewModule("hook")
	fn := irModule.NewFunction("plain", ir.TypeVoid, nil)
	block := fn.NewBlock("entry")
	block.Append(&ir.Instr{Op: ir.OpCall, Callee: "not_an_intrinsic"})

	clone := &lift.LiftedRepresentation{IRModule: irModule, MIRModule: mir.NewModule()}
	registry := intrinsics.NewRegistry()
	intrinsics.RegisterBuiltins(registry)

	require.NoError(t, lowerIRIntrinsics(clone, registry, intrinsics.NewSideTable()))
	assert.Equal(t, ir.OpCall, block.Instrs[0].Op)
}
