package mir

import (
	"testing"

	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule_Clone_DeepCopiesBlocksAndSuccessorEdges(t *testing.T) {
	m := NewModule()
	fn := m.NewFunction("kernel", isa.ID("gfx90a"))
	bb0 := fn.NewBlock("bb0")
	bb1 := fn.NewBlock("bb1")
	bb0.Append(&Instr{Op: OpBranch})
	bb0.AddSucc(bb1)
	bb1.Append(&Instr{Op: OpSEndpgm})

	clone := m.Clone()

	cfn := clone.Functions["kernel"]
	require.NotNil(t, cfn)
	require.Len(t, cfn.Blocks, 2)

	cbb0 := cfn.Blocks[0]
	cbb1 := cfn.Blocks[1]
	require.Len(t, cbb0.Succs, 1)
	assert.Same(t, cbb1, cbb0.Succs[0])

	// Mutating the clone must not perturb the original.
	cbb0.Instrs[0].Op = OpCondBranch
	assert.Equal(t, OpBranch, bb0.Instrs[0].Op)
}

func TestModule_Clone_PreservesNextVirtCounter(t *testing.T) {
	m := NewModule()
	fn := m.NewFunction("kernel", isa.ID("gfx90a"))
	fn.NewVirt(RegClassScalar)
	fn.NewVirt(RegClassVector)

	clone := m.Clone()
	assert.Equal(t, fn.NextVirt, clone.Functions["kernel"].NextVirt)
}

func TestBasicBlock_AddSucc_Appends(t *testing.T) {
	m := NewModule()
	fn := m.NewFunction("kernel", isa.ID("gfx90a"))
	a := fn.NewBlock("a")
	b := fn.NewBlock("b")
	c := fn.NewBlock("c")

	a.AddSucc(b)
	a.AddSucc(c)

	assert.Equal(t, []*BasicBlock{b, c}, a.Succs)
}

func TestOperand_Constructors(t *testing.T) {
	phys := PhysOperand(PhysReg{Class: RegClassScalar, Index: 4})
	require.NotNil(t, phys.Phys)
	assert.Equal(t, "s4", phys.String())

	virt := VirtOperand(VirtReg{Class: RegClassVector, ID: 2})
	require.NotNil(t, virt.Virt)
	assert.Equal(t, "%v2", virt.String())

	imm := ImmOperand(7)
	assert.True(t, imm.IsImm)
	assert.Equal(t, "#7", imm.String())

	sym := SymbolOperand("my_hook")
	assert.Equal(t, "@my_hook", sym.String())
}
