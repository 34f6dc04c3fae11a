package ir

import (
	"testing"

	"github.com/luthier-go/luthier/pkg/mir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_String(t *testing.T) {
	assert.Equal(t, "i32", TypeI32.String())
	assert.Equal(t, "ptr", TypePtr.String())
}

func TestBasicBlock_Append_SetsOwningBlock(t *testing.T) {
	fn := &Function{Name: "f"}
	b := fn.NewBlock("entry")

	instr := b.Append(&Instr{Op: OpLoad, Ty: TypeI32})
	assert.Same(t, b, instr.Block())
	assert.Equal(t, []*Instr{instr}, b.Instrs)
}

func TestBasicBlock_Terminator_NilWhenEmpty(t *testing.T) {
	b := &BasicBlock{}
	assert.Nil(t, b.Terminator())
}

func TestBasicBlock_Successors_Br(t *testing.T) {
	fn := &Function{Name: "f"}
	entry := fn.NewBlock("entry")
	target := fn.NewBlock("target")

	entry.Append(&Instr{Op: OpBr, Target: target})
	assert.Equal(t, []*BasicBlock{target}, entry.Successors())
}

func TestBasicBlock_Successors_CondBr(t *testing.T) {
	fn := &Function{Name: "f"}
	entry := fn.NewBlock("entry")
	thenBlk := fn.NewBlock("then")
	elseBlk := fn.NewBlock("else")

	entry.Append(&Instr{Op: OpCondBr, Target: thenBlk, Else: elseBlk})
	assert.Equal(t, []*BasicBlock{thenBlk, elseBlk}, entry.Successors())
}

func TestBasicBlock_Successors_RetHasNone(t *testing.T) {
	fn := &Function{Name: "f"}
	entry := fn.NewBlock("entry")
	entry.Append(&Instr{Op: OpRet})
	assert.Nil(t, entry.Successors())
}

func TestFunction_Entry_ReturnsFirstBlock(t *testing.T) {
	fn := &Function{Name: "f"}
	assert.Nil(t, fn.Entry())

	first := fn.NewBlock("entry")
	fn.NewBlock("second")
	assert.Same(t, first, fn.Entry())
}

func TestModule_NewFunction_RegistersByName(t *testing.T) {
	m := NewModule("mod")
	fn := m.NewFunction("vecadd", TypeVoid, nil)

	got, ok := m.Functions["vecadd"]
	require.True(t, ok)
	assert.Same(t, fn, got)
}

func TestModule_DeclareGlobal_ReturnsExistingOnCollision(t *testing.T) {
	m := NewModule("mod")
	first := m.DeclareGlobal(&Global{Name: "counter", Ty: TypeI64})
	second := m.DeclareGlobal(&Global{Name: "counter", Ty: TypeI32, External: true})

	assert.Same(t, first, second)
	assert.Equal(t, TypeI64, m.Globals["counter"].Ty)
}

func TestPhysRegRef_ValueTypeByRegisterClass(t *testing.T) {
	vec := &PhysRegRef{Reg: mir.PhysReg{Class: mir.RegClassVector, Index: 1}}
	assert.Equal(t, TypeF32, vec.valueType())

	scalar := &PhysRegRef{Reg: mir.PhysReg{Class: mir.RegClassScalar, Index: 4}}
	assert.Equal(t, TypeI32, scalar.valueType())
}

func TestInstr_String_UsesNameWhenPresent(t *testing.T) {
	named := &Instr{Op: OpLoad, Name: "v0"}
	assert.Equal(t, "%v0", named.String())

	anon := &Instr{Op: OpRet}
	assert.Equal(t, "<ret>", anon.String())
}
