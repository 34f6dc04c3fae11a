package intrinsics

import (
	"testing"

	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/mir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_RejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	noop := func(b IRBundle) (IRDecision, error) { return IRDecision{}, nil }
	factory := func(dest *mir.Operand, args []mir.Operand, target *isa.TargetMachine) ([]*mir.Instr, error) {
		return nil, nil
	}

	require.NoError(t, r.Register("luthier.custom", noop, factory))
	err := r.Register("luthier.custom", noop, factory)
	require.Error(t, err)
}

func TestLookup_FindsRegisteredEntry(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	entry, ok := r.Lookup("luthier.read_reg")
	require.True(t, ok)
	assert.Equal(t, "luthier.read_reg", entry.Name)
	assert.NotNil(t, entry.IR)
	assert.NotNil(t, entry.MIR)

	_, ok = r.Lookup("luthier.nonexistent")
	assert.False(t, ok)
}

func TestNames_ListsEveryBuiltin(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	assert.Contains(t, r.Names(), "luthier.write_exec")
	assert.Contains(t, r.Names(), "luthier.s_atomic_add")
}

func TestConstraint_RegClass(t *testing.T) {
	assert.Equal(t, mir.RegClassScalar, ConstraintScalar.RegClass())
	assert.Equal(t, mir.RegClassVector, ConstraintVector.RegClass())
}

func TestSimpleIRProcessor_PassesArgsThroughUnchanged(t *testing.T) {
	proc := simpleIRProcessor(ConstraintVector)
	args := []ir.Value{&ir.Const{Ty: ir.TypeI32, Bits: 3}}

	decision, err := proc(IRBundle{Args: args})
	require.NoError(t, err)
	assert.Equal(t, ConstraintVector, decision.ReturnConstraint)
	assert.Equal(t, args, decision.Args)
}

func TestSideTable_AddGetRoundTrip(t *testing.T) {
	st := NewSideTable()
	idx := st.Add(SideTableEntry{Name: "luthier.read_reg", ReturnConstraint: ConstraintScalar})

	entry, ok := st.Get(idx)
	require.True(t, ok)
	assert.Equal(t, "luthier.read_reg", entry.Name)

	_, ok = st.Get(idx + 1)
	assert.False(t, ok)
}

func TestSideTable_SetResolvedArgs_UpdatesEntryInPlace(t *testing.T) {
	st := NewSideTable()
	idx := st.Add(SideTableEntry{Name: "luthier.write_reg"})

	resolved := []mir.Operand{mir.ImmOperand(7)}
	st.SetResolvedArgs(idx, resolved)

	entry, ok := st.Get(idx)
	require.True(t, ok)
	assert.Equal(t, resolved, entry.ResolvedArgs)
}

func TestSideTable_SetResolvedArgs_OutOfRangeIsNoop(t *testing.T) {
	st := NewSideTable()
	assert.NotPanics(t, func() {
		st.SetResolvedArgs(5, []mir.Operand{mir.ImmOperand(1)})
	})
}

func TestReadReg_RequiresOneArgAndDestination(t *testing.T) {
	dest := mir.VirtOperand(mir.VirtReg{Class: mir.RegClassScalar, ID: 0})
	_, err := readReg(nil, []mir.Operand{mir.PhysOperand(mir.PhysReg{Index: 4})}, nil)
	assert.Error(t, err)

	instrs, err := readReg(&dest, []mir.Operand{mir.PhysOperand(mir.PhysReg{Index: 4})}, nil)
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	assert.Equal(t, mir.OpMov, instrs[0].Op)
}
