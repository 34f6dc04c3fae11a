package lift

import (
	"testing"

	"github.com/luthier-go/luthier/pkg/codeobject"
	"github.com/luthier-go/luthier/pkg/mir"
	"github.com/luthier-go/luthier/pkg/symbol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func byteInstr(opNibble byte) []byte {
	return []byte{opNibble, 0x00, 0x00, 0x00}
}

func TestDecode_PopulatesSizeAndSymbol(t *testing.T) {
	sym := &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}, Kind: symbol.KindKernel}
	data := append(byteInstr(0x20), byteInstr(0x7F)...)

	records, err := decode(data, 0x1000, 4, sym)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.Equal(t, uint64(4), rec.Size)
		assert.Same(t, sym, rec.Symbol)
	}
	assert.Equal(t, uint64(0x1000), records[0].Address)
	assert.Equal(t, uint64(0x1004), records[1].Address)
	assert.Equal(t, "s_mov_b32", records[0].Mnemonic)
	assert.Equal(t, "s_endpgm", records[1].Mnemonic)
}

func TestDecode_UnknownOpcodeFallsBackToUnknownMnemonic(t *testing.T) {
	sym := &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}}
	records, err := decode(byteInstr(0xF0), 0, 4, sym)
	require.NoError(t, err)
	assert.Equal(t, "unknown", records[0].Mnemonic)
}

func TestDecode_RejectsMisalignedStream(t *testing.T) {
	_, err := decode([]byte{0x01, 0x02, 0x03}, 0, 4, nil)
	assert.Error(t, err)
}

// TestLiftRecordsInto_SplitsAtTerminatorAndBranchTarget exercises spec.md
// §4.3.4 step 4's basic-block splitting rule directly: a
// s_mov_b32; s_branch; s_endpgm sequence where s_branch's target is the
// s_endpgm record must split into two blocks with a 0->1 edge.
func TestLiftRecordsInto_SplitsAtTerminatorAndBranchTarget(t *testing.T) {
	sym := &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}}
	lco := &codeobject.LCO{}
	lco.RecordBranchTarget(0x1008)

	records := []InstructionRecord{
		{Address: 0x1000, Mnemonic: "s_mov_b32", Operands: []uint64{0, 5}},
		{Address: 0x1004, Mnemonic: "s_branch", Operands: []uint64{0, 4}, IsDirectBranch: true, BranchTarget: 0x1008},
		{Address: 0x1008, Mnemonic: "s_endpgm"},
	}

	m := mir.NewModule()
	fn := m.NewFunction("vecadd", "")
	instrMap := mir.NewInstrMap()

	blocks := liftRecordsInto(fn, lco, records, sym, instrMap)

	require.Len(t, blocks, 2)
	assert.Len(t, blocks[0].Instrs, 2) // mov + branch
	assert.Len(t, blocks[1].Instrs, 1) // endpgm

	require.Len(t, blocks[0].Succs, 1)
	assert.Same(t, blocks[1], blocks[0].Succs[0])
	assert.Empty(t, blocks[1].Succs)

	assert.Equal(t, 3, instrMap.Len())
}

func TestLiftRecordsInto_CondBranchGetsTargetAndFallthroughEdges(t *testing.T) {
	sym := &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}}
	lco := &codeobject.LCO{}
	lco.RecordBranchTarget(0x100C)

	records := []InstructionRecord{
		{Address: 0x1000, Mnemonic: "s_cmp_eq_u32", Operands: []uint64{0, 1}},
		{Address: 0x1004, Mnemonic: "s_cbranch_scc1", Operands: []uint64{0, 8}, IsDirectBranch: true, BranchTarget: 0x100C},
		{Address: 0x1008, Mnemonic: "s_mov_b32", Operands: []uint64{1, 2}},
		{Address: 0x100C, Mnemonic: "s_endpgm"},
	}

	m := mir.NewModule()
	fn := m.NewFunction("vecadd", "")
	instrMap := mir.NewInstrMap()

	blocks := liftRecordsInto(fn, lco, records, sym, instrMap)

	require.Len(t, blocks, 3)
	require.Len(t, blocks[0].Succs, 2)
	assert.Same(t, blocks[2], blocks[0].Succs[0]) // direct target
	assert.Same(t, blocks[1], blocks[0].Succs[1]) // fallthrough
}

func TestLiftRecordsInto_EmptyRecordsReturnsNoBlocks(t *testing.T) {
	m := mir.NewModule()
	fn := m.NewFunction("vecadd", "")
	instrMap := mir.NewInstrMap()

	blocks := liftRecordsInto(fn, nil, nil, nil, instrMap)
	assert.Nil(t, blocks)
}

func TestTranslateRecord_ShortOperandsFallsBackSafely(t *testing.T) {
	instr := translateRecord(InstructionRecord{Mnemonic: "s_endpgm"})
	assert.Equal(t, mir.OpSEndpgm, instr.Op)

	instr = translateRecord(InstructionRecord{Mnemonic: "s_mov_b32"})
	assert.Equal(t, mir.OpMov, instr.Op)
}

func TestLiftedRepresentation_Clone_CarriesAgent(t *testing.T) {
	m := mir.NewModule()
	fn := m.NewFunction("vecadd", "")
	fn.NewBlock("bb0")

	lr := &LiftedRepresentation{
		Kernel:    &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}},
		MIRModule: m,
		KernelFn:  fn,
		Agent:     42,
	}

	clone := lr.Clone()
	assert.Equal(t, lr.Agent, clone.Agent)
}
