package bitcode

import (
	"testing"

	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/mir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle() *Bundle {
	return &Bundle{
		Globals: []GlobalDesc{{Name: "counter", Ty: ir.TypeI64, External: true}},
		Functions: []FunctionBody{
			{
				Name:    "my_hook",
				RetType: ir.TypeI32,
				Params:  []ParamDesc{{Name: "arg0", Ty: ir.TypeI32}},
				Blocks: []BlockDesc{
					{
						Name: "entry",
						Instrs: []InstrDesc{
							{
								Op:   ir.OpLoad,
								Ty:   ir.TypeI32,
								Name: "v0",
								Operands: []OperandDesc{
									{IsPhysReg: true, PhysRegClass: mir.RegClassScalar, PhysRegIndex: 4},
								},
							},
							{
								Op:       ir.OpRet,
								Operands: []OperandDesc{{InstrRef: "v0"}},
							},
						},
					},
				},
			},
		},
	}
}

func TestEncodeDecode_RoundTrips(t *testing.T) {
	b := sampleBundle()

	data, err := Encode(b)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	require.Len(t, decoded.Functions, 1)
	assert.Equal(t, "my_hook", decoded.Functions[0].Name)
	assert.Equal(t, "counter", decoded.Globals[0].Name)
}

func TestMaterialize_BuildsFunctionWithResolvedPhysRegAndGlobal(t *testing.T) {
	m, err := Materialize(sampleBundle(), "hooks")
	require.NoError(t, err)

	require.Contains(t, m.Globals, "counter")
	fn, ok := m.Functions["my_hook"]
	require.True(t, ok)
	require.Len(t, fn.Blocks, 1)

	block := fn.Blocks[0]
	require.Len(t, block.Instrs, 2)

	load := block.Instrs[0]
	require.Len(t, load.Operands, 1)
	physRef, ok := load.Operands[0].(*ir.PhysRegRef)
	require.True(t, ok)
	assert.Equal(t, mir.PhysReg{Class: mir.RegClassScalar, Index: 4}, physRef.Reg)

	ret := block.Instrs[1]
	require.Len(t, ret.Operands, 1)
	assert.Same(t, load, ret.Operands[0])
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not a gob stream"))
	assert.Error(t, err)
}
