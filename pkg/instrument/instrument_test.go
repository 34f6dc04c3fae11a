package instrument

import (
	"testing"

	"github.com/luthier-go/luthier/pkg/bitcode"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/logging"
	"github.com/luthier-go/luthier/pkg/mir"
	"github.com/luthier-go/luthier/pkg/runtimeapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLRWithTarget() (*lift.LiftedRepresentation, *mir.Instr) {
	m := mir.NewModule()
	fn := m.NewFunction("vecadd", "")
	block := fn.NewBlock("bb0")
	target := block.Append(&mir.Instr{Op: mir.OpStore})

	return &lift.LiftedRepresentation{MIRModule: m, KernelFn: fn}, target
}

func TestTask_InsertHookBefore_PreservesEnqueueOrderPerTarget(t *testing.T) {
	lr, target := newTestLRWithTarget()
	module := NewModule(logging.Discard(), "unit")
	module.onRegisterFunction(1, "hook_one")
	module.onRegisterFunction(2, "hook_two")

	task := NewTask(lr, module)
	require.NoError(t, task.InsertHookBefore(target, 1))
	require.NoError(t, task.InsertHookBefore(target, 2))

	invocations := task.Invocations(target)
	require.Len(t, invocations, 2)
	assert.Equal(t, "hook_one", invocations[0].HookName)
	assert.Equal(t, "hook_two", invocations[1].HookName)

	assert.Equal(t, []*mir.Instr{target}, task.Targets())
}

func TestTask_InsertHookBefore_RejectsInstructionOutsideLR(t *testing.T) {
	lr, _ := newTestLRWithTarget()
	module := NewModule(logging.Discard(), "unit")

	otherBlock := mir.NewModule().NewFunction("other", "").NewBlock("bb0")
	foreign := otherBlock.Append(&mir.Instr{Op: mir.OpStore})

	task := NewTask(lr, module)
	err := task.InsertHookBefore(foreign, 1)
	assert.Error(t, err)
}

func TestTask_InsertHookBefore_UnknownHookHandleErrors(t *testing.T) {
	lr, target := newTestLRWithTarget()
	module := NewModule(logging.Discard(), "unit")
	task := NewTask(lr, module)

	err := task.InsertHookBefore(target, 999)
	assert.Error(t, err)
}

func TestModule_BitcodeAndVariableAddress_RoundTrip(t *testing.T) {
	m := NewModule(logging.Discard(), "unit")
	bundle := &bitcode.Bundle{}
	agent := runtimeapi.AgentHandle(1)

	m.RegisterAgentBitcode(agent, bundle, map[string]uint64{"counter": 0x4000})

	got, err := m.Bitcode(agent)
	require.NoError(t, err)
	assert.Same(t, bundle, got)

	addr, err := m.VariableAddress(agent, "counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4000), addr)

	_, err = m.VariableAddress(agent, "missing")
	assert.Error(t, err)

	_, err = m.Bitcode(runtimeapi.AgentHandle(2))
	assert.Error(t, err)
}

func TestModule_IsRegistered_TracksFreezeAndDestroy(t *testing.T) {
	m := NewModule(logging.Discard(), "unit")
	exec := runtimeapi.ExecutableHandle(5)

	data, err := bitcode.Encode(&bitcode.Bundle{})
	require.NoError(t, err)

	m.onFreeze(exec, "unit", data)
	assert.True(t, m.IsRegistered(exec))

	m.onDestroy(exec)
	assert.False(t, m.IsRegistered(exec))
}

func TestModule_OnFreeze_IgnoresOtherCompileUnits(t *testing.T) {
	m := NewModule(logging.Discard(), "unit")
	exec := runtimeapi.ExecutableHandle(5)

	data, err := bitcode.Encode(&bitcode.Bundle{})
	require.NoError(t, err)

	m.onFreeze(exec, "some-other-unit", data)
	assert.False(t, m.IsRegistered(exec))
}
