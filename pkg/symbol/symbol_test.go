package symbol

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_KernelRecognisedByDescriptorSuffix(t *testing.T) {
	descriptors := map[string]elf.Symbol{"vecadd": {Name: "vecadd.kd"}}

	kind, ok := classify(elf.Symbol{Name: "vecadd"}, descriptors)
	assert.True(t, ok)
	assert.Equal(t, KindKernel, kind)

	_, ok = classify(elf.Symbol{Name: "vecadd.kd"}, descriptors)
	assert.False(t, ok, "descriptor symbols are not enumerated on their own")
}

func TestClassify_DeviceFunctionByFuncType(t *testing.T) {
	sym := elf.Symbol{Name: "helper", Info: uint8(elf.STT_FUNC)}
	kind, ok := classify(sym, nil)
	assert.True(t, ok)
	assert.Equal(t, KindDeviceFunction, kind)
}

func TestClassify_VariableVsExternalByUndefinedSection(t *testing.T) {
	defined := elf.Symbol{Name: "g", Info: uint8(elf.STT_OBJECT), Section: elf.SHN_ABS}
	kind, ok := classify(defined, nil)
	assert.True(t, ok)
	assert.Equal(t, KindVariable, kind)

	undefined := elf.Symbol{Name: "g", Info: uint8(elf.STT_OBJECT), Section: elf.SHN_UNDEF}
	kind, ok = classify(undefined, nil)
	assert.True(t, ok)
	assert.Equal(t, KindExternal, kind)
}

func TestClassify_UnrecognisedTypeIsRejected(t *testing.T) {
	sym := elf.Symbol{Name: "x", Info: uint8(elf.STT_SECTION)}
	_, ok := classify(sym, nil)
	assert.False(t, ok)
}

func TestClassifyBinding(t *testing.T) {
	local := elf.Symbol{Info: uint8(elf.STB_LOCAL) << 4}
	global := elf.Symbol{Info: uint8(elf.STB_GLOBAL) << 4}

	assert.Equal(t, BindingLocal, classifyBinding(local))
	assert.Equal(t, BindingGlobal, classifyBinding(global))
}

func TestSymbol_AsKernelAndAsExternal(t *testing.T) {
	kernel := &Symbol{Kind: KindKernel}
	_, ok := kernel.AsKernel()
	assert.True(t, ok)
	_, ok = kernel.AsExternal()
	assert.False(t, ok)

	external := &Symbol{Kind: KindExternal}
	_, ok = external.AsExternal()
	assert.True(t, ok)
}

func TestVisit_DispatchesOnKind(t *testing.T) {
	var seen Kind = -1
	Visit(&Symbol{Kind: KindVariable}, Visitor{
		Variable: func(s *Symbol) { seen = s.Kind },
	})
	assert.Equal(t, KindVariable, seen)

	// A nil handler for the matching kind is simply skipped, not a panic.
	assert.NotPanics(t, func() {
		Visit(&Symbol{Kind: KindKernel}, Visitor{})
	})
}
