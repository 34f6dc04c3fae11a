package loader

import (
	"io"
	"log/slog"
	"testing"

	"github.com/luthier-go/luthier/pkg/runtimeapi"
	"github.com/luthier-go/luthier/pkg/symbol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeAPI(nextExec, nextAddr *uint64) runtimeapi.LoaderAPITable {
	return runtimeapi.LoaderAPITable{
		CodeObjectReaderCreateFromMemory: func(data []byte) (runtimeapi.CodeObjectReaderHandle, runtimeapi.Status) {
			return runtimeapi.CodeObjectReaderHandle(1), runtimeapi.StatusSuccess
		},
		ExecutableCreate: func(agent runtimeapi.AgentHandle) (runtimeapi.ExecutableHandle, runtimeapi.Status) {
			*nextExec++
			return runtimeapi.ExecutableHandle(*nextExec), runtimeapi.StatusSuccess
		},
		ExecutableLoadCodeObject: func(exec runtimeapi.ExecutableHandle, agent runtimeapi.AgentHandle, reader runtimeapi.CodeObjectReaderHandle) runtimeapi.Status {
			return runtimeapi.StatusSuccess
		},
		ExecutableDefineExternalVariable: func(exec runtimeapi.ExecutableHandle, name string, address uint64) runtimeapi.Status {
			return runtimeapi.StatusSuccess
		},
		ExecutableFreeze: func(exec runtimeapi.ExecutableHandle, options string) runtimeapi.Status {
			return runtimeapi.StatusSuccess
		},
		ExecutableDestroy: func(exec runtimeapi.ExecutableHandle) runtimeapi.Status {
			return runtimeapi.StatusSuccess
		},
		ExecutableGetSymbolByName: func(exec runtimeapi.ExecutableHandle, agent runtimeapi.AgentHandle, name string) (uint64, runtimeapi.Status) {
			*nextAddr += 0x1000
			return *nextAddr, runtimeapi.StatusSuccess
		},
	}
}

func TestLoadInstrumentedKernel_RegistersAndIsIdempotentPerPreset(t *testing.T) {
	var nextExec, nextAddr uint64
	l := NewLoader(testLogger(), fakeAPI(&nextExec, &nextAddr))

	original := &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}, Kind: symbol.KindKernel}

	ik1, err := l.LoadInstrumentedKernel(runtimeapi.AgentHandle(1), runtimeapi.ExecutableHandle(1), original, []byte("obj"), "trace", nil)
	require.NoError(t, err)
	require.NotNil(t, ik1)

	assert.True(t, l.IsKernelInstrumented("vecadd", "trace"))
	assert.False(t, l.IsKernelInstrumented("vecadd", "other-preset"))

	ik2, err := l.LoadInstrumentedKernel(runtimeapi.AgentHandle(1), runtimeapi.ExecutableHandle(1), original, []byte("obj"), "trace", nil)
	require.NoError(t, err)
	assert.Same(t, ik1, ik2, "second load of the same preset returns the existing registration")
}

func TestListPresets_EnumeratesOnlyMatchingKernel(t *testing.T) {
	var nextExec, nextAddr uint64
	l := NewLoader(testLogger(), fakeAPI(&nextExec, &nextAddr))

	vecadd := &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}, Kind: symbol.KindKernel}
	other := &symbol.Symbol{Base: symbol.Base{Name: "matmul"}, Kind: symbol.KindKernel}

	_, err := l.LoadInstrumentedKernel(runtimeapi.AgentHandle(1), runtimeapi.ExecutableHandle(1), vecadd, nil, "trace", nil)
	require.NoError(t, err)
	_, err = l.LoadInstrumentedKernel(runtimeapi.AgentHandle(1), runtimeapi.ExecutableHandle(1), vecadd, nil, "coverage", nil)
	require.NoError(t, err)
	_, err = l.LoadInstrumentedKernel(runtimeapi.AgentHandle(1), runtimeapi.ExecutableHandle(1), other, nil, "trace", nil)
	require.NoError(t, err)

	presets := l.ListPresets("vecadd")
	assert.Len(t, presets, 2)
	assert.Contains(t, presets, "trace")
	assert.Contains(t, presets, "coverage")
}

func TestOverrideWithInstrumented_RewritesDispatchPacketAndIsIdempotent(t *testing.T) {
	var nextExec, nextAddr uint64
	l := NewLoader(testLogger(), fakeAPI(&nextExec, &nextAddr))

	original := &symbol.Symbol{
		Base: symbol.Base{Name: "vecadd"},
		Kind: symbol.KindKernel,
		Meta: symbol.KernelMeta{PrivateSegmentSize: 256},
	}
	_, err := l.LoadInstrumentedKernel(runtimeapi.AgentHandle(1), runtimeapi.ExecutableHandle(1), original, nil, "trace", nil)
	require.NoError(t, err)

	packet := &runtimeapi.DispatchPacket{KernelObject: 0xdead, PrivateSegmentSize: 64}

	require.NoError(t, l.OverrideWithInstrumented(packet, "vecadd", "trace"))
	rewritten := *packet
	assert.NotEqual(t, uint64(0xdead), packet.KernelObject)
	assert.Equal(t, uint32(256), packet.PrivateSegmentSize)

	require.NoError(t, l.OverrideWithInstrumented(packet, "vecadd", "trace"))
	assert.Equal(t, rewritten, *packet, "applying the override twice leaves the packet unchanged")
}

func TestOverrideWithInstrumented_UnknownPresetIsCacheMiss(t *testing.T) {
	var nextExec, nextAddr uint64
	l := NewLoader(testLogger(), fakeAPI(&nextExec, &nextAddr))

	packet := &runtimeapi.DispatchPacket{}
	err := l.OverrideWithInstrumented(packet, "ghost", "trace")
	require.Error(t, err)
}

func TestOnOriginalDestroyed_TearsDownInstrumentedDependents(t *testing.T) {
	var nextExec, nextAddr uint64
	var destroyed []runtimeapi.ExecutableHandle
	api := fakeAPI(&nextExec, &nextAddr)
	api.ExecutableDestroy = func(exec runtimeapi.ExecutableHandle) runtimeapi.Status {
		destroyed = append(destroyed, exec)
		return runtimeapi.StatusSuccess
	}
	l := NewLoader(testLogger(), api)

	original := &symbol.Symbol{Base: symbol.Base{Name: "vecadd"}, Kind: symbol.KindKernel}
	_, err := l.LoadInstrumentedKernel(runtimeapi.AgentHandle(1), runtimeapi.ExecutableHandle(42), original, nil, "trace", nil)
	require.NoError(t, err)

	cb := l.InstallCallbacks(runtimeapi.Callbacks{})
	require.NotNil(t, cb.OnExecutableDestroy)
	cb.OnExecutableDestroy(runtimeapi.ExecutableHandle(42))

	assert.Len(t, destroyed, 1)
	assert.False(t, l.IsKernelInstrumented("vecadd", "trace"))
}
