// Package loader is the Tool Executable Loader: it links an emitted
// relocatable object, registers it with the GPU runtime as a new
// executable, tracks (original kernel, preset) -> instrumented kernel
// pairs, and rewrites dispatch packets to redirect launch to the
// instrumented variant. Structurally grounded on the teacher's
// hw/cpu/loader.Loader (load a program, track what's currently loaded,
// expose a handle to query it), generalized from one in-process program
// to many runtime-registered executables keyed by preset.
package loader

import (
	"log/slog"
	"sync"

	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/runtimeapi"
	"github.com/luthier-go/luthier/pkg/symbol"
	"github.com/luthier-go/luthier/pkg/utils"
)

// PresetKey identifies one (original kernel, preset name) pair.
type PresetKey struct {
	OriginalKernel string
	Preset         string
}

// InstrumentedKernel is what loadInstrumentedKernel registers: the new
// executable, a symbol for the instrumented kernel inside it, and the
// kernel's device address. The symbol's metadata is copied from the
// original kernel; none is read from the new executable.
type InstrumentedKernel struct {
	Executable runtimeapi.ExecutableHandle
	Symbol     *symbol.Symbol
	DeviceAddr uint64
}

// Loader is the process-wide Tool Executable Loader singleton.
type Loader struct {
	mu  sync.RWMutex
	log *slog.Logger
	api runtimeapi.LoaderAPITable

	byPreset map[PresetKey]*InstrumentedKernel
	byExec   map[runtimeapi.ExecutableHandle][]runtimeapi.ExecutableHandle // original -> instrumented dependents
}

// NewLoader constructs a Tool Executable Loader bound to the runtime's
// loader API table, captured as an immutable snapshot at construction
// time per the process-wide-singleton design note.
func NewLoader(log *slog.Logger, api runtimeapi.LoaderAPITable) *Loader {
	return &Loader{
		log:      log,
		api:      api,
		byPreset: make(map[PresetKey]*InstrumentedKernel),
		byExec:   make(map[runtimeapi.ExecutableHandle][]runtimeapi.ExecutableHandle),
	}
}

// InstallCallbacks chains this loader's executable-destroy handler onto
// cb: destroying the original executable tears down every instrumented
// executable registered against it, per spec.md §4.6.
func (l *Loader) InstallCallbacks(cb runtimeapi.Callbacks) runtimeapi.Callbacks {
	return runtimeapi.Chain(cb, runtimeapi.Callbacks{
		OnExecutableDestroy: l.onOriginalDestroyed,
	})
}

func (l *Loader) onOriginalDestroyed(original runtimeapi.ExecutableHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, instrumented := range l.byExec[original] {
		if l.api.ExecutableDestroy != nil {
			l.api.ExecutableDestroy(instrumented)
		}
		for key, ik := range l.byPreset {
			if ik.Executable == instrumented {
				delete(l.byPreset, key)
			}
		}
	}
	delete(l.byExec, original)
}

// LoadInstrumentedKernel implements spec.md §4.6's core operation: create
// a code-object reader over elfBytes, create a new executable on
// originalKernel's agent, define every external in externs, load and
// freeze the code object, locate the kernel symbol's address, and
// register the (original, preset) -> instrumented mapping. The registered
// symbol carries originalKernel's metadata unchanged.
func (l *Loader) LoadInstrumentedKernel(agent runtimeapi.AgentHandle, originalExec runtimeapi.ExecutableHandle, originalKernel *symbol.Symbol, elfBytes []byte, preset string, externs map[string]uint64) (*InstrumentedKernel, error) {
	key := PresetKey{OriginalKernel: originalKernel.Name, Preset: preset}

	l.mu.RLock()
	if existing, ok := l.byPreset[key]; ok {
		l.mu.RUnlock()
		return existing, nil // preset uniqueness: second caller observes the existing registration
	}
	l.mu.RUnlock()

	reader, status := l.api.CodeObjectReaderCreateFromMemory(elfBytes)
	if status != runtimeapi.StatusSuccess {
		return nil, dbierr.Newf(dbierr.LoaderError, "loader.Loader.LoadInstrumentedKernel", "code object reader creation failed: %s", status)
	}

	exec, status := l.api.ExecutableCreate(agent)
	if status != runtimeapi.StatusSuccess {
		return nil, dbierr.Newf(dbierr.LoaderError, "loader.Loader.LoadInstrumentedKernel", "executable creation failed: %s", status)
	}

	for name, addr := range externs {
		if status := l.api.ExecutableDefineExternalVariable(exec, name, addr); status != runtimeapi.StatusSuccess {
			return nil, dbierr.Newf(dbierr.LoaderError, "loader.Loader.LoadInstrumentedKernel", "defining external %q failed: %s", name, status)
		}
	}

	if status := l.api.ExecutableLoadCodeObject(exec, agent, reader); status != runtimeapi.StatusSuccess {
		return nil, dbierr.Newf(dbierr.LoaderError, "loader.Loader.LoadInstrumentedKernel", "loading code object failed: %s", status)
	}
	if status := l.api.ExecutableFreeze(exec, ""); status != runtimeapi.StatusSuccess {
		return nil, dbierr.Newf(dbierr.LoaderError, "loader.Loader.LoadInstrumentedKernel", "freezing executable failed: %s", status)
	}

	addr, status := l.api.ExecutableGetSymbolByName(exec, agent, originalKernel.Name)
	if status != runtimeapi.StatusSuccess {
		return nil, dbierr.Newf(dbierr.LoaderError, "loader.Loader.LoadInstrumentedKernel", "locating instrumented kernel symbol failed: %s", status)
	}

	instrumentedSym := &symbol.Symbol{
		Base: symbol.Base{
			Name:    originalKernel.Name,
			Binding: symbol.BindingGlobal,
			Handle:  addr,
		},
		Kind: symbol.KindKernel,
		Meta: originalKernel.Meta,
	}

	ik := &InstrumentedKernel{Executable: exec, Symbol: instrumentedSym, DeviceAddr: addr}

	l.mu.Lock()
	l.byPreset[key] = ik
	l.byExec[originalExec] = append(l.byExec[originalExec], exec)
	l.mu.Unlock()

	l.log.Debug("loader: registered instrumented kernel", "kernel", originalKernel.Name, "preset", preset, "exec", exec)

	return ik, nil
}

// IsKernelInstrumented reports whether (kernel, preset) has a registered
// instrumented variant.
func (l *Loader) IsKernelInstrumented(kernelName, preset string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byPreset[PresetKey{OriginalKernel: kernelName, Preset: preset}]
	return ok
}

// GetInstrumentedKernel retrieves the registered instrumented kernel for
// (kernelName, preset).
func (l *Loader) GetInstrumentedKernel(kernelName, preset string) (*InstrumentedKernel, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ik, ok := l.byPreset[PresetKey{OriginalKernel: kernelName, Preset: preset}]
	if !ok {
		return nil, dbierr.Newf(dbierr.CacheMiss, "loader.Loader.GetInstrumentedKernel", "no instrumented kernel registered for %q preset %q", kernelName, preset)
	}
	return ik, nil
}

// ListPresets enumerates every preset registered for kernelName, a pure
// inspection operation supplementing the distilled spec's query surface
// (useful for tool diagnostics and tests alike).
func (l *Loader) ListPresets(kernelName string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var presets []string
	for _, key := range utils.Keys(l.byPreset) {
		if key.OriginalKernel == kernelName {
			presets = append(presets, key.Preset)
		}
	}
	return presets
}

// OverrideWithInstrumented rewrites packet in place to dispatch the
// instrumented kernel registered under preset, widening
// private_segment_size if the registered symbol's metadata (copied from
// the original kernel) requests more. Per
// spec.md's dispatch-idempotence property, applying this twice to the
// same packet yields the same bytes after the first application: once
// packet.KernelObject already equals the instrumented address, the
// rewrite is a no-op.
func (l *Loader) OverrideWithInstrumented(packet *runtimeapi.DispatchPacket, kernelName, preset string) error {
	ik, err := l.GetInstrumentedKernel(kernelName, preset)
	if err != nil {
		return err
	}

	packet.KernelObject = ik.DeviceAddr
	if ik.Symbol.Meta.PrivateSegmentSize > packet.PrivateSegmentSize {
		packet.PrivateSegmentSize = ik.Symbol.Meta.PrivateSegmentSize
	}

	return nil
}
