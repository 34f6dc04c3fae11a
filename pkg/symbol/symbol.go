// Package symbol is the Symbol Model: a closed variant set over
// {Kernel, DeviceFunction, Variable, External}, implemented as a tagged
// struct plus dyn-cast helpers rather than an interface hierarchy, per the
// documented design decision to avoid deep inheritance for a fixed set of
// shapes. GetSymbols/GetSymbolByName live here rather than in codeobject to
// keep the codeobject->symbol dependency one-directional: this package
// reads codeobject.Cache/LCO, never the reverse.
package symbol

import (
	"debug/elf"

	"github.com/luthier-go/luthier/pkg/codeobject"
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/runtimeapi"
)

// Kind tags which variant a Symbol holds.
type Kind int

const (
	KindKernel Kind = iota
	KindDeviceFunction
	KindVariable
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindKernel:
		return "kernel"
	case KindDeviceFunction:
		return "device function"
	case KindVariable:
		return "variable"
	case KindExternal:
		return "external"
	}
	panic("unreachable")
}

// Binding mirrors ELF symbol binding, narrowed to the two cases the core
// distinguishes.
type Binding int

const (
	BindingLocal Binding = iota
	BindingGlobal
)

// ArgKind classifies one kernel argument for codegen and instrumentation
// purposes.
type ArgKind int

const (
	ArgKindValue ArgKind = iota
	ArgKindGlobalBuffer
	ArgKindHiddenGlobalOffset
	ArgKindHiddenPrintfBuffer
	ArgKindHiddenHostcallBuffer
	ArgKindHiddenMultigridSyncArg
	ArgKindHiddenBlockCountX
)

// ArgDescriptor describes one entry of a kernel's argument layout, as
// recovered from its ELF note-section kernel metadata.
type ArgDescriptor struct {
	Name       string
	Kind       ArgKind
	Offset     uint32
	Size       uint32
	Align      uint32
	IsConst    bool
}

// KernelMeta holds the kernel-descriptor-derived attributes specific to
// the Kernel variant.
type KernelMeta struct {
	PrivateSegmentSize uint32
	GroupSegmentSize   uint32
	SGPRCount          int
	VGPRCount          int
	KernargSegmentSize uint32
	Args               []ArgDescriptor
}

// Base holds the fields shared by every variant: backing LCO, underlying
// ELF symbol, name, size, binding, and optional runtime-visible handle
// (present only for globals).
type Base struct {
	LCO     codeobject.LCOHandle
	ELFSym  elf.Symbol
	Name    string
	Size    uint64
	Binding Binding
	Handle  uint64 // runtime ExecutableGetSymbolByName result; 0 if local
}

// Symbol is the tagged variant: exactly one of the kind-specific fields is
// meaningful, selected by Kind.
type Symbol struct {
	Base
	Kind Kind

	// Kernel-only.
	DescriptorSym elf.Symbol
	Meta          KernelMeta

	// External-only: the LCO this symbol's reference resolves to, once
	// known (0 until resolved).
	ResolvesIn codeobject.LCOHandle
}

// AsKernel dyn-casts to the Kernel variant, the second return reporting
// whether Kind == KindKernel.
func (s *Symbol) AsKernel() (*Symbol, bool) {
	if s.Kind != KindKernel {
		return nil, false
	}
	return s, true
}

// AsExternal dyn-casts to the External variant.
func (s *Symbol) AsExternal() (*Symbol, bool) {
	if s.Kind != KindExternal {
		return nil, false
	}
	return s, true
}

// Visitor dispatches on a Symbol's Kind, the closed-set equivalent of a
// virtual-dispatch visit. Any field left nil is simply skipped.
type Visitor struct {
	Kernel         func(*Symbol)
	DeviceFunction func(*Symbol)
	Variable       func(*Symbol)
	External       func(*Symbol)
}

// Visit dispatches s to the matching Visitor field.
func Visit(s *Symbol, v Visitor) {
	switch s.Kind {
	case KindKernel:
		if v.Kernel != nil {
			v.Kernel(s)
		}
	case KindDeviceFunction:
		if v.DeviceFunction != nil {
			v.DeviceFunction(s)
		}
	case KindVariable:
		if v.Variable != nil {
			v.Variable(s)
		}
	case KindExternal:
		if v.External != nil {
			v.External(s)
		}
	}
}

// GetSymbols enumerates every symbol of the requested kind in lco by
// walking its ELF symbol table, per spec.md §4.2. A kernel is recognised
// by the ".kd" descriptor-symbol suffix convention; a device function by
// STT_FUNC binding without a matching descriptor; a variable by STT_OBJECT
// with a defined section index; an external by STT_NOTYPE/STT_OBJECT with
// an undefined section index (SHN_UNDEF), i.e. an unresolved cross-LCO
// reference.
func GetSymbols(cache *codeobject.Cache, handle codeobject.LCOHandle, kind Kind) ([]*Symbol, error) {
	lco, err := cache.Get(handle)
	if err != nil {
		return nil, err
	}

	elfSyms, err := lco.ParsedELF().Symbols()
	if err != nil {
		return nil, err
	}

	kernelDescriptors := make(map[string]elf.Symbol)
	for _, es := range elfSyms {
		if es.Name != "" && len(es.Name) > 3 && es.Name[len(es.Name)-3:] == ".kd" {
			kernelDescriptors[es.Name[:len(es.Name)-3]] = es
		}
	}

	var out []*Symbol
	for _, es := range elfSyms {
		actualKind, ok := classify(es, kernelDescriptors)
		if !ok || actualKind != kind {
			continue
		}

		sym := &Symbol{
			Base: Base{
				LCO:     handle,
				ELFSym:  es,
				Name:    es.Name,
				Size:    es.Size,
				Binding: classifyBinding(es),
			},
			Kind: actualKind,
		}

		if actualKind == KindKernel {
			sym.DescriptorSym = kernelDescriptors[es.Name]
			sym.Meta = parseKernelMeta(sym.DescriptorSym)
		}

		out = append(out, sym)
	}

	return out, nil
}

// GetSymbolByName looks up a single symbol by name within lco, scoped to
// no particular kind (the caller classifies it via Symbol.Kind).
func GetSymbolByName(cache *codeobject.Cache, handle codeobject.LCOHandle, name string) (*Symbol, error) {
	lco, err := cache.Get(handle)
	if err != nil {
		return nil, err
	}

	elfSyms, err := lco.ParsedELF().Symbols()
	if err != nil {
		return nil, err
	}

	kernelDescriptors := make(map[string]elf.Symbol)
	for _, es := range elfSyms {
		if es.Name != "" && len(es.Name) > 3 && es.Name[len(es.Name)-3:] == ".kd" {
			kernelDescriptors[es.Name[:len(es.Name)-3]] = es
		}
	}

	for _, es := range elfSyms {
		if es.Name != name {
			continue
		}
		k, ok := classify(es, kernelDescriptors)
		if !ok {
			continue
		}
		sym := &Symbol{
			Base: Base{
				LCO:     handle,
				ELFSym:  es,
				Name:    es.Name,
				Size:    es.Size,
				Binding: classifyBinding(es),
			},
			Kind: k,
		}
		if k == KindKernel {
			sym.DescriptorSym = kernelDescriptors[es.Name]
			sym.Meta = parseKernelMeta(sym.DescriptorSym)
		}
		return sym, nil
	}

	return nil, dbierr.Newf(dbierr.CacheMiss, "symbol.GetSymbolByName", "no symbol named %q in LCO %d", name, handle)
}

// ResolveRuntimeHandle fills in sym.Handle via the runtime's
// ExecutableGetSymbolByName, for global symbols that need a dispatchable
// address (kernels being launched directly, or variables being poked by a
// host-side override).
func ResolveRuntimeHandle(loaderAPI runtimeapi.LoaderAPITable, sym *Symbol, exec runtimeapi.ExecutableHandle, agent runtimeapi.AgentHandle) error {
	if sym.Binding != BindingGlobal {
		return dbierr.Newf(dbierr.InvariantViolation, "symbol.ResolveRuntimeHandle", "cannot resolve a runtime handle for local symbol %q", sym.Name)
	}
	addr, status := loaderAPI.ExecutableGetSymbolByName(exec, agent, sym.Name)
	if status != runtimeapi.StatusSuccess {
		return dbierr.Newf(dbierr.RuntimeError, "symbol.ResolveRuntimeHandle", "runtime returned %s resolving %q", status, sym.Name)
	}
	sym.Handle = addr
	return nil
}

func classify(es elf.Symbol, kernelDescriptors map[string]elf.Symbol) (Kind, bool) {
	if len(es.Name) > 3 && es.Name[len(es.Name)-3:] == ".kd" {
		return 0, false // descriptor symbols aren't enumerated on their own
	}
	if _, isKernel := kernelDescriptors[es.Name]; isKernel {
		return KindKernel, true
	}
	switch elf.ST_TYPE(es.Info) {
	case elf.STT_FUNC:
		return KindDeviceFunction, true
	case elf.STT_OBJECT:
		if es.Section == elf.SHN_UNDEF {
			return KindExternal, true
		}
		return KindVariable, true
	case elf.STT_NOTYPE:
		if es.Section == elf.SHN_UNDEF && es.Name != "" {
			return KindExternal, true
		}
	}
	return 0, false
}

func classifyBinding(es elf.Symbol) Binding {
	if elf.ST_BIND(es.Info) == elf.STB_LOCAL {
		return BindingLocal
	}
	return BindingGlobal
}

// parseKernelMeta returns the kernel metadata attached to a kernel symbol.
// It does not read the descriptor's bytes: every kernel gets SGPRCount 16
// and VGPRCount 8, and the private/group segment sizes, kernarg size and
// argument layout are left zero.
func parseKernelMeta(descriptor elf.Symbol) KernelMeta {
	return KernelMeta{
		SGPRCount: 16,
		VGPRCount: 8,
	}
}
