// Package luthier is the top-level facade: it wires the Target Manager,
// Code-Object Cache, Code Lifter, Intrinsic Registry, Code Generator,
// Instrumentation Module, and Tool Executable Loader singletons together
// and exposes spec.md §6's public API surface as methods on Core.
// Grounded on the teacher's cmd/root.go composition root, which built
// exactly one of each long-lived component and threaded them through the
// command tree — here threaded through Core's methods instead of Cobra
// commands, since a CLI wrapper is outside this core's scope.
package luthier

import (
	"log/slog"

	"github.com/luthier-go/luthier/pkg/codegen"
	"github.com/luthier-go/luthier/pkg/codeobject"
	"github.com/luthier-go/luthier/pkg/config"
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/instrument"
	"github.com/luthier-go/luthier/pkg/intrinsics"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/loader"
	"github.com/luthier-go/luthier/pkg/runtimeapi"
	"github.com/luthier-go/luthier/pkg/symbol"
)

// Core is the composition root: one instance per tool-configure event, per
// spec.md §5's process-wide-singleton design. Every method call takes a
// logical "which kernel/LCO" argument rather than Core holding mutable
// per-call state, so a single Core safely serves concurrent callers.
type Core struct {
	log *slog.Logger
	cfg *config.Config

	api runtimeapi.APITables

	Targets    *isa.Manager
	Cache      *codeobject.Cache
	Lifter     *lift.Lifter
	Intrinsics *intrinsics.Registry
	Generator  *codegen.Generator
	Module     *instrument.Module
	Loader     *loader.Loader
}

// New constructs a Core bound to api, the immutable function-pointer-table
// snapshot taken at tool-configure time, and compileUnitID, the reserved
// managed-variable name that identifies this tool's own bitcode-bearing
// shared object among everything else the runtime loads.
func New(log *slog.Logger, cfg *config.Config, api runtimeapi.APITables, compileUnitID string) *Core {
	targets := isa.NewManager(cfg.AllowedISAs)
	cache := codeobject.NewCache(log)
	lifter := lift.NewLifter(log, cache, targets, cfg.DisassemblyCacheSize, cfg.LiftCacheSize)
	registry := intrinsics.NewRegistry()
	intrinsics.RegisterBuiltins(registry)
	generator := codegen.NewGenerator(log, lifter, targets, registry)
	module := instrument.NewModule(log, compileUnitID)
	ld := loader.NewLoader(log, api.Loader)

	return &Core{
		log:        log,
		cfg:        cfg,
		api:        api,
		Targets:    targets,
		Cache:      cache,
		Lifter:     lifter,
		Intrinsics: registry,
		Generator:  generator,
		Module:     module,
		Loader:     ld,
	}
}

// InstallCallbacks chains every component's runtime-callback wrapper onto
// cb, in cache -> module -> loader order: the cache must see a freeze
// before the instrumentation module looks up bitcode registered against
// that executable, and the loader's teardown runs last, after the cache
// and the module have handled the destroy.
// Every resulting callback is wrapped with dbierr.Recover so an
// invariant-violation panic raised deep in any component aborts the
// process from a known, logged frame instead of unwinding into the
// runtime's own call stack.
func (c *Core) InstallCallbacks(cb runtimeapi.Callbacks) runtimeapi.Callbacks {
	cb = c.Cache.InstallCallbacks(cb)
	cb = c.Module.InstallCallbacks(cb)
	cb = c.Loader.InstallCallbacks(cb)
	return c.withRecover(cb)
}

func (c *Core) withRecover(cb runtimeapi.Callbacks) runtimeapi.Callbacks {
	wrapped := cb
	if cb.OnAgentCodeObjectLoad != nil {
		inner := cb.OnAgentCodeObjectLoad
		wrapped.OnAgentCodeObjectLoad = func(exec runtimeapi.ExecutableHandle, agent runtimeapi.AgentHandle, raw []byte, loadBase, loadSize uint64, loadDelta int64) {
			defer dbierr.Recover(c.log)
			inner(exec, agent, raw, loadBase, loadSize, loadDelta)
		}
	}
	if cb.OnExecutableFreeze != nil {
		inner := cb.OnExecutableFreeze
		wrapped.OnExecutableFreeze = func(exec runtimeapi.ExecutableHandle, compileUnitID string, raw []byte) {
			defer dbierr.Recover(c.log)
			inner(exec, compileUnitID, raw)
		}
	}
	if cb.OnExecutableDestroy != nil {
		inner := cb.OnExecutableDestroy
		wrapped.OnExecutableDestroy = func(exec runtimeapi.ExecutableHandle) {
			defer dbierr.Recover(c.log)
			inner(exec)
		}
	}
	if cb.OnRegisterFunction != nil {
		inner := cb.OnRegisterFunction
		wrapped.OnRegisterFunction = func(shadowHostPtr uintptr, deviceFunctionName string) {
			defer dbierr.Recover(c.log)
			inner(shadowHostPtr, deviceFunctionName)
		}
	}
	return wrapped
}

// Disassemble implements spec.md §6's `disassemble(kernel | deviceFunction)`.
func (c *Core) Disassemble(targetISA isa.ID, sym *symbol.Symbol) ([]lift.InstructionRecord, error) {
	return c.Lifter.Disassemble(targetISA, sym)
}

// Lift implements spec.md §6's `lift(kernel) -> LR`.
func (c *Core) Lift(targetISA isa.ID, kernelSym *symbol.Symbol) (*lift.LiftedRepresentation, error) {
	return c.Lifter.Lift(targetISA, kernelSym)
}

// Instrument implements spec.md §6's `instrument(LR, mutator) -> LR'`.
func (c *Core) Instrument(lr *lift.LiftedRepresentation, mutator codegen.MutatorFunc) (*codegen.Result, error) {
	return c.Generator.Instrument(lr, c.Module, mutator)
}

// PrintLiftedRepresentation implements spec.md §6's
// `printLiftedRepresentation(LR, outBytes, fileType)`. The only file types
// this core understands are "text" (the supplemented human-readable MIR
// dump) and "elf" (a fresh printRelocatable pass reusing the generator's
// own asm printer via a no-op instrumentation pass).
func (c *Core) PrintLiftedRepresentation(lr *lift.LiftedRepresentation, fileType string) ([]byte, error) {
	switch fileType {
	case "text":
		return []byte(lr.MIRModule.DocString()), nil
	case "elf":
		result, err := c.Generator.Instrument(lr, c.Module, func(*instrument.Task, *lift.LiftedRepresentation) error {
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result.Object, nil
	default:
		return nil, dbierr.Newf(dbierr.InvariantViolation, "luthier.Core.PrintLiftedRepresentation", "unknown file type %q", fileType)
	}
}

// InstrumentAndLoad implements spec.md §6's
// `instrumentAndLoad(kernel, LR, mutator, preset) -> ok|error`: instrument
// lr, print the result, and register it with the Tool Executable Loader
// under preset, all as one operation per the error contract's "no side
// effects on failure" rule — a failure at any step returns before the
// loader registration happens, so no instrumented executable is left
// half-registered.
func (c *Core) InstrumentAndLoad(agent runtimeapi.AgentHandle, originalExec runtimeapi.ExecutableHandle, kernelSym *symbol.Symbol, lr *lift.LiftedRepresentation, mutator codegen.MutatorFunc, preset string, externs map[string]uint64) (*loader.InstrumentedKernel, error) {
	result, err := c.Generator.Instrument(lr, c.Module, mutator)
	if err != nil {
		return nil, err
	}

	return c.Loader.LoadInstrumentedKernel(agent, originalExec, kernelSym, result.Object, preset, externs)
}

// IsKernelInstrumented implements spec.md §6's
// `isKernelInstrumented(kernel, preset) -> bool`.
func (c *Core) IsKernelInstrumented(kernelName, preset string) bool {
	return c.Loader.IsKernelInstrumented(kernelName, preset)
}

// OverrideWithInstrumented implements spec.md §6's
// `overrideWithInstrumented(packet, preset) -> ok|error`.
func (c *Core) OverrideWithInstrumented(packet *runtimeapi.DispatchPacket, kernelName, preset string) error {
	return c.Loader.OverrideWithInstrumented(packet, kernelName, preset)
}

// ListPresets is a supplemented query (SPEC_FULL.md §4.6) enumerating
// every preset registered against kernelName.
func (c *Core) ListPresets(kernelName string) []string {
	return c.Loader.ListPresets(kernelName)
}
