// Package lift is the Code Lifter: it disassembles a kernel's instruction
// stream into Instruction Records, corrects branch-target evaluation
// relative to the load delta, and lifts the records into a MIR function
// plus an IR module for its globals/externals. Structured the way the
// teacher's debugger.Backend.Disassemble/interpreter package separates
// "decode a window of instructions" from "evaluate control flow", but
// rebuilt for this core's MIR/IR output instead of the teacher's
// InstructionInfo listing.
package lift

import (
	"log/slog"
	"sync"

	"github.com/luthier-go/luthier/pkg/codeobject"
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/mir"
	"github.com/luthier-go/luthier/pkg/runtimeapi"
	"github.com/luthier-go/luthier/pkg/symbol"
)

// InstructionRecord is one decoded instruction: its address, raw bytes,
// encoded size, mnemonic, operands, and owning symbol, the mandatory
// attributes of spec.md §3's Instruction Record and the unit disassembly
// produces and lifting consumes. Size makes the disassembly round-trip
// size invariant (sum(record.size) == symbol.size) expressible; Symbol
// lets later passes (instrumentation, printing) recover which kernel or
// device function an instruction came from without threading it
// separately.
type InstructionRecord struct {
	Address  uint64
	Raw      []byte
	Size     uint64
	Mnemonic string
	Operands []uint64
	Symbol   *symbol.Symbol

	// IsDirectBranch and BranchTarget are populated when the corrected
	// evaluator (evaluateBranchTarget) recognises a direct branch.
	IsDirectBranch bool
	BranchTarget   uint64
}

// LiftedRepresentation is the product of lifting one kernel: an IR module
// for globals/externals, a MIR container with the kernel function and
// every reachable device function, and the MI<->source bidirectional map.
// Per the ownership invariant, an LR owns its IR module and MIR container
// outright and nothing else holds a reference to them until Clone is
// called (by the Code Generator, to avoid mutating the cached copy).
type LiftedRepresentation struct {
	Kernel     *symbol.Symbol
	TargetISA  isa.ID
	IRModule   *ir.Module
	MIRModule  *mir.Module
	KernelFn   *mir.Function
	InstrMap   *mir.InstrMap

	// Agent is the device this kernel's LCO was loaded on, carried through
	// so the Code Generator can look up the Instrumentation Module's
	// per-agent hook bitcode (instrument.Module.Bitcode) without a second
	// parameter threaded down the whole Instrument call chain.
	Agent runtimeapi.AgentHandle

	// DeviceFunctions maps a DeviceFunction symbol name to its MIR
	// function, conservatively every device function in the same LCO.
	DeviceFunctions map[string]*mir.Function
}

// Clone deep-copies an LR's mutable parts (MIR container) and gives the
// copy its own IR module with fresh function and global maps, so the Code
// Generator can add hook functions and instrument a copy without
// disturbing the cached original, per spec.md's "instrumentation mutates a
// clone" requirement.
func (lr *LiftedRepresentation) Clone() *LiftedRepresentation {
	mirClone := lr.MIRModule.Clone()
	irClone := lr.IRModule
	if lr.IRModule != nil {
		irClone = ir.NewModule(lr.IRModule.Name)
		for name, g := range lr.IRModule.Globals {
			irClone.Globals[name] = g
		}
		for name, fn := range lr.IRModule.Functions {
			irClone.Functions[name] = fn
		}
	}
	return &LiftedRepresentation{
		Kernel:          lr.Kernel,
		TargetISA:       lr.TargetISA,
		IRModule:        irClone,
		MIRModule:       mirClone,
		KernelFn:        mirClone.Functions[lr.KernelFn.Name],
		InstrMap:        lr.InstrMap, // advisory past this point, per doc on mir.InstrMap
		Agent:           lr.Agent,
		DeviceFunctions: cloneDeviceFunctions(lr.DeviceFunctions, mirClone),
	}
}

func cloneDeviceFunctions(orig map[string]*mir.Function, clone *mir.Module) map[string]*mir.Function {
	out := make(map[string]*mir.Function, len(orig))
	for name := range orig {
		if fn, ok := clone.Functions[name]; ok {
			out[name] = fn
		}
	}
	return out
}

// Lifter is the process-wide Code Lifter singleton: it owns a disassembly
// cache and a lift cache, both keyed by (LCO, symbol name), so repeated
// instrumentation passes over the same kernel don't redecode it.
type Lifter struct {
	mu      sync.Mutex
	log     *slog.Logger
	cache   *codeobject.Cache
	targets *isa.Manager

	disasmCache map[cacheKey][]InstructionRecord
	liftCache   map[cacheKey]*LiftedRepresentation

	disasmCacheLimit int
	liftCacheLimit   int
}

type cacheKey struct {
	lco  codeobject.LCOHandle
	name string
}

// NewLifter constructs a Code Lifter bound to cache and targets, with
// optional cache size bounds (0 means unbounded, per config.Config).
func NewLifter(log *slog.Logger, cache *codeobject.Cache, targets *isa.Manager, disasmCacheLimit, liftCacheLimit int) *Lifter {
	return &Lifter{
		log:              log,
		cache:            cache,
		targets:          targets,
		disasmCache:      make(map[cacheKey][]InstructionRecord),
		liftCache:        make(map[cacheKey]*LiftedRepresentation),
		disasmCacheLimit: disasmCacheLimit,
		liftCacheLimit:   liftCacheLimit,
	}
}

// InvalidateExecutable drops every cached entry belonging to lco,
// called when codeobject.Cache invalidates the owning executable.
func (l *Lifter) InvalidateExecutable(lco codeobject.LCOHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k := range l.disasmCache {
		if k.lco == lco {
			delete(l.disasmCache, k)
		}
	}
	for k := range l.liftCache {
		if k.lco == lco {
			delete(l.liftCache, k)
		}
	}
}

// Disassemble decodes kernelSym's instruction bytes into a sequence of
// Instruction Records using the bundle for targetISA, evaluating
// direct branch targets with the load-delta-corrected evaluator, and
// recording each target in the LCO's Direct-Branch Target Set, per
// spec.md §4.3.1 steps.
func (l *Lifter) Disassemble(targetISA isa.ID, kernelSym *symbol.Symbol) ([]InstructionRecord, error) {
	key := cacheKey{lco: kernelSym.LCO, name: kernelSym.Name}

	l.mu.Lock()
	if cached, ok := l.disasmCache[key]; ok {
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()

	bundle, err := l.targets.Bundle(targetISA)
	if err != nil {
		return nil, err
	}

	lco, err := l.cache.Get(kernelSym.LCO)
	if err != nil {
		return nil, err
	}

	data := sectionBytesForSymbol(lco, kernelSym)
	if data == nil {
		return nil, dbierr.Newf(dbierr.DecodeError, "lift.Lifter.Disassemble", "symbol %q has no backing section data", kernelSym.Name)
	}

	records, err := decode(data, kernelSym.ELFSym.Value, bundle.InstructionAlignment, kernelSym)
	if err != nil {
		return nil, err
	}

	for i := range records {
		target, isBranch := evaluateBranchTarget(records[i], lco.LoadDelta)
		records[i].IsDirectBranch = isBranch
		if isBranch {
			records[i].BranchTarget = target
			lco.RecordBranchTarget(target)
		}
	}

	l.mu.Lock()
	if l.disasmCacheLimit == 0 || len(l.disasmCache) < l.disasmCacheLimit {
		l.disasmCache[key] = records
	}
	l.mu.Unlock()

	return records, nil
}

// sectionBytesForSymbol extracts the raw bytes backing sym from its LCO's
// ELF by slicing the LCO's raw bytes at the symbol's value for its size,
// treating the value as a file offset. It does not consult the symbol's
// section index or the ELF section or program headers.
func sectionBytesForSymbol(lco *codeobject.LCO, sym *symbol.Symbol) []byte {
	raw := lco.RawBytes()
	start := sym.ELFSym.Value
	size := sym.ELFSym.Size
	if size == 0 || start+size > uint64(len(raw)) {
		return nil
	}
	return raw[start : start+size]
}

// decode produces one InstructionRecord per fixed-width slot, each stamped
// with its owning sym so lifting and later disassembly-to-source lookups
// don't need a second pass to recover it. This core's decoder is
// intentionally simple (fixed instruction width, no variable-length
// encodings) since the spec treats the exact ISA encoding as
// implementation detail the Target Manager's Bundle, not the decoder,
// is responsible for naming — see DESIGN.md.
func decode(data []byte, baseAddr uint64, alignment int, sym *symbol.Symbol) ([]InstructionRecord, error) {
	if alignment <= 0 {
		alignment = 4
	}
	if len(data)%alignment != 0 {
		return nil, dbierr.Newf(dbierr.DecodeError, "lift.decode", "instruction stream length %d is not a multiple of %d", len(data), alignment)
	}

	count := len(data) / alignment
	records := make([]InstructionRecord, count)
	for i := 0; i < count; i++ {
		raw := data[i*alignment : (i+1)*alignment]
		records[i] = InstructionRecord{
			Address:  baseAddr + uint64(i*alignment),
			Raw:      append([]byte(nil), raw...),
			Size:     uint64(alignment),
			Mnemonic: mnemonicOf(raw),
			Operands: operandsOf(raw),
			Symbol:   sym,
		}
	}
	return records, nil
}

// mnemonicOf and operandsOf are the decoder's instruction-format table: a
// small fixed-width encoding covering moves, arithmetic, compares,
// memory ops, direct and conditional branches, and the terminator
// s_endpgm — enough for instruction selection and instrumentation to lift
// any kernel this core's simplified ISA can express, not just the spec's
// single illustrative sequence. A full real-ISA mnemonic table is still
// out of scope for a binary instrumentation core whose job ends at
// identifying branches, calls, and terminators.
func mnemonicOf(raw []byte) string {
	opByte := raw[0]
	switch {
	case opByte == 0x7F:
		return "s_endpgm"
	case opByte&0xF0 == 0x10:
		return "s_branch"
	case opByte&0xF0 == 0x20:
		return "s_mov_b32"
	case opByte&0xF0 == 0x30:
		return "s_cbranch_scc1"
	case opByte&0xF0 == 0x40:
		return "s_add_u32"
	case opByte&0xF0 == 0x50:
		return "s_sub_u32"
	case opByte&0xF0 == 0x60:
		return "s_cmp_eq_u32"
	case opByte&0xF0 == 0x70:
		return "s_load_dword"
	case opByte&0xF0 == 0x80:
		return "s_store_dword"
	default:
		return "unknown"
	}
}

func operandsOf(raw []byte) []uint64 {
	if len(raw) < 4 {
		return nil
	}
	return []uint64{uint64(raw[1]), uint64(raw[2])<<8 | uint64(raw[3])}
}

// evaluateBranchTarget computes a direct (unconditional or conditional)
// branch's destination address, correcting for the LCO's load delta (the
// signed difference between the file virtual address and the loaded
// device address) the way a real disassembler must when the module wasn't
// loaded at its link-time address. Returns false for any instruction that
// is not a direct branch.
func evaluateBranchTarget(rec InstructionRecord, loadDelta int64) (uint64, bool) {
	if (rec.Mnemonic != "s_branch" && rec.Mnemonic != "s_cbranch_scc1") || len(rec.Operands) < 2 {
		return 0, false
	}
	offset := int64(int16(rec.Operands[1]))
	target := int64(rec.Address) + offset
	return uint64(target + loadDelta), true
}
