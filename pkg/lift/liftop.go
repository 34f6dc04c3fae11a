package lift

import (
	"fmt"

	"github.com/luthier-go/luthier/pkg/codeobject"
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/mir"
	"github.com/luthier-go/luthier/pkg/symbol"
)

// Lift produces a Lifted Representation for kernelSym, per spec.md §4.3:
// disassemble, create IR declarations for every variable/external symbol
// in the LCO, create an MIR function for the kernel and every device
// function reachable from it (conservatively every device function in
// the LCO), and populate the bidirectional MI<->source map.
func (l *Lifter) Lift(targetISA isa.ID, kernelSym *symbol.Symbol) (*LiftedRepresentation, error) {
	key := cacheKey{lco: kernelSym.LCO, name: kernelSym.Name}

	l.mu.Lock()
	if cached, ok := l.liftCache[key]; ok {
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()

	records, err := l.Disassemble(targetISA, kernelSym)
	if err != nil {
		return nil, err
	}

	irModule := ir.NewModule(kernelSym.Name)
	if err := declareLCOGlobals(irModule, l.cache, kernelSym.LCO); err != nil {
		return nil, err
	}

	lco, err := l.cache.Get(kernelSym.LCO)
	if err != nil {
		return nil, err
	}

	mirModule := mir.NewModule()
	instrMap := mir.NewInstrMap()

	kernelFn := mirModule.NewFunction(kernelSym.Name, targetISA)
	liftRecordsInto(kernelFn, lco, records, kernelSym, instrMap)

	deviceFns, err := liftDeviceFunctions(l, targetISA, kernelSym.LCO, lco, mirModule, instrMap)
	if err != nil {
		return nil, err
	}

	lr := &LiftedRepresentation{
		Kernel:          kernelSym,
		TargetISA:       targetISA,
		IRModule:        irModule,
		MIRModule:       mirModule,
		KernelFn:        kernelFn,
		InstrMap:        instrMap,
		Agent:           lco.Agent,
		DeviceFunctions: deviceFns,
	}

	l.mu.Lock()
	if l.liftCacheLimit == 0 || len(l.liftCache) < l.liftCacheLimit {
		l.liftCache[key] = lr
	}
	l.mu.Unlock()

	return lr, nil
}

// declareLCOGlobals creates an IR global declaration for every Variable
// and External symbol in lco, with initialisers where known, per spec.md
// §4.3 step 2.
func declareLCOGlobals(m *ir.Module, cache *codeobject.Cache, handle codeobject.LCOHandle) error {
	variables, err := symbol.GetSymbols(cache, handle, symbol.KindVariable)
	if err != nil {
		return err
	}
	for _, v := range variables {
		m.DeclareGlobal(&ir.Global{Name: v.Name, Ty: ir.TypeI64})
	}

	externals, err := symbol.GetSymbols(cache, handle, symbol.KindExternal)
	if err != nil {
		return err
	}
	for _, e := range externals {
		m.DeclareGlobal(&ir.Global{Name: e.Name, Ty: ir.TypeI64, External: true})
	}

	return nil
}

// liftDeviceFunctions lifts every DeviceFunction symbol in the same LCO
// into its own MIR function, conservatively treating all of them as
// reachable from the kernel (spec.md §4.3 step 3's stated simplification).
func liftDeviceFunctions(l *Lifter, targetISA isa.ID, handle codeobject.LCOHandle, lco *codeobject.LCO, mirModule *mir.Module, instrMap *mir.InstrMap) (map[string]*mir.Function, error) {
	deviceFnSyms, err := symbol.GetSymbols(l.cache, handle, symbol.KindDeviceFunction)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*mir.Function, len(deviceFnSyms))
	for _, sym := range deviceFnSyms {
		records, err := l.Disassemble(targetISA, sym)
		if err != nil {
			return nil, err
		}
		fn := mirModule.NewFunction(sym.Name, targetISA)
		liftRecordsInto(fn, lco, records, sym, instrMap)
		out[sym.Name] = fn
	}

	return out, nil
}

// liftRecordsInto translates records into MIR instructions appended across
// one or more basic blocks of fn, recording the source correspondence in
// instrMap as it goes, per the Lifted Representation's MI<->source mapping
// invariant. Per spec.md §4.3.4 step 4, a new block begins at the first
// record, at every record whose address was recorded in lco's Direct-
// Branch Target Set during disassembly, and immediately after every
// terminator; successor edges are then wired in a second pass over the
// finished block list, once every record's block is known, so a forward
// branch to a not-yet-built block still resolves. Per-instruction
// translation is a direct 1:1 mnemonic-to-opcode mapping; richer pattern-
// combining lifting is left to ir.Optimize and the Code Generator's own
// passes, not to this first pass.
func liftRecordsInto(fn *mir.Function, lco *codeobject.LCO, records []InstructionRecord, sym *symbol.Symbol, instrMap *mir.InstrMap) []*mir.BasicBlock {
	if len(records) == 0 {
		return nil
	}

	var blocks []*mir.BasicBlock
	var block *mir.BasicBlock
	addrToBlock := make(map[uint64]*mir.BasicBlock, len(records))
	terminated := true // force a fresh block for the first record

	for _, rec := range records {
		if terminated || (lco != nil && lco.IsBranchTarget(rec.Address)) {
			block = fn.NewBlock(fmt.Sprintf("bb%d", len(blocks)))
			blocks = append(blocks, block)
		}
		addrToBlock[rec.Address] = block

		instr := translateRecord(rec)
		block.Append(instr)
		instrMap.Record(instr, mir.SourceRecord{
			Address: rec.Address,
			Raw:     rec.Raw,
			Size:    rec.Size,
			Symbol:  symbolName(sym),
		})

		terminated = isTerminator(instr.Op)
	}

	wireSuccessors(blocks, addrToBlock)
	return blocks
}

// translateRecord maps one Instruction Record to the MIR instruction it
// lifts to, per mnemonicOf's instruction-format table.
func translateRecord(rec InstructionRecord) *mir.Instr {
	if len(rec.Operands) < 2 {
		switch rec.Mnemonic {
		case "s_endpgm":
			return &mir.Instr{Op: mir.OpSEndpgm}
		default:
			return &mir.Instr{Op: mir.OpMov}
		}
	}

	switch rec.Mnemonic {
	case "s_endpgm":
		return &mir.Instr{Op: mir.OpSEndpgm}
	case "s_branch":
		if rec.IsDirectBranch {
			return &mir.Instr{Op: mir.OpBranch, Operands: []mir.Operand{mir.ImmOperand(int64(rec.BranchTarget))}}
		}
		return &mir.Instr{Op: mir.OpBranch}
	case "s_cbranch_scc1":
		if rec.IsDirectBranch {
			return &mir.Instr{Op: mir.OpCondBranch, Operands: []mir.Operand{mir.ImmOperand(int64(rec.BranchTarget))}}
		}
		return &mir.Instr{Op: mir.OpCondBranch}
	case "s_mov_b32":
		dest := mir.PhysOperand(scalarReg(rec.Operands[0]))
		return &mir.Instr{Op: mir.OpMov, Dest: &dest, Operands: []mir.Operand{mir.ImmOperand(int64(rec.Operands[1]))}}
	case "s_add_u32":
		dest := mir.PhysOperand(scalarReg(rec.Operands[0]))
		return &mir.Instr{Op: mir.OpAdd, Dest: &dest, Operands: []mir.Operand{mir.PhysOperand(scalarReg(rec.Operands[0])), mir.ImmOperand(int64(rec.Operands[1]))}}
	case "s_sub_u32":
		dest := mir.PhysOperand(scalarReg(rec.Operands[0]))
		return &mir.Instr{Op: mir.OpSub, Dest: &dest, Operands: []mir.Operand{mir.PhysOperand(scalarReg(rec.Operands[0])), mir.ImmOperand(int64(rec.Operands[1]))}}
	case "s_cmp_eq_u32":
		return &mir.Instr{Op: mir.OpCmpEq, Operands: []mir.Operand{mir.PhysOperand(scalarReg(rec.Operands[0])), mir.ImmOperand(int64(rec.Operands[1]))}}
	case "s_load_dword":
		dest := mir.PhysOperand(scalarReg(rec.Operands[0]))
		return &mir.Instr{Op: mir.OpLoad, Dest: &dest, Operands: []mir.Operand{mir.ImmOperand(int64(rec.Operands[1]))}}
	case "s_store_dword":
		return &mir.Instr{Op: mir.OpStore, Operands: []mir.Operand{mir.PhysOperand(scalarReg(rec.Operands[0])), mir.ImmOperand(int64(rec.Operands[1]))}}
	default:
		return &mir.Instr{Op: mir.OpMov}
	}
}

func scalarReg(idx uint64) mir.PhysReg { return mir.PhysReg{Class: mir.RegClassScalar, Index: int(idx)} }

func symbolName(sym *symbol.Symbol) string {
	if sym == nil {
		return ""
	}
	return sym.Name
}

// isTerminator reports whether op closes a basic block.
func isTerminator(op mir.Opcode) bool {
	switch op {
	case mir.OpBranch, mir.OpCondBranch, mir.OpSEndpgm, mir.OpReturn:
		return true
	default:
		return false
	}
}

// wireSuccessors adds the successor edges for each block in blocks, once
// every record's block is known: an unconditional branch's single target,
// a conditional branch's target plus fallthrough, or a plain fallthrough
// to the next block for anything else (including a block that ends only
// because the next record starts a new one per the Direct-Branch Target
// Set, not because it ends in a terminator). A terminating s_endpgm or
// return has no successors.
func wireSuccessors(blocks []*mir.BasicBlock, addrToBlock map[uint64]*mir.BasicBlock) {
	for i, b := range blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		term := b.Instrs[len(b.Instrs)-1]
		switch term.Op {
		case mir.OpSEndpgm, mir.OpReturn:
		case mir.OpBranch:
			if target, ok := branchTargetBlock(term, addrToBlock); ok {
				b.AddSucc(target)
			}
		case mir.OpCondBranch:
			if target, ok := branchTargetBlock(term, addrToBlock); ok {
				b.AddSucc(target)
			}
			if i+1 < len(blocks) {
				b.AddSucc(blocks[i+1])
			}
		default:
			if i+1 < len(blocks) {
				b.AddSucc(blocks[i+1])
			}
		}
	}
}

func branchTargetBlock(term *mir.Instr, addrToBlock map[uint64]*mir.BasicBlock) (*mir.BasicBlock, bool) {
	if len(term.Operands) == 0 || !term.Operands[0].IsImm {
		return nil, false
	}
	target, ok := addrToBlock[uint64(term.Operands[0].Imm)]
	return target, ok
}
