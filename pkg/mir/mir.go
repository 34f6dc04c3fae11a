// Package mir is the low-level machine intermediate representation: the
// product of instruction selection, the form the Code Generator's register
// allocator and printer operate on. Operand/Instr/BasicBlock/Function
// nesting mirrors the teacher's mc package structure (Instruction wraps
// decoded operands, ProgramFile wraps Functions), generalized with
// explicit virtual registers since this core allocates registers itself
// instead of assuming a fixed register file per instruction.
package mir

import (
	"fmt"

	"github.com/luthier-go/luthier/pkg/isa"
)

// RegClass says whether a register holds a scalar or vector value.
type RegClass int

const (
	RegClassScalar RegClass = iota
	RegClassVector
)

// PhysReg is an allocated physical register.
type PhysReg struct {
	Class RegClass
	Index int
}

func (r PhysReg) String() string {
	if r.Class == RegClassScalar {
		return fmt.Sprintf("s%d", r.Index)
	}
	return fmt.Sprintf("v%d", r.Index)
}

// VirtReg is an unallocated virtual register, produced by instruction
// selection and consumed by register allocation.
type VirtReg struct {
	Class RegClass
	ID    int
}

func (r VirtReg) String() string {
	if r.Class == RegClassScalar {
		return fmt.Sprintf("%%s%d", r.ID)
	}
	return fmt.Sprintf("%%v%d", r.ID)
}

// Opcode names a MIR-level operation. The set is intentionally small: it
// covers exactly what this core's simplified instruction selection ever
// emits plus what the real ISA needs for prologues/epilogues and hook
// calls, not a full real-world mnemonic table.
type Opcode int

const (
	OpMov Opcode = iota
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCmpEq
	OpCmpLt
	OpLoad
	OpStore
	OpBranch
	OpCondBranch
	OpCall
	OpReturn
	OpSEndpgm
	// OpPlaceholder is the MIR-level half of the two-stage intrinsic
	// lowering trick: instruction selection emits this for an
	// InlineAsmPlaceholder IR instruction, carrying the same side-table
	// index, to survive until lowermir.go resolves it to real MIR.
	OpPlaceholder
)

func (o Opcode) String() string {
	names := [...]string{
		"mov", "add", "sub", "mul", "and", "or", "xor", "shl", "shr",
		"cmp.eq", "cmp.lt", "load", "store", "branch", "condbranch",
		"call", "return", "s_endpgm", "placeholder",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "op?"
}

// Operand is a MIR instruction operand: a physical register, a virtual
// register, or an immediate.
type Operand struct {
	Phys    *PhysReg
	Virt    *VirtReg
	Imm     int64
	IsImm   bool
	Symbol  string // for call targets and global references
}

func PhysOperand(r PhysReg) Operand  { return Operand{Phys: &r} }
func VirtOperand(r VirtReg) Operand  { return Operand{Virt: &r} }
func ImmOperand(v int64) Operand     { return Operand{Imm: v, IsImm: true} }
func SymbolOperand(s string) Operand { return Operand{Symbol: s} }

func (o Operand) String() string {
	switch {
	case o.Phys != nil:
		return o.Phys.String()
	case o.Virt != nil:
		return o.Virt.String()
	case o.Symbol != "":
		return "@" + o.Symbol
	default:
		return fmt.Sprintf("#%d", o.Imm)
	}
}

// Instr is one MIR instruction: an opcode, a destination (optional), and
// a fixed operand list.
type Instr struct {
	Op       Opcode
	Dest     *Operand
	Operands []Operand
	Aux      int64 // OpPlaceholder side-table index

	block *BasicBlock
}

// Block returns the block instr belongs to, or nil if unattached.
func (i *Instr) Block() *BasicBlock { return i.block }

// BasicBlock is a straight-line MIR instruction sequence. Succs records the
// blocks control can transfer to from this one, populated by the Code
// Lifter's block-splitting pass (spec.md §4.3.4 step 4: a fallthrough edge,
// a direct-branch edge, or both for a conditional branch).
type BasicBlock struct {
	Name   string
	Instrs []*Instr
	Succs  []*BasicBlock
	fn     *Function
}

// Append adds instr to the end of the block.
func (b *BasicBlock) Append(instr *Instr) *Instr {
	instr.block = b
	b.Instrs = append(b.Instrs, instr)
	return instr
}

// AddSucc records that control may transfer from b to to.
func (b *BasicBlock) AddSucc(to *BasicBlock) {
	b.Succs = append(b.Succs, to)
}

// Function is one MIR function: a lifted kernel body, a lifted device
// function body, or a lowered hook body.
type Function struct {
	Name   string
	Blocks []*BasicBlock
	ISA    isa.ID

	// NextVirt allocates fresh virtual register IDs during instruction
	// selection.
	NextVirt int
}

// NewBlock appends a fresh block to fn.
func (fn *Function) NewBlock(name string) *BasicBlock {
	b := &BasicBlock{Name: name, fn: fn}
	fn.Blocks = append(fn.Blocks, b)
	return b
}

// NewVirt allocates a fresh virtual register of the given class.
func (fn *Function) NewVirt(class RegClass) VirtReg {
	id := fn.NextVirt
	fn.NextVirt++
	return VirtReg{Class: class, ID: id}
}

// Module is a collection of MIR functions produced by lifting one LCO (or
// by lowering one instrumentation module), the MIR container referenced
// from the Lifted Representation.
type Module struct {
	Functions map[string]*Function
}

// NewModule creates an empty MIR container.
func NewModule() *Module {
	return &Module{Functions: make(map[string]*Function)}
}

// NewFunction creates a function owned by m and registers it by name.
func (m *Module) NewFunction(name string, target isa.ID) *Function {
	fn := &Function{Name: name, ISA: target}
	m.Functions[name] = fn
	return fn
}

// Clone deep-copies m, including every function, block, and instruction,
// so a lifted representation can be instrumented without mutating the
// shared cached copy. Per the LR ownership invariant, the clone owns a
// fresh set of blocks/instructions; it does not share slices with the
// original. Successor edges are rewired in a second pass, once every block
// has its clone counterpart, so a forward edge to a not-yet-cloned block
// still resolves.
func (m *Module) Clone() *Module {
	clone := NewModule()
	blockMap := make(map[*BasicBlock]*BasicBlock)

	for _, fn := range m.Functions {
		cfn := clone.NewFunction(fn.Name, fn.ISA)
		cfn.NextVirt = fn.NextVirt
		for _, b := range fn.Blocks {
			cb := cfn.NewBlock(b.Name)
			blockMap[b] = cb
			for _, instr := range b.Instrs {
				cp := *instr
				cp.Operands = append([]Operand(nil), instr.Operands...)
				cb.Append(&cp)
			}
		}
	}

	for _, fn := range m.Functions {
		for _, b := range fn.Blocks {
			cb := blockMap[b]
			for _, succ := range b.Succs {
				cb.Succs = append(cb.Succs, blockMap[succ])
			}
		}
	}

	return clone
}
