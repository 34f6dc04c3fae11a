// Package ir is the core's high-level intermediate representation: the
// product of lifting a kernel or hook body before instruction selection
// lowers it to MIR. It follows the teacher's general approach of a
// non-invasive metadata-carrying intermediate form (teacher's mc.Instruction
// carries Address/Symbols/Raw alongside the decoded op), generalized from
// a flat instruction stream to an SSA-light CFG of basic blocks, since
// lifting and instrumentation both need block-level structure.
package ir

import (
	"fmt"

	"github.com/luthier-go/luthier/pkg/mir"
)

// Type names an IR value's type, restricted to what kernel code and hook
// bodies need: no structs/arrays, since the bitcode stand-in carries those
// opaquely.
type Type int

const (
	TypeVoid Type = iota
	TypeI1
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypePtr
)

func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeI1:
		return "i1"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypePtr:
		return "ptr"
	}
	panic("unreachable")
}

// Value is anything an instruction can use as an operand: another
// instruction's result, a function argument, or a constant.
type Value interface {
	valueType() Type
	String() string
}

// Const is an immediate value.
type Const struct {
	Ty  Type
	Bits uint64 // bit pattern; reinterpreted per Ty (float bits for F32/F64)
}

func (c *Const) valueType() Type { return c.Ty }
func (c *Const) String() string  { return fmt.Sprintf("%s %d", c.Ty, c.Bits) }

// Arg references one of a Function's parameters.
type Arg struct {
	Name string
	Ty   Type
	Idx  int
}

func (a *Arg) valueType() Type { return a.Ty }
func (a *Arg) String() string  { return "%" + a.Name }

// Global references a module-level global variable or external symbol.
type Global struct {
	Name     string
	Ty       Type
	External bool
}

func (g *Global) valueType() Type { return TypePtr }
func (g *Global) String() string  { return "@" + g.Name }

// PhysRegRef is a literal physical-register reference used as an
// intrinsic-call argument inside hook bodies materialised from bitcode
// (e.g. luthier.read_reg(s4)): the IR-level counterpart of a MIR PhysReg
// operand, needed because a hook author writes against concrete target
// registers directly rather than through SSA values the way kernel code
// lifted from machine instructions does.
type PhysRegRef struct {
	Reg mir.PhysReg
}

func (r *PhysRegRef) valueType() Type {
	if r.Reg.Class == mir.RegClassVector {
		return TypeF32
	}
	return TypeI32
}
func (r *PhysRegRef) String() string { return r.Reg.String() }

// Op identifies an instruction's operation.
type Op int

const (
	OpBinAdd Op = iota
	OpBinSub
	OpBinMul
	OpBinAnd
	OpBinOr
	OpBinXor
	OpBinShl
	OpBinShr
	OpICmpEq
	OpICmpLt
	OpLoad
	OpStore
	OpCall
	OpBr
	OpCondBr
	OpRet
	OpPhi
	// OpInlineAsmPlaceholder marks a call to an intrinsic that must survive
	// instruction selection verbatim; its Aux field carries the monotonic
	// side-table index assigned by the intrinsics registry.
	OpInlineAsmPlaceholder
	// OpConstMove names a value whose operand is already a fully folded
	// Const, inserted by Optimize in place of a binary op over two
	// constants.
	OpConstMove
)

func (o Op) String() string {
	names := [...]string{
		"add", "sub", "mul", "and", "or", "xor", "shl", "shr",
		"icmp.eq", "icmp.lt", "load", "store", "call", "br", "condbr",
		"ret", "phi", "asm.placeholder", "const.move",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "op?"
}

// Instr is one IR instruction. Every instruction that produces a value is
// itself a Value (its result referenced by later instructions), following
// the usual "instruction is its own def" SSA convention.
type Instr struct {
	Op       Op
	Ty       Type
	Name     string // SSA name, empty for void instructions
	Operands []Value
	Target   *BasicBlock // Br target, or CondBr true-target
	Else     *BasicBlock // CondBr false-target
	Callee   string      // Call/InlineAsmPlaceholder callee name
	Aux      int64       // InlineAsmPlaceholder side-table index

	block *BasicBlock
}

func (i *Instr) valueType() Type { return i.Ty }
func (i *Instr) String() string {
	if i.Name != "" {
		return "%" + i.Name
	}
	return fmt.Sprintf("<%s>", i.Op)
}

// Block returns the basic block the instruction belongs to.
func (i *Instr) Block() *BasicBlock { return i.block }

// BasicBlock is a straight-line sequence of instructions ending in a
// terminator (Br/CondBr/Ret).
type BasicBlock struct {
	Name  string
	Instrs []*Instr
	fn    *Function
}

// Append adds instr to the end of the block and records the block as its
// owner. It does not check whether a terminator already closes the block.
func (b *BasicBlock) Append(instr *Instr) *Instr {
	instr.block = b
	b.Instrs = append(b.Instrs, instr)
	return instr
}

// Terminator returns the block's last instruction, or nil if empty.
func (b *BasicBlock) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// Successors returns the blocks this block can transfer control to.
func (b *BasicBlock) Successors() []*BasicBlock {
	term := b.Terminator()
	if term == nil {
		return nil
	}
	switch term.Op {
	case OpBr:
		return []*BasicBlock{term.Target}
	case OpCondBr:
		return []*BasicBlock{term.Target, term.Else}
	default:
		return nil
	}
}

// Function is one IR function: a kernel body, a device function body, or
// a hook body lowered from bitcode.
type Function struct {
	Name    string
	RetType Type
	Params  []*Arg
	Blocks  []*BasicBlock
	module  *Module
}

// NewBlock appends a fresh, empty basic block to fn.
func (fn *Function) NewBlock(name string) *BasicBlock {
	b := &BasicBlock{Name: name, fn: fn}
	fn.Blocks = append(fn.Blocks, b)
	return b
}

// Entry returns the function's entry block.
func (fn *Function) Entry() *BasicBlock {
	if len(fn.Blocks) == 0 {
		return nil
	}
	return fn.Blocks[0]
}

// Module is a collection of functions and globals sharing one namespace,
// the unit the Code Lifter produces one of per lifted kernel.
type Module struct {
	Name      string
	Functions map[string]*Function
	Globals   map[string]*Global
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:      name,
		Functions: make(map[string]*Function),
		Globals:   make(map[string]*Global),
	}
}

// NewFunction creates a function owned by m and registers it by name.
func (m *Module) NewFunction(name string, ret Type, params []*Arg) *Function {
	fn := &Function{Name: name, RetType: ret, Params: params, module: m}
	m.Functions[name] = fn
	return fn
}

// DeclareGlobal registers g in the module, returning the existing entry if
// one with the same name is already present.
func (m *Module) DeclareGlobal(g *Global) *Global {
	if existing, ok := m.Globals[g.Name]; ok {
		return existing
	}
	m.Globals[g.Name] = g
	return g
}
