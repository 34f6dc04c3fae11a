// Package bitcode stands in for real LLVM bitcode: hook bodies arrive
// precompiled, and device-code compilation from source is explicitly out
// of scope, so this core treats a hook body as an opaque bundle rather
// than parsing an actual bitcode container. Encode/Decode use encoding/gob
// the way the teacher pack treats its own binary serialization concerns
// (see lcox74-bfcc/pkg/elf for the closest real analogue of "a fixed
// binary container format with its own encode/decode pair") — gob stands
// in here because there is no real bitcode parser in the example pack to
// ground a byte-exact reader on; this is a deliberate, documented
// simplification (see DESIGN.md).
package bitcode

import (
	"bytes"
	"encoding/gob"

	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/mir"
)

// FunctionBody is one function's worth of pre-lowered IR, as carried in a
// Bundle. Unlike a freshly lifted kernel function, a hook function body
// has no originating machine instructions, so it carries plain IR blocks
// and no InstrMap.
type FunctionBody struct {
	Name    string
	RetType ir.Type
	Params  []ParamDesc
	Blocks  []BlockDesc
}

// ParamDesc is a serializable ir.Arg.
type ParamDesc struct {
	Name string
	Ty   ir.Type
}

// BlockDesc is a serializable ir.BasicBlock: gob cannot encode ir.Value
// interfaces or pointer-heavy instruction graphs directly, so a Bundle
// carries a flattened instruction list per block and Materialize rebuilds
// the real ir.Function graph from it.
type BlockDesc struct {
	Name     string
	Instrs   []InstrDesc
}

// InstrDesc is a serializable ir.Instr.
type InstrDesc struct {
	Op       ir.Op
	Ty       ir.Type
	Name     string
	Operands []OperandDesc
	Target   string // block name
	Else     string // block name
	Callee   string
	Aux      int64
}

// OperandDesc is a serializable ir.Value: exactly one field is set.
type OperandDesc struct {
	ConstTy   ir.Type
	ConstBits uint64
	IsConst   bool
	ArgName   string
	IsArg     bool
	GlobalName string
	IsGlobal  bool
	InstrRef  string // name of a referenced instruction result

	// PhysRegClass/PhysRegIndex encode an ir.PhysRegRef, a hook body's
	// literal reference to a target physical register (e.g. the s4 in
	// luthier.read_reg(s4)).
	IsPhysReg    bool
	PhysRegClass mir.RegClass
	PhysRegIndex int
}

// GlobalDesc is a serializable ir.Global.
type GlobalDesc struct {
	Name     string
	Ty       ir.Type
	External bool
}

// Bundle is the complete contents of one compiled hook module: every
// function body plus the globals it references.
type Bundle struct {
	Functions []FunctionBody
	Globals   []GlobalDesc
}

// Encode serializes b.
func Encode(b *Bundle) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, dbierr.New(dbierr.LiftError, "bitcode.Encode", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a Bundle previously produced by Encode.
func Decode(data []byte) (*Bundle, error) {
	var b Bundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, dbierr.New(dbierr.LiftError, "bitcode.Decode", err)
	}
	return &b, nil
}

// Materialize rebuilds a real ir.Module from the bundle, the step that
// turns the opaque "precompiled bitcode" stand-in into instruction-
// selectable IR, analogous to what loading an actual bitcode module into
// an LLVM context would do.
func Materialize(b *Bundle, moduleName string) (*ir.Module, error) {
	m := ir.NewModule(moduleName)

	for _, g := range b.Globals {
		m.DeclareGlobal(&ir.Global{Name: g.Name, Ty: g.Ty, External: g.External})
	}

	for _, fb := range b.Functions {
		params := make([]*ir.Arg, len(fb.Params))
		for i, p := range fb.Params {
			params[i] = &ir.Arg{Name: p.Name, Ty: p.Ty, Idx: i}
		}
		fn := m.NewFunction(fb.Name, fb.RetType, params)

		blocksByName := make(map[string]*ir.BasicBlock, len(fb.Blocks))
		for _, bd := range fb.Blocks {
			blocksByName[bd.Name] = fn.NewBlock(bd.Name)
		}

		valuesByName := make(map[string]ir.Value)
		for _, p := range params {
			valuesByName[p.Name] = p
		}
		for _, g := range b.Globals {
			valuesByName[g.Name] = m.Globals[g.Name]
		}

		for _, bd := range fb.Blocks {
			block := blocksByName[bd.Name]
			for _, id := range bd.Instrs {
				instr := &ir.Instr{
					Op:     id.Op,
					Ty:     id.Ty,
					Name:   id.Name,
					Callee: id.Callee,
					Aux:    id.Aux,
				}
				if id.Target != "" {
					instr.Target = blocksByName[id.Target]
				}
				if id.Else != "" {
					instr.Else = blocksByName[id.Else]
				}
				for _, od := range id.Operands {
					instr.Operands = append(instr.Operands, resolveOperand(od, valuesByName))
				}
				block.Append(instr)
				if instr.Name != "" {
					valuesByName[instr.Name] = instr
				}
			}
		}
	}

	return m, nil
}

func resolveOperand(od OperandDesc, values map[string]ir.Value) ir.Value {
	switch {
	case od.IsConst:
		return &ir.Const{Ty: od.ConstTy, Bits: od.ConstBits}
	case od.IsPhysReg:
		return &ir.PhysRegRef{Reg: mir.PhysReg{Class: od.PhysRegClass, Index: od.PhysRegIndex}}
	case od.IsArg:
		return values[od.ArgName]
	case od.IsGlobal:
		return values[od.GlobalName]
	default:
		return values[od.InstrRef]
	}
}
