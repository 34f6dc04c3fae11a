package codegen

import (
	"github.com/luthier-go/luthier/pkg/bitcode"
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/instrument"
	"github.com/luthier-go/luthier/pkg/intrinsics"
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
)

// materializeHookCalls walks task's queued invocations and, for each
// target instruction, loads the agent's registered hook bitcode, clones
// the hook function and its transitive callees into the clone's IR
// module, and inserts a MIR CALL immediately before the target — per
// spec.md §4.5 step 3. Arguments are lowered per the descriptor: IR
// constants become immediate operands and physical-register arguments
// become physical-register operands of the CALL itself. No readReg-style
// intrinsic call is created for a register argument, and sideTable is not
// written here.
func materializeHookCalls(clone *lift.LiftedRepresentation, task *instrument.Task, module *instrument.Module, sideTable *intrinsics.SideTable) error {
	cloned := make(map[string]bool, len(clone.IRModule.Functions))
	for name, fn := range clone.IRModule.Functions {
		if len(fn.Blocks) > 0 {
			cloned[name] = true
		}
	}
	var hookModule *ir.Module

	for _, target := range task.Targets() {
		invocations := task.Invocations(target)
		block := target.Block()
		if block == nil {
			return dbierr.Violation("codegen.materializeHookCalls", "hook target instruction is not attached to a block")
		}

		insertion := make([]*mir.Instr, 0, len(invocations))
		for _, inv := range invocations {
			callArgs, err := lowerHookArgs(inv.Args, sideTable)
			if err != nil {
				return err
			}
			insertion = append(insertion, &mir.Instr{
				Op:       mir.OpCall,
				Operands: callArgs,
			})

			if !cloned[inv.HookName] {
				if hookModule == nil {
					bundle, err := module.Bitcode(clone.Agent)
					if err != nil {
						return err
					}
					hookModule, err = bitcode.Materialize(bundle, clone.Kernel.Name+".hooks")
					if err != nil {
						return err
					}
				}
				if err := cloneFunctionAndCallees(clone.IRModule, hookModule, inv.HookName, cloned); err != nil {
					return err
				}
			}
		}

		if err := spliceBefore(block, target, insertion); err != nil {
			return err
		}
	}
	return nil
}

// cloneFunctionAndCallees deep-copies the function named name from src into
// dst, rewiring block targets and SSA-value references to the clone's own
// instructions/blocks, then recurses into every function it calls (per
// spec.md §4.5 step 3's "clone the hook function and its transitive
// callees"). done tracks functions already copied, both to avoid infinite
// recursion over mutually calling hook functions and to skip names the
// clone's IR module already has a body for.
func cloneFunctionAndCallees(dst *ir.Module, src *ir.Module, name string, done map[string]bool) error {
	if done[name] {
		return nil
	}
	fn, ok := src.Functions[name]
	if !ok {
		return dbierr.Newf(dbierr.CodegenError, "codegen.cloneFunctionAndCallees", "hook bitcode has no function named %q", name)
	}
	done[name] = true

	params := make([]*ir.Arg, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = &ir.Arg{Name: p.Name, Ty: p.Ty, Idx: p.Idx}
	}
	clonedFn := dst.NewFunction(fn.Name, fn.RetType, params)

	blocksByName := make(map[string]*ir.BasicBlock, len(fn.Blocks))
	for _, b := range fn.Blocks {
		blocksByName[b.Name] = clonedFn.NewBlock(b.Name)
	}

	values := make(map[string]ir.Value, len(params))
	for _, p := range params {
		values[p.Name] = p
	}

	callees := make(map[string]bool)
	for _, b := range fn.Blocks {
		cb := blocksByName[b.Name]
		for _, instr := range b.Instrs {
			cp := &ir.Instr{
				Op:     instr.Op,
				Ty:     instr.Ty,
				Name:   instr.Name,
				Callee: instr.Callee,
				Aux:    instr.Aux,
			}
			if instr.Target != nil {
				cp.Target = blocksByName[instr.Target.Name]
			}
			if instr.Else != nil {
				cp.Else = blocksByName[instr.Else.Name]
			}
			for _, op := range instr.Operands {
				cp.Operands = append(cp.Operands, cloneValue(op, values, dst))
			}
			cb.Append(cp)
			if cp.Name != "" {
				values[cp.Name] = cp
			}
			if instr.Op == ir.OpCall && instr.Callee != "" {
				callees[instr.Callee] = true
			}
		}
	}

	for callee := range callees {
		if _, ok := src.Functions[callee]; ok {
			if err := cloneFunctionAndCallees(dst, src, callee, done); err != nil {
				return err
			}
		}
	}
	return nil
}

// cloneValue copies a single operand value for cloneFunctionAndCallees:
// constants are copied by value, globals/args/instruction-results are
// redirected to the destination module/function's own copies where one
// already exists (declaring a fresh global if this is its first
// reference), and anything else (e.g. an ir.PhysRegRef) is passed through
// unchanged since it carries no reference back into src.
func cloneValue(v ir.Value, values map[string]ir.Value, dst *ir.Module) ir.Value {
	switch val := v.(type) {
	case *ir.Const:
		c := *val
		return &c
	case *ir.Global:
		if g, ok := dst.Globals[val.Name]; ok {
			return g
		}
		return dst.DeclareGlobal(&ir.Global{Name: val.Name, Ty: val.Ty, External: val.External})
	case *ir.Arg:
		if existing, ok := values[val.Name]; ok {
			return existing
		}
		return val
	case *ir.Instr:
		if existing, ok := values[val.Name]; ok {
			return existing
		}
		return val
	default:
		return v
	}
}

// lowerHookArgs converts hook-invocation arguments into MIR operands: a
// constant becomes an immediate operand and a physical-register argument
// becomes a physical-register operand. No readReg-style intrinsic call is
// generated for register arguments.
func lowerHookArgs(args []instrument.HookArg, sideTable *intrinsics.SideTable) ([]mir.Operand, error) {
	out := make([]mir.Operand, 0, len(args))
	for _, a := range args {
		switch {
		case a.Const != nil:
			out = append(out, mir.ImmOperand(int64(a.Const.Bits)))
		case a.PhysReg != nil:
			out = append(out, mir.PhysOperand(*a.PhysReg))
		default:
			return nil, dbierr.Violation("codegen.lowerHookArgs", "hook argument has neither a constant nor a register set")
		}
	}
	return out, nil
}

// spliceBefore inserts newInstrs into block immediately before target,
// per the "no insertHookAfter" invariant: this is the only splice point
// this package ever materialises at.
func spliceBefore(block *mir.BasicBlock, target *mir.Instr, newInstrs []*mir.Instr) error {
	idx := -1
	for i, instr := range block.Instrs {
		if instr == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return dbierr.Violation("codegen.spliceBefore", "target instruction not found in its own block")
	}

	out := make([]*mir.Instr, 0, len(block.Instrs)+len(newInstrs))
	out = append(out, block.Instrs[:idx]...)
	out = append(out, newInstrs...)
	out = append(out, block.Instrs[idx:]...)
	block.Instrs = out

	return nil
}
