package instrument

import (
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
)

// HookArg is one positional argument to a hook invocation: either an IR
// constant or a concrete physical-register designator, per spec.md §3's
// Instrumentation Task definition.
type HookArg struct {
	Const  *ir.Const
	PhysReg *mir.PhysReg
}

// ConstArg builds a constant hook argument.
func ConstArg(c ir.Const) HookArg { return HookArg{Const: &c} }

// RegArg builds a physical-register hook argument.
func RegArg(r mir.PhysReg) HookArg { return HookArg{PhysReg: &r} }

// HookInvocation is one queued hook call: which hook, with what
// arguments, materialised before a specific MIR instruction.
type HookInvocation struct {
	HookName string
	Args     []HookArg
}

// Task is the Instrumentation Task: a pure plan over one cloned Lifted
// Representation. Per spec.md §4.4, it exposes exactly one mutating
// operation (InsertHookBefore, no "after" — post-insertion after a
// terminator would be an invariant violation) and the queue is read-only
// outside the mutator callback that owns it.
type Task struct {
	lr     *lift.LiftedRepresentation
	module *Module
	queue  map[*mir.Instr][]HookInvocation
	order  []*mir.Instr // preserves enqueue order across instructions
}

// NewTask creates an empty task over clone, backed by module for hook
// name resolution.
func NewTask(clone *lift.LiftedRepresentation, module *Module) *Task {
	return &Task{
		lr:     clone,
		module: module,
		queue:  make(map[*mir.Instr][]HookInvocation),
	}
}

// InsertHookBefore validates that target belongs to the task's LR,
// resolves hookHandle through the Instrumentation Module to a hook name,
// and appends a descriptor to the queue for target. Insertion order for
// the same target is preserved: per spec.md's hook-insertion-ordering
// property, descriptors materialise strictly before target, in enqueue
// order.
func (t *Task) InsertHookBefore(target *mir.Instr, hookHandle uintptr, args ...HookArg) error {
	if !t.belongsToLR(target) {
		return dbierr.Newf(dbierr.InvariantViolation, "instrument.Task.InsertHookBefore", "target instruction does not belong to this task's lifted representation")
	}

	hookName, err := t.module.HookFunctionName(hookHandle)
	if err != nil {
		return err
	}

	if _, seen := t.queue[target]; !seen {
		t.order = append(t.order, target)
	}
	t.queue[target] = append(t.queue[target], HookInvocation{HookName: hookName, Args: args})

	return nil
}

func (t *Task) belongsToLR(target *mir.Instr) bool {
	if target.Block() == nil {
		return false
	}
	if target.Block().Instrs != nil && t.lr.KernelFn != nil {
		for _, fn := range append([]*mir.Function{t.lr.KernelFn}, deviceFns(t.lr)...) {
			for _, b := range fn.Blocks {
				if b == target.Block() {
					return true
				}
			}
		}
	}
	return false
}

func deviceFns(lr *lift.LiftedRepresentation) []*mir.Function {
	out := make([]*mir.Function, 0, len(lr.DeviceFunctions))
	for _, fn := range lr.DeviceFunctions {
		out = append(out, fn)
	}
	return out
}

// Invocations returns the queued hook invocations for instr, in enqueue
// order, or nil if none are queued.
func (t *Task) Invocations(instr *mir.Instr) []HookInvocation {
	return t.queue[instr]
}

// Targets returns every MIR instruction with at least one queued
// invocation, in the order they were first enqueued.
func (t *Task) Targets() []*mir.Instr {
	return append([]*mir.Instr(nil), t.order...)
}

// LR returns the lifted representation this task plans over.
func (t *Task) LR() *lift.LiftedRepresentation { return t.lr }

// Module returns the Instrumentation Module backing this task.
func (t *Task) Module() *Module { return t.module }
