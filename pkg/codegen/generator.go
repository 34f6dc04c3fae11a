// Package codegen is the Code Generator: given a Lifted Representation and
// a tool-supplied mutator, it clones the LR, runs the mutator, materialises
// queued hook calls as IR, lowers intrinsics in two stages, virtualises
// physical-register access, runs register allocation, rewrites
// prologues/epilogues, and prints a relocatable object. Each pipeline
// stage lives in its own file, mirroring the teacher's llvm package split
// (assembler.go / generator.go / fixup.go, one concern per file) scaled up
// to this core's longer pipeline.
package codegen

import (
	"log/slog"

	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/instrument"
	"github.com/luthier-go/luthier/pkg/intrinsics"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/lift"
)

// MutatorFunc is the tool-supplied callback that drives instrumentation:
// it may edit the clone's MIR directly and enqueue hook insertions via
// task.InsertHookBefore. Changes made directly take effect immediately;
// hook insertions are deferred until Instrument's materialisation stage.
type MutatorFunc func(task *instrument.Task, clone *lift.LiftedRepresentation) error

// Generator is the process-wide Code Generator singleton.
type Generator struct {
	log        *slog.Logger
	lifter     *lift.Lifter
	targets    *isa.Manager
	intrinsics *intrinsics.Registry
}

// NewGenerator constructs a Code Generator bound to its collaborators.
func NewGenerator(log *slog.Logger, lifter *lift.Lifter, targets *isa.Manager, registry *intrinsics.Registry) *Generator {
	return &Generator{log: log, lifter: lifter, targets: targets, intrinsics: registry}
}

// Result is everything Instrument produces: the instrumented LR and the
// printed relocatable object bytes.
type Result struct {
	LR     *lift.LiftedRepresentation
	Object []byte
}

// Instrument runs the full pipeline described in spec.md §4.5 over lr,
// driven by mutator and sourcing hook bitcode/constraints from module.
func (g *Generator) Instrument(lr *lift.LiftedRepresentation, module *instrument.Module, mutator MutatorFunc) (*Result, error) {
	// Step 1: clone.
	clone := lr.Clone()

	// Step 2: mutator runs over the clone, enqueuing hook insertions.
	task := instrument.NewTask(clone, module)
	if err := mutator(task, clone); err != nil {
		return nil, dbierr.New(dbierr.CodegenError, "codegen.Generator.Instrument", err)
	}

	target, err := g.targets.NewTargetMachine(clone.TargetISA)
	if err != nil {
		return nil, err
	}

	// Step 3: materialise hook calls as MIR call instructions.
	sideTable := intrinsics.NewSideTable()
	if err := materializeHookCalls(clone, task, module, sideTable); err != nil {
		return nil, err
	}

	// Step 4: IR optimisation over injected hook code.
	optimizeInjectedIR(clone)

	// Step 5: IR-level intrinsic lowering.
	if err := lowerIRIntrinsics(clone, g.intrinsics, sideTable); err != nil {
		return nil, err
	}

	// Step 6: instruction selection.
	if err := selectInstructions(clone, target, sideTable); err != nil {
		return nil, err
	}

	// Step 7: MIR-level intrinsic lowering.
	accessSets, err := lowerMIRIntrinsics(clone, g.intrinsics, sideTable, target)
	if err != nil {
		return nil, err
	}

	// Step 8: physical-register virtualisation.
	virtualizePhysicalRegisters(clone, accessSets)

	// Step 9: preamble analysis.
	preambleSpecs := analyzePreambles(clone, accessSets)

	// Step 10: register allocation.
	if err := allocateRegisters(clone, target); err != nil {
		return nil, err
	}

	// Step 11: prologue/epilogue rewriting.
	rewritePrologues(clone, preambleSpecs, target)

	// Step 12: asm printing.
	object, err := printRelocatable(clone, target)
	if err != nil {
		return nil, err
	}

	return &Result{LR: clone, Object: object}, nil
}
