package codegen

import (
	"github.com/luthier-go/luthier/pkg/ir"
	"github.com/luthier-go/luthier/pkg/lift"
)

// optimizeInjectedIR runs the standard IR optimisation pipeline
// (ir.Optimize) over every function with a body in the clone's IR module,
// per spec.md §4.5 step 4. That covers the hook bodies and callees that
// step 3 cloned in from the materialised bitcode as well as any IR the
// mutator added directly; the hook call sites themselves are MIR and are
// not touched here.
func optimizeInjectedIR(clone *lift.LiftedRepresentation) {
	for _, fn := range clone.IRModule.Functions {
		if len(fn.Blocks) == 0 {
			continue
		}
		ir.Optimize(fn)
	}
}
