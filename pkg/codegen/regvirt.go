package codegen

import "github.com/luthier-go/luthier/pkg/mir"
import "github.com/luthier-go/luthier/pkg/lift"

// virtualizePhysicalRegisters implements spec.md §4.5 step 8: every read
// or write of a physical register recorded in accessSets is replaced by a
// read/write of a freshly minted virtual register, bracketed by explicit
// COPY instructions (modeled here as OpMov, this core's only copy-shaped
// opcode) so later register allocation sees a uniform virtual-register
// program instead of raw physical-register accesses mixed in.
func virtualizePhysicalRegisters(clone *lift.LiftedRepresentation, accessSets *AccessSets) {
	for fn, regs := range accessSets.PhysRegs {
		virtOf := make(map[mir.PhysReg]mir.VirtReg, len(regs))
		for reg := range regs {
			virtOf[reg] = fn.NewVirt(reg.Class)
		}

		for _, block := range fn.Blocks {
			rewritten := make([]*mir.Instr, 0, len(block.Instrs)+2*len(regs))
			for _, instr := range block.Instrs {
				for i, op := range instr.Operands {
					if op.Phys == nil {
						continue
					}
					v, ok := virtOf[*op.Phys]
					if !ok {
						continue
					}
					phys := *op.Phys
					virtOperand := mir.VirtOperand(v)
					rewritten = append(rewritten, &mir.Instr{Op: mir.OpMov, Dest: &virtOperand, Operands: []mir.Operand{mir.PhysOperand(phys)}})
					instr.Operands[i] = virtOperand
				}

				if instr.Dest != nil && instr.Dest.Phys != nil {
					if v, ok := virtOf[*instr.Dest.Phys]; ok {
						phys := *instr.Dest.Phys
						virtOperand := mir.VirtOperand(v)
						instr.Dest = &virtOperand
						rewritten = append(rewritten, instr)
						physOperand := mir.PhysOperand(phys)
						rewritten = append(rewritten, &mir.Instr{Op: mir.OpMov, Dest: &physOperand, Operands: []mir.Operand{virtOperand}})
						continue
					}
				}

				rewritten = append(rewritten, instr)
			}
			block.Instrs = rewritten
		}
	}
}
