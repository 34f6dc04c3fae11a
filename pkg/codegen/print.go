package codegen

import (
	"bytes"
	"fmt"

	"github.com/luthier-go/luthier/pkg/elfobj"
	"github.com/luthier-go/luthier/pkg/isa"
	"github.com/luthier-go/luthier/pkg/lift"
	"github.com/luthier-go/luthier/pkg/mir"
)

// printRelocatable implements spec.md §4.5 step 12: run the asm printer
// over the clone's MIR module, producing a relocatable ELF object. Each
// MIR function becomes one STT_FUNC symbol over an encoded instruction
// stream in its own PROGBITS section, using elfobj.Writer the way the
// arc-language-core-codegen reference writer is driven from its codegen
// package's final emission step.
func printRelocatable(clone *lift.LiftedRepresentation, target *isa.TargetMachine) ([]byte, error) {
	w := elfobj.NewWriter()

	for name, fn := range clone.MIRModule.Functions {
		encoded := encodeFunction(fn)
		sec := w.AddSection("."+sanitizeSectionName(name), elfobj.SHT_PROGBITS, elfobj.SHF_ALLOC|elfobj.SHF_EXECINSTR, encoded)
		w.AddSymbol(name, elfobj.SymbolInfo(elfobj.BindingGlobal, elfobj.TypeFunc), sec, 0, uint64(len(encoded)))
	}

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeFunction serializes fn's instructions into a fixed-width encoding
// matching lift.decode's expectations, so a printed-then-reloaded object
// round-trips through this core's own disassembler.
func encodeFunction(fn *mir.Function) []byte {
	var out []byte
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			out = append(out, encodeInstr(instr)...)
		}
	}
	return out
}

func encodeInstr(instr *mir.Instr) []byte {
	switch instr.Op {
	case mir.OpSEndpgm:
		return []byte{0x7F, 0, 0, 0}
	case mir.OpBranch:
		target := int16(0)
		if len(instr.Operands) > 0 {
			target = int16(instr.Operands[0].Imm)
		}
		return []byte{0x10, 0, byte(target >> 8), byte(target)}
	case mir.OpMov:
		regIdx := byte(0)
		if instr.Dest != nil && instr.Dest.Phys != nil {
			regIdx = byte(instr.Dest.Phys.Index)
		}
		imm := int16(0)
		if len(instr.Operands) > 0 {
			imm = int16(instr.Operands[0].Imm)
		}
		return []byte{0x20, regIdx, byte(imm >> 8), byte(imm)}
	default:
		return []byte{0x00, 0, 0, 0}
	}
}

func sanitizeSectionName(name string) string {
	return fmt.Sprintf("text.%s", name)
}
