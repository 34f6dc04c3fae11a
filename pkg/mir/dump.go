package mir

import (
	"fmt"
	"strings"
)

// DocString renders fn as a readable listing, one instruction per line,
// in a "%04d: MNEMONIC args" shape modeled on the teacher pack's bfcc IR
// dumper uses for its op stream, extended with block labels since MIR has
// explicit block structure the flat bfcc IR doesn't.
func (fn *Function) DocString() string {
	var out strings.Builder
	fmt.Fprintf(&out, "function %s (%s):\n", fn.Name, fn.ISA)

	n := 0
	for _, b := range fn.Blocks {
		fmt.Fprintf(&out, "%s:\n", b.Name)
		for _, instr := range b.Instrs {
			fmt.Fprintf(&out, "  %04d: %s\n", n, instr.DocString())
			n++
		}
	}
	return out.String()
}

// DocString renders one instruction as "dest = op operand, operand, ...".
func (i *Instr) DocString() string {
	var out strings.Builder

	if i.Dest != nil {
		fmt.Fprintf(&out, "%s = ", i.Dest)
	}
	fmt.Fprint(&out, i.Op)

	for idx, op := range i.Operands {
		if idx == 0 {
			out.WriteByte(' ')
		} else {
			out.WriteString(", ")
		}
		fmt.Fprint(&out, op)
	}

	if i.Op == OpPlaceholder {
		fmt.Fprintf(&out, " [intrinsic #%d]", i.Aux)
	}

	return out.String()
}

// DocString renders every function in m, in map-iteration order.
func (m *Module) DocString() string {
	var out strings.Builder
	for _, fn := range m.Functions {
		out.WriteString(fn.DocString())
		out.WriteByte('\n')
	}
	return out.String()
}
