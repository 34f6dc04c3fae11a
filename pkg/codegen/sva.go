package codegen

import "github.com/luthier-go/luthier/pkg/mir"

// StateValueArrayLayout describes the lane-indexed spill region used to
// shuttle live register values through a hook call: one slot per spilled
// physical register, laid out in a fixed order so save/restore code
// generated for the prologue and for each hook call site agree on
// offsets. This is one of the supplemented features the distilled spec
// only names (§9 glossary: "State-value array") without specifying a
// concrete layout.
type StateValueArrayLayout struct {
	SlotOf map[mir.PhysReg]int
	Stride int // bytes per lane, per slot
}

// BuildStateValueArrayLayout assigns a stable slot index to each register
// in live, in PhysReg order so layout is deterministic across runs over
// the same access set.
func BuildStateValueArrayLayout(live []mir.PhysReg) StateValueArrayLayout {
	layout := StateValueArrayLayout{SlotOf: make(map[mir.PhysReg]int, len(live)), Stride: 4}

	ordered := append([]mir.PhysReg(nil), live...)
	sortRegs(ordered)

	for i, r := range ordered {
		layout.SlotOf[r] = i
	}
	return layout
}

// Offset returns the byte offset of reg's slot within one lane.
func (l StateValueArrayLayout) Offset(reg mir.PhysReg) (int, bool) {
	slot, ok := l.SlotOf[reg]
	if !ok {
		return 0, false
	}
	return slot * l.Stride, true
}

func sortRegs(regs []mir.PhysReg) {
	for i := 1; i < len(regs); i++ {
		for j := i; j > 0 && less(regs[j], regs[j-1]); j-- {
			regs[j], regs[j-1] = regs[j-1], regs[j]
		}
	}
}

func less(a, b mir.PhysReg) bool {
	if a.Class != b.Class {
		return a.Class < b.Class
	}
	return a.Index < b.Index
}
