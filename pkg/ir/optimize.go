package ir

// Optimize applies a fixed set of peephole passes to fn until none of them
// change anything, the same fixed-point-over-a-pass-list structure as the
// teacher pack's Optimise(ops []Op) (lcox74-bfcc/internal/core/optimise.go),
// generalized from a flat op stream to a per-block instruction list.
func Optimize(fn *Function) {
	for {
		changed := false
		for _, b := range fn.Blocks {
			if removeDeadStores(b) {
				changed = true
			}
			if foldConstantBinOps(b) {
				changed = true
			}
		}
		if !changed {
			break
		}
	}
}

// removeDeadStores drops a Store that is immediately overwritten by a
// later Store to the same pointer operand with no intervening Load/Call,
// mirroring the bfcc pack's "detect a redundant pattern, splice it out,
// report whether anything changed" shape (its removeEmptyLoops/clearLoops).
func removeDeadStores(b *BasicBlock) bool {
	changed := false
	out := make([]*Instr, 0, len(b.Instrs))

	for i := 0; i < len(b.Instrs); i++ {
		cur := b.Instrs[i]
		if cur.Op == OpStore && i+1 < len(b.Instrs) {
			next := b.Instrs[i+1]
			if next.Op == OpStore && samePointer(cur, next) {
				changed = true
				continue // drop cur, keep scanning from next
			}
		}
		out = append(out, cur)
	}

	if changed {
		b.Instrs = out
	}
	return changed
}

func samePointer(a, b *Instr) bool {
	if len(a.Operands) < 2 || len(b.Operands) < 2 {
		return false
	}
	return a.Operands[1] == b.Operands[1]
}

// foldConstantBinOps replaces a binary op over two Const operands with a
// single Const carrying the computed result.
func foldConstantBinOps(b *BasicBlock) bool {
	changed := false
	for idx, instr := range b.Instrs {
		lhs, lok := instr.Operands0AsConst()
		rhs, rok := instr.Operands1AsConst()
		if !lok || !rok {
			continue
		}

		folded, ok := foldBinOp(instr.Op, lhs, rhs)
		if !ok {
			continue
		}

		b.Instrs[idx] = &Instr{Op: OpConstMove, Ty: instr.Ty, Name: instr.Name, Operands: []Value{folded}, block: b}
		changed = true
	}
	return changed
}

func (i *Instr) Operands0AsConst() (*Const, bool) {
	if len(i.Operands) < 1 {
		return nil, false
	}
	c, ok := i.Operands[0].(*Const)
	return c, ok
}

func (i *Instr) Operands1AsConst() (*Const, bool) {
	if len(i.Operands) < 2 {
		return nil, false
	}
	c, ok := i.Operands[1].(*Const)
	return c, ok
}

func foldBinOp(op Op, lhs, rhs *Const) (*Const, bool) {
	var result uint64
	switch op {
	case OpBinAdd:
		result = lhs.Bits + rhs.Bits
	case OpBinSub:
		result = lhs.Bits - rhs.Bits
	case OpBinMul:
		result = lhs.Bits * rhs.Bits
	case OpBinAnd:
		result = lhs.Bits & rhs.Bits
	case OpBinOr:
		result = lhs.Bits | rhs.Bits
	case OpBinXor:
		result = lhs.Bits ^ rhs.Bits
	default:
		return nil, false
	}
	return &Const{Ty: lhs.Ty, Bits: result}, true
}
