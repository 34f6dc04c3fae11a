package mir

// SourceRecord is the lift-time provenance of one MIR instruction: the
// address, raw bytes, encoded size, and owning symbol name of the machine
// instruction it was lifted from — the mandatory Instruction Record
// attributes from spec.md §3, minus the owning *symbol.Symbol itself.
// It stands in for the full lift.InstructionRecord to avoid an import
// cycle (mir is imported by lift, not the other way around); lift keeps
// its own richer record (with the real *symbol.Symbol) and populates this
// reduced view into the map.
type SourceRecord struct {
	Address uint64
	Raw     []byte
	Size    uint64
	Symbol  string
}

// InstrMap is the bidirectional mapping from each MIR instruction to its
// originating source record, per the Lifted Representation's invariant
// (b): valid only until the first transformation pass rewrites
// instructions. Nothing enforces that at the type level; callers that
// splice instructions are responsible for treating a stale map as
// advisory only, and lift.LiftedRepresentation documents the boundary.
type InstrMap struct {
	toSource map[*Instr]SourceRecord
	fromAddr map[uint64]*Instr
}

// NewInstrMap creates an empty map.
func NewInstrMap() *InstrMap {
	return &InstrMap{
		toSource: make(map[*Instr]SourceRecord),
		fromAddr: make(map[uint64]*Instr),
	}
}

// Record associates instr with its source record.
func (m *InstrMap) Record(instr *Instr, rec SourceRecord) {
	m.toSource[instr] = rec
	m.fromAddr[rec.Address] = instr
}

// SourceOf returns the source record for instr, if any.
func (m *InstrMap) SourceOf(instr *Instr) (SourceRecord, bool) {
	rec, ok := m.toSource[instr]
	return rec, ok
}

// InstrAt returns the MIR instruction lifted from the instruction at addr,
// if any.
func (m *InstrMap) InstrAt(addr uint64) (*Instr, bool) {
	instr, ok := m.fromAddr[addr]
	return instr, ok
}

// Len reports how many instructions are currently mapped.
func (m *InstrMap) Len() int { return len(m.toSource) }
