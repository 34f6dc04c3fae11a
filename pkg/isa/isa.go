// Package isa is the Target Manager: it owns the fixed catalogue of target
// ISAs this core knows how to lift, instrument, and regenerate code for.
// Register class layout follows the teacher's mc/registers package
// (RegisterClassDescriptor / RegisterDescriptor), generalized from the
// teacher's single fixed architecture to a table of bundles keyed by ISA
// identifier, since this core supports several ISA versions at once.
package isa

import (
	"fmt"
	"sync"

	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/utils"
)

// ID names one target ISA, e.g. "gfx90a", "gfx1100".
type ID string

// RegisterClass groups registers that share an encoding space and a
// natural value type, mirroring the teacher's RegisterClass enum.
type RegisterClass uint

const (
	RegisterClassSGPR RegisterClass = iota
	RegisterClassVGPR
	RegisterClassAGPR
	RegisterClassState
)

func (c RegisterClass) String() string {
	switch c {
	case RegisterClassSGPR:
		return "scalar general purpose registers"
	case RegisterClassVGPR:
		return "vector general purpose registers"
	case RegisterClassAGPR:
		return "accumulation registers"
	case RegisterClassState:
		return "state registers"
	}
	panic("unreachable")
}

// RegisterDescriptor describes one physical register slot within a class,
// the same shape as the teacher's RegisterDescriptor (class + index +
// optional custom name) minus the CPU-simulation-only Details field.
type RegisterDescriptor struct {
	Class       RegisterClass
	Index       int
	CustomName  string
	Description string
}

// Name returns the register's assembly-syntax name.
func (d *RegisterDescriptor) Name() string {
	if d.CustomName != "" {
		return d.CustomName
	}
	return fmt.Sprintf("%s%d", classPrefix(d.Class), d.Index)
}

func (d *RegisterDescriptor) String() string { return d.Name() }

func classPrefix(c RegisterClass) string {
	switch c {
	case RegisterClassSGPR:
		return "s"
	case RegisterClassVGPR:
		return "v"
	case RegisterClassAGPR:
		return "a"
	case RegisterClassState:
		return "st"
	}
	panic("unreachable")
}

// ArgStorage names where an implicit or hidden kernel argument is found on
// a given ISA: some ISAs pass it in a fixed SGPR, older ones spill it into
// the hidden kernarg segment instead. It's detected per (ISA, kernel
// metadata) rather than hardcoded per ISA version, per the decision
// recorded for the dropped DISPATCH_ID / EITHER_IN_SGPR_OR_HIDDEN_*
// open question.
type ArgStorage int

const (
	ArgStorageNone ArgStorage = iota
	ArgStorageSGPR
	ArgStorageHiddenKernarg
)

func (s ArgStorage) String() string {
	switch s {
	case ArgStorageNone:
		return "absent"
	case ArgStorageSGPR:
		return "sgpr"
	case ArgStorageHiddenKernarg:
		return "hidden-kernarg"
	}
	panic("unreachable")
}

// Bundle is the complete description of one target ISA: its register file,
// instruction widths, and wavefront geometry, the generalized form of the
// teacher's single hardcoded Cucaracha architecture.
type Bundle struct {
	ID ID

	// SGPRCount, VGPRCount, AGPRCount size the scalar, vector, and
	// accumulation register files.
	SGPRCount, VGPRCount, AGPRCount int

	// WavefrontSize is the number of work-items per wavefront (32 or 64).
	WavefrontSize int

	// InstructionAlignment is the required alignment, in bytes, of decoded
	// instruction boundaries.
	InstructionAlignment int

	registers []*RegisterDescriptor
	byName    map[string]*RegisterDescriptor
}

func newBundle(id ID, sgpr, vgpr, agpr, wavefront int) *Bundle {
	b := &Bundle{
		ID:                    id,
		SGPRCount:             sgpr,
		VGPRCount:             vgpr,
		AGPRCount:             agpr,
		WavefrontSize:         wavefront,
		InstructionAlignment: 4,
	}

	b.registers = append(b.registers, utils.Iota(sgpr, func(i int) *RegisterDescriptor {
		return &RegisterDescriptor{Class: RegisterClassSGPR, Index: i}
	})...)
	b.registers = append(b.registers, utils.Iota(vgpr, func(i int) *RegisterDescriptor {
		return &RegisterDescriptor{Class: RegisterClassVGPR, Index: i}
	})...)
	b.registers = append(b.registers, utils.Iota(agpr, func(i int) *RegisterDescriptor {
		return &RegisterDescriptor{Class: RegisterClassAGPR, Index: i}
	})...)

	b.byName = make(map[string]*RegisterDescriptor, len(b.registers))
	for _, r := range b.registers {
		b.byName[r.Name()] = r
	}

	return b
}

// Register looks up a register by assembly name, panicking the way the
// teacher's registers.Register does — an unknown register name at this
// layer is a decode bug, not recoverable input.
func (b *Bundle) Register(name string) *RegisterDescriptor {
	r, ok := b.byName[name]
	if !ok {
		dbierr.Violation("isa.Bundle.Register", "unknown register %q on %s", name, b.ID)
	}
	return r
}

// Registers returns every register in the bundle, ordered by class then
// index.
func (b *Bundle) Registers() []*RegisterDescriptor {
	return append([]*RegisterDescriptor(nil), b.registers...)
}

// DetectArgStorage inspects kernel metadata flags (as decoded from the ELF
// note section) to decide where a hidden/implicit argument is stored on
// this bundle, resolved once per lift rather than hardcoded per ISA.
func (b *Bundle) DetectArgStorage(name string, metaFlags map[string]bool) ArgStorage {
	if metaFlags[name+".sgpr"] {
		return ArgStorageSGPR
	}
	if metaFlags[name+".hidden"] {
		return ArgStorageHiddenKernarg
	}
	return ArgStorageNone
}

// Manager is the process-wide Target Manager singleton: the catalogue of
// ISA bundles known to this core, built once and read many times
// thereafter. Mirrors the teacher's pattern of a single package-level
// descriptor table (registers.RegisterClasses) but keyed by ISA rather
// than fixed to one architecture.
type Manager struct {
	mu       sync.RWMutex
	bundles  map[ID]*Bundle
	allowed  map[ID]bool
	hasAllow bool
}

// NewManager builds a Target Manager seeded with the built-in ISA
// catalogue. allowedISAs, if non-empty, restricts Bundle/NewTargetMachine
// to that subset (the config.Config.AllowedISAs knob).
func NewManager(allowedISAs []string) *Manager {
	m := &Manager{
		bundles: map[ID]*Bundle{
			"gfx90a":  newBundle("gfx90a", 102, 256, 256, 64),
			"gfx908":  newBundle("gfx908", 102, 256, 256, 64),
			"gfx1100": newBundle("gfx1100", 106, 1536, 0, 32),
		},
	}

	if len(allowedISAs) > 0 {
		m.hasAllow = true
		m.allowed = make(map[ID]bool, len(allowedISAs))
		for _, id := range allowedISAs {
			m.allowed[ID(id)] = true
		}
	}

	return m
}

// Bundle returns the descriptor for id, or a TargetError if id is unknown
// or excluded by the allowlist.
func (m *Manager) Bundle(id ID) (*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.hasAllow && !m.allowed[id] {
		return nil, dbierr.Newf(dbierr.TargetError, "isa.Manager.Bundle", "%s is not in the allowed ISA list (%s)", id, utils.FormatSlice(m.allowedSorted(), ", "))
	}

	b, ok := m.bundles[id]
	if !ok {
		return nil, dbierr.Newf(dbierr.TargetError, "isa.Manager.Bundle", "unknown target ISA %s", id)
	}
	return b, nil
}

// allowedSorted lists the allowlist's members for an error message. Callers
// must already hold m.mu.
func (m *Manager) allowedSorted() []ID {
	ids := make([]ID, 0, len(m.allowed))
	for id := range m.allowed {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

// TargetMachine is the per-ISA view the Code Generator consumes: a bundle
// plus the pieces of target-specific codegen policy that don't belong on
// the bundle itself (calling convention register assignment).
type TargetMachine struct {
	Bundle *Bundle

	// ArgumentRegisters lists the SGPRs the calling convention assigns to
	// the kernarg segment pointer, dispatch packet pointer, and similar
	// fixed-position implicit arguments, in order.
	ArgumentRegisters []*RegisterDescriptor
}

// NewTargetMachine builds the per-ISA codegen view for id.
func (m *Manager) NewTargetMachine(id ID) (*TargetMachine, error) {
	b, err := m.Bundle(id)
	if err != nil {
		return nil, err
	}

	return &TargetMachine{
		Bundle:            b,
		ArgumentRegisters: []*RegisterDescriptor{b.Register("s0"), b.Register("s1")},
	}, nil
}

// IDs lists every ISA this manager knows about, allowlist applied.
func (m *Manager) IDs() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]ID, 0, len(m.bundles))
	for id := range m.bundles {
		if m.hasAllow && !m.allowed[id] {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
