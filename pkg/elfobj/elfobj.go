// Package elfobj is the core's ELF model: parsing relocatable code objects
// read from the runtime (via stdlib debug/elf, since that input is
// runtime-validated and read-only) and writing new relocatable objects
// produced by the Code Generator (via a from-scratch writer, grounded on
// the arc-language-core-codegen reference writer's section/symbol/string-
// table bookkeeping, generalized from its x86-64 fixed machine type to the
// AMDGPU one this core targets).
package elfobj

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/luthier-go/luthier/pkg/dbierr"
)

// EM_AMDGPU is the ELF machine constant for AMD GPU code objects; stdlib's
// debug/elf doesn't name it, so it's defined here the same way the
// reference writer names EM_X86_64 locally.
const EM_AMDGPU = 224

// File is a parsed, read-only view over a loaded code object.
type File struct {
	raw   []byte
	inner *elf.File
}

// Parse decodes raw as an ELF64 relocatable (or shared) object. Parsing
// (not writing) is delegated to stdlib because the input always comes from
// a runtime-validated code object already on disk or in loader memory;
// there is no domain-specific layout to teach a parser here, unlike the
// writer's output layout which this core controls end to end.
func Parse(raw []byte) (*File, error) {
	inner, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, dbierr.New(dbierr.DecodeError, "elfobj.Parse", err)
	}
	return &File{raw: raw, inner: inner}, nil
}

// Bytes returns the raw bytes the file was parsed from.
func (f *File) Bytes() []byte { return f.raw }

// Section looks up a section by name.
func (f *File) Section(name string) *elf.Section {
	return f.inner.Section(name)
}

// Symbols returns every ELF symbol table entry in the object.
func (f *File) Symbols() ([]elf.Symbol, error) {
	syms, err := f.inner.Symbols()
	if err != nil {
		return nil, dbierr.New(dbierr.DecodeError, "elfobj.File.Symbols", err)
	}
	return syms, nil
}

// DynamicSymbols returns the dynamic symbol table, used for code objects
// loaded as shared objects rather than relocatables.
func (f *File) DynamicSymbols() ([]elf.Symbol, error) {
	syms, err := f.inner.DynamicSymbols()
	if err != nil {
		return nil, dbierr.New(dbierr.DecodeError, "elfobj.File.DynamicSymbols", err)
	}
	return syms, nil
}

// Machine returns the object's declared machine type.
func (f *File) Machine() elf.Machine { return f.inner.Machine }

// RelocationMap maps a symbol name to every offset, within the section
// that references it, at which a relocation against that symbol appears.
// Built once per lift and consulted by the Code Lifter when resolving
// branch targets and global/external references.
type RelocationMap map[string][]Relocation

// Relocation is one relocation entry, section-relative.
type Relocation struct {
	Section string
	Offset  uint64
	Addend  int64
	Type    uint32
}

// BuildRelocationMap scans every relocation section in f and indexes each
// entry by the symbol name it targets.
func BuildRelocationMap(f *File) (RelocationMap, error) {
	syms, err := f.Symbols()
	if err != nil {
		return nil, err
	}

	rm := make(RelocationMap)
	for _, sec := range f.inner.Sections {
		if sec.Type != elf.SHT_RELA && sec.Type != elf.SHT_REL {
			continue
		}

		// sh_info of a relocation section names the section it applies to.
		targetName := sec.Name
		if int(sec.Info) < len(f.inner.Sections) {
			targetName = f.inner.Sections[sec.Info].Name
		}
		data, err := sec.Data()
		if err != nil {
			return nil, dbierr.New(dbierr.DecodeError, "elfobj.BuildRelocationMap", err)
		}

		entries, err := decodeRelaEntries(data, sec.Type == elf.SHT_RELA)
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			// Symbols omits the null symbol at ELF index 0, so ELF symbol
			// index i is syms[i-1].
			symIdx := e.symIndex
			if symIdx == 0 || symIdx > uint32(len(syms)) {
				continue
			}
			name := syms[symIdx-1].Name
			rm[name] = append(rm[name], Relocation{
				Section: targetName,
				Offset:  e.offset,
				Addend:  e.addend,
				Type:    e.relType,
			})
		}
	}

	return rm, nil
}

type relaEntry struct {
	offset   uint64
	symIndex uint32
	relType  uint32
	addend   int64
}

func decodeRelaEntries(data []byte, hasAddend bool) ([]relaEntry, error) {
	entrySize := 16
	if hasAddend {
		entrySize = 24
	}
	if len(data)%entrySize != 0 {
		return nil, dbierr.Newf(dbierr.DecodeError, "elfobj.decodeRelaEntries", "relocation section size %d not a multiple of %d", len(data), entrySize)
	}

	count := len(data) / entrySize
	out := make([]relaEntry, count)
	for i := 0; i < count; i++ {
		base := i * entrySize
		info := le64(data[base+8:])
		out[i] = relaEntry{
			offset:   le64(data[base:]),
			symIndex: uint32(info >> 32),
			relType:  uint32(info),
		}
		if hasAddend {
			out[i].addend = int64(le64(data[base+16:]))
		}
	}
	return out, nil
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (f *File) String() string {
	return fmt.Sprintf("elfobj.File{machine=%s, sections=%d}", f.inner.Machine, len(f.inner.Sections))
}
