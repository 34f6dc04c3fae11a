// Package codeobject is the Code-Object Cache: it installs wrappers on the
// agent-code-object-load and executable-destroy runtime callbacks,
// snapshots every loaded ELF into a private buffer, and exposes lookups
// over the cached (LCO, bytes, parsed ELF) triples. Structurally it
// mirrors the teacher's mc.Program — a single state-owning struct that
// installs itself between the runtime and the rest of the core — but
// keyed by LCO handle over many loaded objects rather than the teacher's
// one in-process program.
package codeobject

import (
	"log/slog"
	"sync"

	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/elfobj"
	"github.com/luthier-go/luthier/pkg/runtimeapi"
)

// LCOHandle identifies one Loaded Code Object, scoped to an executable and
// an agent.
type LCOHandle uint64

// LCO is the Loaded Code Object record: the runtime-owned identity plus
// everything the cache snapshotted about it.
type LCO struct {
	Handle    LCOHandle
	Exec      runtimeapi.ExecutableHandle
	Agent     runtimeapi.AgentHandle
	LoadBase  uint64
	LoadSize  uint64
	LoadDelta int64

	raw    []byte
	parsed *elfobj.File
	relocs elfobj.RelocationMap

	// branchTargets is the Direct-Branch Target Set, populated by the Code
	// Lifter during disassembly and consulted by it again to decide basic
	// block boundaries. It lives here, not on the lifter, because it is
	// scoped to the LCO's lifetime like every other cached derivative.
	branchTargets map[uint64]bool
}

// RawBytes returns the cache's private copy of the ELF bytes.
func (l *LCO) RawBytes() []byte { return l.raw }

// ParsedELF returns the parsed ELF structure.
func (l *LCO) ParsedELF() *elfobj.File { return l.parsed }

// Relocations returns the LCO's Relocation Map, building it lazily on
// first use per spec.md §4.4 ("on first use of an LCO, scan every
// relocation...").
func (l *LCO) Relocations() (elfobj.RelocationMap, error) {
	if l.relocs != nil {
		return l.relocs, nil
	}
	rm, err := elfobj.BuildRelocationMap(l.parsed)
	if err != nil {
		return nil, err
	}
	l.relocs = rm
	return rm, nil
}

// RecordBranchTarget adds addr to the LCO's Direct-Branch Target Set.
func (l *LCO) RecordBranchTarget(addr uint64) {
	if l.branchTargets == nil {
		l.branchTargets = make(map[uint64]bool)
	}
	l.branchTargets[addr] = true
}

// IsBranchTarget reports whether addr was ever recorded as a direct
// branch destination within this LCO.
func (l *LCO) IsBranchTarget(addr uint64) bool {
	return l.branchTargets[addr]
}

// Cache is the process-wide Code-Object Cache singleton.
type Cache struct {
	mu      sync.RWMutex
	log     *slog.Logger
	byLCO   map[LCOHandle]*LCO
	byExec  map[runtimeapi.ExecutableHandle][]LCOHandle
	nextLCO LCOHandle
}

// NewCache constructs an empty cache. Per the process-wide-singleton
// invariant, construction is the only initialization path: there is no
// lazy-init accessor.
func NewCache(log *slog.Logger) *Cache {
	return &Cache{
		log:    log,
		byLCO:  make(map[LCOHandle]*LCO),
		byExec: make(map[runtimeapi.ExecutableHandle][]LCOHandle),
	}
}

// InstallCallbacks chains this cache's load/destroy handlers onto cb,
// preserving whatever was already installed.
func (c *Cache) InstallCallbacks(cb runtimeapi.Callbacks) runtimeapi.Callbacks {
	return runtimeapi.Chain(cb, runtimeapi.Callbacks{
		OnAgentCodeObjectLoad: c.onLoad,
		OnExecutableDestroy:   c.onDestroy,
	})
}

func (c *Cache) onLoad(exec runtimeapi.ExecutableHandle, agent runtimeapi.AgentHandle, raw []byte, loadBase, loadSize uint64, loadDelta int64) {
	// Own copy: the runtime may reclaim raw's backing array once the
	// callback returns.
	owned := make([]byte, len(raw))
	copy(owned, raw)

	parsed, err := elfobj.Parse(owned)
	if err != nil {
		c.log.Error("code object cache: failed to parse loaded ELF", "error", err, "exec", exec, "agent", agent)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextLCO++
	handle := c.nextLCO
	c.byLCO[handle] = &LCO{
		Handle:    handle,
		Exec:      exec,
		Agent:     agent,
		LoadBase:  loadBase,
		LoadSize:  loadSize,
		LoadDelta: loadDelta,
		raw:       owned,
		parsed:    parsed,
	}
	c.byExec[exec] = append(c.byExec[exec], handle)

	c.log.Debug("code object cache: loaded", "lco", handle, "exec", exec, "agent", agent, "size", len(owned))
}

func (c *Cache) onDestroy(exec runtimeapi.ExecutableHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, handle := range c.byExec[exec] {
		delete(c.byLCO, handle)
	}
	delete(c.byExec, exec)

	c.log.Debug("code object cache: invalidated executable", "exec", exec)
}

// IsCached reports whether handle names an LCO that is still live.
func (c *Cache) IsCached(handle LCOHandle) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byLCO[handle]
	return ok
}

// Get resolves handle to its LCO, failing with CacheMiss if it has been
// invalidated or never existed.
func (c *Cache) Get(handle LCOHandle) (*LCO, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lco, ok := c.byLCO[handle]
	if !ok {
		return nil, dbierr.Newf(dbierr.CacheMiss, "codeobject.Cache.Get", "LCO %d is not cached (destroyed or unknown)", handle)
	}
	return lco, nil
}

// RawBytes is a convenience wrapper over Get+LCO.RawBytes.
func (c *Cache) RawBytes(handle LCOHandle) ([]byte, error) {
	lco, err := c.Get(handle)
	if err != nil {
		return nil, err
	}
	return lco.RawBytes(), nil
}

// ParsedELF is a convenience wrapper over Get+LCO.ParsedELF.
func (c *Cache) ParsedELF(handle LCOHandle) (*elfobj.File, error) {
	lco, err := c.Get(handle)
	if err != nil {
		return nil, err
	}
	return lco.ParsedELF(), nil
}
