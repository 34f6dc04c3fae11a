// Package instrument implements the Instrumentation Module (the tool's
// registered payload) and the Instrumentation Task (a deferred mutation
// plan over one cloned Lifted Representation). The registration lifecycle
// — detect the payload by a known identifier at freeze time, unregister on
// destroy — follows the same wrap-two-callbacks-and-key-by-executable
// shape as codeobject.Cache, generalized to the freeze event instead of
// the load event. Destroying the last registered executable does not
// clear the per-agent bitcode, variable addresses or hook names.
package instrument

import (
	"log/slog"
	"sync"

	"github.com/luthier-go/luthier/pkg/bitcode"
	"github.com/luthier-go/luthier/pkg/dbierr"
	"github.com/luthier-go/luthier/pkg/runtimeapi"
)

// Manifest is the tool-authored YAML description of one instrumentation
// payload: which compile unit identifies it, and which hooks it exports.
// This package defines the type and its yaml field tags only; it has no
// function that parses a manifest, and hooks are resolved through the
// shadow-pointer map filled by the register-function callback.
type Manifest struct {
	CompileUnitID string     `yaml:"compile_unit_id"`
	Hooks         []HookDecl `yaml:"hooks"`
}

// HookDecl is one hook function declared in a manifest.
type HookDecl struct {
	Name         string `yaml:"name"`
	FunctionName string `yaml:"function_name"`
}

// Module is the tool's registered payload: per-agent bitcode, per-agent
// global-variable addresses, and the hook shadow-pointer -> function-name
// map, keyed by compile-unit identifier so the same tool signature can be
// recognised across multiple executable loads.
type Module struct {
	mu sync.RWMutex

	log           *slog.Logger
	compileUnitID string

	bitcodeByAgent map[runtimeapi.AgentHandle]*bitcode.Bundle
	varAddrs       map[runtimeapi.AgentHandle]map[string]uint64
	hookNames      map[uintptr]string

	registeredExecs map[runtimeapi.ExecutableHandle]bool
}

// NewModule creates an unregistered Instrumentation Module for the given
// compile-unit identifier.
func NewModule(log *slog.Logger, compileUnitID string) *Module {
	return &Module{
		log:             log,
		compileUnitID:   compileUnitID,
		bitcodeByAgent:  make(map[runtimeapi.AgentHandle]*bitcode.Bundle),
		varAddrs:        make(map[runtimeapi.AgentHandle]map[string]uint64),
		hookNames:       make(map[uintptr]string),
		registeredExecs: make(map[runtimeapi.ExecutableHandle]bool),
	}
}

// InstallCallbacks chains this module's freeze/destroy/register-function
// handlers onto cb.
func (m *Module) InstallCallbacks(cb runtimeapi.Callbacks) runtimeapi.Callbacks {
	return runtimeapi.Chain(cb, runtimeapi.Callbacks{
		OnExecutableFreeze:  m.onFreeze,
		OnExecutableDestroy: m.onDestroy,
		OnRegisterFunction:  m.onRegisterFunction,
	})
}

func (m *Module) onFreeze(exec runtimeapi.ExecutableHandle, compileUnitID string, raw []byte) {
	if compileUnitID != m.compileUnitID {
		return
	}

	bundle, err := bitcode.Decode(raw)
	if err != nil {
		m.log.Error("instrumentation module: failed to decode registered bitcode", "error", err, "exec", exec)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.registeredExecs[exec] = true
	m.log.Debug("instrumentation module: registered", "exec", exec, "functions", len(bundle.Functions))
}

func (m *Module) onDestroy(exec runtimeapi.ExecutableHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registeredExecs, exec)
}

func (m *Module) onRegisterFunction(shadowHostPtr uintptr, deviceFunctionName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hookNames[shadowHostPtr] = deviceFunctionName
}

// RegisterAgentBitcode associates a decoded bitcode bundle and its
// per-agent global variable addresses with agent, called once the tool
// has resolved where its globals landed on that agent.
func (m *Module) RegisterAgentBitcode(agent runtimeapi.AgentHandle, bundle *bitcode.Bundle, varAddrs map[string]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bitcodeByAgent[agent] = bundle
	m.varAddrs[agent] = varAddrs
}

// IsRegistered reports whether exec was recognised as this module's
// payload.
func (m *Module) IsRegistered(exec runtimeapi.ExecutableHandle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registeredExecs[exec]
}

// HookFunctionName resolves a hook handle's shadow host pointer to the
// hook's function name inside the bitcode.
func (m *Module) HookFunctionName(shadowHostPtr uintptr) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.hookNames[shadowHostPtr]
	if !ok {
		return "", dbierr.Newf(dbierr.CacheMiss, "instrument.Module.HookFunctionName", "no hook registered for shadow pointer %#x", shadowHostPtr)
	}
	return name, nil
}

// Bitcode returns the bitcode bundle registered for agent.
func (m *Module) Bitcode(agent runtimeapi.AgentHandle) (*bitcode.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bundle, ok := m.bitcodeByAgent[agent]
	if !ok {
		return nil, dbierr.Newf(dbierr.CacheMiss, "instrument.Module.Bitcode", "no bitcode registered for agent %d", agent)
	}
	return bundle, nil
}

// VariableAddress resolves a global variable's loaded address on agent.
func (m *Module) VariableAddress(agent runtimeapi.AgentHandle, name string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addrs, ok := m.varAddrs[agent]
	if !ok {
		return 0, dbierr.Newf(dbierr.CacheMiss, "instrument.Module.VariableAddress", "no variables registered for agent %d", agent)
	}
	addr, ok := addrs[name]
	if !ok {
		return 0, dbierr.Newf(dbierr.CacheMiss, "instrument.Module.VariableAddress", "no variable %q registered for agent %d", name, agent)
	}
	return addr, nil
}
