// Package registry loads and serves the atom whitelist. The registry file
// (flow.registry.json) maps public atom names to implementation identifiers
// from the compiled-in catalog; anything not listed simply does not exist
// to the engine, and nothing is ever discovered by scanning.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/aretw0/weft/pkg/atom"
)

// ConfigError reports a malformed registry file. Fatal at boot.
type ConfigError struct {
	Path string
	Msg  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid registry %s: %s", e.Path, e.Msg)
}

// BrokenAtomError reports a dispatch to an atom that failed its startup
// consistency check. The dispatch fails cleanly; the engine keeps running.
type BrokenAtomError struct {
	Name   string
	Reason string
}

func (e *BrokenAtomError) Error() string {
	return fmt.Sprintf("atom '%s' is broken: %s", e.Name, e.Reason)
}

// errUnknownAtom is the message format for a name with no registry entry.
var errUnknownAtom = "atom '%s' not found in registry"

type entry struct {
	implID  string
	factory atom.Factory
	broken  bool
	reason  string
}

// Registry is the resolved whitelist. Lookup is case-sensitive by policy.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// Load reads the registry file and runs the startup consistency check:
// every implementation identifier is resolved against the catalog and
// instantiated once. Entries that fail are marked broken without killing
// the boot — dispatching to them errors cleanly instead.
//
// A missing file yields an empty registry. A file that does not parse as a
// JSON object of strings is a ConfigError.
func Load(path string, catalog map[string]atom.Factory, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reg := &Registry{entries: make(map[string]entry)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	// The wire contract demands a single object; a list or scalar at the
	// top level is a boot failure, not an empty registry.
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ConfigError{Path: path, Msg: "not valid JSON"}
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, &ConfigError{Path: path, Msg: "root must be an object of name → implementation id"}
	}

	var mapping map[string]string
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, &ConfigError{Path: path, Msg: "values must be implementation-identifier strings"}
	}

	for name, implID := range mapping {
		e := entry{implID: implID}
		factory, ok := catalog[implID]
		if !ok {
			e.broken = true
			e.reason = fmt.Sprintf("unknown implementation '%s'", implID)
		} else {
			e.factory = factory
			if inst := instantiate(factory, &e); inst != nil && inst.Name() == "" {
				e.broken = true
				e.reason = "implementation returned an unnamed atom"
			}
		}
		if e.broken {
			logger.Warn("registry entry marked broken", "atom", name, "impl", implID, "reason", e.reason)
		}
		reg.entries[name] = e
	}
	return reg, nil
}

// instantiate runs one factory, converting a construction panic into a
// broken marking instead of a dead engine.
func instantiate(factory atom.Factory, e *entry) (inst atom.Atom) {
	defer func() {
		if r := recover(); r != nil {
			e.broken = true
			e.reason = fmt.Sprintf("constructor panicked: %v", r)
			inst = nil
		}
	}()
	return factory()
}

// Resolve returns a fresh instance of the named atom.
func (r *Registry) Resolve(name string) (atom.Atom, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf(errUnknownAtom, name)
	}
	if e.broken {
		return nil, &BrokenAtomError{Name: name, Reason: e.reason}
	}
	return e.factory(), nil
}

// Has reports whether name is registered (broken entries included: they
// exist, they just fail to dispatch).
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns all registered atom names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}
