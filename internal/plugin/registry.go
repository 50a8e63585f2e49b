package plugin

import (
	"fmt"
	"sort"
	"time"

	"convertd/internal/config"
)

type entry struct {
	contract Contract
	desc     Descriptor
}

// Registry maps tool names to live plugins. It is immutable once built; the
// With* and Apply* methods return adjusted copies.
type Registry struct {
	entries map[string]entry
}

// NewRegistry registers plugins, refusing invalid descriptors and duplicate names.
func NewRegistry(plugins ...Contract) (*Registry, error) {
	entries := make(map[string]entry, len(plugins))
	for _, p := range plugins {
		if p == nil {
			return nil, fmt.Errorf("register tool: nil plugin")
		}
		desc := p.Descriptor()
		if err := desc.Validate(); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
		if _, dup := entries[desc.Name]; dup {
			return nil, fmt.Errorf("register tool: duplicate name %q", desc.Name)
		}
		entries[desc.Name] = entry{contract: p, desc: desc}
	}
	return &Registry{entries: entries}, nil
}

// Build assembles the registry a daemon or worker runs with: the given plugins,
// manifest overrides from cfg.Tools.Manifest, then execution defaults.
func Build(cfg *config.Config, plugins ...Contract) (*Registry, error) {
	reg, err := NewRegistry(plugins...)
	if err != nil {
		return nil, err
	}
	manifest, err := LoadManifest(cfg.Tools.Manifest)
	if err != nil {
		return nil, err
	}
	reg, err = reg.ApplyManifest(manifest)
	if err != nil {
		return nil, err
	}
	return reg.WithDefaults(cfg.Execution.MaxAttempts, cfg.Lease(), cfg.MaxRuntime()), nil
}

// Lookup resolves name. Unknown names return *NotFoundError.
func (r *Registry) Lookup(name string) (Contract, Descriptor, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, Descriptor{}, &NotFoundError{Name: name}
	}
	return e.contract, e.desc, nil
}

// Descriptors lists registered tools sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.entries)
}

// WithDefaults fills unset attempt ceilings, leases and runtime budgets.
func (r *Registry) WithDefaults(maxAttempts int, lease, maxRuntime time.Duration) *Registry {
	next := r.clone()
	for name, e := range next.entries {
		if e.desc.MaxAttempts <= 0 {
			e.desc.MaxAttempts = maxAttempts
		}
		if e.desc.Lease <= 0 {
			e.desc.Lease = lease
		}
		if e.desc.MaxRuntime <= 0 {
			e.desc.MaxRuntime = maxRuntime
		}
		next.entries[name] = e
	}
	return next
}

// ApplyManifest overlays per-tool overrides. Naming an unregistered tool is an error.
func (r *Registry) ApplyManifest(m Manifest) (*Registry, error) {
	next := r.clone()
	for _, name := range m.names() {
		override := m.Tools[name]
		e, ok := next.entries[name]
		if !ok {
			return nil, fmt.Errorf("tool manifest: %w", &NotFoundError{Name: name})
		}
		e.desc = override.apply(e.desc)
		if err := e.desc.Validate(); err != nil {
			return nil, fmt.Errorf("tool manifest: %w", err)
		}
		next.entries[name] = e
	}
	return next, nil
}

func (r *Registry) clone() *Registry {
	entries := make(map[string]entry, len(r.entries))
	for name, e := range r.entries {
		entries[name] = e
	}
	return &Registry{entries: entries}
}
