package tool

import (
	"fmt"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/internal/util"
)

// Registry is the catalogue of tools available to the orchestrator.
//
// Tools are registered during startup; Freeze ends registration. After Freeze
// the registry is read-only, so lookups need no locking. Register must not be
// called concurrently with itself or with reads.
type Registry struct {
	defs   map[string]Definition
	order  []string
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

// Register adds def. Duplicate names, invalid definitions and registration
// after Freeze are rejected.
func (r *Registry) Register(def Definition) error {
	if r.frozen {
		return fmt.Errorf("register %s: %w", def.Name, core.ErrRegistryFrozen)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("register %s: %w", def.Name, core.ErrDuplicateTool)
	}
	if def.ParamSchema == nil {
		def.ParamSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister registers every definition and panics on the first failure.
// Use it for startup wiring where a bad catalogue is fatal.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Freeze ends registration.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool { return r.frozen }

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// ByCapability returns definitions tagged with tag, in registration order.
func (r *Registry) ByCapability(tag string) []Definition {
	var out []Definition
	for _, name := range r.order {
		if def := r.defs[name]; def.HasTag(tag) {
			out = append(out, def)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }

// Validate checks params against the schema of the named tool.
func (r *Registry) Validate(name string, params map[string]any) error {
	def, ok := r.defs[name]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
	}
	if err := util.ValidateParameters(params, def.ParamSchema); err != nil {
		if ve, ok := err.(*core.ValidationError); ok {
			ve.Tool = name
		}
		return err
	}
	return nil
}
