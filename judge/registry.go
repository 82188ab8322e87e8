package judge

import "fmt"

// SettingDef describes a backend setting.
type SettingDef struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required" yaml:"required"`
}

// Def describes an available backend.
type Def struct {
	Name     string                                                     `json:"name"`
	Title    string                                                     `json:"title"`
	Settings []SettingDef                                               `json:"settings"`
	Build    func(settings map[string]string, env Env) (Backend, error) `json:"-"`
}

// Registry is an ordered list of backend definitions. Order decides which
// backend wins when a URL or a piece of code matches several.
type Registry struct {
	defs []Def
}

// NewRegistry builds a registry. Duplicate names are a programming error.
func NewRegistry(defs ...Def) (*Registry, error) {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" || d.Build == nil {
			return nil, fmt.Errorf("backend definition %q is incomplete", d.Name)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("backend %q registered twice", d.Name)
		}
		seen[d.Name] = true
	}
	return &Registry{defs: append([]Def(nil), defs...)}, nil
}

// Defs returns all definitions in registration order.
func (r *Registry) Defs() []Def {
	return append([]Def(nil), r.defs...)
}

// Names returns the backend names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

// Lookup finds a definition by name.
func (r *Registry) Lookup(name string) (Def, bool) {
	for _, d := range r.defs {
		if d.Name == name {
			return d, true
		}
	}
	return Def{}, false
}

// Build creates a Backend from a name and settings.
func (r *Registry) Build(name string, settings map[string]string, env Env) (Backend, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	for _, s := range d.Settings {
		if s.Required && settings[s.ID] == "" {
			return nil, fmt.Errorf("%s: %s is required", name, s.Name)
		}
	}
	if settings == nil {
		settings = map[string]string{}
	}
	return d.Build(settings, env)
}
