package store

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patina/dxspaces/pkg/fabric"
)

// DefaultModules are the registration types accepted when none are
// configured.
var DefaultModules = []string{"netcdf", "zarr", "url"}

// Registration is one external dataset known to the store
type Registration struct {
	Type       string
	Name       string
	Namespace  string
	Parameters map[string]any
	CreatedAt  string
}

// Handle returns the caller-facing view of the registration
func (r *Registration) Handle() *fabric.RegHandle {
	return &fabric.RegHandle{
		Namespace:  r.Namespace,
		Parameters: maps.Clone(r.Parameters),
	}
}

// Registry owns the store's registrations. A (type, name) pair maps to one
// stable namespace; registering it again replaces its parameters.
type Registry struct {
	mu            sync.RWMutex
	modules       map[string]struct{}
	registrations map[string]*Registration
}

// NewRegistry creates a registry accepting the given module types
func NewRegistry(modules ...string) *Registry {
	if len(modules) == 0 {
		modules = DefaultModules
	}
	r := &Registry{
		modules:       make(map[string]struct{}, len(modules)),
		registrations: make(map[string]*Registration),
	}
	for _, m := range modules {
		r.modules[m] = struct{}{}
	}
	return r
}

// NamespaceFor derives the namespace of a (type, name) registration
func NamespaceFor(typ, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(typ+"/"+name)).String()
}

// Register adds or updates a registration (write operation)
func (r *Registry) Register(typ, name string, params map[string]any) (*Registration, error) {
	if name == "" {
		return nil, fmt.Errorf("registration name is required")
	}
	if _, ok := r.modules[typ]; !ok {
		return nil, fmt.Errorf("%w: %q", fabric.ErrModule, typ)
	}

	reg := &Registration{
		Type:       typ,
		Name:       name,
		Namespace:  NamespaceFor(typ, name),
		Parameters: maps.Clone(params),
		CreatedAt:  time.Now().Format(time.RFC3339),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.registrations[reg.Namespace]; ok {
		reg.CreatedAt = prev.CreatedAt
	}
	r.registrations[reg.Namespace] = reg

	regCopy := *reg
	return &regCopy, nil
}

// Lookup retrieves a registration by namespace (read operation)
func (r *Registry) Lookup(namespace string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.registrations[namespace]
	if !ok {
		return nil, false
	}
	regCopy := *reg
	regCopy.Parameters = maps.Clone(reg.Parameters)
	return &regCopy, true
}

// List returns all registrations ordered by namespace (read operation)
func (r *Registry) List() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(r.registrations))
	out := make([]*Registration, 0, len(keys))
	for _, k := range keys {
		regCopy := *r.registrations[k]
		out = append(out, &regCopy)
	}
	return out
}

// Count returns the number of registrations (read operation)
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.registrations)
}
