package endpoint

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the known endpoints by name. Descriptors handed out are shared
// and must not be modified.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Descriptor)}
}

// Register adds or replaces an endpoint. The registry keeps its own copy.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[d.Name] = d.clone()
	return nil
}

func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.endpoints[name]
	return d, ok
}

// MustLookup is for names known at compile time.
func (r *Registry) MustLookup(name string) *Descriptor {
	d, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("endpoint %q is not registered", name))
	}
	return d
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for n := range r.endpoints {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
