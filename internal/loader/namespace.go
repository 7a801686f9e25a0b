package loader

import (
	"sort"
	"sync"
)

// Namespace is the set of named objects the engine and its companions
// install themselves into. One is created at startup and handed to the
// loader; nothing reaches it through a package-level variable.
type Namespace struct {
	mu      sync.RWMutex
	objects map[string]any
}

// NewNamespace returns an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{objects: make(map[string]any)}
}

// Set installs v under name, replacing any previous value.
func (n *Namespace) Set(name string, v any) {
	n.mu.Lock()
	n.objects[name] = v
	n.mu.Unlock()
}

// Get returns the value installed under name.
func (n *Namespace) Get(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.objects[name]
	return v, ok
}

// Has reports whether name is installed.
func (n *Namespace) Has(name string) bool {
	_, ok := n.Get(name)
	return ok
}

// Delete removes name.
func (n *Namespace) Delete(name string) {
	n.mu.Lock()
	delete(n.objects, name)
	n.mu.Unlock()
}

// Names lists installed names, sorted.
func (n *Namespace) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.objects))
	for k := range n.objects {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
