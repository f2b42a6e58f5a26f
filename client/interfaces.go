package client

import (
	"slices"
	"sync"
)

// Interface is a typed handle over a session for one device interface.
type Interface interface {
	Name() string
}

type InterfaceFactory func(s *DeviceSession) Interface

// InterfaceRegistry maps status block names (e.g. "cardReader") onto
// factories. It is passed explicitly to discovery.
type InterfaceRegistry struct {
	mu        sync.RWMutex
	factories map[string]InterfaceFactory
}

func NewInterfaceRegistry() *InterfaceRegistry {
	return &InterfaceRegistry{factories: make(map[string]InterfaceFactory)}
}

// DefaultInterfaces knows the interfaces implemented in this package.
func DefaultInterfaces() *InterfaceRegistry {
	r := NewInterfaceRegistry()
	r.Register(CardReaderInterface, func(s *DeviceSession) Interface { return NewCardReader(s) })
	return r
}

func (r *InterfaceRegistry) Register(name string, f InterfaceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *InterfaceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Build instantiates a handle for each known name. Unknown names are skipped.
func (r *InterfaceRegistry) Build(s *DeviceSession, names []string) []Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Interface
	for _, name := range names {
		if f, ok := r.factories[name]; ok {
			out = append(out, f(s))
		}
	}
	return out
}
