package server

import (
	"slices"
	"sync"
)

// ServiceRegistry holds the device services hosted by this process, keyed by
// their advertised URI. It is what a Publisher answers GetServices from.
type ServiceRegistry struct {
	mu    sync.RWMutex
	store map[string]Endpoint
}

func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{store: make(map[string]Endpoint)}
}

func (r *ServiceRegistry) Store(uri string, e Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[uri] = e
}

func (r *ServiceRegistry) Get(uri string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[uri]
	return val, ok
}

func (r *ServiceRegistry) Delete(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store, uri)
}

// URIs returns the hosted service URIs in sorted order.
func (r *ServiceRegistry) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uris := make([]string, 0, len(r.store))
	for uri := range r.store {
		uris = append(uris, uri)
	}
	slices.Sort(uris)
	return uris
}
