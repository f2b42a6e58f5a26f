package client

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServiceEntry is one bootstrapped device service.
type ServiceEntry struct {
	ID         string
	URI        string
	Session    *DeviceSession
	Interfaces []Interface
	AddedAt    time.Time
}

// Interface returns the handle for name, if the device exposes it.
func (e *ServiceEntry) Interface(name string) (Interface, bool) {
	for _, iface := range e.Interfaces {
		if iface.Name() == name {
			return iface, true
		}
	}
	return nil, false
}

func (e *ServiceEntry) CardReader() (*CardReader, bool) {
	iface, ok := e.Interface(CardReaderInterface)
	if !ok {
		return nil, false
	}
	cr, ok := iface.(*CardReader)
	return cr, ok
}

// ServiceRegistry maps service URIs onto their sessions. Entries are only
// removed through Remove.
type ServiceRegistry struct {
	mu    sync.RWMutex
	byURI map[string]*ServiceEntry
	byID  map[string]*ServiceEntry
}

func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		byURI: make(map[string]*ServiceEntry),
		byID:  make(map[string]*ServiceEntry),
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Add stores a session under its URI. If the URI is already known the
// existing entry is returned with false.
func (r *ServiceRegistry) Add(s *DeviceSession, ifaces []Interface) (*ServiceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byURI[s.URI]; ok {
		return existing, false
	}

	id := shortID()
	for r.byID[id] != nil {
		id = shortID()
	}
	entry := &ServiceEntry{ID: id, URI: s.URI, Session: s, Interfaces: ifaces, AddedAt: time.Now()}
	r.byURI[s.URI] = entry
	r.byID[id] = entry
	return entry, true
}

func (r *ServiceRegistry) Get(uri string) (*ServiceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byURI[uri]
	return e, ok
}

func (r *ServiceRegistry) GetByID(id string) (*ServiceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// Remove drops the entry and closes its session.
func (r *ServiceRegistry) Remove(uri string) bool {
	r.mu.Lock()
	e, ok := r.byURI[uri]
	if ok {
		delete(r.byURI, uri)
		delete(r.byID, e.ID)
	}
	r.mu.Unlock()

	if ok && e.Session != nil {
		e.Session.Close()
	}
	return ok
}

// List returns the entries ordered by URI.
func (r *ServiceRegistry) List() []*ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServiceEntry, 0, len(r.byURI))
	for _, e := range r.byURI {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *ServiceEntry) int { return strings.Compare(a.URI, b.URI) })
	return out
}

func (r *ServiceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byURI)
}

// Close closes every session and empties the registry.
func (r *ServiceRegistry) Close() {
	for _, e := range r.List() {
		r.Remove(e.URI)
	}
}
