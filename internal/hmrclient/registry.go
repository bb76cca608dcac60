package hmrclient

import (
	"sync"
)

// Holder boxes a module's exports. Consumers keep the holder, never the
// exports value, so a hot swap is visible through every reference.
type Holder struct {
	mutex   sync.RWMutex
	exports any
	version int
}

// Exports returns the current exports.
func (h *Holder) Exports() any {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.exports
}

// Version counts how many times the module was defined.
func (h *Holder) Version() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.version
}

func (h *Holder) set(exports any) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.exports = exports
	h.version++
}

// Registry maps module ids to holders.
type Registry struct {
	mutex   sync.RWMutex
	holders map[string]*Holder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{holders: make(map[string]*Holder)}
}

// Define stores exports for id. Redefining an id rewrites the existing
// holder in place.
func (r *Registry) Define(id string, exports any) *Holder {
	r.mutex.Lock()
	h, ok := r.holders[id]
	if !ok {
		h = &Holder{}
		r.holders[id] = h
	}
	r.mutex.Unlock()

	h.set(exports)
	return h
}

// Lookup returns the holder for id.
func (r *Registry) Lookup(id string) (*Holder, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	h, ok := r.holders[id]
	return h, ok
}

// Len returns the number of defined modules.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.holders)
}
