package relay

import (
	"log"
	"sync"
)

// PathStats is a read-only snapshot of one path's occupancy, used only
// for observability (relay/metrics.go).
type PathStats struct {
	ID         PathId
	HasInitiator bool
	Responders int
}

// Registry maps an initiator public key to its Path, creating paths
// lazily and garbage-collecting them when empty. Concurrent attaches
// for the same key return the same Path; no two Paths share a key. The
// registry itself holds no long-running locks across I/O.
type Registry struct {
	log *log.Logger

	mu    sync.Mutex
	paths map[PathId]*Path
}

// NewRegistry creates an empty path registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{log: logger, paths: make(map[PathId]*Path)}
}

// GetOrCreate returns the Path for id, creating it if this is the first
// attach for that key.
func (r *Registry) GetOrCreate(id PathId) *Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.paths[id]
	if ok {
		return p
	}
	p = NewPath(id, r.log)
	r.paths[id] = p
	return p
}

// DropIfEmpty removes p from the registry if it currently holds no
// initiator and no responders. Safe to call on a path that is not (or
// no longer) registered.
func (r *Registry) DropIfEmpty(p *Path) {
	if !p.Empty() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.paths[p.ID]; ok && current == p && p.Empty() {
		delete(r.paths, p.ID)
		r.log.Printf("dropped empty path %s", p.ID)
	}
}

// PathCount returns the number of currently registered paths.
func (r *Registry) PathCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Snapshot returns a read-only view of every registered path's
// occupancy, for metrics.
func (r *Registry) Snapshot() []PathStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PathStats, 0, len(r.paths))
	for id, p := range r.paths {
		_, hasInit := p.GetInitiator()
		out = append(out, PathStats{
			ID:           id,
			HasInitiator: hasInit,
			Responders:   p.ResponderCount(),
		})
	}
	return out
}
