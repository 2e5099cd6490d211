package flow

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/TrackPipe/internal/models"
)

// Registry maps form kinds to their specs.
type Registry struct {
	mu    sync.RWMutex
	specs map[models.FormKind]*Spec
}

// NewRegistry returns a registry holding the given specs.
func NewRegistry(specs ...*Spec) *Registry {
	r := &Registry{specs: make(map[models.FormKind]*Spec, len(specs))}
	for _, s := range specs {
		r.Register(s)
	}
	return r
}

// Register associates a spec with its form kind, replacing any previous one.
func (r *Registry) Register(s *Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[s.Kind] = s
	slog.Debug("Registry registered form", "form", s.Kind, "fields", len(s.order))
}

// Get retrieves the spec for a form kind.
func (r *Registry) Get(kind models.FormKind) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[kind]
	return s, ok
}

// MustGet is Get for kinds known to be registered.
func (r *Registry) MustGet(kind models.FormKind) *Spec {
	s, ok := r.Get(kind)
	if !ok {
		panic(fmt.Sprintf("form %s not registered", kind))
	}
	return s
}
