package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	catalog "plugwatch/internal/catalog/domain"
)

// Repository is an in-memory service catalog, used in tests and single-node
// development setups.
type Repository struct {
	mu   sync.RWMutex
	defs map[string]catalog.ServiceDefinition
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{defs: make(map[string]catalog.ServiceDefinition)}
}

// Get loads one service definition.
func (r *Repository) Get(_ context.Context, serviceID string) (catalog.ServiceDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[serviceID]
	if !ok {
		return catalog.ServiceDefinition{}, catalog.ErrNotFound
	}
	return def, nil
}

// List returns all definitions ordered by id.
func (r *Repository) List(_ context.Context) ([]catalog.ServiceDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]catalog.ServiceDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Save upserts one definition.
func (r *Repository) Save(_ context.Context, def catalog.ServiceDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def
	return nil
}
