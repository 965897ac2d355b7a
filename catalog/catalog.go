// Package catalog provides an in-memory model catalog for the arbiter.
//
// Static holds a snapshot of models and providers behind a read-write lock;
// mutation happens through Add/Set calls only, so lookups during arbitration
// see consistent state. A database- or API-backed catalog implements the
// same arbiter.Catalog interface.
package catalog

import (
	"context"
	"sort"
	"sync"

	arbiter "github.com/bluefunda/model-arbiter"
)

// Static is an in-memory arbiter.Catalog.
type Static struct {
	mu        sync.RWMutex
	models    map[string]arbiter.AIModel
	providers map[string]arbiter.ModelProvider
}

// NewStatic creates an empty catalog.
func NewStatic() *Static {
	return &Static{
		models:    make(map[string]arbiter.AIModel),
		providers: make(map[string]arbiter.ModelProvider),
	}
}

// AddProvider inserts or replaces a provider.
func (s *Static) AddProvider(p arbiter.ModelProvider) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	return s
}

// AddModel inserts or replaces a model.
func (s *Static) AddModel(m arbiter.AIModel) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
	return s
}

// SetHealth updates a provider's health snapshot in place. Unknown ids are
// ignored.
func (s *Static) SetHealth(providerID string, h arbiter.HealthSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[providerID]
	if !ok {
		return
	}
	p.Health = h
	s.providers[providerID] = p
}

// SetActive toggles a model's active flag. Unknown ids are ignored.
func (s *Static) SetActive(modelID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[modelID]
	if !ok {
		return
	}
	m.Active = active
	s.models[modelID] = m
}

// ActiveModels returns active models matching the criteria, ordered by id
// for deterministic downstream ranking.
func (s *Static) ActiveModels(_ context.Context, c arbiter.Criteria) ([]arbiter.AIModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []arbiter.AIModel
	for _, m := range s.models {
		if c.Match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Provider resolves a provider id.
func (s *Static) Provider(id string) (arbiter.ModelProvider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	return p, ok
}
