package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/fleetops/deployhub/pkg/types"
)

// Memory is an in-memory catalog for dev and tests.
type Memory struct {
	mu       sync.RWMutex
	entities map[string]*types.Entity
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{entities: make(map[string]*types.Entity)}
}

// Put inserts or replaces an entity.
func (m *Memory) Put(e *types.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entities[e.ID] = &cp
}

func (m *Memory) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) ListEntities(ctx context.Context, filter Filter) ([]*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Entity
	for _, e := range m.entities {
		if filter.Matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
