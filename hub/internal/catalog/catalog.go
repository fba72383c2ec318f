// Package catalog provides read access to the entity registry the engine
// reconciles against.
//
// The registry itself is an external collaborator; this package specifies
// its read boundary and ships three implementations: an HTTP client for a
// remote registry, a store-backed adapter, and an in-memory catalog for
// dev and tests.
package catalog

import (
	"context"

	"github.com/fleetops/deployhub/pkg/types"
)

// Filter narrows a catalog listing. Zero-value fields match everything.
type Filter struct {
	Environment string
	ClusterID   string
	ProductID   string
}

// Matches reports whether the entity passes the filter.
func (f Filter) Matches(e *types.Entity) bool {
	if f.Environment != "" && e.Environment != f.Environment {
		return false
	}
	if f.ClusterID != "" && e.ClusterID != f.ClusterID {
		return false
	}
	if f.ProductID != "" && e.ProductID != f.ProductID {
		return false
	}
	return true
}

// Catalog is the read interface over the entity registry.
type Catalog interface {
	// GetEntity returns the entity, or nil when absent.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	ListEntities(ctx context.Context, filter Filter) ([]*types.Entity, error)
}

// entityReader is the slice of the plan store the adapter needs.
type entityReader interface {
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	ListEntities(ctx context.Context) ([]*types.Entity, error)
}

// StoreCatalog serves catalog reads from the plan store's entity table. This
// is the default wiring: the hub owns the registry.
type StoreCatalog struct {
	store entityReader
}

// NewStoreCatalog wraps a store as a catalog.
func NewStoreCatalog(store entityReader) *StoreCatalog {
	return &StoreCatalog{store: store}
}

func (c *StoreCatalog) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	return c.store.GetEntity(ctx, id)
}

func (c *StoreCatalog) ListEntities(ctx context.Context, filter Filter) ([]*types.Entity, error) {
	entities, err := c.store.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.Entity
	for _, e := range entities {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
