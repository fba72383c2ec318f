// Package store provides persistence for entities, plans and orchestration
// configuration.
//
// # Design
//
// Three backends share one method set: Postgres (raw SQL with pgx) for
// production, an in-memory store for tests and ephemeral runs, and a JSON
// file store for single-node deployments without a database. Consumers
// declare their own narrow interfaces over the subset they use.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetops/deployhub/pkg/types"
)

// Store provides database operations backed by Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromURL creates a new store by connecting to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for advanced operations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// ENTITIES
// =============================================================================

// CreateEntity registers a new entity.
func (s *Store) CreateEntity(ctx context.Context, e *types.Entity) error {
	desiredCfg, _ := json.Marshal(e.DesiredConfig)
	reportedCfg, _ := json.Marshal(e.ReportedConfig)
	deps, _ := json.Marshal(e.Dependencies)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entities (
			id, product_id, name, environment, cluster_id, criticality,
			desired_version, desired_config, reported_version, reported_config,
			reported_health, dependencies, marked_for_removal, lifecycle,
			state_changed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		e.ID, e.ProductID, e.Name, e.Environment, e.ClusterID, e.Criticality,
		e.DesiredVersion, desiredCfg, e.ReportedVersion, reportedCfg,
		e.ReportedHealth, deps, e.MarkedForRemoval, e.Lifecycle,
		e.StateChangedAt, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// GetEntity retrieves an entity by ID. Returns nil, nil when absent.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, product_id, name, environment, cluster_id, criticality,
			desired_version, desired_config, reported_version, reported_config,
			reported_health, dependencies, marked_for_removal, lifecycle,
			state_changed_at, created_at, updated_at
		FROM entities WHERE id = $1
	`, id)
	return scanEntity(row)
}

// UpdateEntity persists the full entity record.
func (s *Store) UpdateEntity(ctx context.Context, e *types.Entity) error {
	desiredCfg, _ := json.Marshal(e.DesiredConfig)
	reportedCfg, _ := json.Marshal(e.ReportedConfig)
	deps, _ := json.Marshal(e.Dependencies)
	tag, err := s.pool.Exec(ctx, `
		UPDATE entities SET
			product_id = $2, name = $3, environment = $4, cluster_id = $5,
			criticality = $6, desired_version = $7, desired_config = $8,
			reported_version = $9, reported_config = $10, reported_health = $11,
			dependencies = $12, marked_for_removal = $13, lifecycle = $14,
			state_changed_at = $15, updated_at = $16
		WHERE id = $1
	`,
		e.ID, e.ProductID, e.Name, e.Environment, e.ClusterID, e.Criticality,
		e.DesiredVersion, desiredCfg, e.ReportedVersion, reportedCfg,
		e.ReportedHealth, deps, e.MarkedForRemoval, e.Lifecycle,
		e.StateChangedAt, time.Now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &types.NotFoundError{Kind: "entity", ID: e.ID}
	}
	return nil
}

// ListEntities returns all entities ordered by creation time.
func (s *Store) ListEntities(ctx context.Context) ([]*types.Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, name, environment, cluster_id, criticality,
			desired_version, desired_config, reported_version, reported_config,
			reported_health, dependencies, marked_for_removal, lifecycle,
			state_changed_at, created_at, updated_at
		FROM entities ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var e types.Entity
	var desiredCfg, reportedCfg, deps []byte
	err := row.Scan(
		&e.ID, &e.ProductID, &e.Name, &e.Environment, &e.ClusterID, &e.Criticality,
		&e.DesiredVersion, &desiredCfg, &e.ReportedVersion, &reportedCfg,
		&e.ReportedHealth, &deps, &e.MarkedForRemoval, &e.Lifecycle,
		&e.StateChangedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal(desiredCfg, &e.DesiredConfig)
	json.Unmarshal(reportedCfg, &e.ReportedConfig)
	json.Unmarshal(deps, &e.Dependencies)
	return &e, nil
}

func collectEntities(rows pgx.Rows) ([]*types.Entity, error) {
	var entities []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}
