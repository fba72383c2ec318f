package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetops/deployhub/pkg/types"
)

// =============================================================================
// MAINTENANCE WINDOWS
// =============================================================================

// CreateMaintenanceWindow inserts a window definition.
func (s *Store) CreateMaintenanceWindow(ctx context.Context, w *types.MaintenanceWindow) error {
	envs, _ := json.Marshal(w.Environments)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO maintenance_windows (id, name, cron, duration_seconds, timezone, environments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.Name, w.Cron, int64(w.Duration/time.Second), w.Timezone, envs, w.CreatedAt, w.UpdatedAt)
	return err
}

// ListMaintenanceWindows returns all window definitions.
func (s *Store) ListMaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cron, duration_seconds, timezone, environments, created_at, updated_at
		FROM maintenance_windows ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []types.MaintenanceWindow
	for rows.Next() {
		var w types.MaintenanceWindow
		var envs []byte
		var durationSeconds int64
		if err := rows.Scan(&w.ID, &w.Name, &w.Cron, &durationSeconds, &w.Timezone, &envs, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Duration = time.Duration(durationSeconds) * time.Second
		json.Unmarshal(envs, &w.Environments)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// DeleteMaintenanceWindow removes a window definition.
func (s *Store) DeleteMaintenanceWindow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM maintenance_windows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &types.NotFoundError{Kind: "maintenance window", ID: id}
	}
	return nil
}

// =============================================================================
// SUPPRESSIONS
// =============================================================================

// CreateSuppression inserts a suppression range.
func (s *Store) CreateSuppression(ctx context.Context, sup *types.Suppression) error {
	envs, _ := json.Marshal(sup.Environments)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO suppressions (id, start_at, end_at, reason, environments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sup.ID, sup.Start, sup.End, sup.Reason, envs, sup.CreatedAt)
	return err
}

// ListSuppressions returns all suppression ranges.
func (s *Store) ListSuppressions(ctx context.Context) ([]types.Suppression, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, start_at, end_at, reason, environments, created_at
		FROM suppressions ORDER BY start_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suppressions []types.Suppression
	for rows.Next() {
		var sup types.Suppression
		var envs []byte
		if err := rows.Scan(&sup.ID, &sup.Start, &sup.End, &sup.Reason, &envs, &sup.CreatedAt); err != nil {
			return nil, err
		}
		json.Unmarshal(envs, &sup.Environments)
		suppressions = append(suppressions, sup)
	}
	return suppressions, rows.Err()
}

// DeleteSuppression removes a suppression range.
func (s *Store) DeleteSuppression(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM suppressions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &types.NotFoundError{Kind: "suppression", ID: id}
	}
	return nil
}

// =============================================================================
// AGENTS
// =============================================================================

// UpsertAgent registers or refreshes an agent record.
func (s *Store) UpsertAgent(ctx context.Context, a *types.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, cluster_id, environment, version, status, last_heartbeat, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			cluster_id = EXCLUDED.cluster_id,
			environment = EXCLUDED.environment,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat
	`, a.ID, a.Name, a.ClusterID, a.Environment, a.Version, a.Status, a.LastHeartbeat, a.CreatedAt)
	return err
}

// GetAgent retrieves an agent by ID. Returns nil, nil when absent.
func (s *Store) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	var a types.Agent
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, cluster_id, environment, version, status, last_heartbeat, created_at
		FROM agents WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.ClusterID, &a.Environment, &a.Version, &a.Status, &a.LastHeartbeat, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAgents returns all registered agents.
func (s *Store) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cluster_id, environment, version, status, last_heartbeat, created_at
		FROM agents ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*types.Agent
	for rows.Next() {
		var a types.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.ClusterID, &a.Environment, &a.Version, &a.Status, &a.LastHeartbeat, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// TouchAgentHeartbeat updates an agent's heartbeat timestamp and status.
func (s *Store) TouchAgentHeartbeat(ctx context.Context, id string, status types.AgentStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status = $2, last_heartbeat = $3 WHERE id = $1
	`, id, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &types.NotFoundError{Kind: "agent", ID: id}
	}
	return nil
}
