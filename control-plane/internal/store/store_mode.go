package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// =============================================================================
// OPERATIONAL MODE
// =============================================================================

// GetModeConfig reads the singleton mode row. Returns nil, nil if the row
// has not been seeded.
func (s *Store) GetModeConfig(ctx context.Context) (*types.ModeConfig, error) {
	var cfg types.ModeConfig
	var mode string
	err := s.pool.QueryRow(ctx, `
		SELECT mode, updated_at, updated_by FROM system_config WHERE id = 1
	`).Scan(&mode, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.Mode = types.OperationalMode(mode)
	return &cfg, nil
}

// SetModeConfig replaces the singleton mode row and returns what was stored.
func (s *Store) SetModeConfig(ctx context.Context, mode types.OperationalMode, updatedBy string) (*types.ModeConfig, error) {
	cfg := types.ModeConfig{Mode: mode, UpdatedBy: updatedBy}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO system_config (id, mode, updated_at, updated_by)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET mode = EXCLUDED.mode, updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by
		RETURNING updated_at
	`, string(mode), time.Now().UTC(), updatedBy).Scan(&cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
