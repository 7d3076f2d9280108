package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// =============================================================================
// AUDIT LOG
// =============================================================================

// InsertSystemLog writes a single audit record.
func (s *Store) InsertSystemLog(ctx context.Context, l types.SystemLog) error {
	details, err := marshalMap(l.Details)
	if err != nil {
		return fmt.Errorf("encoding details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO system_logs (level, source, agent_id, status, message, details, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, COALESCE($7, NOW()))
	`, string(l.Level), l.Source, l.AgentID, string(l.Status), l.Message, details, nullTime(l.CreatedAt))
	return err
}

// CopySystemLogs bulk-inserts audit records with COPY.
func (s *Store) CopySystemLogs(ctx context.Context, logs []types.SystemLog) (int64, error) {
	if len(logs) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(logs))
	for _, l := range logs {
		details, err := marshalMap(l.Details)
		if err != nil {
			return 0, fmt.Errorf("encoding details: %w", err)
		}
		rows = append(rows, []any{
			string(l.Level), l.Source, nullString(l.AgentID), nullString(string(l.Status)),
			l.Message, details, l.CreatedAt,
		})
	}
	return s.pool.CopyFrom(ctx,
		pgx.Identifier{"system_logs"},
		[]string{"level", "source", "agent_id", "status", "message", "details", "created_at"},
		pgx.CopyFromRows(rows),
	)
}
