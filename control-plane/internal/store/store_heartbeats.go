package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// =============================================================================
// HEARTBEAT EVENTS
// =============================================================================

const heartbeatColumns = `id, agent_id, status, message, metadata, created_at`

// InsertHeartbeat appends a heartbeat event. The database assigns ID and
// CreatedAt, which are written back into e.
func (s *Store) InsertHeartbeat(ctx context.Context, e *types.HeartbeatEvent) error {
	metaJSON, err := marshalMap(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO heartbeat_events (agent_id, status, message, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, e.AgentID, string(e.Status), e.Message, metaJSON).Scan(&e.ID, &e.CreatedAt)
}

// RecentHeartbeats returns the most recent events across all agents,
// newest first.
func (s *Store) RecentHeartbeats(ctx context.Context, limit int) ([]types.HeartbeatEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+heartbeatColumns+`
		FROM heartbeat_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectHeartbeats(rows)
}

// HeartbeatsSince returns events created at or after since, capped at limit.
// When ascending is false the newest events come first and the cap keeps the
// most recent rows.
func (s *Store) HeartbeatsSince(ctx context.Context, since time.Time, limit int, ascending bool) ([]types.HeartbeatEvent, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+heartbeatColumns+`
		FROM heartbeat_events
		WHERE created_at >= $1
		ORDER BY created_at `+order+`, id `+order+`
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	return collectHeartbeats(rows)
}

func collectHeartbeats(rows pgx.Rows) ([]types.HeartbeatEvent, error) {
	defer rows.Close()

	var events []types.HeartbeatEvent
	for rows.Next() {
		var e types.HeartbeatEvent
		var status string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.AgentID, &status, &e.Message, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = types.AgentStatus(status)
		if len(metaJSON) > 0 {
			json.Unmarshal(metaJSON, &e.Metadata)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// marshalMap encodes a jsonb column value, writing {} for nil maps.
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
