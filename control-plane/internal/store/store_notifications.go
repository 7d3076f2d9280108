package store

import (
	"context"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// InsertNotification writes a notification into the operator inbox.
func (s *Store) InsertNotification(ctx context.Context, n types.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, alert_id, agent_id, kind, title, message, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.AlertID, n.AgentID, string(n.Kind), n.Title, n.Message, string(n.Severity), n.CreatedAt)
	return err
}

// ListNotifications returns the newest inbox entries first.
func (s *Store) ListNotifications(ctx context.Context, limit int) ([]types.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, alert_id, agent_id, kind, title, message, severity, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		var n types.Notification
		var kind, severity string
		if err := rows.Scan(&n.ID, &n.AlertID, &n.AgentID, &kind, &n.Title, &n.Message, &severity, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = types.NotificationKind(kind)
		n.Severity = types.AlertSeverity(severity)
		out = append(out, n)
	}
	return out, rows.Err()
}
