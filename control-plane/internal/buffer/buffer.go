// Package buffer provides a Redis-backed write-behind queue for audit log
// records. The ingestion gateway pushes one record per accepted heartbeat
// and the Flusher drains the queue into system_logs in batches, so a slow
// database never delays a heartbeat response.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// keyAuditLogs is the Redis list holding pending audit records.
const keyAuditLogs = "pulse:audit_logs"

// AuditBuffer queues audit records in a Redis list.
type AuditBuffer struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewAuditBuffer creates a buffer on an existing client. The caller owns
// the client.
func NewAuditBuffer(client *redis.Client, logger *slog.Logger) *AuditBuffer {
	return &AuditBuffer{
		client: client,
		key:    keyAuditLogs,
		logger: logger.With("component", "audit_buffer"),
	}
}

// WriteAudit queues one record. It satisfies the gateway's audit writer.
func (b *AuditBuffer) WriteAudit(ctx context.Context, l types.SystemLog) error {
	return b.Push(ctx, []types.SystemLog{l})
}

// Push queues records. Each record is JSON-encoded as one list element.
func (b *AuditBuffer) Push(ctx context.Context, logs []types.SystemLog) error {
	if len(logs) == 0 {
		return nil
	}

	values := make([]any, len(logs))
	for i, l := range logs {
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("encoding audit record: %w", err)
		}
		values[i] = data
	}

	if err := b.client.LPush(ctx, b.key, values...).Err(); err != nil {
		return fmt.Errorf("pushing audit records to redis: %w", err)
	}
	return nil
}

// Pop removes up to max records, oldest first.
func (b *AuditBuffer) Pop(ctx context.Context, max int) ([]types.SystemLog, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, max)
	for i := range cmds {
		cmds[i] = pipe.RPop(ctx, b.key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("popping audit records from redis: %w", err)
	}

	logs := make([]types.SystemLog, 0, max)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue // redis.Nil once the list is drained
		}
		var l types.SystemLog
		if err := json.Unmarshal(data, &l); err != nil {
			b.logger.Warn("dropping undecodable audit record", "error", err)
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// Requeue puts records back at the consuming end so they are retried first.
func (b *AuditBuffer) Requeue(ctx context.Context, logs []types.SystemLog) error {
	if len(logs) == 0 {
		return nil
	}
	values := make([]any, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		data, err := json.Marshal(logs[i])
		if err != nil {
			return fmt.Errorf("encoding audit record: %w", err)
		}
		values = append(values, data)
	}
	return b.client.RPush(ctx, b.key, values...).Err()
}

// Len returns the number of queued records.
func (b *AuditBuffer) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.key).Result()
}
