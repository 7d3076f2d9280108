package service

import (
	"context"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// SystemLogWriter inserts one audit record directly.
type SystemLogWriter interface {
	InsertSystemLog(ctx context.Context, l types.SystemLog) error
}

// DirectAudit writes audit records straight to the database. It is used
// when no Redis buffer is configured.
type DirectAudit struct {
	store SystemLogWriter
}

// NewDirectAudit creates a DirectAudit.
func NewDirectAudit(store SystemLogWriter) *DirectAudit {
	return &DirectAudit{store: store}
}

// WriteAudit inserts l.
func (a *DirectAudit) WriteAudit(ctx context.Context, l types.SystemLog) error {
	return a.store.InsertSystemLog(ctx, l)
}
