package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// Queue is the consuming side of the audit buffer.
type Queue interface {
	Pop(ctx context.Context, max int) ([]types.SystemLog, error)
	Requeue(ctx context.Context, logs []types.SystemLog) error
	Len(ctx context.Context) (int64, error)
}

// Copier bulk-writes audit records.
type Copier interface {
	CopySystemLogs(ctx context.Context, logs []types.SystemLog) (int64, error)
}

// Flusher drains the audit buffer into the database.
type Flusher struct {
	queue    Queue
	copier   Copier
	logger   *slog.Logger
	interval time.Duration
	batch    int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFlusher creates a flusher.
func NewFlusher(queue Queue, copier Copier, logger *slog.Logger) *Flusher {
	return &Flusher{
		queue:    queue,
		copier:   copier,
		logger:   logger.With("component", "audit_flusher"),
		interval: config.AuditFlushInterval,
		batch:    config.AuditFlushBatchSize,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background flushing loop.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info("audit flusher started", "interval", f.interval, "batch_size", f.batch)
}

// Stop flushes once more and waits for the loop to exit.
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.logger.Info("audit flusher stopped")
}

func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			f.Flush(context.Background())
			return
		case <-ticker.C:
			f.Flush(context.Background())
		}
	}
}

// Flush copies one batch. It returns the number of records written.
func (f *Flusher) Flush(ctx context.Context) int {
	size, err := f.queue.Len(ctx)
	if err != nil {
		f.logger.Error("failed to read buffer size", "error", err)
		return 0
	}
	if size == 0 {
		return 0
	}

	logs, err := f.queue.Pop(ctx, f.batch)
	if err != nil {
		f.logger.Error("failed to pop from buffer", "error", err)
		return 0
	}
	if len(logs) == 0 {
		return 0
	}

	start := time.Now()
	if _, err := f.copier.CopySystemLogs(ctx, logs); err != nil {
		f.logger.Error("failed to copy audit records", "error", err, "count", len(logs))
		if err := f.queue.Requeue(ctx, logs); err != nil {
			f.logger.Error("audit records lost", "error", err, "count", len(logs))
		}
		return 0
	}

	f.logger.Debug("flushed audit records",
		"count", len(logs),
		"remaining", size-int64(len(logs)),
		"duration", time.Since(start),
	)
	return len(logs)
}
