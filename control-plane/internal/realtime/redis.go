package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
)

// subscribeAttempts is how many subscribe attempts one backoff round makes
// before the round is logged as failed and a new round starts.
const subscribeAttempts = 6

// RedisBus is a Bus over Redis Pub/Sub.
type RedisBus struct {
	client    *redis.Client
	logger    *slog.Logger
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRedisBus creates a bus on an existing client. The caller owns the client.
func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client:    client,
		logger:    logger.With("component", "realtime"),
		baseDelay: config.RealtimeReconnectDelay,
		maxDelay:  config.RealtimeMaxReconnectDelay,
	}
}

// Publish sends payload on channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Listen subscribes to channel until ctx is cancelled. A receive error tears
// the subscription down and a fresh one is opened with exponential backoff.
func (b *RedisBus) Listen(ctx context.Context, channel string, onConnect func(context.Context) error, onMessage func([]byte)) error {
	logger := b.logger.With("channel", channel)

	for ctx.Err() == nil {
		pubsub, err := b.subscribe(ctx, channel, logger)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("subscribe failed, starting new backoff round", "error", err)
			continue
		}

		logger.Info("subscribed")
		if onConnect != nil {
			if err := onConnect(ctx); err != nil {
				logger.Error("sync on connect failed", "error", err)
			}
		}

		err = b.receive(ctx, pubsub, onMessage)
		pubsub.Close()
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("subscription lost, reconnecting", "error", err)
	}
	return nil
}

func (b *RedisBus) subscribe(ctx context.Context, channel string, logger *slog.Logger) (*redis.PubSub, error) {
	var pubsub *redis.PubSub
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(subscribeAttempts),
		retry.Delay(b.baseDelay),
		retry.MaxDelay(b.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("subscribe attempt failed", "attempt", n+1, "error", err)
		}),
	).Do(func() error {
		ps := b.client.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return err
		}
		pubsub = ps
		return nil
	})
	return pubsub, err
}

// receive delivers messages until the connection fails or ctx is cancelled.
func (b *RedisBus) receive(ctx context.Context, pubsub *redis.PubSub, onMessage func([]byte)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pubsub.Close()
		case <-done:
		}
	}()

	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			return err
		}
		if m, ok := msg.(*redis.Message); ok {
			onMessage([]byte(m.Payload))
		}
	}
}

// Close is a no-op; the Redis client is shared and closed by its owner.
func (b *RedisBus) Close() error {
	return nil
}
