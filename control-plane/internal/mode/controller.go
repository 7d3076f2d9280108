// Package mode owns the global operational mode.
//
// A transition is applied locally first, then written to the singleton
// config row and broadcast. If the write fails the local value is rolled
// back to the previous mode, so the control plane never reports a mode
// that was not persisted.
package mode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// ConfigStore reads and replaces the singleton mode record.
type ConfigStore interface {
	GetModeConfig(ctx context.Context) (*types.ModeConfig, error)
	SetModeConfig(ctx context.Context, mode types.OperationalMode, updatedBy string) (*types.ModeConfig, error)
}

// Controller holds the locally observed mode.
type Controller struct {
	store  ConfigStore
	bus    realtime.Bus
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	current   types.ModeConfig
	seq       uint64
	lastErr   error
	observers []func(types.ModeConfig)

	notifyMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller at the default mode. bus may be nil.
func NewController(store ConfigStore, bus realtime.Bus, logger *slog.Logger) *Controller {
	return &Controller{
		store:   store,
		bus:     bus,
		logger:  logger.With("component", "mode"),
		now:     time.Now,
		current: types.ModeConfig{Mode: types.DefaultMode},
	}
}

// OnChange registers fn to receive the mode after every change.
func (c *Controller) OnChange(fn func(types.ModeConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Start loads the persisted mode and follows broadcasts. Every (re)connect
// reloads it.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.Load(ctx)
	if c.bus == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.bus.Listen(ctx, realtime.ChannelMode, c.Load, c.handleMessage)
	}()
}

// Stop cancels the subscription.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Load reads the persisted mode. A missing row means the default mode.
func (c *Controller) Load(ctx context.Context) error {
	cfg, err := c.store.GetModeConfig(ctx)
	if err != nil {
		err = fmt.Errorf("loading mode: %w", err)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Error("mode load failed, keeping current mode", "error", err)
		return err
	}
	if cfg == nil {
		cfg = &types.ModeConfig{Mode: types.DefaultMode}
	}
	c.Apply(*cfg)
	return nil
}

// Apply replaces the local mode with an authoritative value.
func (c *Controller) Apply(cfg types.ModeConfig) {
	c.mu.Lock()
	c.seq++
	changed := c.current.Mode != cfg.Mode
	c.current = cfg
	c.lastErr = nil
	c.mu.Unlock()

	if changed {
		c.logger.Info("mode changed", "mode", cfg.Mode, "updated_by", cfg.UpdatedBy)
	}
	c.notify()
}

// Current returns the locally observed mode.
func (c *Controller) Current() types.ModeConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetMode transitions to mode on behalf of actor.
//
// The write is unconditional; any confirmation step for WAR_ROOM belongs to
// the caller. On a failed write the previous mode is restored and the error
// returned. A rollback never overwrites a newer value applied meanwhile.
func (c *Controller) SetMode(ctx context.Context, mode types.OperationalMode, actor string) (types.ModeConfig, error) {
	if _, err := types.ParseMode(string(mode)); err != nil {
		return c.Current(), err
	}

	c.mu.Lock()
	prev := c.current
	c.seq++
	seq := c.seq
	c.current = types.ModeConfig{Mode: mode, UpdatedAt: c.now().UTC(), UpdatedBy: actor}
	c.mu.Unlock()
	c.notify()

	persisted, err := c.store.SetModeConfig(ctx, mode, actor)
	if err != nil {
		err = fmt.Errorf("persisting mode %s: %w", mode, err)
		c.mu.Lock()
		if c.seq == seq {
			c.current = prev
			c.seq++
		}
		c.lastErr = err
		current := c.current
		c.mu.Unlock()
		c.notify()

		c.logger.Error("mode write failed, rolled back", "attempted", mode, "restored", current.Mode, "error", err)
		return current, err
	}

	c.mu.Lock()
	if c.seq == seq {
		c.current = *persisted
	}
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("mode set", "mode", persisted.Mode, "updated_by", actor, "previous", prev.Mode)

	if c.bus != nil {
		if err := realtime.PublishMode(ctx, c.bus, *persisted); err != nil {
			c.logger.Warn("mode broadcast failed", "error", err)
		}
	}
	return *persisted, nil
}

// LastError returns the last load or write failure.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) handleMessage(payload []byte) {
	cfg, err := realtime.DecodeMode(payload)
	if err != nil {
		c.logger.Warn("ignoring malformed mode message", "error", err)
		return
	}
	c.Apply(cfg)
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	cfg := c.current
	observers := c.observers
	c.mu.Unlock()

	for _, fn := range observers {
		fn(cfg)
	}
}
