package mode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/control-plane/internal/testutil"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

func TestLoadDefaultsWhenUnseeded(t *testing.T) {
	store := &testutil.ModeStore{}
	c := NewController(store, nil, testutil.NewTestLogger())

	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, types.ModeSentinel, c.Current().Mode)
}

func TestSetModePersists(t *testing.T) {
	store := testutil.NewModeStore(types.ModeSentinel)
	c := NewController(store, nil, testutil.NewTestLogger())
	require.NoError(t, c.Load(context.Background()))

	cfg, err := c.SetMode(context.Background(), types.ModeWarRoom, "ops@example.com")
	require.NoError(t, err)

	assert.Equal(t, types.ModeWarRoom, cfg.Mode)
	assert.Equal(t, "ops@example.com", cfg.UpdatedBy)
	assert.False(t, cfg.UpdatedAt.IsZero())
	assert.Equal(t, types.ModeWarRoom, c.Current().Mode)

	stored, err := store.GetModeConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeWarRoom, stored.Mode)
}

func TestSetModeRollsBackOnWriteFailure(t *testing.T) {
	store := testutil.NewModeStore(types.ModeStealth)
	c := NewController(store, nil, testutil.NewTestLogger())
	require.NoError(t, c.Load(context.Background()))

	var mu sync.Mutex
	var seen []types.OperationalMode
	c.OnChange(func(cfg types.ModeConfig) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, cfg.Mode)
	})

	store.SetErr(errors.New("permission denied"))
	cfg, err := c.SetMode(context.Background(), types.ModeWarRoom, "ops")
	require.Error(t, err)

	assert.Equal(t, types.ModeStealth, cfg.Mode)
	assert.Equal(t, types.ModeStealth, c.Current().Mode)
	assert.Error(t, c.LastError())
	assert.Equal(t, []types.OperationalMode{types.ModeWarRoom, types.ModeStealth}, seen,
		"the optimistic value is shown, then visibly rolled back")
	assert.Zero(t, store.Writes())
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	store := testutil.NewModeStore(types.ModeSentinel)
	c := NewController(store, nil, testutil.NewTestLogger())

	_, err := c.SetMode(context.Background(), "PANIC", "ops")
	assert.ErrorIs(t, err, types.ErrInvalidMode)
	assert.Zero(t, store.Writes())
}

// blockingStore holds SetModeConfig until released, then fails.
type blockingStore struct {
	*testutil.ModeStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) SetModeConfig(ctx context.Context, mode types.OperationalMode, by string) (*types.ModeConfig, error) {
	close(s.entered)
	<-s.release
	return nil, errors.New("write lost")
}

func TestRollbackDoesNotOverwriteNewerMode(t *testing.T) {
	store := &blockingStore{
		ModeStore: testutil.NewModeStore(types.ModeSentinel),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c := NewController(store, nil, testutil.NewTestLogger())
	require.NoError(t, c.Load(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := c.SetMode(context.Background(), types.ModeWarRoom, "ops")
		done <- err
	}()
	<-store.entered

	// A broadcast from another instance lands while the write is pending.
	c.Apply(types.ModeConfig{Mode: types.ModeStealth, UpdatedBy: "other"})
	close(store.release)

	require.Error(t, <-done)
	assert.Equal(t, types.ModeStealth, c.Current().Mode)
}

func TestControllersConvergeOnBroadcast(t *testing.T) {
	store := testutil.NewModeStore(types.ModeSentinel)
	bus := realtime.NewMemoryBus()

	a := NewController(store, bus, testutil.NewTestLogger())
	b := NewController(store, bus, testutil.NewTestLogger())
	a.Start(context.Background())
	b.Start(context.Background())
	defer a.Stop()
	defer b.Stop()
	require.Eventually(t, func() bool { return bus.Listeners(realtime.ChannelMode) == 2 }, time.Second, 5*time.Millisecond)

	_, err := a.SetMode(context.Background(), types.ModeStealth, "ops")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.Current().Mode == types.ModeStealth }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ops", b.Current().UpdatedBy)
}
