package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

func TestFixtureHeartbeat(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		e := FixtureHeartbeat()
		if err := e.Validate(); err != nil {
			t.Errorf("default fixture should be valid: %v", err)
		}
		if e.Source() != "test" {
			t.Errorf("expected source 'test', got %q", e.Source())
		}
	})

	t.Run("with overrides", func(t *testing.T) {
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		e := FixtureHeartbeatFor("AG-05", types.StatusError, at)
		if e.AgentID != "AG-05" || e.Status != types.StatusError || !e.CreatedAt.Equal(at) {
			t.Errorf("overrides not applied: %+v", e)
		}
	})
}

func TestEventStoreOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewEventStore(
		FixtureHeartbeatFor("AG-01", types.StatusNominal, base),
		FixtureHeartbeatFor("AG-02", types.StatusDrift, base.Add(2*time.Hour)),
		FixtureHeartbeatFor("AG-03", types.StatusError, base.Add(time.Hour)),
	)

	recent, err := s.RecentHeartbeats(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].AgentID != "AG-02" || recent[1].AgentID != "AG-03" {
		t.Errorf("unexpected newest-first order: %+v", recent)
	}

	since, err := s.HeartbeatsSince(context.Background(), base.Add(30*time.Minute), 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 || since[0].AgentID != "AG-03" {
		t.Errorf("unexpected ascending window: %+v", since)
	}
}

func TestEventStoreInjectedError(t *testing.T) {
	s := NewEventStore()
	s.SetErr(errors.New("down"))
	e := FixtureHeartbeat()
	if err := s.InsertHeartbeat(context.Background(), &e); err == nil {
		t.Error("expected injected error")
	}
	if len(s.Events()) != 0 {
		t.Error("failed insert must not store the event")
	}
}
