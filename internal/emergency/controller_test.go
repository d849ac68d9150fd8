package emergency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/schema"
)

type memLog struct {
	mu    sync.Mutex
	nodes map[schema.ChainID][]schema.DecisionNode
}

func newMemLog() *memLog { return &memLog{nodes: make(map[schema.ChainID][]schema.DecisionNode)} }

func (m *memLog) Append(ctx context.Context, node schema.DecisionNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.ChainID] = append(m.nodes[node.ChainID], node)
	return nil
}
func (m *memLog) Nodes(chainID schema.ChainID) ([]schema.DecisionNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.DecisionNode(nil), m.nodes[chainID]...), nil
}
func (m *memLog) AllChains() []schema.ChainID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.ChainID, 0, len(m.nodes))
	for id := range m.nodes {
		out = append(out, id)
	}
	return out
}
func (m *memLog) Close() error { return nil }

var _ audit.Log = (*memLog)(nil)

func newTestController() *Controller {
	tracker := provenance.NewTracker(newMemLog())
	return New(DefaultConfig(), tracker, nil)
}

func TestControllerStartsNormal(t *testing.T) {
	c := newTestController()
	if c.Current().State != schema.EmergencyNormal {
		t.Fatalf("expected a fresh controller to start Normal")
	}
}

func TestManualKillTransitionsToKilled(t *testing.T) {
	c := newTestController()
	if err := c.ManualKill(context.Background(), "actor:ops-1", "manual test kill"); err != nil {
		t.Fatalf("ManualKill failed: %v", err)
	}
	state := c.Current()
	if state.State != schema.EmergencyKilled {
		t.Fatalf("state = %v, want Killed", state.State)
	}
	if state.Trigger != schema.TriggerManualKill {
		t.Fatalf("trigger = %v, want TriggerManualKill", state.Trigger)
	}
}

func TestObserveVolatilityTriggersHalt(t *testing.T) {
	c := newTestController()
	c.ObserveVolatility(context.Background(), 10.0, 1.0) // 10x ATR >> 3x multiplier
	if c.Current().State != schema.EmergencyHalted {
		t.Fatalf("expected a volatility spike to halt, got %v", c.Current().State)
	}
}

func TestObserveVolatilityBelowThresholdDoesNothing(t *testing.T) {
	c := newTestController()
	c.ObserveVolatility(context.Background(), 1.0, 1.0) // 1x ATR, below 3x multiplier
	if c.Current().State != schema.EmergencyNormal {
		t.Fatalf("expected no transition below threshold, got %v", c.Current().State)
	}
}

func TestObserveDrawdownTriggersKill(t *testing.T) {
	c := newTestController()
	c.ObserveDrawdown(context.Background(), 0.20) // above 0.15 default threshold
	if c.Current().State != schema.EmergencyKilled {
		t.Fatalf("expected a drawdown breach to kill, got %v", c.Current().State)
	}
}

func TestCooldownSuppressesRepeatedAutomaticTrigger(t *testing.T) {
	c := newTestController()
	c.ObserveVolatility(context.Background(), 10.0, 1.0)
	if c.Current().State != schema.EmergencyHalted {
		t.Fatalf("expected first trigger to halt")
	}

	// Manually restore to Normal without clearing the cooldown map, then
	// fire the same trigger again immediately: it must be suppressed.
	c.mu.Lock()
	c.state = schema.EmergencyState{State: schema.EmergencyNormal, CooldownUntil: c.state.CooldownUntil}
	c.mu.Unlock()

	c.ObserveVolatility(context.Background(), 10.0, 1.0)
	if c.Current().State != schema.EmergencyNormal {
		t.Fatalf("expected the cooldown to suppress a repeated trigger, got %v", c.Current().State)
	}
}

func TestRequestRestoreRequiresTwoDistinctActors(t *testing.T) {
	c := newTestController()
	if err := c.ManualKill(context.Background(), "actor:ops-1", "test"); err != nil {
		t.Fatal(err)
	}

	if err := c.RequestRestore(context.Background(), "actor:ops-1"); err == nil {
		t.Fatalf("expected the first restore request to park pending a second actor")
	}
	if c.Current().State != schema.EmergencyKilled {
		t.Fatalf("state must remain Killed after only one restore request")
	}

	if err := c.RequestRestore(context.Background(), "actor:ops-1"); err == nil {
		t.Fatalf("expected the same actor requesting twice to be rejected")
	}

	if err := c.RequestRestore(context.Background(), "actor:ops-2"); err != nil {
		t.Fatalf("expected a second distinct actor to commit the restore: %v", err)
	}
	if c.Current().State != schema.EmergencyNormal {
		t.Fatalf("expected Normal after two distinct restore requests, got %v", c.Current().State)
	}
}

func TestRequestRestoreWindowExpires(t *testing.T) {
	c := newTestController()
	if err := c.ManualKill(context.Background(), "actor:ops-1", "test"); err != nil {
		t.Fatal(err)
	}
	if err := c.RequestRestore(context.Background(), "actor:ops-1"); err == nil {
		t.Fatalf("expected pending error on first request")
	}

	// Simulate the 5-minute window having elapsed.
	c.restoreMu.Lock()
	c.restoreOne.RequestedAt = time.Now().UTC().Add(-6 * time.Minute)
	c.restoreMu.Unlock()

	if err := c.RequestRestore(context.Background(), "actor:ops-2"); err == nil {
		t.Fatalf("expected a stale pending request to restart rather than commit")
	}
	if c.Current().State != schema.EmergencyKilled {
		t.Fatalf("state must remain Killed once the restore window has expired")
	}
}
