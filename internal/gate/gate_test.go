package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yanun0323/decimal"

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

type fakeIdempotency struct {
	mu   sync.Mutex
	seen map[string]schema.ChainID
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{seen: make(map[string]schema.ChainID)}
}
func (f *fakeIdempotency) SeenRecently(ctx context.Context, key string) (schema.ChainID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.seen[key]
	return id, ok, nil
}
func (f *fakeIdempotency) MarkSeen(ctx context.Context, key string, chainID schema.ChainID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[key] = chainID
	return nil
}

type fakeRateLimiter struct{ allow bool }

func (f fakeRateLimiter) Allow(ctx context.Context, profileID schema.ProfileID, producerID schema.ProducerID) (bool, error) {
	return f.allow, nil
}

type fakeProfiles struct{ profile schema.Profile; found bool }

func (f fakeProfiles) Get(ctx context.Context, profileID schema.ProfileID) (schema.Profile, bool, error) {
	return f.profile, f.found, nil
}

type fakeEmergency struct{ state schema.EmergencyState }

func (f fakeEmergency) Current() schema.EmergencyState { return f.state }

func healthyProfile(id schema.ProfileID) schema.Profile {
	return schema.Profile{ID: id, TradingEnabled: true, Connection: schema.ConnectionHealthy, Equity: decimal.NewFromInt(10000)}
}

func validSignal() schema.Signal {
	return schema.Signal{
		ID:          schema.SignalID("sig-1"),
		ProfileID:   schema.ProfileID("profile-1"),
		ProducerID:  schema.ProducerID("producer-1"),
		Symbol:      "EURUSD",
		Direction:   schema.DirectionBuy,
		Confidence:  0.8,
		EntryPrice:  decimal.RequireFromString("1.1000"),
		StopLoss:    decimal.RequireFromString("1.0950"),
		TakeProfit:  decimal.RequireFromString("1.1150"),
		SubmittedAt: time.Now(),
	}
}

func newTestGate(idempotency *fakeIdempotency, rateLimit fakeRateLimiter, profiles fakeProfiles, emergency fakeEmergency) *Gate {
	tracker := provenance.NewTracker(newMemLog())
	return New(DefaultConfig(), tracker, idempotency, rateLimit, profiles, emergency, nil)
}

func TestGateAdmitsValidSignal(t *testing.T) {
	g := newTestGate(newFakeIdempotency(), fakeRateLimiter{allow: true}, fakeProfiles{profile: healthyProfile("profile-1"), found: true}, fakeEmergency{})

	result, err := g.Submit(context.Background(), validSignal())
	if err != nil {
		t.Fatalf("expected admission, got error: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected Accepted=true")
	}
}

func TestGateRejectsDuplicateAsIdempotentReplay(t *testing.T) {
	idempotency := newFakeIdempotency()
	g := newTestGate(idempotency, fakeRateLimiter{allow: true}, fakeProfiles{profile: healthyProfile("profile-1"), found: true}, fakeEmergency{})

	signal := validSignal()
	first, err := g.Submit(context.Background(), signal)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	second, err := g.Submit(context.Background(), signal)
	if err != nil {
		t.Fatalf("replay of a seen signal must not error: %v", err)
	}
	if second.ChainID != first.ChainID {
		t.Fatalf("replay should return the original chain id")
	}
}

func TestGateBlocksOnRateLimit(t *testing.T) {
	g := newTestGate(newFakeIdempotency(), fakeRateLimiter{allow: false}, fakeProfiles{profile: healthyProfile("profile-1"), found: true}, fakeEmergency{})

	result, err := g.Submit(context.Background(), validSignal())
	if err == nil {
		t.Fatalf("expected a rate-limit block")
	}
	if result.Accepted {
		t.Fatalf("rate-limited signal must not be accepted")
	}
}

func TestGateRejectsInvalidSchema(t *testing.T) {
	g := newTestGate(newFakeIdempotency(), fakeRateLimiter{allow: true}, fakeProfiles{profile: healthyProfile("profile-1"), found: true}, fakeEmergency{})

	signal := validSignal()
	signal.StopLoss = decimal.RequireFromString("1.2000") // wrong side for a BUY

	result, err := g.Submit(context.Background(), signal)
	if err == nil {
		t.Fatalf("expected a schema/range rejection")
	}
	if result.Reason != "stop_or_target_wrong_side" {
		t.Fatalf("Reason = %s, want stop_or_target_wrong_side", result.Reason)
	}
}

func TestGateBlocksDuringEmergency(t *testing.T) {
	g := newTestGate(newFakeIdempotency(), fakeRateLimiter{allow: true}, fakeProfiles{profile: healthyProfile("profile-1"), found: true}, fakeEmergency{state: schema.EmergencyState{State: schema.EmergencyKilled}})

	result, err := g.Submit(context.Background(), validSignal())
	if err == nil {
		t.Fatalf("expected an emergency block")
	}
	if result.Accepted {
		t.Fatalf("signal must not be accepted while killed")
	}
}

func TestGateBlocksTradingDisabledProfile(t *testing.T) {
	disabled := healthyProfile("profile-1")
	disabled.TradingEnabled = false
	g := newTestGate(newFakeIdempotency(), fakeRateLimiter{allow: true}, fakeProfiles{profile: disabled, found: true}, fakeEmergency{})

	result, err := g.Submit(context.Background(), validSignal())
	if err == nil {
		t.Fatalf("expected a profile-state block")
	}
	if result.Reason != "trading_disabled" {
		t.Fatalf("Reason = %s, want trading_disabled", result.Reason)
	}
}

func TestGateChecksRunInOrderRateLimitBeforeSchema(t *testing.T) {
	// An invalid-schema signal that is also rate-limited must report
	// rate_limited, since check order is idempotency -> rate limit ->
	// schema/range -> emergency -> profile state, and the first failure
	// is terminal.
	g := newTestGate(newFakeIdempotency(), fakeRateLimiter{allow: false}, fakeProfiles{profile: healthyProfile("profile-1"), found: true}, fakeEmergency{})

	signal := validSignal()
	signal.StopLoss = decimal.RequireFromString("1.2000")

	result, _ := g.Submit(context.Background(), signal)
	if result.Reason != "rate_limited" {
		t.Fatalf("Reason = %s, want rate_limited (checks must short-circuit in order)", result.Reason)
	}
}
