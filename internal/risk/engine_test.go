package risk

import (
	"context"
	"sync"
	"testing"

	"github.com/yanun0323/decimal"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/schema"
)

// memLog is a minimal in-memory audit.Log for unit tests that need a
// real Tracker without touching the filesystem.
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

func newTestChain(t *testing.T, profileID schema.ProfileID) (*provenance.Tracker, schema.ChainID) {
	t.Helper()
	tracker := provenance.NewTracker(newMemLog())
	chain := tracker.Open(schema.SignalID("sig-1"), profileID)
	return tracker, chain.ID
}

func testSnapshot(profileID schema.ProfileID, equity string, openPositions int, drawdown float64) schema.ProfileSnapshot {
	profile := schema.Profile{
		ID:     profileID,
		Equity: decimal.RequireFromString(equity),
	}
	positions := make([]schema.Position, openPositions)
	return schema.ProfileSnapshot{
		Profile:       profile,
		OpenPositions: positions,
		Drawdown:      drawdown,
	}
}

func TestEngineApprovesWithinBounds(t *testing.T) {
	engine, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tracker, chainID := newTestChain(t, "profile-1")

	signal := testSignal(0.8, "1.1000", "1.0950", "1.1150")
	signal.ProfileID = "profile-1"
	snapshot := testSnapshot("profile-1", "10000", 0, 0)

	result, err := engine.Size(context.Background(), tracker, chainID, signal, snapshot)
	if err != nil {
		t.Fatalf("Size returned error on a clean signal: %v", err)
	}
	if result.Veto != nil {
		t.Fatalf("expected no veto, got %v", result.Veto)
	}
	if result.Intent.Volume.IsZero() {
		t.Fatalf("expected a positive sized volume")
	}
}

func TestEngineRejectsAtMaxPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositions = 1
	engine, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	tracker, chainID := newTestChain(t, "profile-1")

	signal := testSignal(0.8, "1.1000", "1.0950", "1.1150")
	signal.ProfileID = "profile-1"
	snapshot := testSnapshot("profile-1", "10000", 1, 0) // already at cap

	result, err := engine.Size(context.Background(), tracker, chainID, signal, snapshot)
	if err == nil {
		t.Fatalf("expected a max-positions veto")
	}
	if result.Veto == nil || result.Veto.Reason != schema.VetoMaxPositions {
		t.Fatalf("expected VetoMaxPositions, got %+v", result.Veto)
	}
}

func TestEngineHaltsAtDrawdownThreshold(t *testing.T) {
	cfg := DefaultConfig()
	engine, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	tracker, chainID := newTestChain(t, "profile-1")

	signal := testSignal(0.8, "1.1000", "1.0950", "1.1150")
	signal.ProfileID = "profile-1"
	snapshot := testSnapshot("profile-1", "10000", 0, cfg.DDHaltThreshold)

	result, err := engine.Size(context.Background(), tracker, chainID, signal, snapshot)
	if err == nil {
		t.Fatalf("expected a drawdown halt veto")
	}
	if !result.RaiseHalt {
		t.Fatalf("expected RaiseHalt to be set at the halt threshold")
	}
	if result.Veto == nil || result.Veto.Reason != schema.VetoDrawdownHalt {
		t.Fatalf("expected VetoDrawdownHalt, got %+v", result.Veto)
	}
}

func TestEngineReducesSizeInDrawdownReduceBand(t *testing.T) {
	cfg := DefaultConfig()
	engine, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	tracker1, chain1 := newTestChain(t, "profile-1")
	signal := testSignal(0.8, "1.1000", "1.0950", "1.1150")
	signal.ProfileID = "profile-1"
	clean := testSnapshot("profile-1", "10000", 0, 0)
	full, err := engine.Size(context.Background(), tracker1, chain1, signal, clean)
	if err != nil {
		t.Fatalf("baseline sizing failed: %v", err)
	}

	tracker2, chain2 := newTestChain(t, "profile-1")
	reduced := testSnapshot("profile-1", "10000", 0, cfg.DDReduceThreshold)
	result, err := engine.Size(context.Background(), tracker2, chain2, signal, reduced)
	if err != nil {
		t.Fatalf("reduced-band sizing should not veto: %v", err)
	}
	if result.Intent.Volume.Cmp(full.Intent.Volume) >= 0 {
		t.Fatalf("expected reduced volume (%s) to be smaller than baseline (%s)", result.Intent.Volume.String(), full.Intent.Volume.String())
	}
}

func TestEngineRejectsOnKellyZero(t *testing.T) {
	engine, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tracker, chainID := newTestChain(t, "profile-1")

	signal := testSignal(0.1, "1.1000", "1.0950", "1.1150") // below min confidence
	signal.ProfileID = "profile-1"
	snapshot := testSnapshot("profile-1", "10000", 0, 0)

	result, err := engine.Size(context.Background(), tracker, chainID, signal, snapshot)
	if err == nil {
		t.Fatalf("expected a kelly-zero veto")
	}
	if result.Veto == nil || result.Veto.Reason != schema.VetoKellyZero {
		t.Fatalf("expected VetoKellyZero, got %+v", result.Veto)
	}
}

func TestEngineProfileRiskConfigOverridesGatewayDefault(t *testing.T) {
	engine, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tracker, chainID := newTestChain(t, "profile-1")

	signal := testSignal(0.8, "1.1000", "1.0950", "1.1150")
	signal.ProfileID = "profile-1"
	snapshot := testSnapshot("profile-1", "10000", 0, 0)
	snapshot.Profile.RiskConfig = schema.RiskConfig{MaxPositions: 1}
	snapshot.OpenPositions = make([]schema.Position, 1) // at the overridden cap of 1, not the default of 2

	result, err := engine.Size(context.Background(), tracker, chainID, signal, snapshot)
	if err == nil {
		t.Fatalf("expected the per-profile override to lower max_positions to 1")
	}
	if result.Veto == nil || result.Veto.Reason != schema.VetoMaxPositions {
		t.Fatalf("expected VetoMaxPositions from the profile override, got %+v", result.Veto)
	}
}
