package provenance

import (
	"context"
	"sync"
	"testing"

	"github.com/nightfield/signalgate/internal/audit"
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

func seedChain(t *testing.T, log audit.Log, id schema.ChainID, ts int64, terminal schema.NodeType) {
	t.Helper()
	err := log.Append(context.Background(), schema.DecisionNode{
		ID:          schema.NewNodeID(),
		ChainID:     id,
		Type:        schema.NodeSignalReceived,
		TimestampNs: ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = log.Append(context.Background(), schema.DecisionNode{
		ID:          schema.NewNodeID(),
		ChainID:     id,
		Type:        terminal,
		TimestampNs: ts + 1,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestQueryFiltersByOutcome(t *testing.T) {
	log := newMemLog()
	seedChain(t, log, "chain-executed", 1000, schema.NodePositionOpened)
	seedChain(t, log, "chain-rejected", 2000, schema.NodeRiskRejected)

	ids, err := Query(log, Filter{Outcome: schema.OutcomeExecuted})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "chain-executed" {
		t.Fatalf("ids = %v, want [chain-executed]", ids)
	}
}

func TestQueryOrdersBySealTimeAscending(t *testing.T) {
	log := newMemLog()
	seedChain(t, log, "chain-later", 5000, schema.NodePositionOpened)
	seedChain(t, log, "chain-earlier", 1000, schema.NodePositionOpened)

	ids, err := Query(log, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "chain-earlier" || ids[1] != "chain-later" {
		t.Fatalf("ids = %v, want [chain-earlier chain-later]", ids)
	}
}

func TestQueryPaginatesResults(t *testing.T) {
	log := newMemLog()
	seedChain(t, log, "chain-1", 1000, schema.NodePositionOpened)
	seedChain(t, log, "chain-2", 2000, schema.NodePositionOpened)
	seedChain(t, log, "chain-3", 3000, schema.NodePositionOpened)

	page0, err := Query(log, Filter{Page: 0, PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page0) != 2 {
		t.Fatalf("page0 = %v, want 2 entries", page0)
	}

	page1, err := Query(log, Filter{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 1 {
		t.Fatalf("page1 = %v, want 1 entry", page1)
	}
}

func TestQueryFiltersByNodeType(t *testing.T) {
	log := newMemLog()
	seedChain(t, log, "chain-blocked", 1000, schema.NodeGateBlocked)
	seedChain(t, log, "chain-executed", 2000, schema.NodePositionOpened)

	ids, err := Query(log, Filter{Types: map[schema.NodeType]bool{schema.NodeGateBlocked: true}})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "chain-blocked" {
		t.Fatalf("ids = %v, want [chain-blocked]", ids)
	}
}

func TestQueryFiltersByActorInOutput(t *testing.T) {
	log := newMemLog()
	ctx := context.Background()
	if err := log.Append(ctx, schema.DecisionNode{
		ID: schema.NewNodeID(), ChainID: "chain-actor", Type: schema.NodePositionOpened,
		TimestampNs: 1000, Output: map[string]any{"actor": "actor:ops-1"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, schema.DecisionNode{
		ID: schema.NewNodeID(), ChainID: "chain-other", Type: schema.NodePositionOpened,
		TimestampNs: 2000,
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := Query(log, Filter{Actor: "actor:ops-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "chain-actor" {
		t.Fatalf("ids = %v, want [chain-actor]", ids)
	}
}
