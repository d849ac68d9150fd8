package schema

import "testing"

func TestComputeHashDeterministic(t *testing.T) {
	n := DecisionNode{
		Type:        NodeGatePassed,
		ParentHash:  "abc",
		TimestampNs: 1000,
		Input:       map[string]any{"b": 2, "a": 1},
		Output:      map[string]any{"ok": true},
	}

	h1, err := n.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	h2, err := n.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash is not deterministic: %s != %s", h1, h2)
	}

	// Map key order must not affect the hash.
	n2 := n
	n2.Input = map[string]any{"a": 1, "b": 2}
	h3, err := n2.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if h1 != h3 {
		t.Fatalf("hash depends on map iteration order")
	}
}

func TestComputeHashSensitiveToFields(t *testing.T) {
	base := DecisionNode{Type: NodeGatePassed, ParentHash: "abc", TimestampNs: 1000}
	baseHash, err := base.ComputeHash()
	if err != nil {
		t.Fatal(err)
	}

	variants := []DecisionNode{
		{Type: NodeGateBlocked, ParentHash: "abc", TimestampNs: 1000},
		{Type: NodeGatePassed, ParentHash: "xyz", TimestampNs: 1000},
		{Type: NodeGatePassed, ParentHash: "abc", TimestampNs: 1001},
		{Type: NodeGatePassed, ParentHash: "abc", TimestampNs: 1000, Output: map[string]any{"x": 1}},
	}
	for i, v := range variants {
		h, err := v.ComputeHash()
		if err != nil {
			t.Fatal(err)
		}
		if h == baseHash {
			t.Fatalf("variant %d collided with base hash", i)
		}
	}
}

func TestDecisionChainRootHashAndSealed(t *testing.T) {
	c := DecisionChain{ID: ChainID("c1")}
	if c.RootHash() != "" {
		t.Fatalf("expected empty root hash for empty chain")
	}
	if c.Sealed() {
		t.Fatalf("empty pending chain must not be sealed")
	}

	c.Nodes = append(c.Nodes, DecisionNode{Hash: "h1", TimestampNs: 10})
	c.Nodes = append(c.Nodes, DecisionNode{Hash: "h2", TimestampNs: 50})
	if c.RootHash() != "h2" {
		t.Fatalf("RootHash should be the last node's hash")
	}
	if c.DurationNs() != 40 {
		t.Fatalf("DurationNs = %d, want 40", c.DurationNs())
	}

	c.Outcome = OutcomeExecuted
	if !c.Sealed() {
		t.Fatalf("expected sealed chain")
	}
}
