// Package provenance constructs decision chains on top of an audit.Log,
// verifies their hash-chain integrity, and answers query(filter)
// requests over sealed chains.
package provenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/schema"
)

// Tracker owns chain construction: it is the single writer for any
// chain it has open, matching the concurrency model's rule that the
// component holding the chain context writes.
type Tracker struct {
	log audit.Log

	mu     sync.Mutex
	open   map[schema.ChainID]*schema.DecisionChain
}

// NewTracker wraps an audit.Log for chain construction.
func NewTracker(log audit.Log) *Tracker {
	return &Tracker{log: log, open: make(map[schema.ChainID]*schema.DecisionChain)}
}

// Open allocates a new chain for a signal. The caller must immediately
// Append the signal.received node.
func (t *Tracker) Open(signalID schema.SignalID, profileID schema.ProfileID) *schema.DecisionChain {
	c := &schema.DecisionChain{
		ID:         schema.NewChainID(),
		SignalID:   signalID,
		ProfileID:  profileID,
		Outcome:    schema.OutcomePending,
		OpenedAtNs: time.Now().UnixNano(),
	}
	t.mu.Lock()
	t.open[c.ID] = c
	t.mu.Unlock()
	return c
}

// AppendInput describes one step of chain construction.
type AppendInput struct {
	ChainID    schema.ChainID
	Type       schema.NodeType
	Source     string
	Rationale  string
	Confidence float64
	Input      map[string]any
	Output     map[string]any
}

// Append computes the next node's hash from the chain's current tail,
// persists it through the audit log, and advances the chain's in-memory
// tail. It is the only way a node enters a chain.
func (t *Tracker) Append(ctx context.Context, in AppendInput) (schema.DecisionNode, error) {
	t.mu.Lock()
	chain, ok := t.open[in.ChainID]
	t.mu.Unlock()
	if !ok {
		return schema.DecisionNode{}, fmt.Errorf("provenance: chain %s is not open", in.ChainID)
	}

	var parentID schema.NodeID
	var parentHash string
	if n := len(chain.Nodes); n > 0 {
		parentID = chain.Nodes[n-1].ID
		parentHash = chain.Nodes[n-1].Hash
	}

	node := schema.DecisionNode{
		ID:          schema.NewNodeID(),
		ChainID:     in.ChainID,
		ParentID:    parentID,
		ParentHash:  parentHash,
		Type:        in.Type,
		Source:      in.Source,
		TimestampNs: time.Now().UnixNano(),
		Rationale:   in.Rationale,
		Confidence:  in.Confidence,
		Input:       withParentHash(in.Input, parentHash),
		Output:      in.Output,
	}

	hash, err := node.ComputeHash()
	if err != nil {
		return schema.DecisionNode{}, fmt.Errorf("provenance: compute hash: %w", err)
	}
	node.Hash = hash

	if err := t.log.Append(ctx, node); err != nil {
		return schema.DecisionNode{}, err
	}

	t.mu.Lock()
	chain.Nodes = append(chain.Nodes, node)
	t.mu.Unlock()
	return node, nil
}

// Seal marks a chain terminal with outcome and drops it from the open
// set. The sealed chain's nodes remain queryable through the audit log.
func (t *Tracker) Seal(chainID schema.ChainID, outcome schema.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	chain, ok := t.open[chainID]
	if !ok {
		return
	}
	chain.Outcome = outcome
	if n := len(chain.Nodes); n > 0 {
		chain.SealedAtNs = chain.Nodes[n-1].TimestampNs
	}
	delete(t.open, chainID)
}

// withParentHash injects parent_hash into the node's input snapshot so
// that the hash-chain law (N.input.parent_hash == P.hash) holds without
// requiring callers to thread it through manually.
func withParentHash(input map[string]any, parentHash string) map[string]any {
	out := make(map[string]any, len(input)+1)
	for k, v := range input {
		out[k] = v
	}
	out["parent_hash"] = parentHash
	return out
}
