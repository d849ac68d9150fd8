// Package schema defines the data model shared by every stage of the
// signal-to-execution pipeline: profiles, signals, decision chains and
// nodes, positions, rate windows, and emergency state.
package schema

import "github.com/google/uuid"

// ProfileID identifies a tenant's bound broker account.
type ProfileID string

// ProducerID identifies the signal producer, human or algorithmic.
type ProducerID string

// SignalID is the producer-chosen idempotency key, opaque and ≤64 bytes,
// unique per (profile, 24h window).
type SignalID string

// ChainID identifies a decision chain.
type ChainID string

// NodeID identifies a single decision node.
type NodeID string

// NewChainID allocates a fresh chain identifier.
func NewChainID() ChainID {
	return ChainID(uuid.NewString())
}

// NewNodeID allocates a fresh node identifier.
func NewNodeID() NodeID {
	return NodeID(uuid.NewString())
}
