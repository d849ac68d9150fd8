package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// NodeType enumerates every decision node emitted across the pipeline.
type NodeType string

const (
	NodeSignalReceived  NodeType = "signal.received"
	NodeSignalDuplicate NodeType = "signal.duplicate"
	NodeSignalRejected  NodeType = "signal.rejected"
	NodeGatePassed      NodeType = "gate.passed"
	NodeGateBlocked     NodeType = "gate.blocked"
	NodeGateRateLimited NodeType = "gate.rate_limited"

	NodeRiskApproved NodeType = "risk.approved"
	NodeRiskReduced  NodeType = "risk.reduced"
	NodeRiskRejected NodeType = "risk.rejected"

	NodeExecutionFailed       NodeType = "execution.failed"
	NodeExecutionRejected     NodeType = "execution.rejected"
	NodeExecutionMarketClosed NodeType = "execution.market_closed"
	NodeExecutionReconciled   NodeType = "execution.reconciled"
	NodePositionOpened        NodeType = "position.opened"
	NodePositionReconciled    NodeType = "position.reconciled"

	NodeEmergencyTriggered NodeType = "emergency.triggered"
	NodeEmergencyHedge     NodeType = "emergency.panic_hedge"
	NodeEmergencyHalt      NodeType = "emergency.halt"
	NodeEmergencyKill      NodeType = "emergency.kill"
	NodeEmergencyRestore   NodeType = "emergency.restore"

	NodeBrokerUnreachable NodeType = "broker.unreachable"
	NodePipelineTimeout   NodeType = "pipeline.timeout"
)

// Outcome is the terminal disposition of a decision chain.
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeExecuted   Outcome = "executed"
	OutcomeRejected   Outcome = "rejected"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeOverridden Outcome = "overridden"
)

// DecisionNode is a single, immutable step in a decision chain. Its hash
// binds the node's type, parent hash, canonical input/output, and
// timestamp, making the chain tamper-evident.
type DecisionNode struct {
	ID          NodeID
	ChainID     ChainID
	ParentID    NodeID // empty for the chain's first node
	ParentHash  string
	Type        NodeType
	Source      string // emitting component: "gate", "risk", "executor", ...
	TimestampNs int64
	Rationale   string
	Confidence  float64
	Input       map[string]any
	Output      map[string]any
	Hash        string
}

// ComputeHash returns H(type ∥ parent_hash ∥ canonical(input) ∥
// canonical(output) ∥ timestamp_ns) using SHA-256. canonical is a
// length-prefixed serialization ordered by field name, implemented by
// canonicalize below.
func (n DecisionNode) ComputeHash() (string, error) {
	h := sha256.New()

	h.Write([]byte(n.Type))
	h.Write([]byte(n.ParentHash))

	in, err := canonicalize(n.Input)
	if err != nil {
		return "", fmt.Errorf("canonicalize input: %w", err)
	}
	h.Write(in)

	out, err := canonicalize(n.Output)
	if err != nil {
		return "", fmt.Errorf("canonicalize output: %w", err)
	}
	h.Write(out)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(n.TimestampNs))
	h.Write(tsBuf[:])

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// canonicalize produces a deterministic, length-prefixed encoding of a
// JSON-like value: map keys are sorted, and every field is prefixed by
// its encoded length so that no two distinct values collide on prefix.
func canonicalize(v map[string]any) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		writeLenPrefixed(&buf, []byte(k))
		enc, err := json.Marshal(v[k])
		if err != nil {
			return nil, err
		}
		writeLenPrefixed(&buf, enc)
	}
	return buf.Bytes(), nil
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

// DecisionChain is the ordered list of decision nodes produced while
// processing one signal. Sealed on terminal decision, retained 7 years.
type DecisionChain struct {
	ID         ChainID
	SignalID   SignalID
	ProfileID  ProfileID
	Outcome    Outcome
	Nodes      []DecisionNode
	OpenedAtNs int64
	SealedAtNs int64
}

// RootHash is the hash of the chain's last node, or empty for an empty
// chain.
func (c DecisionChain) RootHash() string {
	if len(c.Nodes) == 0 {
		return ""
	}
	return c.Nodes[len(c.Nodes)-1].Hash
}

// Sealed reports whether the chain has reached a terminal outcome.
func (c DecisionChain) Sealed() bool {
	return c.Outcome != OutcomePending && c.Outcome != ""
}

// DurationNs is the elapsed time between the chain's first and last node.
func (c DecisionChain) DurationNs() int64 {
	if len(c.Nodes) == 0 {
		return 0
	}
	return c.Nodes[len(c.Nodes)-1].TimestampNs - c.Nodes[0].TimestampNs
}
