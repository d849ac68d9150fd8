package provenance

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/schema"
)

// Filter selects chains for query(). A zero-value field means
// unconstrained on that dimension.
type Filter struct {
	From        time.Time
	To          time.Time
	Outcome     schema.Outcome
	Types       map[schema.NodeType]bool
	Actor       string
	Page        int
	PageSize    int
}

// chainOutcome derives a chain's outcome from its terminal node's type,
// since the audit log stores only nodes, not chain metadata.
func chainOutcome(nodes []schema.DecisionNode) schema.Outcome {
	if len(nodes) == 0 {
		return schema.OutcomePending
	}
	switch nodes[len(nodes)-1].Type {
	case schema.NodePositionOpened, schema.NodeExecutionReconciled:
		return schema.OutcomeExecuted
	case schema.NodeSignalRejected, schema.NodeRiskRejected, schema.NodeExecutionFailed,
		schema.NodeExecutionRejected, schema.NodeExecutionMarketClosed, schema.NodePipelineTimeout:
		return schema.OutcomeRejected
	case schema.NodeGateBlocked, schema.NodeGateRateLimited:
		return schema.OutcomeBlocked
	case schema.NodeSignalDuplicate:
		return schema.OutcomeOverridden
	default:
		return schema.OutcomePending
	}
}

// Query implements query(filter) → [chain_id], pageable and
// stable-ordered by chain seal time (the terminal node's timestamp).
func Query(log audit.Log, filter Filter) ([]schema.ChainID, error) {
	type entry struct {
		id       schema.ChainID
		sealedAt int64
	}

	var entries []entry
	for _, id := range log.AllChains() {
		nodes, err := log.Nodes(id)
		if err != nil {
			return nil, err
		}
		if len(nodes) == 0 {
			continue
		}
		if !matchesFilter(nodes, filter) {
			continue
		}
		entries = append(entries, entry{id: id, sealedAt: nodes[len(nodes)-1].TimestampNs})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].sealedAt < entries[j].sealedAt })

	out := make([]schema.ChainID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.id)
	}
	return paginate(out, filter.Page, filter.PageSize), nil
}

func matchesFilter(nodes []schema.DecisionNode, filter Filter) bool {
	first, last := nodes[0], nodes[len(nodes)-1]

	if !filter.From.IsZero() && first.TimestampNs < filter.From.UnixNano() {
		return false
	}
	if !filter.To.IsZero() && last.TimestampNs > filter.To.UnixNano() {
		return false
	}
	if filter.Outcome != "" && chainOutcome(nodes) != filter.Outcome {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, n := range nodes {
			if filter.Types[n.Type] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Actor != "" {
		found := false
		for _, n := range nodes {
			if actor, ok := n.Output["actor"].(string); ok && actor == filter.Actor {
				found = true
				break
			}
			if actor, ok := n.Input["actor"].(string); ok && actor == filter.Actor {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func paginate(ids []schema.ChainID, page, pageSize int) []schema.ChainID {
	if pageSize <= 0 {
		return ids
	}
	start := page * pageSize
	if start >= len(ids) {
		return nil
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}

func digestHex(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}
