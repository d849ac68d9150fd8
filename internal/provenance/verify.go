package provenance

import (
	"fmt"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/schema"
)

// VerifyReport is the pass/fail result of checking one chain's
// integrity.
type VerifyReport struct {
	ChainID schema.ChainID
	Valid   bool
	Reason  string
}

// Verify recomputes every node's hash and parent link for a chain.
// A chain is valid iff every recomputed hash equals the stored hash and
// every node's parent_hash matches the prior node's hash. Missing or
// reordered nodes fail.
func Verify(nodes []schema.DecisionNode) VerifyReport {
	var prevHash string
	for i, n := range nodes {
		if n.ParentHash != prevHash {
			return VerifyReport{ChainID: n.ChainID, Valid: false, Reason: fmt.Sprintf("node %d: parent hash mismatch", i)}
		}
		want, err := n.ComputeHash()
		if err != nil {
			return VerifyReport{ChainID: n.ChainID, Valid: false, Reason: fmt.Sprintf("node %d: %v", i, err)}
		}
		if want != n.Hash {
			return VerifyReport{ChainID: n.ChainID, Valid: false, Reason: fmt.Sprintf("node %d: hash mismatch", i)}
		}
		prevHash = n.Hash
	}
	chainID := schema.ChainID("")
	if len(nodes) > 0 {
		chainID = nodes[0].ChainID
	}
	return VerifyReport{ChainID: chainID, Valid: true}
}

// VerifyChain loads a chain's nodes from the log and verifies it.
func VerifyChain(log audit.Log, chainID schema.ChainID) (VerifyReport, error) {
	nodes, err := log.Nodes(chainID)
	if err != nil {
		return VerifyReport{}, err
	}
	if len(nodes) == 0 {
		return VerifyReport{ChainID: chainID, Valid: false, Reason: "chain not found"}, nil
	}
	return Verify(nodes), nil
}

// ExportManifest is the audit export bundle's integrity summary: the
// total chain count, the hash of the concatenated root hashes in
// chronological (seal-time) order, and a per-chain integrity report.
type ExportManifest struct {
	ChainCount int
	RootDigest string
	Reports    []VerifyReport
}

// Export builds the audit export bundle's manifest for the given
// chains, in the order supplied.
func Export(log audit.Log, chainIDs []schema.ChainID) (ExportManifest, error) {
	manifest := ExportManifest{ChainCount: len(chainIDs)}
	var roots []byte
	for _, id := range chainIDs {
		report, err := VerifyChain(log, id)
		if err != nil {
			return ExportManifest{}, err
		}
		manifest.Reports = append(manifest.Reports, report)

		nodes, err := log.Nodes(id)
		if err != nil {
			return ExportManifest{}, err
		}
		if len(nodes) > 0 {
			roots = append(roots, []byte(nodes[len(nodes)-1].Hash)...)
		}
	}
	manifest.RootDigest = digestHex(roots)
	return manifest, nil
}
