// Package audit implements the gateway's append-only, hash-chained
// decision record store: chains/{chain_id} as an append-only node list,
// persisted to rotating segment files and indexed in memory for query.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/yanun0323/logs"

	"github.com/nightfield/signalgate/internal/schema"
)

// Log is the append-only decision record store consumed by Provenance.
type Log interface {
	Append(ctx context.Context, node schema.DecisionNode) error
	Nodes(chainID schema.ChainID) ([]schema.DecisionNode, error)
	AllChains() []schema.ChainID
	Close() error
}

// FileLog is the reference Log implementation: segment files on disk
// plus an in-memory per-chain index rebuilt at startup by replaying
// every segment in filename order.
type FileLog struct {
	cfg    Config
	writer *Writer

	mu     sync.RWMutex
	nodes  map[schema.ChainID][]schema.DecisionNode
	writeMu sync.Map // schema.ChainID -> *sync.Mutex, serializes appends within a chain
}

// Open recovers the in-memory index from existing segments (if any) and
// starts the writer.
func Open(ctx context.Context, cfg Config) (*FileLog, error) {
	w, err := NewWriter(cfg)
	if err != nil {
		return nil, err
	}

	l := &FileLog{
		cfg:    cfg.withDefaults(),
		writer: w,
		nodes:  make(map[schema.ChainID][]schema.DecisionNode),
	}

	if err := l.replay(); err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLog) replay() error {
	pattern := filepath.Join(l.cfg.Dir, l.cfg.FilePrefix+"-*.log")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Strings(matches)

	for _, path := range matches {
		if err := l.replaySegment(path); err != nil {
			return fmt.Errorf("audit: replay %s: %w", path, err)
		}
	}
	return nil
}

func (l *FileLog) replaySegment(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := NewReader(f, ReaderOptions{})
	for {
		node, _, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			logs.Warnf("audit: truncated record in %s: %v", path, err)
			return nil
		}
		l.nodes[node.ChainID] = append(l.nodes[node.ChainID], node)
	}
}

// chainLock returns the per-chain mutex serializing appends, creating
// it on first use.
func (l *FileLog) chainLock(chainID schema.ChainID) *sync.Mutex {
	v, _ := l.writeMu.LoadOrStore(chainID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Append writes node to the active segment and the in-memory index.
// Appends to distinct chains are independent; within one chain they are
// serialized, matching the concurrency model's no-interleaving rule.
func (l *FileLog) Append(ctx context.Context, node schema.DecisionNode) error {
	lock := l.chainLock(node.ChainID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := l.writer.Append(node); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}

	l.mu.Lock()
	l.nodes[node.ChainID] = append(l.nodes[node.ChainID], node)
	l.mu.Unlock()
	return nil
}

// Nodes returns the nodes of a chain in append order.
func (l *FileLog) Nodes(chainID schema.ChainID) ([]schema.DecisionNode, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	nodes := l.nodes[chainID]
	out := make([]schema.DecisionNode, len(nodes))
	copy(out, nodes)
	return out, nil
}

// AllChains returns every chain id the log has observed, unordered.
func (l *FileLog) AllChains() []schema.ChainID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schema.ChainID, 0, len(l.nodes))
	for id := range l.nodes {
		out = append(out, id)
	}
	return out
}

// Close stops the writer, flushing and syncing the active segment.
func (l *FileLog) Close() error {
	return l.writer.Close()
}
