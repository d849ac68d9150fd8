package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nightfield/signalgate/internal/schema"
)

var (
	ErrClosed     = errors.New("audit: writer closed")
	ErrNotStarted = errors.New("audit: writer not started")
)

// Writer appends decision nodes to rotating audit segments. Append is
// synchronous: a signal.received node must be durable before the gate
// returns accepted, so the call blocks until the record has been
// flushed to the segment's buffer, and is fsynced to disk on the next
// sync tick.
type Writer struct {
	cfg Config

	mu      sync.Mutex
	seg     *segmentWriter
	segID   uint64
	seq     atomic.Uint64
	started uint32
	closed  uint32

	syncTicker *time.Ticker
	stopSync   chan struct{}
	syncWg     sync.WaitGroup
}

// NewWriter creates an audit writer and ensures the target directory
// exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg, stopSync: make(chan struct{})}, nil
}

// Start begins the background fsync ticker.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return nil
	}
	w.syncTicker = time.NewTicker(w.cfg.SyncInterval)
	w.syncWg.Add(1)
	go func() {
		defer w.syncWg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopSync:
				return
			case <-w.syncTicker.C:
				w.mu.Lock()
				_ = w.syncSegment(w.seg)
				w.mu.Unlock()
			}
		}
	}()
	return nil
}

// Close flushes, syncs, and closes the active segment.
func (w *Writer) Close() error {
	if !atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		return nil
	}
	if w.syncTicker != nil {
		close(w.stopSync)
		w.syncTicker.Stop()
		w.syncWg.Wait()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSegment(w.seg)
}

// Append durably writes node to the active segment, rotating it first
// if necessary, and returns the sequence number assigned.
func (w *Writer) Append(node schema.DecisionNode) (uint64, error) {
	if atomic.LoadUint32(&w.closed) != 0 {
		return 0, ErrClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.seq.Add(1)
	rec, err := encodeRecord(seq, node)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	if w.shouldRotate(w.seg, now, int64(len(rec))) {
		if err := w.closeSegment(w.seg); err != nil {
			return 0, err
		}
		seg, err := w.openSegment(now)
		if err != nil {
			return 0, err
		}
		w.seg = seg
	}

	if _, err := w.seg.buf.Write(rec); err != nil {
		return 0, err
	}
	w.seg.size += int64(len(rec))
	if err := w.seg.buf.Flush(); err != nil {
		return 0, err
	}
	return seq, nil
}

func (w *Writer) shouldRotate(seg *segmentWriter, now time.Time, nextSize int64) bool {
	if seg == nil {
		return true
	}
	if w.cfg.SegmentMaxBytes > 0 && seg.size+nextSize > w.cfg.SegmentMaxBytes {
		return true
	}
	if w.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (w *Writer) syncSegment(seg *segmentWriter) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		return err
	}
	return seg.file.Sync()
}

func (w *Writer) closeSegment(seg *segmentWriter) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *Writer) openSegment(now time.Time) (*segmentWriter, error) {
	ts := now.Format("20060102-150405")
	for {
		w.segID++
		name := fmt.Sprintf("%s-%s-%06d.log", w.cfg.FilePrefix, ts, w.segID)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, err
		}
		return &segmentWriter{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

type segmentWriter struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
