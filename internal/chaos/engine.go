// Package chaos injects drop, duplicate, delay, and reorder faults into
// a synthetic tick stream, used by cmd/tools/chaos to exercise
// EmergencyController's triggers under adverse feed conditions.
package chaos

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/nightfield/signalgate/internal/monitor"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	ReorderWindow int
	MaxDelay      time.Duration
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("chaos: dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("chaos: duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("chaos: reorderWindow must be >= 1")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("chaos: maxDelay must be >= 0")
	}
	return nil
}

// Engine applies chaos rules to a tick stream.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []monitor.Tick
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Process applies chaos to a single tick and returns any output ticks.
func (e *Engine) Process(t monitor.Tick) []monitor.Tick {
	if e == nil {
		return []monitor.Tick{t}
	}
	if e.shouldDrop() {
		return nil
	}
	t = e.applyDelay(t)
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(t)
	}
	e.pending = append(e.pending, t)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.applyDuplicate(out)
}

// Flush returns any buffered ticks after processing completes.
func (e *Engine) Flush() []monitor.Tick {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]monitor.Tick, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		t := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(t)...)
	}
	return out
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(t monitor.Tick) []monitor.Tick {
	out := []monitor.Tick{t}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, t)
	}
	return out
}

func (e *Engine) applyDelay(t monitor.Tick) monitor.Tick {
	if e.cfg.MaxDelay <= 0 {
		return t
	}
	maxDelay := e.cfg.MaxDelay.Nanoseconds()
	if maxDelay <= 0 {
		return t
	}
	delay := e.rng.Int63n(maxDelay + 1)
	t.TimestampNs += delay
	return t
}
