package chaos

import (
	"testing"

	"github.com/nightfield/signalgate/internal/monitor"
)

func TestNewEngineRejectsOutOfRangeRates(t *testing.T) {
	if _, err := NewEngine(Config{DropRate: 1.5, ReorderWindow: 1}); err == nil {
		t.Fatalf("expected an error for a drop rate above 1.0")
	}
	if _, err := NewEngine(Config{DuplicateRate: -0.1, ReorderWindow: 1}); err == nil {
		t.Fatalf("expected an error for a negative duplicate rate")
	}
}

func TestNewEngineDefaultsReorderWindowToOne(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	out := e.Process(monitor.Tick{Symbol: "EURUSD", TimestampNs: 100})
	if len(out) != 1 {
		t.Fatalf("expected a reorder window of 1 to pass the tick straight through, got %v", out)
	}
}

func TestProcessWithDropRateOneDropsEveryTick(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, DropRate: 1.0, ReorderWindow: 1})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	out := e.Process(monitor.Tick{Symbol: "EURUSD"})
	if out != nil {
		t.Fatalf("expected a drop rate of 1.0 to drop every tick, got %v", out)
	}
}

func TestProcessWithDuplicateRateOneDuplicatesEveryTick(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, DuplicateRate: 1.0, ReorderWindow: 1})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	out := e.Process(monitor.Tick{Symbol: "EURUSD"})
	if len(out) != 2 {
		t.Fatalf("expected a duplicate rate of 1.0 to emit 2 copies, got %d", len(out))
	}
}

func TestProcessBuffersUntilReorderWindowFills(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, ReorderWindow: 3})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if out := e.Process(monitor.Tick{TimestampNs: 1}); out != nil {
		t.Fatalf("expected no output before the reorder window fills, got %v", out)
	}
	if out := e.Process(monitor.Tick{TimestampNs: 2}); out != nil {
		t.Fatalf("expected no output before the reorder window fills, got %v", out)
	}
	out := e.Process(monitor.Tick{TimestampNs: 3})
	if len(out) != 1 {
		t.Fatalf("expected exactly one tick released once the window fills, got %v", out)
	}
}

func TestFlushDrainsAllBufferedTicks(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, ReorderWindow: 5})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		e.Process(monitor.Tick{TimestampNs: int64(i)})
	}
	out := e.Flush()
	if len(out) != 3 {
		t.Fatalf("expected Flush to drain all 3 buffered ticks, got %d", len(out))
	}
	if got := e.Flush(); got != nil {
		t.Fatalf("expected a second Flush on an empty buffer to return nil, got %v", got)
	}
}

func TestNilEnginePassesTicksThroughUnmodified(t *testing.T) {
	var e *Engine
	tick := monitor.Tick{Symbol: "EURUSD", TimestampNs: 42}
	out := e.Process(tick)
	if len(out) != 1 || out[0] != tick {
		t.Fatalf("expected a nil *Engine to pass the tick through unmodified, got %v", out)
	}
	if got := e.Flush(); got != nil {
		t.Fatalf("expected a nil *Engine's Flush to return nil, got %v", got)
	}
}

func TestApplyDelayShiftsTimestampWithinBound(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, ReorderWindow: 1, MaxDelay: 1000})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	out := e.Process(monitor.Tick{TimestampNs: 100})
	if len(out) != 1 {
		t.Fatalf("expected exactly one tick, got %v", out)
	}
	if out[0].TimestampNs < 100 || out[0].TimestampNs > 1100 {
		t.Fatalf("TimestampNs = %d, want within [100, 1100]", out[0].TimestampNs)
	}
}
