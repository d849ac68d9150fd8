// Command chaos drives a synthetic, chaos-injected tick stream through
// an EmergencyController instance so its flash-crash and
// spread-explosion triggers can be exercised without a live broker
// feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/yanun0323/decimal"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/chaos"
	"github.com/nightfield/signalgate/internal/emergency"
	"github.com/nightfield/signalgate/internal/monitor"
	"github.com/nightfield/signalgate/internal/provenance"
)

func main() {
	symbol := flag.String("symbol", "EURUSD", "Symbol to simulate")
	ticks := flag.Int("ticks", 500, "Number of synthetic ticks to emit")
	interval := flag.Duration("interval", 10*time.Millisecond, "Delay between ticks")
	crashAt := flag.Int("crash-at", 250, "Tick index at which to inject a flash-crash move (-1 disables)")
	auditDir := flag.String("audit-dir", "testdata/chaos_audit", "Audit log directory for emitted emergency nodes")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0.02, "Tick drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0.01, "Tick duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 3, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 5*time.Millisecond, "Max injected receive delay")
	flag.Parse()

	ctx := context.Background()

	auditLog, err := audit.Open(ctx, audit.DefaultConfig(*auditDir))
	if err != nil {
		log.Fatalf("audit open failed: %v", err)
	}
	defer auditLog.Close()

	tracker := provenance.NewTracker(auditLog)
	controller := emergency.New(emergency.DefaultConfig(), tracker, nil)

	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}

	feed := monitor.NewManualFeed()
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := controller.Watch(watchCtx, feed, *symbol); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
	}()

	rng := rand.New(rand.NewSource(resolveSeed(*seed)))
	price := 1.1000
	now := time.Now().UnixNano()

	for i := 0; i < *ticks; i++ {
		price += rng.NormFloat64() * 0.00005
		if *crashAt >= 0 && i == *crashAt {
			price *= 1 - 0.03 // inject a 3% drop to trip the flash-crash trigger
		}
		spread := 0.0002 + math.Abs(rng.NormFloat64())*0.0001
		now += interval.Nanoseconds()

		raw := monitor.Tick{
			Symbol:      *symbol,
			Price:       decimal.NewFromFloat(price),
			Spread:      decimal.NewFromFloat(spread),
			TimestampNs: now,
		}
		for _, out := range engine.Process(raw) {
			feed.Publish(out)
		}
		time.Sleep(*interval)
	}
	for _, out := range engine.Flush() {
		feed.Publish(out)
	}

	time.Sleep(50 * time.Millisecond) // let the controller's goroutine drain the final ticks
	state := controller.Current()
	fmt.Printf("final emergency state: %s (trigger=%s)\n", state.State, state.Trigger)
}

func resolveSeed(seed int64) int64 {
	if seed == 0 {
		return time.Now().UnixNano()
	}
	return seed
}
