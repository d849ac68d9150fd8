// Package monitor defines the minimal market-tick feed EmergencyController
// consumes to evaluate its triggers. It deliberately does not implement
// continuous market-data analysis beyond what those triggers require.
package monitor

import (
	"context"
	"sync"

	"github.com/yanun0323/decimal"
)

// Tick is one observed price/spread sample for a symbol.
type Tick struct {
	Symbol      string
	Price       decimal.Decimal
	Spread      decimal.Decimal
	TimestampNs int64
}

// Feed is the abstraction EmergencyController subscribes through. A
// production binding adapts a broker's subscribe_ticks operation; tests
// and the chaos harness use ManualFeed.
type Feed interface {
	Subscribe(ctx context.Context, symbol string) (<-chan Tick, error)
}

// ManualFeed is an in-process Feed: Publish fans a tick out to every
// channel currently subscribed to its symbol.
type ManualFeed struct {
	mu   sync.Mutex
	subs map[string][]chan Tick
}

// NewManualFeed returns an empty feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{subs: make(map[string][]chan Tick)}
}

// Subscribe returns a channel of ticks for symbol.
func (f *ManualFeed) Subscribe(ctx context.Context, symbol string) (<-chan Tick, error) {
	ch := make(chan Tick, 256)
	f.mu.Lock()
	f.subs[symbol] = append(f.subs[symbol], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		peers := f.subs[symbol]
		for i, s := range peers {
			if s == ch {
				f.subs[symbol] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
	}()
	return ch, nil
}

// Publish delivers a tick to every current subscriber of its symbol,
// dropping it for any subscriber whose channel is full.
func (f *ManualFeed) Publish(t Tick) {
	f.mu.Lock()
	peers := append([]chan Tick(nil), f.subs[t.Symbol]...)
	f.mu.Unlock()

	for _, ch := range peers {
		select {
		case ch <- t:
		default:
		}
	}
}
