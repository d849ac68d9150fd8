package risk

import (
	"sort"
	"sync"
	"time"
)

// BreachRecord is one CVaR limit breach, retained for operator
// diagnostics.
type BreachRecord struct {
	ProfileID string
	Symbol    string
	CVaR      float64
	Limit     float64
	At        time.Time
}

// breachHistory is an in-memory ring of recent CVaR breaches.
type breachHistory struct {
	mu      sync.Mutex
	records []BreachRecord
	cap     int
}

func newBreachHistory(capacity int) *breachHistory {
	if capacity <= 0 {
		capacity = 200
	}
	return &breachHistory{cap: capacity}
}

func (h *breachHistory) record(r BreachRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	if len(h.records) > h.cap {
		h.records = h.records[len(h.records)-h.cap:]
	}
}

// Records returns a copy of the retained breach history, newest last.
func (h *breachHistory) Records() []BreachRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]BreachRecord, len(h.records))
	copy(out, h.records)
	return out
}

// historicalCVaR computes the conditional value at risk at confidence
// alpha over a returns series: the mean loss among the tail of returns
// at or beyond the alpha-quantile. Returns are fractional P&L (negative
// is a loss); the result is expressed as a positive loss fraction.
func historicalCVaR(returns []float64, alpha float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	tailCount := int(float64(n) * (1 - alpha))
	if tailCount < 1 {
		tailCount = 1
	}
	if tailCount > n {
		tailCount = n
	}

	var sum float64
	for i := 0; i < tailCount; i++ {
		sum += sorted[i]
	}
	mean := sum / float64(tailCount)
	if mean > 0 {
		return 0
	}
	return -mean
}
