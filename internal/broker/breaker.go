package broker

import (
	"time"

	"github.com/sony/gobreaker"
)

// Breaker wraps a broker session's RPC calls so a burst of failures
// opens the circuit and later calls fail fast without reaching the
// client. While the circuit is open each heartbeat still counts as one
// miss, so the session's Degraded/Disconnected transitions follow the
// same heartbeat-miss counts as without the breaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a per-session circuit breaker named for the
// profile it guards.
func NewBreaker(name string) *Breaker {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 10 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.5
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}
