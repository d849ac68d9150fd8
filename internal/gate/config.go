package gate

import "time"

// Config is SignalGate's typed configuration.
type Config struct {
	SignalRateLimitPerMinute float64
	GlobalSignalRateLimit    float64
	SignalTimeout            time.Duration
	MinConfidence            float64
	IdempotencyTTL           time.Duration
	QueueCapacity            int
}

// DefaultConfig returns SignalGate's out-of-the-box rate-limit and
// timeout defaults.
func DefaultConfig() Config {
	return Config{
		SignalRateLimitPerMinute: 10,
		GlobalSignalRateLimit:    0, // 0 means unconstrained
		SignalTimeout:            30 * time.Second,
		MinConfidence:            0.5,
		IdempotencyTTL:           24 * time.Hour,
		QueueCapacity:            256,
	}
}

// gateWeight is the confidence weight each check contributes to the
// observational weighted-consensus score recorded on gate.passed.
// Modeled on the source's gate_weights, where the risk-adjacent checks
// carry the heaviest weight; this never changes the accept/reject
// outcome, which is decided purely by strict check order.
var gateWeight = map[string]float64{
	"idempotency":  0.5,
	"rate_limit":   1.0,
	"schema_range": 1.0,
	"emergency":    1.5,
	"profile_state": 1.0,
}
