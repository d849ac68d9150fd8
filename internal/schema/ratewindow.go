package schema

import "time"

// RateWindow is a per-(profile, producer) token bucket.
type RateWindow struct {
	ProfileID  ProfileID
	ProducerID ProducerID
	Capacity   float64
	Tokens     float64
	LastRefill time.Time
}

// RefillRate is tokens restored per second, derived from Capacity: a
// bucket of capacity N drains to empty after one burst of N admissions
// and refills to N over one minute at steady state.
func (w RateWindow) RefillRate() float64 {
	return w.Capacity / 60.0
}
