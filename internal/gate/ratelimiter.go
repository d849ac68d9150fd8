package gate

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nightfield/signalgate/internal/schema"
)

// InMemoryRateLimiter is an in-process per-(profile, producer) token
// bucket RateLimiter. It is not shared across gateway instances.
// cmd/gateway serve wires the Redis-backed limiter and does not switch
// to this one when Redis is unavailable.
type InMemoryRateLimiter struct {
	perMinute float64
	global    *rate.Limiter

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewInMemoryRateLimiter builds an in-memory limiter from the gate config.
func NewInMemoryRateLimiter(cfg Config) *InMemoryRateLimiter {
	l := &InMemoryRateLimiter{
		perMinute: cfg.SignalRateLimitPerMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
	if cfg.GlobalSignalRateLimit > 0 {
		l.global = rate.NewLimiter(rate.Limit(cfg.GlobalSignalRateLimit/60.0), int(cfg.GlobalSignalRateLimit))
	}
	return l
}

// Allow reports whether the (profile, producer) bucket has a token to
// spend, consuming one if so.
func (l *InMemoryRateLimiter) Allow(ctx context.Context, profileID schema.ProfileID, producerID schema.ProducerID) (bool, error) {
	if l.global != nil && !l.global.Allow() {
		return false, nil
	}

	key := string(profileID) + ":" + string(producerID)
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		burst := int(l.perMinute)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(l.perMinute/60.0), burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow(), nil
}
