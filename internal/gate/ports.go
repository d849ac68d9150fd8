package gate

import (
	"context"

	"github.com/nightfield/signalgate/internal/schema"
)

// IdempotencyStore answers the idempotency check: has (profile, signal)
// been seen in the retention window, and if so, under which chain.
type IdempotencyStore interface {
	SeenRecently(ctx context.Context, key string) (schema.ChainID, bool, error)
	MarkSeen(ctx context.Context, key string, chainID schema.ChainID) error
}

// RateLimiter backs the per-(profile, producer) token bucket check.
type RateLimiter interface {
	Allow(ctx context.Context, profileID schema.ProfileID, producerID schema.ProducerID) (bool, error)
}

// ProfileReader answers the profile-state check.
type ProfileReader interface {
	Get(ctx context.Context, profileID schema.ProfileID) (schema.Profile, bool, error)
}

// EmergencyReader answers the emergency check.
type EmergencyReader interface {
	Current() schema.EmergencyState
}

// AllowedSymbols restricts which symbols the schema/range check admits.
type AllowedSymbols interface {
	Allowed(symbol string) bool
}
