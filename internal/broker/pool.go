package broker

import (
	"context"
	"sync"
	"time"

	"github.com/nightfield/signalgate/internal/kinds"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/schema"
)

// ClientFactory dials a new broker Client for a profile's credentials.
type ClientFactory func(profileID schema.ProfileID, credsRef string) Client

// Pool maintains one Session per active profile and brokers fair
// access to it.
type Pool struct {
	factory ClientFactory
	tracker *provenance.Tracker

	mu       sync.Mutex
	sessions map[schema.ProfileID]*sessionSlot
}

type sessionSlot struct {
	session *Session
	sem     chan struct{} // capacity 1: single-writer per session
}

// New constructs an empty pool.
func New(factory ClientFactory, tracker *provenance.Tracker) *Pool {
	return &Pool{
		factory:  factory,
		tracker:  tracker,
		sessions: make(map[schema.ProfileID]*sessionSlot),
	}
}

// Open starts (or returns the existing) session for a profile and
// begins its heartbeat/reconnect loop.
func (p *Pool) Open(ctx context.Context, profileID schema.ProfileID, credsRef string) *Session {
	p.mu.Lock()
	slot, ok := p.sessions[profileID]
	if !ok {
		client := p.factory(profileID, credsRef)
		session := NewSession(profileID, credsRef, client)
		session.OnReconcile(p.emitReconcile)
		session.OnUnreachable(p.emitUnreachable)
		slot = &sessionSlot{session: session, sem: make(chan struct{}, 1)}
		p.sessions[profileID] = slot
		go session.Run(ctx)
	}
	p.mu.Unlock()
	return slot.session
}

// Acquire waits up to timeout for fair, exclusive access to the
// profile's session, refusing outright if the profile is already at
// maxPositionsPerProfile open positions.
func (p *Pool) Acquire(ctx context.Context, profileID schema.ProfileID, openPositions, maxPositionsPerProfile int, timeout time.Duration) (*Session, func(), error) {
	if maxPositionsPerProfile > 0 && openPositions >= maxPositionsPerProfile {
		return nil, nil, kinds.New(kinds.BrokerRejected, "max_positions_per_profile", "profile at open-position cap")
	}

	p.mu.Lock()
	slot, ok := p.sessions[profileID]
	p.mu.Unlock()
	if !ok {
		return nil, nil, kinds.New(kinds.Internal, "session_not_open", "no broker session open for profile")
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case slot.sem <- struct{}{}:
		release := func() { <-slot.sem }
		return slot.session, release, nil
	case <-acquireCtx.Done():
		return nil, nil, kinds.Wrap(kinds.Transient, "acquire_timeout", "timed out waiting for broker session", acquireCtx.Err())
	}
}

func (p *Pool) emitReconcile(profileID schema.ProfileID, added, removed []schema.Position) {
	if p.tracker == nil {
		return
	}
	chain := p.tracker.Open(schema.SignalID(""), profileID)
	_, _ = p.tracker.Append(context.Background(), provenance.AppendInput{
		ChainID: chain.ID,
		Type:    schema.NodePositionReconciled,
		Source:  "broker",
		Output: map[string]any{
			"added":   len(added),
			"removed": len(removed),
		},
	})
	p.tracker.Seal(chain.ID, schema.OutcomeOverridden)
}

func (p *Pool) emitUnreachable(profileID schema.ProfileID) {
	if p.tracker == nil {
		return
	}
	chain := p.tracker.Open(schema.SignalID(""), profileID)
	_, _ = p.tracker.Append(context.Background(), provenance.AppendInput{
		ChainID: chain.ID,
		Type:    schema.NodeBrokerUnreachable,
		Source:  "broker",
	})
	p.tracker.Seal(chain.ID, schema.OutcomeRejected)
}
