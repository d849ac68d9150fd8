// Package broker implements BrokerPool: one session per active
// profile, heartbeat-driven health tracking, exponential backoff
// reconnect, and reconciliation against the broker's authoritative
// position list on every reconnect.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/nightfield/signalgate/internal/schema"
)

// Client is the broker wire boundary a Session drives. A real
// implementation dials a FIX/REST/gRPC endpoint; tests use a fake.
type Client interface {
	Connect(ctx context.Context, credsRef string) error
	Heartbeat(ctx context.Context) error
	Disconnect() error
	OpenPositions(ctx context.Context) ([]schema.Position, error)
	Submit(ctx context.Context, intent schema.OrderIntent) (ticket string, fillPrice string, err error)
	FindByClientToken(ctx context.Context, token string) (ticket string, found bool, err error)
}

// State mirrors schema.ConnectionState as the session's own view,
// transitioned only by the session's run loop.
type State = schema.ConnectionState

const (
	heartbeatInterval    = 15 * time.Second
	degradeAfterMisses   = 3
	disconnectAfterMiss  = 5
	maxReconnectAttempts = 5
)

var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}

// Session owns one broker connection for one profile. Submit callers
// are serialized by the Pool's per-profile lease (Pool.Acquire); the
// heartbeat/reconnect loop in Run does not take that lease, so it can
// call the Client while a leased Submit is in flight.
type Session struct {
	profileID schema.ProfileID
	credsRef  string
	client    Client
	breaker   *Breaker

	mu          sync.Mutex
	state       State
	misses      int
	lastReconcile []schema.Position

	onReconcile func(profileID schema.ProfileID, added, removed []schema.Position)
	onUnreachable func(profileID schema.ProfileID)
}

// NewSession constructs a Session in the Disconnected state.
func NewSession(profileID schema.ProfileID, credsRef string, client Client) *Session {
	return &Session{
		profileID: profileID,
		credsRef:  credsRef,
		client:    client,
		breaker:   NewBreaker(string(profileID)),
		state:     schema.ConnectionDisconnected,
	}
}

// OnReconcile registers the callback invoked when a reconnect's
// position fetch diverges from the session's last known view.
func (s *Session) OnReconcile(fn func(profileID schema.ProfileID, added, removed []schema.Position)) {
	s.onReconcile = fn
}

// OnUnreachable registers the callback invoked when reconnect attempts
// are exhausted.
func (s *Session) OnUnreachable(fn func(profileID schema.ProfileID)) {
	s.onUnreachable = fn
}

// State returns the session's current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		logs.Infof("broker: profile %s session %s -> %s", s.profileID, connectionStateString(prev), connectionStateString(next))
	}
}

// Connect dials the broker and, on success, reconciles positions.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(schema.ConnectionConnecting)
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.client.Connect(ctx, s.credsRef)
	})
	if err != nil {
		s.setState(schema.ConnectionDisconnected)
		return err
	}
	s.mu.Lock()
	s.misses = 0
	s.mu.Unlock()
	s.setState(schema.ConnectionHealthy)
	s.reconcile(ctx)
	return nil
}

// Heartbeat pings the broker and advances the miss counter, degrading
// or disconnecting the session per the health policy.
func (s *Session) Heartbeat(ctx context.Context) {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.client.Heartbeat(ctx)
	})

	s.mu.Lock()
	if err != nil {
		s.misses++
	} else {
		s.misses = 0
	}
	misses := s.misses
	s.mu.Unlock()

	switch {
	case err != nil && misses >= disconnectAfterMiss:
		s.setState(schema.ConnectionDisconnected)
	case err != nil && misses >= degradeAfterMisses:
		s.setState(schema.ConnectionDegraded)
	case err == nil:
		if s.State() == schema.ConnectionDegraded {
			s.setState(schema.ConnectionHealthy)
		}
	}
}

// Run drives the heartbeat loop and reconnect-with-backoff policy
// until ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.client.Disconnect()
			return
		case <-ticker.C:
			if s.State() == schema.ConnectionDisconnected {
				if !s.reconnect(ctx) {
					if s.onUnreachable != nil {
						s.onUnreachable(s.profileID)
					}
				}
				continue
			}
			s.Heartbeat(ctx)
		}
	}
}

func (s *Session) reconnect(ctx context.Context) bool {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if err := s.Connect(ctx); err == nil {
			return true
		}
		delay := backoffSchedule[len(backoffSchedule)-1]
		if attempt < len(backoffSchedule) {
			delay = backoffSchedule[attempt]
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return false
}

func (s *Session) reconcile(ctx context.Context) {
	live, err := s.client.OpenPositions(ctx)
	if err != nil {
		logs.Warnf("broker: profile %s reconcile fetch failed: %v", s.profileID, err)
		return
	}

	s.mu.Lock()
	prior := s.lastReconcile
	s.lastReconcile = live
	s.mu.Unlock()

	added, removed := diffPositions(prior, live)
	if (len(added) > 0 || len(removed) > 0) && s.onReconcile != nil {
		s.onReconcile(s.profileID, added, removed)
	}
}

func diffPositions(prior, live []schema.Position) (added, removed []schema.Position) {
	priorByTicket := make(map[string]schema.Position, len(prior))
	for _, p := range prior {
		priorByTicket[p.Ticket] = p
	}
	liveByTicket := make(map[string]schema.Position, len(live))
	for _, p := range live {
		liveByTicket[p.Ticket] = p
		if _, ok := priorByTicket[p.Ticket]; !ok {
			added = append(added, p)
		}
	}
	for _, p := range prior {
		if _, ok := liveByTicket[p.Ticket]; !ok {
			removed = append(removed, p)
		}
	}
	return added, removed
}

// Submit proxies an order through the circuit breaker.
func (s *Session) Submit(ctx context.Context, intent schema.OrderIntent) (ticket, fillPrice string, err error) {
	v, err := s.breaker.Execute(func() (any, error) {
		t, p, err := s.client.Submit(ctx, intent)
		return [2]string{t, p}, err
	})
	if err != nil {
		return "", "", err
	}
	arr := v.([2]string)
	return arr[0], arr[1], nil
}

// FindByClientToken looks up a prior submit by its idempotency token,
// used by Executor to reconcile after a connection-lost-mid-submit
// retry instead of risking a duplicate order.
func (s *Session) FindByClientToken(ctx context.Context, token string) (ticket string, found bool, err error) {
	return s.client.FindByClientToken(ctx, token)
}

func connectionStateString(s State) string {
	switch s {
	case schema.ConnectionDisconnected:
		return "disconnected"
	case schema.ConnectionConnecting:
		return "connecting"
	case schema.ConnectionHealthy:
		return "healthy"
	case schema.ConnectionDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}
