// Package gate implements SignalGate: the single ingress for trade
// proposals. It runs five deterministic checks in strict order — first
// failure terminal — and emits admitted signals downstream in
// per-profile FIFO order.
package gate

import (
	"context"
	"sync"

	"github.com/yanun0323/logs"

	"github.com/nightfield/signalgate/internal/bus"
	"github.com/nightfield/signalgate/internal/kinds"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/schema"
)

// AdmittedSignal is the unit handed downstream to RiskSizer, carrying
// the chain the gate already opened.
type AdmittedSignal struct {
	Signal  schema.Signal
	ChainID schema.ChainID
}

// SubmitResult mirrors the producer ingress response contract.
type SubmitResult struct {
	Accepted bool
	ChainID  schema.ChainID
	Reason   string
}

// Gate is SignalGate.
type Gate struct {
	cfg     Config
	tracker *provenance.Tracker

	idempotency IdempotencyStore
	rateLimit   RateLimiter
	profiles    ProfileReader
	emergency   EmergencyReader
	symbols     AllowedSymbols

	mu     sync.Mutex
	queues map[schema.ProfileID]*bus.Queue[AdmittedSignal]
}

// New constructs a Gate wired to its collaborators.
func New(cfg Config, tracker *provenance.Tracker, idempotency IdempotencyStore, rateLimit RateLimiter, profiles ProfileReader, emergency EmergencyReader, symbols AllowedSymbols) *Gate {
	return &Gate{
		cfg:         cfg,
		tracker:     tracker,
		idempotency: idempotency,
		rateLimit:   rateLimit,
		profiles:    profiles,
		emergency:   emergency,
		symbols:     symbols,
		queues:      make(map[schema.ProfileID]*bus.Queue[AdmittedSignal]),
	}
}

// Queue returns (creating if absent) the per-profile FIFO of admitted
// signals. Pipeline workers call Run on the returned queue.
func (g *Gate) Queue(profileID schema.ProfileID) *bus.Queue[AdmittedSignal] {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[profileID]
	if !ok {
		q = bus.NewQueue[AdmittedSignal](g.cfg.QueueCapacity)
		g.queues[profileID] = q
	}
	return q
}

// Submit runs the five checks in order and, on admission, durably
// writes signal.received and gate.passed before enqueueing the signal
// for downstream processing. The call returns once that persistence is
// durable; downstream work is asynchronous.
func (g *Gate) Submit(ctx context.Context, signal schema.Signal) (SubmitResult, error) {
	key := signal.IdempotencyKey()

	// Check 1: idempotency.
	if existing, seen, err := g.idempotency.SeenRecently(ctx, key); err != nil {
		return SubmitResult{}, kinds.Wrap(kinds.Internal, "idempotency_lookup", "idempotency store error", err)
	} else if seen {
		return SubmitResult{Accepted: true, ChainID: existing}, nil
	}

	chain := g.tracker.Open(signal.ID, signal.ProfileID)
	if _, err := g.tracker.Append(ctx, provenance.AppendInput{
		ChainID: chain.ID,
		Type:    schema.NodeSignalReceived,
		Source:  "gate",
		Input: map[string]any{
			"symbol":     signal.Symbol,
			"direction":  signal.Direction.String(),
			"confidence": signal.Confidence,
		},
	}); err != nil {
		return SubmitResult{}, err
	}

	if err := g.idempotency.MarkSeen(ctx, key, chain.ID); err != nil {
		logs.Warnf("gate: mark seen failed for %s: %v", key, err)
	}

	// Check 2: rate limit.
	allowed, err := g.rateLimit.Allow(ctx, signal.ProfileID, signal.ProducerID)
	if err != nil {
		return SubmitResult{}, kinds.Wrap(kinds.Internal, "rate_limit_lookup", "rate limiter error", err)
	}
	if !allowed {
		return g.blockRateLimited(ctx, chain.ID)
	}

	// Check 3: schema/range.
	if reason := g.schemaCheck(signal); reason != "" {
		return g.reject(ctx, chain.ID, reason)
	}

	// Check 4: emergency.
	if state := g.emergency.Current(); state.State != schema.EmergencyNormal {
		return g.blockEmergency(ctx, chain.ID, state)
	}

	// Check 5: profile state.
	profile, ok, err := g.profiles.Get(ctx, signal.ProfileID)
	if err != nil {
		return SubmitResult{}, kinds.Wrap(kinds.Internal, "profile_lookup", "profile store error", err)
	}
	if cause := profileBlockCause(profile, ok); cause != "" {
		return g.blockProfile(ctx, chain.ID, cause)
	}

	weighted := weightedConfidence(true, true, true, true, true, signal.Confidence)
	if _, err := g.tracker.Append(ctx, provenance.AppendInput{
		ChainID:    chain.ID,
		Type:       schema.NodeGatePassed,
		Source:     "gate",
		Confidence: weighted,
		Output:     map[string]any{"consensus_score": weighted},
	}); err != nil {
		return SubmitResult{}, err
	}

	q := g.Queue(signal.ProfileID)
	if err := q.TryPublish(AdmittedSignal{Signal: signal, ChainID: chain.ID}); err != nil {
		logs.Errorf("gate: profile %s queue backpressure: %v", signal.ProfileID, err)
		return g.reject(ctx, chain.ID, "downstream_backpressure")
	}

	return SubmitResult{Accepted: true, ChainID: chain.ID}, nil
}

func (g *Gate) schemaCheck(s schema.Signal) string {
	if g.symbols != nil && !g.symbols.Allowed(s.Symbol) {
		return "symbol_not_allowed"
	}
	if s.Direction != schema.DirectionBuy && s.Direction != schema.DirectionSell {
		return "invalid_direction"
	}
	if s.Confidence < g.cfg.MinConfidence {
		return "confidence_below_minimum"
	}
	if !s.SideCorrect() {
		return "stop_or_target_wrong_side"
	}
	return ""
}

func (g *Gate) blockRateLimited(ctx context.Context, chainID schema.ChainID) (SubmitResult, error) {
	if _, err := g.tracker.Append(ctx, provenance.AppendInput{ChainID: chainID, Type: schema.NodeGateRateLimited, Source: "gate"}); err != nil {
		return SubmitResult{}, err
	}
	g.tracker.Seal(chainID, schema.OutcomeBlocked)
	return SubmitResult{Accepted: false, ChainID: chainID, Reason: "rate_limited"}, kinds.New(kinds.GateBlocked, "rate_limited", "rate limit exceeded").WithChain(chainID)
}

func (g *Gate) reject(ctx context.Context, chainID schema.ChainID, reason string) (SubmitResult, error) {
	if _, err := g.tracker.Append(ctx, provenance.AppendInput{
		ChainID: chainID,
		Type:    schema.NodeSignalRejected,
		Source:  "gate",
		Output:  map[string]any{"reason": reason},
	}); err != nil {
		return SubmitResult{}, err
	}
	g.tracker.Seal(chainID, schema.OutcomeRejected)
	return SubmitResult{Accepted: false, ChainID: chainID, Reason: reason}, kinds.New(kinds.Validation, reason, "signal rejected by gate").WithChain(chainID)
}

func (g *Gate) blockEmergency(ctx context.Context, chainID schema.ChainID, state schema.EmergencyState) (SubmitResult, error) {
	if _, err := g.tracker.Append(ctx, provenance.AppendInput{
		ChainID: chainID,
		Type:    schema.NodeGateBlocked,
		Source:  "gate",
		Output:  map[string]any{"emergency_state": state.State.String()},
	}); err != nil {
		return SubmitResult{}, err
	}
	g.tracker.Seal(chainID, schema.OutcomeBlocked)
	return SubmitResult{Accepted: false, ChainID: chainID, Reason: state.State.String()}, kinds.New(kinds.Emergency, state.State.String(), "pipeline preempted by emergency state").WithChain(chainID)
}

func (g *Gate) blockProfile(ctx context.Context, chainID schema.ChainID, cause string) (SubmitResult, error) {
	if _, err := g.tracker.Append(ctx, provenance.AppendInput{
		ChainID: chainID,
		Type:    schema.NodeGateBlocked,
		Source:  "gate",
		Output:  map[string]any{"cause": cause},
	}); err != nil {
		return SubmitResult{}, err
	}
	g.tracker.Seal(chainID, schema.OutcomeBlocked)
	return SubmitResult{Accepted: false, ChainID: chainID, Reason: cause}, kinds.New(kinds.GateBlocked, cause, "profile not eligible for trading").WithChain(chainID)
}

func profileBlockCause(profile schema.Profile, found bool) string {
	if !found {
		return "profile_not_found"
	}
	if !profile.TradingEnabled {
		return "trading_disabled"
	}
	if profile.Connection != schema.ConnectionHealthy {
		return "connection_not_healthy"
	}
	return ""
}

// weightedConfidence computes the observational consensus score: a
// weighted average over the checks that ran, where a failing check
// (never reached here, since failure is terminal) would contribute 0.
// This never changes the accept/reject outcome.
func weightedConfidence(idempotency, rateLimit, schemaRange, emergency, profileState bool, signalConfidence float64) float64 {
	total := 0.0
	sum := 0.0
	add := func(key string, pass bool) {
		w := gateWeight[key]
		total += w
		if pass {
			sum += w
		}
	}
	add("idempotency", idempotency)
	add("rate_limit", rateLimit)
	add("schema_range", schemaRange)
	add("emergency", emergency)
	add("profile_state", profileState)
	if total == 0 {
		return signalConfidence
	}
	return (sum / total) * signalConfidence
}
