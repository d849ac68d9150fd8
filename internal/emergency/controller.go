// Package emergency implements EmergencyController: it watches market
// conditions through internal/monitor and reacts with graded
// responses, each transition itself a decision-chain node.
package emergency

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/nightfield/signalgate/internal/kinds"
	"github.com/nightfield/signalgate/internal/monitor"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/schema"
)

// Config configures trigger thresholds and the panic-flap cooldown.
type Config struct {
	FlashCrashPct     float64       // default 0.02 (2%)
	FlashCrashWindow  time.Duration // default 60s
	VolMultiplier     float64       // default 3.0 x 20-period ATR
	SpreadMultiplier  float64       // default 10.0 x 1h median spread
	DrawdownThreshold float64       // default 0.15
	Cooldown          time.Duration // default 30m
}

// DefaultConfig mirrors the thresholds in the trigger table.
func DefaultConfig() Config {
	return Config{
		FlashCrashPct:     0.02,
		FlashCrashWindow:  60 * time.Second,
		VolMultiplier:     3.0,
		SpreadMultiplier:  10.0,
		DrawdownThreshold: 0.15,
		Cooldown:          30 * time.Minute,
	}
}

// Mitigator performs the broker-facing action each trigger demands:
// hedging open positions, cancelling resting orders, or closing
// everything on kill. Bound to BrokerPool/Executor in production.
type Mitigator interface {
	HedgeAllOpenPositions(ctx context.Context, profileID schema.ProfileID) error
	CancelAllLimitOrders(ctx context.Context, profileID schema.ProfileID) error
	CloseAllPositions(ctx context.Context, profileID schema.ProfileID) error
}

// Controller owns the global singleton EmergencyState and drives
// trigger evaluation from monitor.Tick samples and drawdown reports.
type Controller struct {
	cfg       Config
	tracker   *provenance.Tracker
	mitigator Mitigator

	mu      sync.Mutex
	state   schema.EmergencyState
	history map[string][]priceSample // per-symbol rolling price/spread window

	restoreMu   sync.Mutex
	restoreOne  *schema.RestoreRequest
}

type priceSample struct {
	at     time.Time
	price  float64
	spread float64
}

// New constructs a Controller in the Normal state.
func New(cfg Config, tracker *provenance.Tracker, mitigator Mitigator) *Controller {
	return &Controller{
		cfg:       cfg,
		tracker:   tracker,
		mitigator: mitigator,
		state:     schema.EmergencyState{State: schema.EmergencyNormal, CooldownUntil: make(map[schema.Trigger]time.Time)},
		history:   make(map[string][]priceSample),
	}
}

// Current implements gate.EmergencyReader.
func (c *Controller) Current() schema.EmergencyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch subscribes to feed for symbol and evaluates flash-crash and
// spread-explosion triggers on every tick until ctx is cancelled.
func (c *Controller) Watch(ctx context.Context, feed monitor.Feed, symbol string) error {
	ticks, err := feed.Subscribe(ctx, symbol)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			c.observe(ctx, t)
		}
	}
}

func (c *Controller) observe(ctx context.Context, t monitor.Tick) {
	price, _ := t.Price.Float64()
	spread, _ := t.Spread.Float64()
	at := time.Unix(0, t.TimestampNs).UTC()

	c.mu.Lock()
	window := append(c.history[t.Symbol], priceSample{at: at, price: price, spread: spread})
	cutoff := at.Add(-time.Hour)
	trimmed := window[:0]
	for _, s := range window {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	c.history[t.Symbol] = trimmed
	c.mu.Unlock()

	if pct, ok := priceMoveWithin(trimmed, c.cfg.FlashCrashWindow, at); ok && pct >= c.cfg.FlashCrashPct {
		c.trigger(ctx, schema.TriggerFlashCrash, schema.EmergencyHedged, "actor:system", t.Symbol)
		return
	}
	if med, ok := medianSpread(trimmed); ok && med > 0 && spread >= med*c.cfg.SpreadMultiplier {
		c.trigger(ctx, schema.TriggerSpreadExplosion, schema.EmergencyHalted, "actor:system", t.Symbol)
	}
}

// ObserveVolatility evaluates the volatility-spike trigger given a
// realized-vol and ATR pair computed upstream (outside the scope of
// the tick feed, since ATR needs OHLC bars, not raw ticks).
func (c *Controller) ObserveVolatility(ctx context.Context, realizedVol, atr20 float64) {
	if atr20 <= 0 {
		return
	}
	if realizedVol >= c.cfg.VolMultiplier*atr20 {
		c.trigger(ctx, schema.TriggerVolatilitySpike, schema.EmergencyHalted, "actor:system", "")
	}
}

// ObserveDrawdown evaluates the portfolio-drawdown trigger.
func (c *Controller) ObserveDrawdown(ctx context.Context, drawdown float64) {
	if drawdown >= c.cfg.DrawdownThreshold {
		c.trigger(ctx, schema.TriggerDrawdownBreach, schema.EmergencyKilled, "actor:system", "")
	}
}

// ManualKill activates the killed state on behalf of an authorized
// actor, bypassing cooldown (manual intervention always wins).
func (c *Controller) ManualKill(ctx context.Context, actor, reason string) error {
	return c.activate(ctx, schema.TriggerManualKill, schema.EmergencyKilled, actor, reason, "")
}

func (c *Controller) trigger(ctx context.Context, trig schema.Trigger, next schema.EmergencyStateKind, actor, symbol string) {
	c.mu.Lock()
	if until, ok := c.state.CooldownUntil[trig]; ok && time.Now().Before(until) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	_ = c.activate(ctx, trig, next, actor, "automatic trigger", symbol)
}

func (c *Controller) activate(ctx context.Context, trig schema.Trigger, next schema.EmergencyStateKind, actor, reason, symbol string) error {
	c.mu.Lock()
	c.state = schema.EmergencyState{
		State:            next,
		Trigger:          trig,
		ActivatorActor:   actor,
		ActivationReason: reason,
		ActivatedAt:      time.Now().UTC(),
		CooldownUntil:    c.state.CooldownUntil,
	}
	c.state.CooldownUntil[trig] = time.Now().Add(c.cfg.Cooldown)
	c.mu.Unlock()

	logs.Infof("emergency: %s triggered by %s (actor=%s) -> %s", trig, reason, actor, next)
	c.emitNode(ctx, trig, next, actor, reason, symbol)
	return c.mitigate(ctx, next, symbol)
}

func (c *Controller) mitigate(ctx context.Context, next schema.EmergencyStateKind, symbol string) error {
	if c.mitigator == nil {
		return nil
	}
	var profileID schema.ProfileID // broadcast: empty means "every profile", resolved by the mitigator binding
	switch next {
	case schema.EmergencyHedged:
		return c.mitigator.HedgeAllOpenPositions(ctx, profileID)
	case schema.EmergencyHalted:
		return c.mitigator.CancelAllLimitOrders(ctx, profileID)
	case schema.EmergencyKilled:
		return c.mitigator.CloseAllPositions(ctx, profileID)
	}
	return nil
}

func (c *Controller) emitNode(ctx context.Context, trig schema.Trigger, next schema.EmergencyStateKind, actor, reason, symbol string) {
	if c.tracker == nil {
		return
	}
	nodeType := schema.NodeEmergencyTriggered
	switch next {
	case schema.EmergencyHedged:
		nodeType = schema.NodeEmergencyHedge
	case schema.EmergencyHalted:
		nodeType = schema.NodeEmergencyHalt
	case schema.EmergencyKilled:
		nodeType = schema.NodeEmergencyKill
	}

	chain := c.tracker.Open(schema.SignalID(""), schema.ProfileID(""))
	_, err := c.tracker.Append(ctx, provenance.AppendInput{
		ChainID: chain.ID,
		Type:    nodeType,
		Source:  "emergency",
		Rationale: reason,
		Output: map[string]any{
			"trigger": trig.String(),
			"actor":   actor,
			"symbol":  symbol,
			"state":   next.String(),
		},
	})
	outcome := schema.OutcomeBlocked
	if next == schema.EmergencyKilled {
		outcome = schema.OutcomeRejected
	}
	c.tracker.Seal(chain.ID, outcome)
	if err != nil {
		logs.Warnf("emergency: failed to record %s node: %v", nodeType, err)
	}
}

// RequestRestore implements killed -> normal, requiring two distinct
// Owner-capable actors within a 5-minute window. The first call parks
// the request; the second, from a different actor within the window,
// commits it.
func (c *Controller) RequestRestore(ctx context.Context, actor string) error {
	c.restoreMu.Lock()
	defer c.restoreMu.Unlock()

	now := time.Now().UTC()
	if c.restoreOne == nil || now.Sub(c.restoreOne.RequestedAt) > 5*time.Minute {
		c.restoreOne = &schema.RestoreRequest{ActorOne: actor, RequestedAt: now}
		return kinds.New(kinds.Validation, "restore_pending_second_actor", "restore recorded, awaiting a second distinct actor within 5 minutes")
	}
	if c.restoreOne.ActorOne == actor {
		return kinds.New(kinds.Validation, "restore_same_actor", "restore requires two distinct actors")
	}

	c.restoreOne.ActorTwo = actor
	actorOne := c.restoreOne.ActorOne
	c.mu.Lock()
	c.state = schema.EmergencyState{State: schema.EmergencyNormal, CooldownUntil: c.state.CooldownUntil}
	c.mu.Unlock()
	c.restoreOne = nil

	chain := c.tracker.Open(schema.SignalID(""), schema.ProfileID(""))
	_, _ = c.tracker.Append(ctx, provenance.AppendInput{
		ChainID: chain.ID,
		Type:    schema.NodeEmergencyRestore,
		Source:  "emergency",
		Output:  map[string]any{"actor_one": actorOne, "actor_two": actor},
	})
	c.tracker.Seal(chain.ID, schema.OutcomeOverridden)
	return nil
}

func priceMoveWithin(window []priceSample, span time.Duration, at time.Time) (float64, bool) {
	if len(window) < 2 {
		return 0, false
	}
	cutoff := at.Add(-span)
	var earliest *priceSample
	for i := range window {
		if window[i].at.After(cutoff) {
			earliest = &window[i]
			break
		}
	}
	if earliest == nil || earliest.price == 0 {
		return 0, false
	}
	latest := window[len(window)-1]
	return absf(latest.price-earliest.price) / earliest.price, true
}

func medianSpread(window []priceSample) (float64, bool) {
	if len(window) == 0 {
		return 0, false
	}
	spreads := make([]float64, len(window))
	for i, s := range window {
		spreads[i] = s.spread
	}
	sortFloats(spreads)
	return spreads[len(spreads)/2], true
}

func sortFloats(s []float64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
