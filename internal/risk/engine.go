// Package risk implements RiskSizer: it turns an admitted signal into a
// sized OrderIntent or vetoes it, applying Kelly sizing, a CVaR cap,
// hard per-trade/position caps, drawdown policy, and correlation vetoes
// in the fixed order the specification defines.
package risk

import (
	"context"
	"fmt"

	"github.com/yanun0323/logs"

	"github.com/nightfield/signalgate/internal/kinds"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/schema"
)

// Engine is RiskSizer. It is pure with respect to its inputs: identical
// (signal, snapshot) produce identical outputs. Global config is
// read-mostly; per-call state lives entirely in the snapshot and the
// call stack.
type Engine struct {
	cfg     Config
	history *breachHistory
}

// New constructs a RiskSizer engine from the gateway-wide config.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, history: newBreachHistory(200)}, nil
}

// Result is the outcome of sizing one signal.
type Result struct {
	Intent    schema.OrderIntent
	Veto      *schema.Veto
	RaiseHalt bool // set when drawdown breached the halt threshold
	Node      schema.DecisionNode
}

// BreachHistory returns the retained CVaR breach history for operator
// diagnostics.
func (e *Engine) BreachHistory() []BreachRecord {
	return e.history.Records()
}

// Size runs the six-step algorithm against a signal and a profile
// snapshot, appending exactly one terminal decision node to chainID via
// tracker.
func (e *Engine) Size(ctx context.Context, tracker *provenance.Tracker, chainID schema.ChainID, signal schema.Signal, snapshot schema.ProfileSnapshot) (Result, error) {
	cfg := e.cfg.merge(snapshot.Profile.RiskConfig)
	equity := snapshot.Profile.Equity

	// Step 1: Kelly fraction.
	kellyF := kellyFraction(signal, cfg)
	if kellyF <= 0 {
		return e.reject(ctx, tracker, chainID, schema.VetoKellyZero, "kelly fraction clipped to zero", map[string]any{
			"confidence": signal.Confidence,
		})
	}

	requestedVolume := volumeFromFraction(kellyF, equity, signal.StopDistance())

	// Step 2: CVaR cap.
	finalFraction := kellyF
	cvarFrac, cvarOK := e.applyCVaRCap(snapshot, signal, finalFraction, cfg)
	if !cvarOK {
		e.history.record(BreachRecord{
			ProfileID: string(snapshot.Profile.ID),
			Symbol:    signal.Symbol,
			CVaR:      cvarFrac,
			Limit:     cfg.MaxCVaRFraction,
		})
		return e.reject(ctx, tracker, chainID, schema.VetoCVaRExceeded, "no positive size satisfies the cvar cap", map[string]any{
			"cvar_fraction": cvarFrac,
			"limit":         cfg.MaxCVaRFraction,
		})
	}
	reducedByCVaR := cvarFrac < finalFraction
	finalFraction = cvarFrac

	// Step 3: hard caps.
	if len(snapshot.OpenPositions) >= cfg.MaxPositions {
		return e.reject(ctx, tracker, chainID, schema.VetoMaxPositions, "open position count at cap", map[string]any{
			"open_positions": len(snapshot.OpenPositions),
			"max_positions":  cfg.MaxPositions,
		})
	}
	if finalFraction > cfg.MaxRiskPerTradeFraction {
		finalFraction = cfg.MaxRiskPerTradeFraction
		reducedByCVaR = true
	}

	// Step 4: drawdown policy.
	if snapshot.Drawdown >= cfg.DDHaltThreshold {
		return e.rejectWithHalt(ctx, tracker, chainID, schema.VetoDrawdownHalt, "drawdown at or beyond halt threshold", map[string]any{
			"drawdown":  snapshot.Drawdown,
			"threshold": cfg.DDHaltThreshold,
		})
	}
	reducedByDrawdown := false
	if snapshot.Drawdown >= cfg.DDReduceThreshold {
		finalFraction /= 2
		reducedByDrawdown = true
	}

	// Step 5: correlation policy.
	cluster := clusterOf(signal.Symbol)
	clusterCount := 0
	for _, p := range snapshot.OpenPositions {
		if clusterOf(p.Symbol) == cluster {
			clusterCount++
		}
		if rho := pearson(snapshot.RollingReturns[signal.Symbol], snapshot.RollingReturns[p.Symbol]); absf(rho) > cfg.MaxCorrelation {
			return e.reject(ctx, tracker, chainID, schema.VetoCorrelation, "rolling correlation exceeds max_correlation", map[string]any{
				"symbol":      p.Symbol,
				"correlation": rho,
				"limit":       cfg.MaxCorrelation,
			})
		}
	}
	if cfg.MaxPositionsPerCluster > 0 && clusterCount >= cfg.MaxPositionsPerCluster {
		return e.reject(ctx, tracker, chainID, schema.VetoCorrelationCluster, "cluster position count at cap", map[string]any{
			"cluster":      cluster,
			"cluster_open": clusterCount,
			"limit":        cfg.MaxPositionsPerCluster,
		})
	}

	finalVolume := volumeFromFraction(finalFraction, equity, signal.StopDistance())
	if finalVolume.IsZero() || finalVolume.IsNegative() {
		return e.reject(ctx, tracker, chainID, schema.VetoRiskPerTrade, "sized volume rounds to zero", nil)
	}

	intent := schema.OrderIntent{
		ChainID:         chainID,
		SignalID:        signal.ID,
		ProfileID:       signal.ProfileID,
		Symbol:          signal.Symbol,
		Direction:       signal.Direction,
		Volume:          finalVolume,
		RequestedVolume: requestedVolume,
		EntryPrice:      signal.EntryPrice,
		StopLoss:        signal.StopLoss,
		TakeProfit:      signal.TakeProfit,
		ClientToken:     fmt.Sprintf("%s:%s", chainID, signal.ID),
	}

	// Step 6: emit exactly one terminal node.
	reduced := reducedByCVaR || reducedByDrawdown
	nodeType := schema.NodeRiskApproved
	rationale := "sized within all risk bounds"
	if reduced {
		nodeType = schema.NodeRiskReduced
		rationale = "size reduced by risk policy before approval"
	}

	node, err := tracker.Append(ctx, provenance.AppendInput{
		ChainID:    chainID,
		Type:       nodeType,
		Source:     "risk",
		Rationale:  rationale,
		Confidence: signal.Confidence,
		Input: map[string]any{
			"kelly_fraction": kellyF,
			"requested":      requestedVolume.String(),
		},
		Output: map[string]any{
			"final_volume": finalVolume.String(),
			"reduced":      reduced,
		},
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Intent: intent, Node: node}, nil
}

func (e *Engine) reject(ctx context.Context, tracker *provenance.Tracker, chainID schema.ChainID, reason schema.VetoReason, detail string, input map[string]any) (Result, error) {
	node, err := tracker.Append(ctx, provenance.AppendInput{
		ChainID:   chainID,
		Type:      schema.NodeRiskRejected,
		Source:    "risk",
		Rationale: detail,
		Input:     input,
		Output:    map[string]any{"reason": string(reason)},
	})
	if err != nil {
		return Result{}, err
	}
	logs.Infof("risk: chain %s rejected: %s (%s)", chainID, reason, detail)
	return Result{Veto: &schema.Veto{Reason: reason, Detail: detail}, Node: node}, kinds.New(kinds.RiskRejected, string(reason), detail).WithChain(chainID)
}

func (e *Engine) rejectWithHalt(ctx context.Context, tracker *provenance.Tracker, chainID schema.ChainID, reason schema.VetoReason, detail string, input map[string]any) (Result, error) {
	result, err := e.reject(ctx, tracker, chainID, reason, detail, input)
	result.RaiseHalt = true
	return result, err
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
