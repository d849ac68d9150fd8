package risk

import (
	"github.com/yanun0323/decimal"

	"github.com/nightfield/signalgate/internal/schema"
)

// kellyFraction computes f = (p·b − q) / b from the signal's confidence
// (p), the implied loss probability (q = 1 − p), and the payoff ratio
// (b, take-profit distance over stop-loss distance). The result is
// scaled by kelly_scale and clipped to [0, max_risk_per_trade_fraction].
func kellyFraction(signal schema.Signal, cfg Config) float64 {
	if signal.Confidence < cfg.KellyMinConfidence {
		return 0
	}

	stop, _ := signal.StopDistance().Float64()
	target, _ := signal.TargetDistance().Float64()
	if stop <= 0 || target <= 0 {
		return 0
	}

	b := target / stop
	p := signal.Confidence
	q := 1 - p

	f := (p*b - q) / b
	scale := cfg.KellyScale
	if scale <= 0 {
		scale = 1
	}
	f *= scale

	if f < 0 {
		return 0
	}
	maxFrac := cfg.MaxRiskPerTradeFraction
	if maxFrac <= 0 {
		maxFrac = 1
	}
	if f > maxFrac {
		return maxFrac
	}
	return f
}

// volumeFromFraction converts a risk fraction of equity into a volume
// given the signal's stop distance: volume = (equity * fraction) /
// stopDistance, i.e. the size whose loss at the stop equals the risked
// capital.
func volumeFromFraction(fraction float64, equity decimal.Decimal, stopDistance decimal.Decimal) decimal.Decimal {
	if fraction <= 0 || stopDistance.IsZero() {
		return decimal.NewFromInt(0)
	}
	riskCapital := equity.Mul(decimal.NewFromFloat(fraction))
	return riskCapital.Div(stopDistance)
}

// applyCVaRCap reduces fraction until the portfolio's projected CVaR at
// the configured confidence level fits within max_cvar_fraction of
// equity, or reports failure if no positive fraction satisfies the
// bound. It uses a simple proportional scale-down: CVaR scales roughly
// linearly with position size for a single added exposure, so halving
// the size approximately halves its marginal contribution.
func (e *Engine) applyCVaRCap(snapshot schema.ProfileSnapshot, signal schema.Signal, fraction float64, cfg Config) (float64, bool) {
	returns := snapshot.RollingReturns[signal.Symbol]
	if len(returns) < 2 {
		return fraction, true
	}

	baseCVaR := historicalCVaR(returns, cfg.CVaRConfidence)
	if baseCVaR <= 0 {
		return fraction, true
	}

	for i := 0; i < 8; i++ {
		projected := baseCVaR * fraction
		if projected <= cfg.MaxCVaRFraction {
			return fraction, true
		}
		fraction /= 2
		if fraction < 1e-6 {
			return 0, false
		}
	}
	return 0, false
}
