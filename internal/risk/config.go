package risk

import (
	"fmt"

	"github.com/nightfield/signalgate/internal/schema"
)

// Config is the typed risk configuration record; see the gateway-wide
// options list for the full recognized set. Zero-valued fields on a
// per-profile override fall back to these.
type Config struct {
	MaxPositions            int
	MaxRiskPerTradeFraction float64
	MaxTotalRiskFraction    float64
	MaxCVaRFraction         float64
	DDReduceThreshold       float64
	DDHaltThreshold         float64
	KellyScale              float64
	KellyMinConfidence      float64
	MaxCorrelation          float64
	MaxPositionsPerCluster  int
	CVaRConfidence          float64
	CVaRLookback            int
}

// DefaultConfig mirrors the defaults named in the configuration design
// notes.
func DefaultConfig() Config {
	return Config{
		MaxPositions:            2,
		MaxRiskPerTradeFraction: 0.02,
		MaxTotalRiskFraction:    0.06,
		MaxCVaRFraction:         0.05,
		DDReduceThreshold:       0.10,
		DDHaltThreshold:         0.15,
		KellyScale:              0.15,
		KellyMinConfidence:      0.55,
		MaxCorrelation:          0.70,
		MaxPositionsPerCluster:  1,
		CVaRConfidence:          0.95,
		CVaRLookback:            60,
	}
}

// Validate rejects configurations outside sane bounds.
func (c Config) Validate() error {
	if c.MaxPositions <= 0 {
		return fmt.Errorf("risk: max_positions must be > 0")
	}
	if c.MaxRiskPerTradeFraction <= 0 || c.MaxRiskPerTradeFraction > 1 {
		return fmt.Errorf("risk: max_risk_per_trade_fraction out of range")
	}
	if c.MaxCVaRFraction <= 0 || c.MaxCVaRFraction > 1 {
		return fmt.Errorf("risk: max_cvar_fraction out of range")
	}
	if c.DDHaltThreshold <= c.DDReduceThreshold {
		return fmt.Errorf("risk: dd_halt_threshold must exceed dd_reduce_threshold")
	}
	if c.MaxCorrelation < 0 || c.MaxCorrelation > 1 {
		return fmt.Errorf("risk: max_correlation out of range")
	}
	return nil
}

// merge applies a profile-level RiskConfig override on top of the
// gateway-wide config: a zero field on override means "inherit".
func (c Config) merge(o schema.RiskConfig) Config {
	override := Config{
		MaxPositions:            o.MaxPositions,
		MaxRiskPerTradeFraction: o.MaxRiskPerTradeFraction,
		MaxTotalRiskFraction:    o.MaxTotalRiskFraction,
		MaxCVaRFraction:         o.MaxCVaRFraction,
		DDReduceThreshold:       o.DDReduceThreshold,
		DDHaltThreshold:         o.DDHaltThreshold,
		KellyScale:              o.KellyScale,
		KellyMinConfidence:      o.KellyMinConfidence,
		MaxCorrelation:          o.MaxCorrelation,
		MaxPositionsPerCluster:  o.MaxPositionsPerCluster,
	}
	out := c
	if override.MaxPositions != 0 {
		out.MaxPositions = override.MaxPositions
	}
	if override.MaxRiskPerTradeFraction != 0 {
		out.MaxRiskPerTradeFraction = override.MaxRiskPerTradeFraction
	}
	if override.MaxTotalRiskFraction != 0 {
		out.MaxTotalRiskFraction = override.MaxTotalRiskFraction
	}
	if override.MaxCVaRFraction != 0 {
		out.MaxCVaRFraction = override.MaxCVaRFraction
	}
	if override.DDReduceThreshold != 0 {
		out.DDReduceThreshold = override.DDReduceThreshold
	}
	if override.DDHaltThreshold != 0 {
		out.DDHaltThreshold = override.DDHaltThreshold
	}
	if override.KellyScale != 0 {
		out.KellyScale = override.KellyScale
	}
	if override.KellyMinConfidence != 0 {
		out.KellyMinConfidence = override.KellyMinConfidence
	}
	if override.MaxCorrelation != 0 {
		out.MaxCorrelation = override.MaxCorrelation
	}
	if override.MaxPositionsPerCluster != 0 {
		out.MaxPositionsPerCluster = override.MaxPositionsPerCluster
	}
	return out
}
