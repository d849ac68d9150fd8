package schema

import (
	"time"

	"github.com/yanun0323/decimal"
)

// ConnectionState mirrors the profile's broker session state as observed
// by SignalGate's check 5 (profile state). The authoritative state machine
// lives in the broker package; this is the last-known snapshot.
type ConnectionState uint8

const (
	ConnectionUnknown ConnectionState = iota
	ConnectionDisconnected
	ConnectionConnecting
	ConnectionHealthy
	ConnectionDegraded
)

// Profile is a tenant's broker account binding. Created by admin action;
// destroyed only by admin. Lifetime exceeds any single signal.
type Profile struct {
	ID              ProfileID
	BrokerCredsRef  string // opaque reference into the credentials vault
	Equity          decimal.Decimal
	TradingEnabled  bool
	Connection      ConnectionState
	RiskConfig      RiskConfig
	CreatedAt       time.Time
	OpenPositionIDs []string
}

// RiskConfig is the per-profile override of the gateway-wide risk
// configuration. Zero fields fall back to the global configuration.
type RiskConfig struct {
	MaxPositions             int
	MaxRiskPerTradeFraction  float64
	MaxTotalRiskFraction     float64
	MaxCVaRFraction          float64
	DDReduceThreshold        float64
	DDHaltThreshold          float64
	KellyScale               float64
	KellyMinConfidence       float64
	MaxCorrelation           float64
	MaxPositionsPerCluster   int
}

// ProfileSnapshot is the consistent, point-in-time view of profile state
// RiskSizer reads at entry. Concurrent updates to the live profile take
// effect only on the next signal.
type ProfileSnapshot struct {
	Profile          Profile
	OpenPositions    []Position
	PeakEquity       decimal.Decimal
	Drawdown         float64 // fraction of PeakEquity lost, in [0,1]
	RollingReturns   map[string][]float64
}
