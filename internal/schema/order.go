package schema

import "github.com/yanun0323/decimal"

// OrderIntent is the output of RiskSizer: a signal with a concrete
// volume, ready for Executor.
type OrderIntent struct {
	ChainID        ChainID
	SignalID       SignalID
	ProfileID      ProfileID
	Symbol         string
	Direction      Direction
	Volume         decimal.Decimal
	RequestedVolume decimal.Decimal
	EntryPrice     decimal.Decimal
	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal
	ClientToken    string // idempotency token for in-flight submits
}

// VetoReason names the predicate that caused RiskSizer to reject a
// signal outright.
type VetoReason string

const (
	VetoKellyZero           VetoReason = "kelly_zero"
	VetoCVaRExceeded        VetoReason = "cvar_exceeded"
	VetoMaxPositions        VetoReason = "max_positions"
	VetoRiskPerTrade        VetoReason = "risk_per_trade"
	VetoDrawdownHalt        VetoReason = "drawdown_halt"
	VetoCorrelation         VetoReason = "correlation"
	VetoCorrelationCluster  VetoReason = "correlation_cluster"
)

// Veto is returned by RiskSizer in place of an OrderIntent when the
// signal is rejected.
type Veto struct {
	Reason VetoReason
	Detail string
}
