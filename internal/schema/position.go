package schema

import (
	"time"

	"github.com/yanun0323/decimal"
)

// Position is an opened market exposure. Mutated only by BrokerPool
// reconciliation or by Executor close operations. Destroyed (archived)
// on close.
type Position struct {
	Ticket         string
	ProfileID      ProfileID
	Symbol         string
	Direction      Direction
	Volume         decimal.Decimal
	EntryPrice     decimal.Decimal
	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal
	CurrentMark    decimal.Decimal
	OriginChainID  ChainID
	OriginSignalID SignalID
	OpenedAt       time.Time
	ClosedAt       time.Time
	Closed         bool
}

// UnrealizedPnL returns the mark-to-market profit or loss given the
// position's direction and current mark.
func (p Position) UnrealizedPnL() decimal.Decimal {
	diff := p.CurrentMark.Sub(p.EntryPrice)
	if p.Direction == DirectionSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Volume)
}

// RiskAmount returns the position's capital at risk: the distance from
// entry to stop-loss times volume.
func (p Position) RiskAmount() decimal.Decimal {
	return p.EntryPrice.Sub(p.StopLoss).Abs().Mul(p.Volume)
}
