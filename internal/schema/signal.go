package schema

import (
	"time"

	"github.com/yanun0323/decimal"
)

// Direction is the proposed trade side.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionBuy
	DirectionSell
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "BUY"
	case DirectionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection parses the producer ingress "BUY"/"SELL" literal.
func ParseDirection(s string) Direction {
	switch s {
	case "BUY":
		return DirectionBuy
	case "SELL":
		return DirectionSell
	default:
		return DirectionUnknown
	}
}

// Signal is a trade proposal submitted to the gate. Immutable after
// submission; one signal produces zero or one Position.
type Signal struct {
	ID          SignalID
	ProfileID   ProfileID
	ProducerID  ProducerID
	Symbol      string
	Direction   Direction
	Confidence  float64
	EntryPrice  decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	SubmittedAt time.Time
}

// IdempotencyKey is the (profile, signal) pair guaranteeing at-most-once
// acceptance.
func (s Signal) IdempotencyKey() string {
	return string(s.ProfileID) + ":" + string(s.ID)
}

// StopDistance returns the absolute distance between entry and stop-loss.
func (s Signal) StopDistance() decimal.Decimal {
	return s.EntryPrice.Sub(s.StopLoss).Abs()
}

// TargetDistance returns the absolute distance between entry and take-profit.
func (s Signal) TargetDistance() decimal.Decimal {
	return s.TakeProfit.Sub(s.EntryPrice).Abs()
}

// SideCorrect reports whether the stop-loss and take-profit sit on the
// correct side of the entry price for the signal's direction.
func (s Signal) SideCorrect() bool {
	switch s.Direction {
	case DirectionBuy:
		return s.StopLoss.Cmp(s.EntryPrice) < 0 && s.TakeProfit.Cmp(s.EntryPrice) > 0
	case DirectionSell:
		return s.StopLoss.Cmp(s.EntryPrice) > 0 && s.TakeProfit.Cmp(s.EntryPrice) < 0
	default:
		return false
	}
}
