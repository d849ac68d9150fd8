// Package executor implements Executor: it turns a RiskSizer
// OrderIntent into an executed Position or a reported failure, within
// a bounded time, applying the failure-class retry policy.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"github.com/nightfield/signalgate/internal/broker"
	"github.com/nightfield/signalgate/internal/kinds"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/schema"
)

// FailureClass classifies a submit error for the retry policy table.
type FailureClass int

const (
	FailureNetwork FailureClass = iota
	FailureBrokerReject
	FailureMarketClosed
	FailureDuplicateTicket
	FailureConnectionLost
)

// Classifier maps a raw broker error to its retry-policy class. A real
// implementation inspects the broker's error codes; tests supply a
// fake.
type Classifier func(err error) FailureClass

// Pool is the subset of broker.Pool the Executor depends on.
type Pool interface {
	Acquire(ctx context.Context, profileID schema.ProfileID, openPositions, maxPositionsPerProfile int, timeout time.Duration) (*broker.Session, func(), error)
}

// Executor drives OrderIntent -> Position.
type Executor struct {
	pool       Pool
	tracker    *provenance.Tracker
	classify   Classifier
	maxPerProfile int
}

// New constructs an Executor.
func New(pool Pool, tracker *provenance.Tracker, classify Classifier, maxPositionsPerProfile int) *Executor {
	if classify == nil {
		classify = defaultClassifier
	}
	return &Executor{pool: pool, tracker: tracker, classify: classify, maxPerProfile: maxPositionsPerProfile}
}

// Result is what the Executor produces for one OrderIntent.
type Result struct {
	Position schema.Position
	Node     schema.DecisionNode
}

// Submit drives the full protocol: acquire a session, submit, apply
// the retry policy, and on success write position.opened and seal the
// chain as executed.
func (e *Executor) Submit(ctx context.Context, intent schema.OrderIntent, openPositions int) (Result, error) {
	session, release, err := e.pool.Acquire(ctx, intent.ProfileID, openPositions, e.maxPerProfile, 10*time.Second)
	if err != nil {
		return Result{}, err
	}
	defer release()

	ticket, fillPrice, err := e.attempt(ctx, session, intent)
	if err != nil {
		return e.fail(ctx, intent, err)
	}

	node, appendErr := e.tracker.Append(ctx, provenance.AppendInput{
		ChainID: intent.ChainID,
		Type:    schema.NodePositionOpened,
		Source:  "executor",
		Output: map[string]any{
			"ticket":     ticket,
			"fill_price": fillPrice,
		},
	})
	if appendErr != nil {
		return Result{}, appendErr
	}
	e.tracker.Seal(intent.ChainID, schema.OutcomeExecuted)

	pos := schema.Position{
		Ticket:         ticket,
		ProfileID:      intent.ProfileID,
		Symbol:         intent.Symbol,
		Direction:      intent.Direction,
		Volume:         intent.Volume,
		EntryPrice:     intent.EntryPrice,
		StopLoss:       intent.StopLoss,
		TakeProfit:     intent.TakeProfit,
		CurrentMark:    intent.EntryPrice,
		OriginChainID:  intent.ChainID,
		OriginSignalID: intent.SignalID,
		OpenedAt:       time.Now().UTC(),
	}
	return Result{Position: pos, Node: node}, nil
}

// attempt runs the retry policy table against one submit, using the
// intent's client token for idempotent reconciliation on reconnect.
func (e *Executor) attempt(ctx context.Context, session *broker.Session, intent schema.OrderIntent) (ticket, fillPrice string, err error) {
	ticket, fillPrice, err = session.Submit(ctx, intent)
	if err == nil {
		return ticket, fillPrice, nil
	}

	switch e.classify(err) {
	case FailureNetwork:
		return e.retry(ctx, session, intent, err, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second})
	case FailureConnectionLost:
		if t, found, lookupErr := session.FindByClientToken(ctx, intent.ClientToken); lookupErr == nil && found {
			return t, fillPrice, nil
		}
		return e.retry(ctx, session, intent, err, []time.Duration{2 * time.Second})
	case FailureDuplicateTicket:
		if t, found, lookupErr := session.FindByClientToken(ctx, intent.ClientToken); lookupErr == nil && found {
			return t, fillPrice, nil
		}
		return "", "", err
	default:
		return "", "", err
	}
}

func (e *Executor) retry(ctx context.Context, session *broker.Session, intent schema.OrderIntent, lastErr error, backoff []time.Duration) (string, string, error) {
	for _, delay := range backoff {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(delay):
		}
		ticket, fillPrice, err := session.Submit(ctx, intent)
		if err == nil {
			return ticket, fillPrice, nil
		}
		logs.Warnf("executor: retry failed for chain %s: %v", intent.ChainID, err)
		lastErr = err
	}
	return "", "", lastErr
}

func (e *Executor) fail(ctx context.Context, intent schema.OrderIntent, cause error) (Result, error) {
	nodeType := schema.NodeExecutionFailed
	switch e.classify(cause) {
	case FailureBrokerReject:
		nodeType = schema.NodeExecutionRejected
	case FailureMarketClosed:
		nodeType = schema.NodeExecutionMarketClosed
	}

	_, appendErr := e.tracker.Append(ctx, provenance.AppendInput{
		ChainID: intent.ChainID,
		Type:    nodeType,
		Source:  "executor",
		Output:  map[string]any{"error": cause.Error()},
	})
	if appendErr != nil {
		return Result{}, appendErr
	}
	e.tracker.Seal(intent.ChainID, schema.OutcomeRejected)
	return Result{}, kinds.Wrap(kinds.Transient, string(nodeType), "order submission failed", cause).WithChain(intent.ChainID)
}

func defaultClassifier(err error) FailureClass {
	switch {
	case errors.Is(err, ErrNetworkTimeout):
		return FailureNetwork
	case errors.Is(err, ErrConnectionLost):
		return FailureConnectionLost
	case errors.Is(err, ErrDuplicateTicket):
		return FailureDuplicateTicket
	case errors.Is(err, ErrMarketClosed):
		return FailureMarketClosed
	default:
		return FailureBrokerReject
	}
}

// Sentinel broker-side errors a Classifier can match with errors.Is.
var (
	ErrNetworkTimeout  = errors.New("executor: network timeout")
	ErrConnectionLost  = errors.New("executor: connection lost mid-submit")
	ErrDuplicateTicket = errors.New("executor: duplicate ticket")
	ErrMarketClosed    = errors.New("executor: market closed")
)
