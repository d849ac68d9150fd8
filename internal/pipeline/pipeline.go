// Package pipeline is the thin glue wiring SignalGate's admitted
// signals through RiskSizer and Executor per profile, propagating
// cancellation and backpressure between the stages. It folds in what
// was once a standalone package-doc stub describing the event
// lifecycle: signal -> gate -> risk -> executor -> position, each
// transition a decision node on one hash-chained record.
package pipeline

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"github.com/nightfield/signalgate/internal/bus"
	"github.com/nightfield/signalgate/internal/executor"
	"github.com/nightfield/signalgate/internal/gate"
	"github.com/nightfield/signalgate/internal/obs"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/risk"
	"github.com/nightfield/signalgate/internal/schema"
)

// SnapshotReader builds the point-in-time profile view RiskSizer reads
// at entry.
type SnapshotReader interface {
	Snapshot(ctx context.Context, profileID schema.ProfileID, candidateSymbol string) (schema.ProfileSnapshot, error)
}

// Config bounds the pipeline's timeouts and backpressure thresholds.
type Config struct {
	SignalTimeout        time.Duration // default 30s end-to-end budget
	ExecutorHighWaterMark int          // Executor queue depth at which process seals the chain rejected (pipeline.timeout); RiskSizer consumption is not paused
}

// DefaultConfig returns the default 30s signal-to-execution budget.
func DefaultConfig() Config {
	return Config{SignalTimeout: 30 * time.Second, ExecutorHighWaterMark: 32}
}

// Pipeline owns one worker per profile, each draining that profile's
// gate queue in FIFO order.
type Pipeline struct {
	cfg       Config
	gate      *gate.Gate
	risk      *risk.Engine
	executor  *executor.Executor
	snapshots SnapshotReader
	tracker   *provenance.Tracker
	metrics   *obs.Metrics

	execQueues map[schema.ProfileID]*bus.Queue[schema.OrderIntent]
}

// New constructs a Pipeline wired to its stage collaborators.
func New(cfg Config, g *gate.Gate, r *risk.Engine, e *executor.Executor, snapshots SnapshotReader, tracker *provenance.Tracker, metrics *obs.Metrics) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		gate:       g,
		risk:       r,
		executor:   e,
		snapshots:  snapshots,
		tracker:    tracker,
		metrics:    metrics,
		execQueues: make(map[schema.ProfileID]*bus.Queue[schema.OrderIntent]),
	}
}

// RunProfile drains the gate's admitted-signal queue for one profile
// until ctx is cancelled, feeding each through RiskSizer then
// Executor. Call once per active profile, typically from a supervisor
// goroutine per profile.
func (p *Pipeline) RunProfile(ctx context.Context, profileID schema.ProfileID) {
	queue := p.gate.Queue(profileID)
	queue.Run(ctx, func(admitted gate.AdmittedSignal) {
		p.process(ctx, admitted)
	})
}

func (p *Pipeline) process(parent context.Context, admitted gate.AdmittedSignal) {
	ctx, cancel := context.WithTimeout(parent, p.cfg.SignalTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveSignalToDecision(time.Since(start))
		}
	}()

	if execQueue := p.execQueueFor(admitted.Signal.ProfileID); execQueue.Len() >= p.cfg.ExecutorHighWaterMark {
		logs.Warnf("pipeline: profile %s executor backpressure at %d, rejecting signal", admitted.Signal.ProfileID, execQueue.Len())
		p.timeout(ctx, admitted.ChainID)
		return
	}

	snapshot, err := p.snapshots.Snapshot(ctx, admitted.Signal.ProfileID, admitted.Signal.Symbol)
	if err != nil {
		logs.Errorf("pipeline: snapshot failed for chain %s: %v", admitted.ChainID, err)
		p.timeout(ctx, admitted.ChainID)
		return
	}

	riskStart := time.Now()
	result, err := p.risk.Size(ctx, p.tracker, admitted.ChainID, admitted.Signal, snapshot)
	if p.metrics != nil {
		p.metrics.ObserveRiskEval(time.Since(riskStart))
	}
	if err != nil {
		if p.metrics != nil && result.Veto != nil {
			p.metrics.ObserveVeto(result.Veto.Reason)
		}
		if result.RaiseHalt {
			logs.Warnf("pipeline: chain %s breached drawdown halt threshold, emergency escalation required", admitted.ChainID)
		}
		return
	}

	if ctx.Err() != nil {
		p.timeout(ctx, admitted.ChainID)
		return
	}

	execStart := time.Now()
	openPositions := len(snapshot.OpenPositions)
	if _, err := p.executor.Submit(ctx, result.Intent, openPositions); err != nil {
		logs.Warnf("pipeline: execution failed for chain %s: %v", admitted.ChainID, err)
	}
	if p.metrics != nil {
		p.metrics.ObserveExecution(time.Since(execStart))
	}
}

func (p *Pipeline) execQueueFor(profileID schema.ProfileID) *bus.Queue[schema.OrderIntent] {
	q, ok := p.execQueues[profileID]
	if !ok {
		q = bus.NewQueue[schema.OrderIntent](p.cfg.ExecutorHighWaterMark * 2)
		p.execQueues[profileID] = q
	}
	return q
}

func (p *Pipeline) timeout(ctx context.Context, chainID schema.ChainID) {
	if p.tracker == nil {
		return
	}
	_, err := p.tracker.Append(ctx, provenance.AppendInput{
		ChainID: chainID,
		Type:    schema.NodePipelineTimeout,
		Source:  "pipeline",
	})
	if err != nil {
		logs.Warnf("pipeline: failed to record timeout node for chain %s: %v", chainID, err)
	}
	p.tracker.Seal(chainID, schema.OutcomeRejected)
}
