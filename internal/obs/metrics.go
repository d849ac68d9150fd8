// Package obs collects in-process metrics and mirrors them into a
// Prometheus registry, so operators can scrape the same counters the
// gateway keeps for itself.
package obs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nightfield/signalgate/internal/schema"
)

// Metrics collects decision-node counts, risk veto reasons, queue drops,
// and pipeline latency, and keeps a Prometheus registry in sync.
type Metrics struct {
	mu sync.Mutex

	nodeCounts map[schema.NodeType]uint64
	vetoCounts map[schema.VetoReason]uint64
	queueDrops uint64

	signalToDecisionLatency LatencyStats
	riskEvalLatency         LatencyStats
	executionLatency        LatencyStats

	promNodes     *prometheus.CounterVec
	promVetoes    *prometheus.CounterVec
	promQueueDrop prometheus.Counter
	promLatency   *prometheus.HistogramVec
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	NodeCounts              map[schema.NodeType]uint64
	VetoCounts              map[schema.VetoReason]uint64
	QueueDrops              uint64
	SignalToDecisionLatency LatencySnapshot
	RiskEvalLatency         LatencySnapshot
	ExecutionLatency        LatencySnapshot
}

// NewMetrics allocates a metrics container and registers its
// Prometheus collectors against reg. Pass prometheus.NewRegistry() in
// tests to avoid polluting the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodeCounts: make(map[schema.NodeType]uint64),
		vetoCounts: make(map[schema.VetoReason]uint64),
		promNodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_decision_nodes_total",
			Help: "Decision nodes appended, by node type.",
		}, []string{"type"}),
		promVetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_risk_vetoes_total",
			Help: "RiskSizer rejections, by veto reason.",
		}, []string{"reason"}),
		promQueueDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalgate_queue_drops_total",
			Help: "Admitted-signal enqueue attempts dropped due to backpressure.",
		}),
		promLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalgate_stage_latency_seconds",
			Help:    "Pipeline stage latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.promNodes, m.promVetoes, m.promQueueDrop, m.promLatency)
	}
	return m
}

// ObserveNode increments the per-type decision node counter.
func (m *Metrics) ObserveNode(t schema.NodeType) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.nodeCounts[t]++
	m.mu.Unlock()
	m.promNodes.WithLabelValues(string(t)).Inc()
}

// ObserveVeto increments the per-reason risk veto counter.
func (m *Metrics) ObserveVeto(reason schema.VetoReason) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.vetoCounts[reason]++
	m.mu.Unlock()
	m.promVetoes.WithLabelValues(string(reason)).Inc()
}

// IncQueueDrop records a dropped enqueue attempt.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
	m.promQueueDrop.Inc()
}

// ObserveSignalToDecision measures signal-received-to-terminal-node
// latency.
func (m *Metrics) ObserveSignalToDecision(d time.Duration) {
	if m == nil {
		return
	}
	m.signalToDecisionLatency.Observe(d)
	m.promLatency.WithLabelValues("signal_to_decision").Observe(d.Seconds())
}

// ObserveRiskEval measures RiskSizer.Size latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
	m.promLatency.WithLabelValues("risk_eval").Observe(d.Seconds())
}

// ObserveExecution measures Executor submission latency.
func (m *Metrics) ObserveExecution(d time.Duration) {
	if m == nil {
		return
	}
	m.executionLatency.Observe(d)
	m.promLatency.WithLabelValues("execution").Observe(d.Seconds())
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	nodeCounts := make(map[schema.NodeType]uint64, len(m.nodeCounts))
	for k, v := range m.nodeCounts {
		nodeCounts[k] = v
	}
	vetoCounts := make(map[schema.VetoReason]uint64, len(m.vetoCounts))
	for k, v := range m.vetoCounts {
		vetoCounts[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		NodeCounts:              nodeCounts,
		VetoCounts:              vetoCounts,
		QueueDrops:              atomic.LoadUint64(&m.queueDrops),
		SignalToDecisionLatency: m.signalToDecisionLatency.Snapshot(),
		RiskEvalLatency:         m.riskEvalLatency.Snapshot(),
		ExecutionLatency:        m.executionLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
