package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightfield/signalgate/internal/schema"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func TestObserveNodeCountsByType(t *testing.T) {
	m := newTestMetrics()
	m.ObserveNode(schema.NodeSignalReceived)
	m.ObserveNode(schema.NodeSignalReceived)
	m.ObserveNode(schema.NodeRiskApproved)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.NodeCounts[schema.NodeSignalReceived])
	assert.Equal(t, uint64(1), snap.NodeCounts[schema.NodeRiskApproved])
}

func TestObserveVetoCountsByReason(t *testing.T) {
	m := newTestMetrics()
	m.ObserveVeto(schema.VetoMaxPositions)
	m.ObserveVeto(schema.VetoMaxPositions)
	m.ObserveVeto(schema.VetoDrawdownHalt)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.VetoCounts[schema.VetoMaxPositions])
	assert.Equal(t, uint64(1), snap.VetoCounts[schema.VetoDrawdownHalt])
}

func TestIncQueueDropIsCumulative(t *testing.T) {
	m := newTestMetrics()
	m.IncQueueDrop()
	m.IncQueueDrop()
	m.IncQueueDrop()

	assert.Equal(t, uint64(3), m.Snapshot().QueueDrops)
}

func TestLatencySnapshotTracksMinMaxAvg(t *testing.T) {
	m := newTestMetrics()
	m.ObserveRiskEval(10 * time.Millisecond)
	m.ObserveRiskEval(30 * time.Millisecond)
	m.ObserveRiskEval(20 * time.Millisecond)

	snap := m.Snapshot().RiskEvalLatency
	require.Equal(t, uint64(3), snap.Count)
	assert.Equal(t, 10*time.Millisecond, snap.Min)
	assert.Equal(t, 30*time.Millisecond, snap.Max)
	assert.Equal(t, 20*time.Millisecond, snap.Avg)
}

func TestNegativeDurationObservationIsIgnored(t *testing.T) {
	m := newTestMetrics()
	m.ObserveExecution(-5 * time.Millisecond)
	assert.Equal(t, uint64(0), m.Snapshot().ExecutionLatency.Count)
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	// All exported methods must tolerate a nil receiver so callers can
	// pass a nil *Metrics when metrics are disabled.
	m.ObserveNode(schema.NodeSignalReceived)
	m.ObserveVeto(schema.VetoMaxPositions)
	m.IncQueueDrop()
	m.ObserveSignalToDecision(time.Millisecond)
	m.ObserveRiskEval(time.Millisecond)
	m.ObserveExecution(time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.QueueDrops)
	assert.Empty(t, snap.NodeCounts)
}
