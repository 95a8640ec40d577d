package metrics_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentcore/metrics"
)

func findCounter(snap metrics.Snapshot, name string) (metrics.CounterPoint, bool) {
	for _, c := range snap.Counters {
		if c.Name == name {
			return c, true
		}
	}
	return metrics.CounterPoint{}, false
}

func findHistogram(snap metrics.Snapshot, name string) (metrics.HistogramPoint, bool) {
	for _, h := range snap.Histograms {
		if h.Name == name {
			return h, true
		}
	}
	return metrics.HistogramPoint{}, false
}

func TestIncCounterAccumulatesAndDropsNegativeDeltas(t *testing.T) {
	c := metrics.New()
	c.IncCounter("requests_total", nil, 1)
	c.IncCounter("requests_total", nil, 2)
	c.IncCounter("requests_total", nil, -5) // must be a no-op, not a decrement

	point, ok := findCounter(c.Snapshot(), "requests_total")
	require.True(t, ok)
	assert.Equal(t, int64(3), point.Value)
}

func TestCounterLabelOrderDoesNotFragmentSeries(t *testing.T) {
	c := metrics.New()
	c.IncCounter("requests_total", metrics.Labels{"agent": "a1", "status": "ok"}, 1)
	c.IncCounter("requests_total", metrics.Labels{"status": "ok", "agent": "a1"}, 1)

	snap := c.Snapshot()
	require.Len(t, snap.Counters, 1, "same labels in different argument order must address the same series")
	assert.Equal(t, int64(2), snap.Counters[0].Value)
}

func TestDistinctLabelsProduceDistinctSeries(t *testing.T) {
	c := metrics.New()
	c.IncCounter("requests_total", metrics.Labels{"agent": "a1"}, 1)
	c.IncCounter("requests_total", metrics.Labels{"agent": "a2"}, 1)

	snap := c.Snapshot()
	assert.Len(t, snap.Counters, 2)
}

func TestSetGaugeOverwritesPreviousValue(t *testing.T) {
	c := metrics.New()
	c.SetGauge("queue_depth", nil, 5)
	c.SetGauge("queue_depth", nil, 2)

	snap := c.Snapshot()
	require.Len(t, snap.Gauges, 1)
	assert.Equal(t, float64(2), snap.Gauges[0].Value)
}

func TestObserveBucketsCumulativelyLikePrometheus(t *testing.T) {
	c := metrics.New()
	c.DeclareBuckets("latency_seconds", []float64{0.1, 0.5, 1})
	c.Observe("latency_seconds", nil, 0.05)
	c.Observe("latency_seconds", nil, 0.3)
	c.Observe("latency_seconds", nil, 2.0)

	point, ok := findHistogram(c.Snapshot(), "latency_seconds")
	require.True(t, ok)
	require.Equal(t, []float64{0.1, 0.5, 1}, point.Buckets)
	// cumulative: <=0.1 -> 1, <=0.5 -> 2, <=1 -> 2, +Inf -> 3
	assert.Equal(t, []uint64{1, 2, 2, 3}, point.Counts)
	assert.Equal(t, uint64(3), point.Count)
	assert.InDelta(t, 2.35, point.Sum, 1e-9)
}

func TestDeclareBucketsWithInvalidBoundsFallsBackToDefaults(t *testing.T) {
	var buf []string
	logger := &capturingLogger{out: &buf}
	c := metrics.New(metrics.WithLogger(logger))

	c.DeclareBuckets("bad_metric", []float64{})
	c.Observe("bad_metric", nil, 1)

	point, ok := findHistogram(c.Snapshot(), "bad_metric")
	require.True(t, ok)
	assert.Equal(t, metrics.DefaultHistogramBuckets, point.Buckets)
	require.Len(t, buf, 1, "an invalid bucket declaration must be logged exactly once")

	// A second bad declaration for the same metric must not log again.
	c.DeclareBuckets("bad_metric", []float64{})
	assert.Len(t, buf, 1)
}

func TestTimerStopIsIdempotent(t *testing.T) {
	c := metrics.New()
	timer := c.StartTimer("op_seconds", nil)

	first := timer.Stop()
	second := timer.Stop()

	assert.NotZero(t, first)
	assert.Zero(t, second, "Stop must be a no-op after the first call")

	point, ok := findHistogram(c.Snapshot(), "op_seconds")
	require.True(t, ok)
	assert.Equal(t, uint64(1), point.Count)
}

func TestSnapshotIsIndependentOfFurtherMutation(t *testing.T) {
	c := metrics.New()
	c.IncCounter("requests_total", nil, 1)

	snap := c.Snapshot()
	c.IncCounter("requests_total", nil, 1)

	point, ok := findCounter(snap, "requests_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), point.Value, "a previously taken snapshot must not see later mutations")
}

func TestConcurrentIncCounterIsRaceFree(t *testing.T) {
	c := metrics.New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncCounter("hits", nil, 1)
		}()
	}
	wg.Wait()

	point, ok := findCounter(c.Snapshot(), "hits")
	require.True(t, ok)
	assert.Equal(t, int64(100), point.Value)
}

// capturingLogger is a minimal logging.Logger test double that records Warn
// messages so the bad-bucket logged-once behavior can be asserted.
type capturingLogger struct {
	out *[]string
}

func (l *capturingLogger) Debug(msg string, fields map[string]interface{}) {}
func (l *capturingLogger) Info(msg string, fields map[string]interface{})  {}
func (l *capturingLogger) Warn(msg string, fields map[string]interface{}) {
	*l.out = append(*l.out, msg)
}
func (l *capturingLogger) Error(msg string, fields map[string]interface{}) {}

func (l *capturingLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (l *capturingLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (l *capturingLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (l *capturingLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
