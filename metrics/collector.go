// Package metrics implements the MetricsCollector component (spec.md §4.1,
// C1): concurrency-safe counters, gauges, and histograms keyed by name plus a
// canonicalized (sorted) label set, with wait-free updates on the fast path
// for counters and gauges. It is grounded on the teacher's
// telemetry.MetricInstruments cached-instrument pattern and
// telemetry.CardinalityLimiter's sync.Map-per-series idiom, generalized from
// OpenTelemetry's write-only instruments to a registry that also supports
// point-in-time Snapshot() reads.
package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/agentcore/logging"
)

// DefaultHistogramBuckets are the default bucket boundaries applied to a
// histogram series on its first observation, per §6's
// metrics.default_histogram_buckets.
var DefaultHistogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Collector is the concrete MetricsCollector. The zero value is not usable;
// construct with New.
type Collector struct {
	logger logging.Logger

	counters   sync.Map // seriesKey -> *counterSeries
	gauges     sync.Map // seriesKey -> *gaugeSeries
	histograms sync.Map // seriesKey -> *histogramSeries

	bucketsOnce sync.Map // metric name -> []float64, set on first observe or via DeclareBuckets

	badBucketLogged sync.Map // metric name -> struct{}, logged-once guard
}

// Option configures a Collector at construction time.
type Option func(*Collector)

// WithLogger attaches a logger used only for the "never surface errors"
// failure path (§4.1: a misconfigured bucket boundary is logged once).
func WithLogger(logger logging.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs an empty Collector.
func New(opts ...Option) *Collector {
	c := &Collector{logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Labels is an unordered name/value label set. Two Labels with the same
// key/value pairs address the same series regardless of argument order, per
// §4.1's canonicalization rule.
type Labels map[string]string

// seriesKey canonicalizes name+labels by sorting keys, so callers can't
// accidentally fragment a series by passing labels in a different order.
func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('\x1f')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// cloneLabels returns a defensive copy so a Snapshot's labels can't be
// mutated by a caller still holding the map they passed in.
func cloneLabels(labels Labels) Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// counterSeries is a monotonic, wait-free counter. §8 invariant 4: the
// observed sequence of values is monotonically non-decreasing, so Inc clamps
// negative deltas to a no-op rather than ever decreasing the total.
type counterSeries struct {
	name   string
	labels Labels
	value  int64 // atomic
}

// gaugeSeries holds an arbitrary real value, stored as its IEEE-754 bits
// with an atomic store since sync/atomic has no float64 type.
type gaugeSeries struct {
	name   string
	labels Labels
	bits   uint64 // atomic, math.Float64bits(value)
}

func (g *gaugeSeries) set(v float64) {
	atomic.StoreUint64(&g.bits, math.Float64bits(v))
}

func (g *gaugeSeries) get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

// histogramSeries buckets observations under a per-series mutex ("per-shard
// latch" in spec.md §5 terms — each histogram series is its own shard).
type histogramSeries struct {
	name    string
	labels  Labels
	mu      sync.Mutex
	buckets []float64 // ascending upper bounds, +Inf implicit
	counts  []uint64  // len(buckets)+1, counts[i] = observations in (buckets[i-1], buckets[i]]; last = +Inf bucket
	sum     float64
	total   uint64
}

func newHistogramSeries(name string, labels Labels, buckets []float64) *histogramSeries {
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)
	return &histogramSeries{
		name:    name,
		labels:  labels,
		buckets: b,
		counts:  make([]uint64, len(b)+1),
	}
}

func (h *histogramSeries) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.total++
	idx := sort.SearchFloat64s(h.buckets, v)
	// SearchFloat64s returns the insertion point for v among ascending upper
	// bounds; any index up to and including len(buckets) is a valid bucket
	// since the last slot is the implicit +Inf bucket.
	if idx > len(h.buckets) {
		idx = len(h.buckets)
	}
	h.counts[idx]++
}

// IncCounter adds delta to the named counter. A zero delta adds nothing;
// negative deltas are dropped to preserve the monotonic-non-decreasing
// invariant.
func (c *Collector) IncCounter(name string, labels Labels, delta int64) {
	if delta < 0 {
		return
	}
	key := seriesKey(name, labels)
	v, _ := c.counters.LoadOrStore(key, &counterSeries{name: name, labels: cloneLabels(labels)})
	cs := v.(*counterSeries)
	atomic.AddInt64(&cs.value, delta)
}

// SetGauge sets the named gauge to value.
func (c *Collector) SetGauge(name string, labels Labels, value float64) {
	key := seriesKey(name, labels)
	v, _ := c.gauges.LoadOrStore(key, &gaugeSeries{name: name, labels: cloneLabels(labels)})
	gs := v.(*gaugeSeries)
	gs.set(value)
}

// DeclareBuckets pre-registers bucket boundaries for name before any
// observation arrives, per §4.1 ("buckets MAY be declared in advance").
func (c *Collector) DeclareBuckets(name string, buckets []float64) {
	if !validBuckets(buckets) {
		c.logBadBucketsOnce(name)
		buckets = DefaultHistogramBuckets
	}
	c.bucketsOnce.Store(name, buckets)
}

// Observe records value into the named histogram, creating it with the
// default (or previously declared) bucket set on first use.
func (c *Collector) Observe(name string, labels Labels, value float64) {
	key := seriesKey(name, labels)
	v, loaded := c.histograms.Load(key)
	if !loaded {
		buckets := DefaultHistogramBuckets
		if declared, ok := c.bucketsOnce.Load(name); ok {
			buckets = declared.([]float64)
		}
		newSeries := newHistogramSeries(name, cloneLabels(labels), buckets)
		actual, _ := c.histograms.LoadOrStore(key, newSeries)
		v = actual
	}
	v.(*histogramSeries).observe(value)
}

func validBuckets(buckets []float64) bool {
	if len(buckets) == 0 {
		return false
	}
	for _, b := range buckets {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return false
		}
	}
	return true
}

func (c *Collector) logBadBucketsOnce(name string) {
	if _, already := c.badBucketLogged.LoadOrStore(name, struct{}{}); already {
		return
	}
	c.logger.Warn("ignoring invalid histogram bucket boundaries, falling back to defaults", map[string]interface{}{
		"metric": name,
	})
}

// Timer is returned by StartTimer; closing it (Stop) records the elapsed
// duration, in seconds, into the matching histogram.
type Timer struct {
	collector *Collector
	name      string
	labels    Labels
	start     time.Time
	stopped   int32
}

// StartTimer begins timing an operation; the caller MUST call Stop exactly
// once. Stop is idempotent beyond the first call to guard against double-close
// bugs silently double-counting a latency sample.
func (c *Collector) StartTimer(name string, labels Labels) *Timer {
	return &Timer{collector: c, name: name, labels: labels, start: time.Now()}
}

// Stop records elapsed time since StartTimer into the histogram, in seconds.
func (t *Timer) Stop() time.Duration {
	if !atomic.CompareAndSwapInt32(&t.stopped, 0, 1) {
		return 0
	}
	elapsed := time.Since(t.start)
	t.collector.Observe(t.name, t.labels, elapsed.Seconds())
	return elapsed
}
