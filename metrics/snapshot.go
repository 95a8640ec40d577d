package metrics

// Snapshot is a point-in-time, independent copy of every registered series,
// per §4.1: "A registry query returns a snapshot; snapshots are point-in-time
// and independent of further mutation."
type Snapshot struct {
	Counters   []CounterPoint
	Gauges     []GaugePoint
	Histograms []HistogramPoint
}

// CounterPoint is one counter series at snapshot time.
type CounterPoint struct {
	Name   string
	Labels Labels
	Value  int64
}

// GaugePoint is one gauge series at snapshot time.
type GaugePoint struct {
	Name   string
	Labels Labels
	Value  float64
}

// HistogramPoint is one histogram series at snapshot time: bucket upper
// bounds paired with their cumulative observation counts (Prometheus-style
// "less-than-or-equal" semantics), plus the running sum and total count.
type HistogramPoint struct {
	Name    string
	Labels  Labels
	Buckets []float64 // ascending upper bounds; the implicit +Inf bucket is Counts[len(Buckets)]
	Counts  []uint64  // cumulative count of observations <= Buckets[i]; last entry is the +Inf bucket
	Sum     float64
	Count   uint64
}

// Snapshot returns an independent copy of every metric series currently
// registered. Mutating the Collector afterward never affects the returned
// value.
func (c *Collector) Snapshot() Snapshot {
	var snap Snapshot

	c.counters.Range(func(_, v interface{}) bool {
		cs := v.(*counterSeries)
		snap.Counters = append(snap.Counters, CounterPoint{
			Name:   cs.name,
			Labels: cloneLabels(cs.labels),
			Value:  atomicLoad(&cs.value),
		})
		return true
	})

	c.gauges.Range(func(_, v interface{}) bool {
		gs := v.(*gaugeSeries)
		snap.Gauges = append(snap.Gauges, GaugePoint{
			Name:   gs.name,
			Labels: cloneLabels(gs.labels),
			Value:  gs.get(),
		})
		return true
	})

	c.histograms.Range(func(_, v interface{}) bool {
		hs := v.(*histogramSeries)
		hs.mu.Lock()
		buckets := append([]float64(nil), hs.buckets...)
		counts := append([]uint64(nil), hs.counts...)
		sum := hs.sum
		total := hs.total
		hs.mu.Unlock()

		// Report cumulative counts (Prometheus convention) rather than the
		// per-bucket deltas kept internally.
		cumulative := make([]uint64, len(counts))
		var running uint64
		for i, n := range counts {
			running += n
			cumulative[i] = running
		}

		snap.Histograms = append(snap.Histograms, HistogramPoint{
			Name:    hs.name,
			Labels:  cloneLabels(hs.labels),
			Buckets: buckets,
			Counts:  cumulative,
			Sum:     sum,
			Count:   total,
		})
		return true
	})

	return snap
}
