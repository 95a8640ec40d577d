package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelExporter mirrors Collector snapshots into an injected OpenTelemetry
// Meter, caching one instrument per series name exactly like the teacher's
// telemetry.MetricInstruments (double-checked locking over a map keyed by
// metric name). This is purely an additional export sink: the Collector's
// own counters/gauges/histograms remain the source of truth and this path is
// never on the hot update loop.
type OTelExporter struct {
	meter      metric.Meter
	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewOTelExporter wraps meter for use with Collector.ExportOTel.
func NewOTelExporter(meter metric.Meter) *OTelExporter {
	return &OTelExporter{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Export pushes a Snapshot's series into the OTel meter. It is best-effort:
// instrument-creation errors are reported as one error carrying their count
// and wrapping the first, never panicked on, so a
// misbehaving exporter can't take down the caller's metrics path.
func (e *OTelExporter) Export(ctx context.Context, snap Snapshot) error {
	var errs []error

	for _, c := range snap.Counters {
		inst, err := e.counterFor(c.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		inst.Add(ctx, c.Value, metric.WithAttributes(attrsFor(c.Labels)...))
	}

	for _, g := range snap.Gauges {
		inst, err := e.gaugeFor(g.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		inst.Record(ctx, g.Value, metric.WithAttributes(attrsFor(g.Labels)...))
	}

	for _, h := range snap.Histograms {
		inst, err := e.histogramFor(h.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if h.Count > 0 {
			inst.Record(ctx, h.Sum/float64(h.Count), metric.WithAttributes(attrsFor(h.Labels)...))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("otel export: %d instrument errors, first: %w", len(errs), errs[0])
}

func attrsFor(labels Labels) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func (e *OTelExporter) counterFor(name string) (metric.Int64Counter, error) {
	e.mu.RLock()
	inst, ok := e.counters[name]
	e.mu.RUnlock()
	if ok {
		return inst, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, ok = e.counters[name]; ok {
		return inst, nil
	}
	inst, err := e.meter.Int64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", name, err)
	}
	e.counters[name] = inst
	return inst, nil
}

func (e *OTelExporter) gaugeFor(name string) (metric.Float64Gauge, error) {
	e.mu.RLock()
	inst, ok := e.gauges[name]
	e.mu.RUnlock()
	if ok {
		return inst, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, ok = e.gauges[name]; ok {
		return inst, nil
	}
	inst, err := e.meter.Float64Gauge(name)
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", name, err)
	}
	e.gauges[name] = inst
	return inst, nil
}

func (e *OTelExporter) histogramFor(name string) (metric.Float64Histogram, error) {
	e.mu.RLock()
	inst, ok := e.histograms[name]
	e.mu.RUnlock()
	if ok {
		return inst, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, ok = e.histograms[name]; ok {
		return inst, nil
	}
	inst, err := e.meter.Float64Histogram(name)
	if err != nil {
		return nil, fmt.Errorf("create histogram %s: %w", name, err)
	}
	e.histograms[name] = inst
	return inst, nil
}

// ExportOTel snapshots the collector and forwards it to exporter.
func (c *Collector) ExportOTel(ctx context.Context, exporter *OTelExporter) error {
	return exporter.Export(ctx, c.Snapshot())
}
