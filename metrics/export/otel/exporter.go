package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/metrics/export/internaldefs"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() sca.MetricsSnapshot
	AuditDropped() uint64
}

// latencyGauges mirror one engine histogram. Observable instruments cannot
// carry explicit buckets, so each cumulative bucket is its own gauge.
type latencyGauges struct {
	id      sca.MetricID
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	sum     metric.Float64ObservableGauge
}

// OTelExporter publishes metric snapshots through observable instruments.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     map[sca.MetricID]metric.Int64ObservableCounter
	latencies    []latencyGauges
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *sca.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[sca.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = ins
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		g, err := newLatencyGauges(meter, def)
		if err != nil {
			return nil, err
		}
		e.latencies = append(e.latencies, g)
		observables = append(observables, g.observables()...)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDropped.Name,
		metric.WithDescription(internaldefs.AuditDropped.Help))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(e.collect, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func newLatencyGauges(meter metric.Meter, def internaldefs.Def) (latencyGauges, error) {
	g := latencyGauges{id: def.ID, buckets: make([]metric.Int64ObservableGauge, len(internaldefs.Buckets))}
	for i, bucket := range internaldefs.Buckets {
		name := def.Name + "_bucket_le_" + bucket.Suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
		if err != nil {
			return g, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
		}
		g.buckets[i] = ins
	}

	var err error
	if g.count, err = meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count.")); err != nil {
		return g, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
	}
	if g.sum, err = meter.Float64ObservableGauge(def.Name+"_sum", metric.WithDescription(def.Help+" Total seconds."), metric.WithUnit("s")); err != nil {
		return g, fmt.Errorf("create histogram sum gauge %s: %w", def.Name, err)
	}
	return g, nil
}

func (g latencyGauges) observables() []metric.Observable {
	out := make([]metric.Observable, 0, len(g.buckets)+2)
	for _, b := range g.buckets {
		out = append(out, b)
	}
	return append(out, g.count, g.sum)
}

func (e *OTelExporter) collect(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		observer.ObserveInt64(ins, int64(snapshot.Counters[id]))
	}
	for _, g := range e.latencies {
		cumulative := internaldefs.Cumulative(snapshot.Histograms[g.id])
		for i, ins := range g.buckets {
			observer.ObserveInt64(ins, int64(cumulative[i]))
		}
		observer.ObserveInt64(g.count, int64(cumulative[len(cumulative)-1]))
		observer.ObserveFloat64(g.sum, snapshot.Sums[g.id].Seconds())
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
