// Package prometheus renders SCA metrics in Prometheus text exposition format.
//
// Counters are named sca_*_total and latency histograms sca_*_latency_seconds.
// Callers mount [PrometheusExporter.Handler]; nothing is registered globally.
package prometheus
