package prometheus

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() sca.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine and middleware metrics in Prometheus text
// exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from engine.
func NewPrometheusExporter(engine *sca.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter over any
// snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, p.Render())
	})
}

// Render returns the current metrics. Disabled metrics render as an empty string.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var w textWriter
	w.Grow(8192)
	for _, def := range internaldefs.CounterDefs {
		w.family(def, "counter")
		w.sample(def.Name, "", strconv.FormatUint(snapshot.Counters[def.ID], 10))
	}
	for _, def := range internaldefs.HistogramDefs {
		w.histogram(def, snapshot)
	}
	w.family(internaldefs.AuditDropped, "counter")
	w.sample(internaldefs.AuditDropped.Name, "", strconv.FormatUint(dropped, 10))

	return w.String()
}

type textWriter struct {
	strings.Builder
}

func (w *textWriter) family(def internaldefs.Def, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", def.Name, escapeHelp(def.Help), def.Name, kind)
}

func (w *textWriter) sample(name, labels, value string) {
	w.WriteString(name)
	w.WriteString(labels)
	w.WriteByte(' ')
	w.WriteString(value)
	w.WriteByte('\n')
}

func (w *textWriter) histogram(def internaldefs.Def, snapshot sca.MetricsSnapshot) {
	w.family(def, "histogram")
	cumulative := internaldefs.Cumulative(snapshot.Histograms[def.ID])
	for i, bucket := range internaldefs.Buckets {
		w.sample(def.Name+"_bucket", `{le="`+bucket.Le+`"}`, strconv.FormatUint(cumulative[i], 10))
	}
	w.sample(def.Name+"_sum", "", strconv.FormatFloat(snapshot.Sums[def.ID].Seconds(), 'g', -1, 64))
	w.sample(def.Name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
