package gateway

import (
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/scheduler"
)

// MetricsSource provides counters for the exporter.
type MetricsSource interface {
	Metrics() scheduler.Metrics
}

// PrometheusExporter formats metrics for Prometheus scraping.
type PrometheusExporter struct {
	source MetricsSource
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// WritePrometheus writes metrics in Prometheus text format to the writer.
// Output is sorted by poller and label so scrapes diff cleanly.
func (e *PrometheusExporter) WritePrometheus(w io.Writer) error {
	m := e.source.Metrics()
	pollers := slices.Sorted(maps.Keys(m.Pollers))

	writeHelp(w, "frankd_ticks_total", "Total poller ticks")
	writeType(w, "frankd_ticks_total", "counter")
	for _, name := range pollers {
		writeCounter(w, "frankd_ticks_total", m.Pollers[name].Ticks, "poller", name)
	}

	writeHelp(w, "frankd_dispatches_total", "Total prompts injected by pollers")
	writeType(w, "frankd_dispatches_total", "counter")
	for _, name := range pollers {
		writeCounter(w, "frankd_dispatches_total", m.Pollers[name].Sent, "poller", name)
	}

	writeHelp(w, "frankd_skips_total", "Total skipped ticks by reason")
	writeType(w, "frankd_skips_total", "counter")
	for _, name := range pollers {
		skipped := m.Pollers[name].Skipped
		// Busy always appears so dashboards can rate() it from zero.
		if _, ok := skipped[string(dispatch.ReasonBusy)]; !ok {
			writeCounter(w, "frankd_skips_total", 0, "poller", name, "reason", string(dispatch.ReasonBusy))
		}
		for _, reason := range slices.Sorted(maps.Keys(skipped)) {
			writeCounter(w, "frankd_skips_total", skipped[reason], "poller", name, "reason", reason)
		}
	}

	writeHelp(w, "frankd_failures_total", "Total failed ticks by reason")
	writeType(w, "frankd_failures_total", "counter")
	for _, name := range pollers {
		errs := m.Pollers[name].Errors
		for _, reason := range slices.Sorted(maps.Keys(errs)) {
			writeCounter(w, "frankd_failures_total", errs[reason], "poller", name, "reason", reason)
		}
	}

	writeHelp(w, "frankd_manual_injections_total", "Total manual injections by result")
	writeType(w, "frankd_manual_injections_total", "counter")
	writeCounter(w, "frankd_manual_injections_total", m.ManualInjections, "result", "ok")
	writeCounter(w, "frankd_manual_injections_total", m.ManualFailures, "result", "failed")

	writeHelp(w, "frankd_processed_issues", "Issues in the dispatch ledger")
	writeType(w, "frankd_processed_issues", "gauge")
	writeGauge(w, "frankd_processed_issues", float64(m.ProcessedIssues))

	writeHelp(w, "frankd_backoff_count", "Consecutive failed issue query rounds")
	writeType(w, "frankd_backoff_count", "gauge")
	writeGauge(w, "frankd_backoff_count", float64(m.BackoffCount))

	writeHelp(w, "frankd_backoff_remaining_seconds", "Seconds until issue queries resume")
	writeType(w, "frankd_backoff_remaining_seconds", "gauge")
	writeGauge(w, "frankd_backoff_remaining_seconds", float64(m.BackoffSeconds))

	return nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_ = NewPrometheusExporter(s.ctrl).WritePrometheus(w)
}

// writeHelp writes a HELP line for a metric.
func writeHelp(w io.Writer, name, help string) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
}

// writeType writes a TYPE line for a metric.
func writeType(w io.Writer, name, metricType string) {
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
}

// writeCounter writes a counter metric line.
func writeCounter(w io.Writer, name string, value int64, labelPairs ...string) {
	if len(labelPairs) == 0 {
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
		return
	}
	_, _ = fmt.Fprintf(w, "%s{%s} %d\n", name, formatLabels(labelPairs), value)
}

// writeGauge writes a gauge metric line.
func writeGauge(w io.Writer, name string, value float64) {
	_, _ = fmt.Fprintf(w, "%s %g\n", name, value)
}

// formatLabels formats label key-value pairs for Prometheus output.
func formatLabels(pairs []string) string {
	var b strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		value := ""
		if i+1 < len(pairs) {
			value = pairs[i+1]
		}
		fmt.Fprintf(&b, "%s=\"%s\"", pairs[i], labelEscaper.Replace(value))
	}
	return b.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
