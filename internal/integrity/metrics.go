package integrity

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatewarden/pkg/manifest"
)

// Metrics exposes verification results in Prometheus format. At boot they
// are written once to a node-exporter textfile; the watch sidecar serves
// them over HTTP. A nil *Metrics ignores observations.
type Metrics struct {
	registry *prometheus.Registry

	files    *prometheus.CounterVec
	passes   *prometheus.CounterVec
	entries  prometheus.Gauge
	tampered prometheus.Gauge
	lastRun  prometheus.Gauge
}

// NewMetrics creates the integrity metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewarden_integrity_files_total",
				Help: "Files examined by integrity passes, by outcome",
			},
			[]string{"outcome"},
		),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewarden_integrity_passes_total",
				Help: "Integrity passes run, by kind",
			},
			[]string{"kind"},
		),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewarden_integrity_manifest_entries",
			Help: "Entries in the integrity manifest after the last pass",
		}),
		tampered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewarden_integrity_tampered_entries",
			Help: "Manifest entries currently flagged TAMPERED",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewarden_integrity_last_run_timestamp_seconds",
			Help: "Unix time the last integrity pass finished",
		}),
	}

	m.registry.MustRegister(m.files, m.passes, m.entries, m.tampered, m.lastRun)

	for _, o := range Outcomes {
		m.files.WithLabelValues(o.String())
	}
	for _, kind := range []string{"bootstrap", "verify", "retrust"} {
		m.passes.WithLabelValues(kind)
	}
	return m
}

// Observe counts the report's results and refreshes the manifest gauges.
func (m *Metrics) Observe(report *Report, snapshot *manifest.Manifest) {
	if m == nil || report == nil {
		return
	}

	kind := "verify"
	switch {
	case report.Bootstrap:
		kind = "bootstrap"
	case len(report.Results) == 1 && report.Results[0].Outcome == OutcomeRetrusted:
		kind = "retrust"
	}
	m.passes.WithLabelValues(kind).Inc()

	for _, res := range report.Results {
		m.files.WithLabelValues(res.Outcome.String()).Inc()
	}

	if snapshot != nil {
		flagged := 0
		for _, e := range snapshot.Entries() {
			if e.Tampered() {
				flagged++
			}
		}
		m.entries.Set(float64(snapshot.Len()))
		m.tampered.Set(float64(flagged))
	}
	if !report.FinishedAt.IsZero() {
		m.lastRun.Set(float64(report.FinishedAt.Unix()))
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile atomically writes the metrics to path for the node-exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
