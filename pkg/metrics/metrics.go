// Package metrics exposes Prometheus counters and histograms for the four
// components (binary manager, model manager, diffusion server, orchestrator),
// collected centrally and served over /metrics by the composition root.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Tracker is the process-wide metrics registry handed to each component by
// the composition root, through NewServer for the diffusion server and
// SetTracker for the others (spec §9: no package-level singletons). A zero Tracker is not
// usable; construct with NewTracker.
type Tracker struct {
	reg *prometheus.Registry

	GenerationsTotal     *prometheus.CounterVec
	GenerationDuration    *prometheus.HistogramVec
	OffloadsTotal        prometheus.Counter
	ReloadFailuresTotal  prometheus.Counter
	BinaryValidations    *prometheus.CounterVec
	ModelDownloadsTotal  *prometheus.CounterVec
	ModelDownloadBytes   prometheus.Counter
}

// NewTracker constructs a Tracker and registers its collectors against a
// fresh registry.
func NewTracker() *Tracker {
	reg := prometheus.NewRegistry()

	t := &Tracker{
		reg: reg,
		GenerationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genforge",
			Subsystem: "diffusion",
			Name:      "generations_total",
			Help:      "Count of completed generation jobs by terminal status.",
		}, []string{"status"}),
		GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "genforge",
			Subsystem: "diffusion",
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock duration of one generation job.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"status"}),
		OffloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genforge",
			Subsystem: "orchestrator",
			Name:      "offloads_total",
			Help:      "Count of LLM-offload-for-diffusion events.",
		}),
		ReloadFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genforge",
			Subsystem: "orchestrator",
			Name:      "reload_failures_total",
			Help:      "Count of LLM reloads that failed after the retry.",
		}),
		BinaryValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genforge",
			Subsystem: "binaries",
			Name:      "validations_total",
			Help:      "Count of binary variant validation attempts by outcome.",
		}, []string{"kind", "variant", "outcome"}),
		ModelDownloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genforge",
			Subsystem: "models",
			Name:      "downloads_total",
			Help:      "Count of model download attempts by outcome.",
		}, []string{"outcome"}),
		ModelDownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genforge",
			Subsystem: "models",
			Name:      "download_bytes_total",
			Help:      "Total bytes fetched across all model downloads.",
		}),
	}

	reg.MustRegister(
		t.GenerationsTotal,
		t.GenerationDuration,
		t.OffloadsTotal,
		t.ReloadFailuresTotal,
		t.BinaryValidations,
		t.ModelDownloadsTotal,
		t.ModelDownloadBytes,
	)

	return t
}

// Registry returns the underlying Prometheus registry for mounting a
// /metrics handler at the composition root.
func (t *Tracker) Registry() *prometheus.Registry {
	return t.reg
}

// ObserveGeneration records one completed generation's outcome and duration.
func (t *Tracker) ObserveGeneration(status string, seconds float64) {
	t.GenerationsTotal.WithLabelValues(status).Inc()
	t.GenerationDuration.WithLabelValues(status).Observe(seconds)
}

// ObserveOffload records one LLM-offload event triggered ahead of a
// diffusion job.
func (t *Tracker) ObserveOffload() {
	t.OffloadsTotal.Inc()
}

// ObserveReloadFailure records an LLM reload that failed after the retry.
func (t *Tracker) ObserveReloadFailure() {
	t.ReloadFailuresTotal.Inc()
}

// ObserveBinaryValidation records one binary variant validation attempt.
func (t *Tracker) ObserveBinaryValidation(kind, variant, outcome string) {
	t.BinaryValidations.WithLabelValues(kind, variant, outcome).Inc()
}

// ObserveModelDownload records one model download attempt and, on success,
// the bytes transferred.
func (t *Tracker) ObserveModelDownload(outcome string, bytes int64) {
	t.ModelDownloadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		t.ModelDownloadBytes.Add(float64(bytes))
	}
}
