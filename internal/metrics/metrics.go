// Package metrics exports pipeline counters and latencies to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slidegen"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	extractions    *prometheus.CounterVec
	generations    *prometheus.CounterVec
	llmDuration    prometheus.Histogram
	imageFetches   *prometheus.CounterVec
	renderDuration prometheus.Histogram
	renderFailures prometheus.Counter
}

// MustNewMetrics creates and registers all collectors, panicking on a
// registration conflict. A nil registerer means the default one.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMetrics creates and registers all collectors. Collectors that are
// already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Uploaded documents processed, by detected format and outcome.",
		}, []string{"format", "status"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Presentations generated, by fallback reason (none for AI content).",
		}, []string{"reason"}),
		llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of AI backend completion requests.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		imageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_fetches_total",
			Help:      "Slide image downloads, by outcome.",
		}, []string{"status"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent building PDF documents.",
			Buckets:   prometheus.DefBuckets,
		}),
		renderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_failures_total",
			Help:      "PDF builds that failed.",
		}),
	}

	var err error
	if m.extractions, err = register(reg, m.extractions); err != nil {
		return nil, err
	}
	if m.generations, err = register(reg, m.generations); err != nil {
		return nil, err
	}
	if m.llmDuration, err = register(reg, m.llmDuration); err != nil {
		return nil, err
	}
	if m.imageFetches, err = register(reg, m.imageFetches); err != nil {
		return nil, err
	}
	if m.renderDuration, err = register(reg, m.renderDuration); err != nil {
		return nil, err
	}
	if m.renderFailures, err = register(reg, m.renderFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// ObserveExtraction counts one upload. status is "ok", "unsupported" or "error".
func (m *Metrics) ObserveExtraction(format, status string) {
	if m == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	m.extractions.WithLabelValues(format, status).Inc()
}

// ObserveGeneration counts one generation by fallback reason.
func (m *Metrics) ObserveGeneration(reason string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(reason).Inc()
}

// ObserveLLM records the latency of one completion request.
func (m *Metrics) ObserveLLM(d time.Duration) {
	if m == nil {
		return
	}
	m.llmDuration.Observe(d.Seconds())
}

// ObserveImageFetch counts one image fetch by status.
func (m *Metrics) ObserveImageFetch(status string) {
	if m == nil {
		return
	}
	m.imageFetches.WithLabelValues(status).Inc()
}

// ObserveRender records one PDF build and counts it as failed when err is set.
func (m *Metrics) ObserveRender(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(d.Seconds())
	if err != nil {
		m.renderFailures.Inc()
	}
}
