package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sandevgo/recall/internal/core"
)

const namespace = "recall"

// Metrics groups all Prometheus instruments of the memory engine.
type Metrics struct {
	StageLatency      *prometheus.HistogramVec
	Turns             *prometheus.CounterVec
	PromptTokens      prometheus.Histogram
	CompletionTokens  prometheus.Counter
	Cost              prometheus.Counter
	DegradedLayers    *prometheus.CounterVec
	SemanticMatches   prometheus.Histogram
	EnrichmentPending prometheus.Gauge
	EnrichmentErrors  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Latency of orchestration stages in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"step"}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Handled turns by final state.",
		}, []string{"state"}),
		PromptTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Assembled prompt size in tokens.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		CompletionTokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_tokens_total",
			Help:      "Completion tokens reported by the model.",
		}),
		Cost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated model spend in USD.",
		}),
		DegradedLayers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_layers_total",
			Help:      "Memory layers served degraded, by layer.",
		}, []string{"layer"}),
		SemanticMatches: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "semantic_matches",
			Help:      "Semantic records injected per prompt.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		EnrichmentPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enrichment_pending",
			Help:      "Post-response enrichment tasks not finished yet.",
		}),
		EnrichmentErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_errors_total",
			Help:      "Failed enrichment tasks by task.",
		}, []string{"task"}),
	}
}

// ObserveTrace records a finished request. Nil receivers are allowed.
func (m *Metrics) ObserveTrace(trace *core.ObservabilityTrace, completionTokens int) {
	if m == nil || trace == nil {
		return
	}
	for _, s := range trace.RequestTrace.Steps {
		m.StageLatency.WithLabelValues(s.Name).Observe(s.LatencyMs)
	}
	for _, layer := range trace.Degraded {
		m.DegradedLayers.WithLabelValues(layer).Inc()
	}
	m.Turns.WithLabelValues(trace.State).Inc()

	if trace.TokenUsage.Total > 0 {
		m.PromptTokens.Observe(float64(trace.TokenUsage.Total))
		m.SemanticMatches.Observe(float64(len(trace.Semantic.RelevantMemories)))
	}
	if completionTokens > 0 {
		m.CompletionTokens.Add(float64(completionTokens))
	}
	if trace.TokenUsage.Cost > 0 {
		m.Cost.Add(trace.TokenUsage.Cost)
	}
}

func (m *Metrics) EnrichmentStarted() {
	if m != nil {
		m.EnrichmentPending.Inc()
	}
}

func (m *Metrics) EnrichmentFinished() {
	if m != nil {
		m.EnrichmentPending.Dec()
	}
}

func (m *Metrics) EnrichmentFailed(task string) {
	if m != nil {
		m.EnrichmentErrors.WithLabelValues(task).Inc()
	}
}
