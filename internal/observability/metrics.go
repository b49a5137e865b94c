package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the agent. All collectors are
// registered on the registry passed to NewMetrics.
type Metrics struct {
	LLMRequests        *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	ToolExecutions     *prometheus.CounterVec
	ToolDuration       *prometheus.HistogramVec
	QueryRejections    *prometheus.CounterVec
	Compactions        *prometheus.CounterVec
	ActiveTurns        prometheus.Gauge
	TurnIterations     prometheus.Histogram
}

// NewMetrics creates and registers the agent metrics on the given registry.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prcopilot",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM completion requests by provider, model and outcome.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prcopilot",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM completion request latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prcopilot",
			Subsystem: "tools",
			Name:      "executions_total",
			Help:      "Tool executions by tool name and outcome.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prcopilot",
			Subsystem: "tools",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"tool"}),

		QueryRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prcopilot",
			Subsystem: "sqlgate",
			Name:      "rejections_total",
			Help:      "SQL queries rejected by the safety gateway, by reason.",
		}, []string{"reason"}),

		Compactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prcopilot",
			Subsystem: "compactor",
			Name:      "runs_total",
			Help:      "Context compaction attempts by outcome.",
		}, []string{"status"}),

		ActiveTurns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "prcopilot",
			Subsystem: "agent",
			Name:      "active_turns",
			Help:      "Turns currently being processed.",
		}),

		TurnIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prcopilot",
			Subsystem: "agent",
			Name:      "turn_iterations",
			Help:      "Generate/execute iterations per completed turn.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}),
	}
}
