package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "market_research_sessions_started_total",
			Help: "Total number of research sessions started",
		},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_research_sessions_finished_total",
			Help: "Total number of research sessions by outcome",
		},
		[]string{"outcome"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "market_research_sessions_active",
			Help: "Number of research sessions currently registered",
		},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_research_session_duration_seconds",
			Help:    "Research session duration by outcome",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"outcome"},
	)

	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_research_tool_invocations_total",
			Help: "Tool invocations observed in agent runs, by category",
		},
		[]string{"category"},
	)

	ExtractionStrategy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_research_extraction_strategy_total",
			Help: "Report extraction outcomes by winning strategy",
		},
		[]string{"strategy"},
	)

	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_research_render_duration_seconds",
			Help:    "PDF render duration by result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

// Session outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeDegraded  = "degraded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeAbandoned = "abandoned"
)

func RecordSessionStart() {
	SessionsStarted.Inc()
	SessionsActive.Inc()
}

func RecordSessionEnd(outcome string, elapsed time.Duration) {
	SessionsActive.Dec()
	SessionsFinished.WithLabelValues(outcome).Inc()
	SessionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func RecordTool(category string) {
	ToolInvocations.WithLabelValues(category).Inc()
}

func RecordExtraction(strategy string) {
	ExtractionStrategy.WithLabelValues(strategy).Inc()
}

func RecordRender(err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	RenderDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}
