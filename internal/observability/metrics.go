package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	Turns            *prometheus.CounterVec
	TurnFailures     *prometheus.CounterVec
	DroppedOps       *prometheus.CounterVec
	SessionsExpired  prometheus.Counter
	Submissions      *prometheus.CounterVec
	ProviderRetries  *prometheus.CounterVec
	TurnDuration     prometheus.Histogram
	ProviderRequests *prometheus.HistogramVec
	EstimatedCostUSD prometheus.Counter

	turnWindow *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live intake sessions.",
		}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by input mode.",
		}, []string{"mode"}),
		TurnFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_failures_total",
			Help:      "Failed turns by pipeline stage.",
		}, []string{"stage"}),
		DroppedOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_ops_total",
			Help:      "Extraction operations rejected during sanitization, by reason.",
		}, []string{"reason"}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions reaped after exceeding their idle TTL.",
		}),
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Record submissions by outcome.",
		}, []string{"outcome"}),
		ProviderRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Provider call retries by operation.",
		}, []string{"op"}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13},
		}),
		ProviderRequests: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_seconds",
			Help:      "Provider request latency in seconds by operation.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"op"}),
		EstimatedCostUSD: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_cost_usd_total",
			Help:      "Estimated provider spend in US dollars.",
		}),
		turnWindow: newTurnStageWindow(512),
	}
}

func (m *Metrics) ObserveTurnDuration(d time.Duration) {
	m.TurnDuration.Observe(d.Seconds())
}

// ObserveTurnStage feeds the rolling window served at /api/perf/turns.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil || m.turnWindow == nil {
		return
	}
	m.turnWindow.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveTurnIndicator(name string) {
	if m == nil || m.turnWindow == nil {
		return
	}
	m.turnWindow.ObserveIndicator(name)
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil || m.turnWindow == nil {
		return TurnStageSnapshot{}
	}
	return m.turnWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
