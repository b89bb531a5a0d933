package daemon

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricNamespace = "flowcal"

var (
	metricsRegistry = prometheus.NewRegistry()

	metricSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "sessions_total",
		Help:      "Measurement sessions by outcome (experiment, offset, error).",
	}, []string{"outcome"})

	metricSessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricNamespace,
		Name:      "session_duration_seconds",
		Help:      "Wall time of measurement sessions, failed ones included.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
	})

	metricConsoleLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "console_lines_total",
		Help:      "Console lines by direction (received, sent).",
	}, []string{"direction"})

	metricExperiments = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      "experiments",
		Help:      "Experiments currently stored.",
	}, func() float64 {
		if dataset == nil {
			return 0
		}
		return float64(dataset.Len())
	})

	metricLinkConnected = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      "link_connected",
		Help:      "1 while the serial link is open.",
	}, func() float64 {
		if linkMu.TryLock() {
			defer linkMu.Unlock()
			if conn != nil && conn.IsConnected() {
				return 1
			}
			return 0
		}
		// a session holds the link, so it is open
		return 1
	})
)

func init() {
	metricsRegistry.MustRegister(
		metricSessions,
		metricSessionDuration,
		metricConsoleLines,
		metricExperiments,
		metricLinkConnected,
	)
}

func serveMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
}
