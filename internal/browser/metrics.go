package browser

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browser_agent",
		Name:      "actions_total",
		Help:      "Browser actions performed, by action and outcome.",
	}, []string{"action", "outcome"})
	metricActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "browser_agent",
		Name:      "action_duration_seconds",
		Help:      "Wall time of browser actions including navigation waits.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{"action"})
)

func recordAction(action, outcome string, started time.Time) {
	metricActions.WithLabelValues(action, outcome).Inc()
	metricActionDuration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}
