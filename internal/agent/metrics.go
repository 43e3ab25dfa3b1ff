package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browser_agent",
		Name:      "turns_total",
		Help:      "Planner turns, by result.",
	}, []string{"result"})
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browser_agent",
		Name:      "runs_total",
		Help:      "Finished runs, by terminal phase.",
	}, []string{"phase"})
)
