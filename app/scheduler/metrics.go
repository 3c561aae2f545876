package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_executions_total",
		Help: "Schedule executions by schedule type and outcome",
	}, []string{"type", "outcome"})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_execution_duration_seconds",
		Help:    "Wall time of one schedule execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_sends_total",
		Help: "Per-recipient send attempts by result",
	}, []string{"result"})

	pollTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_poll_ticks_total",
		Help: "Poller wake-ups since process start",
	})

	dueSchedules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_due_schedules",
		Help: "Due schedules found by the last poll tick",
	})

	triggerFiringsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_trigger_firings_total",
		Help: "Trigger firing lifecycle events by outcome",
	}, []string{"outcome"})
)
