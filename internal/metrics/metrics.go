package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultd_sessions_started_total",
		Help: "Consultation sessions that passed the start guard.",
	})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultd_sessions_ended_total",
		Help: "Consultation sessions ended, by reason.",
	}, []string{"reason"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultd_active_sessions",
		Help: "Sessions currently running.",
	})

	TicksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultd_ticks_processed_total",
		Help: "Metering ticks handled.",
	})

	DeductionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultd_tick_deduction_failures_total",
		Help: "Tick deductions rejected for insufficient funds.",
	})

	TopUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultd_topups_total",
		Help: "Wallet top-ups applied.",
	})
)
