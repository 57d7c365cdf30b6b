package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CycleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mev_cycle_seconds",
		Help:    "Time to complete one allocator decision cycle",
		Buckets: prometheus.DefBuckets,
	})

	OppsConsidered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mev_opportunities_considered_total",
		Help: "Scored opportunities handed to the allocator",
	})

	OppsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mev_opportunities_dispatched_total",
		Help: "Opportunities dispatched to the executor",
	})

	OppsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mev_opportunities_skipped_total",
		Help: "Opportunities rejected before dispatch",
	}, []string{"reason"})

	ScoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mev_score_errors_total",
		Help: "Events the scorer rejected",
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mev_open_positions",
		Help: "Currently open positions",
	})

	Exits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mev_position_exits_total",
		Help: "Position exits by close reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		CycleLatency,
		OppsConsidered,
		OppsDispatched,
		OppsSkipped,
		ScoreErrors,
		OpenPositions,
		Exits,
	)
}
