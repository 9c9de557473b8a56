package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsByState,
		jobTransitionsTotal,
		jobsCancelledTotal,
	)
}

var (
	jobsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ostrid_jobs_by_state",
			Help: "Current number of task jobs per lifecycle state.",
		},
		[]string{"state"},
	)

	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ostrid_job_transitions_total",
			Help: "Lifecycle transitions taken, labeled by target state.",
		},
		[]string{"to"},
	)

	jobsCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ostrid_jobs_cancelled_total",
			Help: "Cancelled jobs by reason.",
		},
		[]string{"reason"},
	)
)

func SetJobsInState(state string, n int) {
	jobsByState.WithLabelValues(norm(state)).Set(float64(n))
}

func IncJobTransition(to string) {
	jobTransitionsTotal.WithLabelValues(norm(to)).Inc()
}

func IncJobCancelled(reason string) {
	jobsCancelledTotal.WithLabelValues(norm(reason)).Inc()
}
