package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sessionsOpenedTotal,
		bidsTotal,
	)
}

var (
	sessionsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ostrid_negotiation_sessions_total",
			Help: "Negotiation sessions opened, by mode (solver/auction).",
		},
		[]string{"mode"},
	)

	bidsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ostrid_bids_total",
			Help: "Auction bids by outcome (recorded/out_of_bounds/rate_limited/rejected).",
		},
		[]string{"outcome"},
	)
)

func IncSessionOpened(mode string) {
	sessionsOpenedTotal.WithLabelValues(norm(mode)).Inc()
}

func IncBid(outcome string) {
	bidsTotal.WithLabelValues(norm(outcome)).Inc()
}
