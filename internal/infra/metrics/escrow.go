package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		escrowOpsTotal,
		ledgerRetriesTotal,
		escrowVolumeMicros,
	)
}

var (
	escrowOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ostrid_escrow_ops_total",
			Help: "Escrow operations by op (lock/confirm/release/revert) and status.",
		},
		[]string{"op", "status"},
	)

	ledgerRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ostrid_ledger_retries_total",
			Help: "Ledger calls retried after a transient failure.",
		},
	)

	escrowVolumeMicros = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ostrid_escrow_volume_micros",
			Help: "Escrowed settlement-token volume in micro-units, by outcome.",
		},
		[]string{"outcome"}, // locked/released/reverted
	)
)

func IncEscrowOp(op, status string) {
	escrowOpsTotal.WithLabelValues(norm(op), norm(status)).Inc()
}

func IncLedgerRetry() { ledgerRetriesTotal.Inc() }

func AddEscrowVolume(outcome string, amountMicros int64) {
	escrowVolumeMicros.WithLabelValues(norm(outcome)).Add(float64(amountMicros))
}
