package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/congo-pay/wallet-core/internal/apperr"
)

var (
	// OperationsTotal counts Account Manager operations by name and outcome kind.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_core",
			Name:      "wallet_operations_total",
			Help:      "Total wallet operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration observes operation latency by name.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wallet_core",
			Name:      "wallet_operation_duration_seconds",
			Help:      "Wallet operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	// ReconciliationMismatches counts wallets whose ledger replay disagreed with stored balances.
	ReconciliationMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wallet_core",
			Name:      "reconciliation_mismatches_total",
			Help:      "Wallets whose replayed ledger did not match stored balances.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OperationsTotal,
		OperationDuration,
		ReconciliationMismatches,
	)
}

// observeOp returns a function that records the outcome and duration of op.
func observeOp(op string) func(err error) {
	start := time.Now()
	return func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.KindOf(err))
		}
		OperationsTotal.WithLabelValues(op, outcome).Inc()
		OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
