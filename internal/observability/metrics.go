package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	LedgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome",
		},
		[]string{"operation", "status"},
	)

	LedgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	Investments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investments_total",
			Help: "Investment attempts by outcome",
		},
		[]string{"outcome"},
	)

	DividendPayments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dividend_payments_total",
			Help: "Dividend payments by status",
		},
		[]string{"status"},
	)

	SigningEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signing_events_total",
			Help: "Signature reconciliation facts by event and outcome",
		},
		[]string{"event", "outcome"},
	)
)

// MustRegister registers every collector of this package with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(LedgerOperations, LedgerDuration, Investments, DividendPayments, SigningEvents)
}

// ObserveLedger records one ledger operation. Intended for use in a defer.
func ObserveLedger(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	LedgerOperations.WithLabelValues(operation, status).Inc()
	LedgerDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
