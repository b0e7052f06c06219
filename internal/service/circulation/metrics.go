package circulation

import (
    "context"
    "errors"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"

    "github.com/tinoosan/circulation/internal/errs"
)

const (
    opBorrow      = "borrow"
    opReturn      = "return"
    opForceReturn = "force_return"
    opListLoans   = "list_loans"

    outcomeOK        = "ok"
    outcomeRejected  = "rejected"
    outcomeCancelled = "cancelled"
    outcomeTransient = "transient"
)

var (
    operationsTotal = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "circulation",
            Name:      "operations_total",
            Help:      "Circulation operations by outcome",
        },
        []string{"op", "outcome"},
    )
    operationDuration = promauto.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "circulation",
            Name:      "operation_duration_seconds",
            Help:      "Duration of circulation operations in seconds, lock waits included",
            Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
        },
        []string{"op"},
    )
)

func observe(op string, start time.Time, err error) {
    operationsTotal.WithLabelValues(op, outcomeOf(err)).Inc()
    operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func outcomeOf(err error) string {
    switch {
    case err == nil:
        return outcomeOK
    case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
        return outcomeCancelled
    case errors.Is(err, errs.ErrTransient):
        return outcomeTransient
    default:
        return outcomeRejected
    }
}
