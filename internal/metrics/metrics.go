// Package metrics exposes the POS Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pos",
	Subsystem: "sales",
	Name:      "checkouts_total",
	Help:      "Completed checkouts by payment method.",
}, []string{"payment_method"})

var CheckoutAmountLocal = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pos",
	Subsystem: "sales",
	Name:      "checkout_amount_bs",
	Help:      "Checkout totals in local currency.",
	Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
})

var SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pos",
	Subsystem: "sales",
	Name:      "settlement_failures_total",
	Help:      "Checkouts whose store writes did not all succeed.",
})

var VoidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pos",
	Subsystem: "sales",
	Name:      "voids_total",
	Help:      "Voided sales by outcome.",
}, []string{"outcome"})

var ClosingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pos",
	Subsystem: "closings",
	Name:      "total",
	Help:      "Close-day attempts by outcome.",
}, []string{"outcome"})

var ClosedSalesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pos",
	Subsystem: "closings",
	Name:      "sales_total",
	Help:      "Sales archived into daily closings.",
})

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pos",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route and status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeNoSales = "nothing_to_close"
)
