// Package metrics exposes Prometheus instruments for the chama engines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	cycleTransitions *prometheus.CounterVec
	contributions    *prometheus.CounterVec
	loanTransitions  *prometheus.CounterVec
	repayments       prometheus.Counter
	repaidAmount     prometheus.Counter
	outboxDeliveries *prometheus.CounterVec
	outboxPending    prometheus.Gauge
	checkDuration    *prometheus.HistogramVec
}

// New creates and registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycleTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chama_cycle_transitions_total",
				Help: "Cycle state transitions by target status",
			},
			[]string{"status"},
		),
		contributions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chama_contributions_total",
				Help: "Recorded contributions by status and lateness",
			},
			[]string{"status", "late"},
		),
		loanTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chama_loan_transitions_total",
				Help: "Loan state transitions by target status",
			},
			[]string{"status"},
		),
		repayments: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chama_loan_repayments_total",
				Help: "Number of loan repayments recorded",
			},
		),
		repaidAmount: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chama_loan_repaid_amount_total",
				Help: "Sum of loan repayments recorded",
			},
		),
		outboxDeliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chama_outbox_deliveries_total",
				Help: "Outbox delivery attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
		outboxPending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chama_outbox_pending",
				Help: "Outbox events waiting for delivery at the last sweep",
			},
		),
		checkDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chama_scheduled_check_duration_seconds",
				Help:    "Duration of scheduled checks",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"check"},
		),
	}
}

func (m *Metrics) CycleTransition(status string) {
	if m == nil {
		return
	}
	m.cycleTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Contribution(status string, late bool) {
	if m == nil {
		return
	}
	lateLabel := "false"
	if late {
		lateLabel = "true"
	}
	m.contributions.WithLabelValues(status, lateLabel).Inc()
}

func (m *Metrics) LoanTransition(status string) {
	if m == nil {
		return
	}
	m.loanTransitions.WithLabelValues(status).Inc()
}

// Repayment records one repayment of amount.
func (m *Metrics) Repayment(amount float64) {
	if m == nil {
		return
	}
	m.repayments.Inc()
	m.repaidAmount.Add(amount)
}

func (m *Metrics) OutboxDelivery(kind, result string) {
	if m == nil {
		return
	}
	m.outboxDeliveries.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) OutboxPending(n int64) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(n))
}

// ObserveCheck records how long a scheduled check took since start.
func (m *Metrics) ObserveCheck(check string, start time.Time) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(check).Observe(time.Since(start).Seconds())
}
