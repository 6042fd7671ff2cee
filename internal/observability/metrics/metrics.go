// Package metrics exposes the prometheus instruments for the billing core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type Metrics struct {
	usageIngested   *prometheus.CounterVec
	usageRejected   *prometheus.CounterVec
	paymentOutcomes *prometheus.CounterVec
	invoicesIssued  prometheus.Counter

	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		usageIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faktur_usage_ingested_total",
			Help: "Usage records accepted by the metering pipeline.",
		}, []string{"meter"}),
		usageRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faktur_usage_rejected_total",
			Help: "Usage records rejected during validation.",
		}, []string{"meter", "reason"}),
		paymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faktur_payment_outcomes_total",
			Help: "Payment outcomes fed back into the lifecycle manager.",
		}, []string{"outcome"}),
		invoicesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faktur_invoices_issued_total",
			Help: "Invoices created by the invoice engine.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faktur_scheduler_job_runs_total",
			Help: "Scheduler sweep executions.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faktur_scheduler_job_errors_total",
			Help: "Scheduler sweep failures.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faktur_scheduler_job_duration_seconds",
			Help:    "Scheduler sweep duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.usageIngested,
		m.usageRejected,
		m.paymentOutcomes,
		m.invoicesIssued,
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
	)

	return m
}

func (m *Metrics) IncUsageIngested(meter string) {
	m.usageIngested.WithLabelValues(meter).Inc()
}

func (m *Metrics) IncUsageRejected(meter, reason string) {
	m.usageRejected.WithLabelValues(meter, reason).Inc()
}

func (m *Metrics) IncPaymentOutcome(outcome string) {
	m.paymentOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncInvoiceIssued() {
	m.invoicesIssued.Inc()
}

func (m *Metrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// Module provides the registry and instruments.
var Module = fx.Module("metrics",
	fx.Provide(
		NewRegistry,
		New,
	),
)
