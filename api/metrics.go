package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/policy-billing/billing"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	InvoicesGeneratedTotal prometheus.Counter
	PaymentsRecordedTotal  prometheus.Counter
	PaymentsRejectedTotal  *prometheus.CounterVec
	ScheduleChangesTotal   *prometheus.CounterVec
	PoliciesCanceledTotal  prometheus.Counter
	SweepRunsTotal         *prometheus.CounterVec
	SweepEvaluated         prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// gets a fresh one, so tests never share collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		InvoicesGeneratedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_invoices_generated_total",
			Help: "Invoices created by schedule generation or schedule changes",
		}),
		PaymentsRecordedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_payments_recorded_total",
			Help: "Payments accepted",
		}),
		PaymentsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_payments_rejected_total",
				Help: "Payments refused, by error code",
			},
			[]string{"code"},
		),
		ScheduleChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_schedule_changes_total",
				Help: "Mid-term schedule changes, by new schedule",
			},
			[]string{"schedule"},
		),
		PoliciesCanceledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_policies_canceled_total",
			Help: "Policies moved to Canceled",
		}),
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cancellation_sweep_runs_total",
				Help: "Cancellation sweep runs, by outcome",
			},
			[]string{"status"},
		),
		SweepEvaluated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_cancellation_sweep_evaluated",
			Help: "Active policies evaluated by the last sweep",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InvoicesGeneratedTotal,
		m.PaymentsRecordedTotal,
		m.PaymentsRejectedTotal,
		m.ScheduleChangesTotal,
		m.PoliciesCanceledTotal,
		m.SweepRunsTotal,
		m.SweepEvaluated,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMetricsMiddleware records request counts and latency by route pattern.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// =============================================================================
// billing.Observer
// =============================================================================

var _ billing.Observer = (*Metrics)(nil)

func (m *Metrics) InvoicesGenerated(_ billing.PolicyID, count int) {
	m.InvoicesGeneratedTotal.Add(float64(count))
}

func (m *Metrics) PaymentRecorded(billing.Payment) {
	m.PaymentsRecordedTotal.Inc()
}

func (m *Metrics) PaymentRejected(_ billing.PolicyID, err error) {
	_, code := classifyError(err)
	m.PaymentsRejectedTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) ScheduleChanged(_ billing.PolicyID, schedule billing.BillingSchedule) {
	m.ScheduleChangesTotal.WithLabelValues(string(schedule)).Inc()
}

func (m *Metrics) PolicyCanceled(billing.PolicyID) {
	m.PoliciesCanceledTotal.Inc()
}
