package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 账本服务的 Prometheus 指标
type Metrics struct {
	registry *prometheus.Registry

	Debits             *prometheus.CounterVec
	Adjustments        *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
	PricingFallbacks   *prometheus.CounterVec
	AdminLogins        *prometheus.CounterVec
	OutboxMessages     *prometheus.CounterVec
	ReconciledAudits   prometheus.Counter
	HTTPDuration       *prometheus.HistogramVec
}

// New 每次创建独立 registry，测试之间互不干扰
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Debits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_debits_total",
			Help: "Credit debit attempts by result.",
		}, []string{"result"}),
		Adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_admin_adjustments_total",
			Help: "Administrative balance adjustments by result.",
		}, []string{"result"}),
		AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credit_audit_write_failures_total",
			Help: "Balance mutations whose audit record could not be written.",
		}),
		PricingFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_pricing_fallbacks_total",
			Help: "Credit cost lookups that fell back to the hardcoded default.",
		}, []string{"action"}),
		AdminLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_admin_logins_total",
			Help: "Administrator login attempts by result.",
		}, []string{"result"}),
		OutboxMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_outbox_messages_total",
			Help: "Outbox deliveries by result.",
		}, []string{"result"}),
		ReconciledAudits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credit_audit_reconciled_total",
			Help: "Audit records re-appended by the reconciler.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.Debits,
		m.Adjustments,
		m.AuditWriteFailures,
		m.PricingFallbacks,
		m.AdminLogins,
		m.OutboxMessages,
		m.ReconciledAudits,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 接口
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
