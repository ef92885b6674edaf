// Package metrics exports prometheus counters for authentication and audit events.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	LoginSuccess = "success"
	LoginFailed  = "failed"
	LoginLocked  = "locked" // this attempt locked the account
	LoginBlocked = "blocked" // rejected because the account was already locked
	LoginUnknown = "unknown_user"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LoginAttemptsTotal *prometheus.CounterVec
	AccountLocksTotal  prometheus.Counter
	PermissionDenied   *prometheus.CounterVec

	AuditWriteFailures prometheus.Counter
}

// NewMetrics registers all collectors with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		LoginAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		AccountLocksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_locks_total",
				Help:      "Accounts locked after too many failed logins",
			},
		),
		PermissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_denied_total",
				Help:      "Requests rejected by role checks",
			},
			[]string{"module"},
		),
		AuditWriteFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Operation log entries that could not be recorded",
			},
		),
	}
}

func (m *Metrics) RecordLogin(outcome string) {
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	if outcome == LoginLocked {
		m.AccountLocksTotal.Inc()
	}
}

func (m *Metrics) RecordPermissionDenied(module string) {
	m.PermissionDenied.WithLabelValues(module).Inc()
}

func (m *Metrics) RecordAuditFailure(error) {
	m.AuditWriteFailures.Inc()
}

// Middleware records request counts and latency labelled by the matched route pattern.
func (m *Metrics) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		start := time.Now()
		err := ctx.Next()

		status := ctx.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		route := ctx.Route().Path
		m.HTTPRequestsTotal.WithLabelValues(ctx.Method(), route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(ctx.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
