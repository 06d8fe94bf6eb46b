package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Engine metrics
	Enrollments    *prometheus.CounterVec // source, outcome
	Claimed        prometheus.Counter
	SendOutcomes   *prometheus.CounterVec // outcome
	GuardCancels   *prometheus.CounterVec // reason
	Completed      prometheus.Counter
	Requeued       *prometheus.CounterVec // cause
	TickDuration   prometheus.Histogram
	TickErrors     *prometheus.CounterVec // phase
	TagCatalogRows prometheus.Gauge
}

// New creates a Metrics instance registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		Enrollments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequence_enrollments_total",
				Help: "Enrollment attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		Claimed: f.NewCounter(prometheus.CounterOpts{
			Name: "sequence_sends_claimed_total",
			Help: "Scheduled sends moved from pending to processing",
		}),
		SendOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequence_send_outcomes_total",
				Help: "Final outcome of claimed scheduled sends",
			},
			[]string{"outcome"},
		),
		GuardCancels: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequence_guard_cancels_total",
				Help: "Scheduled sends cancelled at claim time",
			},
			[]string{"reason"},
		),
		Completed: f.NewCounter(prometheus.CounterOpts{
			Name: "sequence_enrollments_completed_total",
			Help: "Enrollments that sent their last step",
		}),
		Requeued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequence_sends_requeued_total",
				Help: "Scheduled sends returned to pending",
			},
			[]string{"cause"},
		),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sequence_tick_duration_seconds",
			Help:    "Duration of one engine tick",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		TickErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequence_tick_errors_total",
				Help: "Tick phases that aborted with an error",
			},
			[]string{"phase"},
		),
		TagCatalogRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "tag_catalog_rows",
			Help: "Rows written by the last tag catalog refresh",
		}),
	}
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		path := c.Route().Path
		labels := []string{c.Method(), path, strconv.Itoa(status)}
		m.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
		m.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		return err
	}
}
