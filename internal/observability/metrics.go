package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "label_engine"

// Metrics stores Prometheus collectors used by API, pipeline and relay flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	batchesTotal          *prometheus.CounterVec
	labelItemsTotal       *prometheus.CounterVec
	renderDuration        *prometheus.HistogramVec
	allocationDuration    prometheus.Histogram
	printSubmissionsTotal *prometheus.CounterVec
	activeBatches         prometheus.Gauge
	guardRejectionsTotal  *prometheus.CounterVec
	relayJobsTotal        *prometheus.CounterVec
	abandonedBatchesTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of finished label batches by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		labelItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "label_items_total",
				Help:      "Total number of label items that reached a terminal status.",
			},
			[]string{"kind", "status"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Single label render duration in seconds grouped by kind.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"kind"},
		),
		allocationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "allocation_duration_seconds",
				Help:      "Identifier allocation duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		printSubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "print_submissions_total",
				Help:      "Total number of print job submissions by result.",
			},
			[]string{"result"},
		),
		activeBatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_batches",
				Help:      "Current number of batches running in the pipeline.",
			},
		),
		guardRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_rejections_total",
				Help:      "Total number of submissions rejected by the submission guard.",
			},
			[]string{"reason"},
		),
		relayJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_jobs_total",
				Help:      "Total number of queued print jobs forwarded to the spooler.",
			},
			[]string{"kind", "result"},
		),
		abandonedBatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "abandoned_batches_total",
				Help:      "Total number of stale allocated batches marked abandoned.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesTotal,
		m.labelItemsTotal,
		m.renderDuration,
		m.allocationDuration,
		m.printSubmissionsTotal,
		m.activeBatches,
		m.guardRejectionsTotal,
		m.relayJobsTotal,
		m.abandonedBatchesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatch(kind string, outcome string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddLabelItems(kind string, status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.labelItemsTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(status)).Add(float64(n))
}

func (m *Metrics) ObserveRenderDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.WithLabelValues(normalizeLabel(kind)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveAllocationDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.allocationDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncPrintSubmission(result string) {
	if m == nil {
		return
	}
	m.printSubmissionsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncActiveBatches() {
	if m == nil {
		return
	}
	m.activeBatches.Inc()
}

func (m *Metrics) DecActiveBatches() {
	if m == nil {
		return
	}
	m.activeBatches.Dec()
}

func (m *Metrics) IncGuardRejection(reason string) {
	if m == nil {
		return
	}
	m.guardRejectionsTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncRelayJob(kind string, result string) {
	if m == nil {
		return
	}
	m.relayJobsTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}

func (m *Metrics) AddAbandonedBatches(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.abandonedBatchesTotal.Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
