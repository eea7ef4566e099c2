package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fl2m",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fl2m",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fl2m",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	payoutResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fl2m",
			Subsystem: "payouts",
			Name:      "transfers_total",
			Help:      "Practitioner transfer attempts by result.",
		},
		[]string{"result"},
	)

	payoutAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fl2m",
			Subsystem: "payouts",
			Name:      "transferred_cents_total",
			Help:      "Amount transferred to practitioners, in cents.",
		},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fl2m",
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Stripe webhook events received by type and result.",
		},
		[]string{"type", "result"},
	)

	draws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fl2m",
			Subsystem: "draws",
			Name:      "served_total",
			Help:      "Daily draws served, split by first draw or repeat.",
		},
		[]string{"kind"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fl2m",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of scheduled job runs.",
		},
		[]string{"job", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fl2m",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		payoutResults,
		payoutAmount,
		webhookEvents,
		draws,
		jobRuns,
		jobDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordPayout records a transfer attempt. result is one of completed,
// failed, retry or skipped.
func RecordPayout(result string, amountCents int64) {
	payoutResults.WithLabelValues(result).Inc()
	if result == "completed" && amountCents > 0 {
		payoutAmount.Add(float64(amountCents))
	}
}

// RecordWebhook records a received webhook event.
func RecordWebhook(eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	webhookEvents.WithLabelValues(eventType, result).Inc()
}

// RecordDraw records a served daily draw.
func RecordDraw(repeat bool) {
	kind := "first"
	if repeat {
		kind = "repeat"
	}
	draws.WithLabelValues(kind).Inc()
}

// RecordJobRun records metrics for a scheduled job run.
func RecordJobRun(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// literalSegments are path segments kept verbatim; anything else after a
// resource name is treated as an identifier.
var literalSegments = map[string]bool{
	"me": true, "numerology": true, "practitioner": true, "practitioners": true,
	"connect": true, "refresh": true, "contracts": true, "cancel": true,
	"beneficiaries": true, "grants": true, "invitations": true, "accept": true,
	"documents": true, "appointments": true, "validate": true, "checkout": true,
	"webhooks": true, "stripe": true, "invoices": true, "draws": true,
	"today": true, "history": true, "admin": true, "payouts": true, "run": true,
	"activate": true, "auto-validate": true, "audit": true, "url": true,
	"healthz": true, "metrics": true,
}

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if !literalSegments[p] {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
