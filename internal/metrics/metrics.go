package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wmsdispatch/internal/planner"
)

var (
	// Registry is the dedicated Prometheus registry for the service and CLI
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PlanRuns counts planning calls by mode, estimator and trigger (api, cron, cli)
	PlanRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "planner", Name: "runs_total", Help: "Planning runs."},
		[]string{"mode", "estimator", "trigger"},
	)
	// PlanAssignments counts assignments produced
	PlanAssignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "planner", Name: "assignments_total", Help: "Assignments produced by planning runs."},
		[]string{"mode"},
	)
	// PlanUnassigned is the number of tasks left without a worker by the latest run per tenant
	PlanUnassigned = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "planner", Name: "unassigned_tasks", Help: "Tasks left unassigned by the latest run."},
		[]string{"tenant"},
	)
	// PlanDuration records the time spent inside the planner
	PlanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "planner", Name: "duration_seconds", Help: "Planner run duration in seconds.", Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}},
		[]string{"mode"},
	)
	// DispatchFailures counts dispatch runs that failed before a plan was stored
	DispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "failures_total", Help: "Dispatch runs that failed."},
		[]string{"trigger"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PlanRuns)
		Registry.MustRegister(PlanAssignments)
		Registry.MustRegister(PlanUnassigned)
		Registry.MustRegister(PlanDuration)
		Registry.MustRegister(DispatchFailures)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObservePlan records one planning run.
func ObservePlan(tenant, mode, estimator, trigger string, s planner.Summary, took time.Duration) {
	PlanRuns.WithLabelValues(mode, estimator, trigger).Inc()
	PlanAssignments.WithLabelValues(mode).Add(float64(s.Assigned))
	PlanUnassigned.WithLabelValues(tenant).Set(float64(len(s.Unassigned)))
	PlanDuration.WithLabelValues(mode).Observe(took.Seconds())
}
