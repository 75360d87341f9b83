// Package api implements HTTP handlers and helpers for the dispatch service.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wmsdispatch/internal/auth"
	"wmsdispatch/internal/config"
	"wmsdispatch/internal/dispatch"
	"wmsdispatch/internal/events"
	"wmsdispatch/internal/metrics"
	"wmsdispatch/internal/store"
	"wmsdispatch/internal/webhooks"
)

type Server struct {
	Store      store.Store
	Dispatcher *dispatch.Dispatcher
	Pub        *webhooks.Publisher
	Auth       *auth.Verifier
	Broker     events.EventBroker
	Config     config.Config
}

// NewServer wires the handlers to st and broker. A nil broker selects the
// in-memory one.
func NewServer(cfg config.Config, st store.Store, broker events.EventBroker) *Server {
	if broker == nil {
		broker = events.NewBroker()
	}
	pub := webhooks.NewPublisher(st)
	return &Server{
		Store:      st,
		Dispatcher: dispatch.New(st, broker, pub, dispatch.DefaultsFromConfig(cfg)),
		Pub:        pub,
		Auth:       auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret),
		Broker:     broker,
		Config:     cfg,
	}
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.WebhookMaxAttempts)
}

// Routes returns the full handler tree with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, h))
	}

	// Planning
	handle("/v1/plan", s.PlanHandler)
	handle("/v1/plans", s.PlansHandler)
	handle("/v1/plans/", s.PlanByIDHandler)
	handle("/v1/tasks", s.TasksHandler)
	handle("/v1/workers", s.WorkersHandler)
	handle("/v1/assignments/ws", s.AssignmentsWSHandler)

	// Orders
	handle("/v1/orders", s.OrdersHandler)
	handle("/v1/orders/", s.OrderByIDHandler)

	// Subscriptions
	handle("/v1/subscriptions", s.SubscriptionsHandler)
	handle("/v1/subscriptions/", s.SubscriptionByIDHandler)

	// Admin
	handle("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	handle("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)

	// Health, metrics, debug
	handle("/healthz", s.HealthHandler)
	handle("/readyz", s.ReadyHandler)
	handle("/debug/info", s.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	if s.Config.RateRPS > 0 {
		h = newRateLimiter(s.Config.RateRPS, s.Config.RateBurst).middleware(h)
	}
	h = accessLog(h)
	return corsHandler(s.Config.AllowOrigins, h)
}
