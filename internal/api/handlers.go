package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"wmsdispatch/internal/dispatch"
	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
	"wmsdispatch/internal/store"
)

// PlanHandler handles POST /v1/plan
func (s *Server) PlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.requirePlanner(w, r)
	if !ok {
		return
	}
	var req model.PlanRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validatePlanRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Dispatcher.Run(r.Context(), p.Tenant, s.Dispatcher.Options(req, dispatch.TriggerAPI))
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidInput) {
			writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Plan failed", err.Error(), r.URL.Path)
		return
	}
	status := http.StatusCreated
	if req.DryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"plan": res.Plan, "webhooksQueued": res.Webhooks})
}

// PlansHandler handles GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	items, next, err := s.Store.ListPlans(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List plans failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// PlanByIDHandler handles GET /v1/plans/{id}
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	plan, err := s.Store.GetPlan(r.Context(), p.Tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Plan not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get plan failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// TasksHandler handles POST/GET /v1/tasks
func (s *Server) TasksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p, ok := s.requirePlanner(w, r)
		if !ok {
			return
		}
		var req struct {
			Tasks []model.TaskIn `json:"tasks"`
		}
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateTasks(req.Tasks); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid tasks", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.UpsertTasks(r.Context(), p.Tenant, req.Tasks)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert tasks failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"upserted": n})
	case http.MethodGet:
		p, ok := s.principal(w, r)
		if !ok {
			return
		}
		status := r.URL.Query().Get("status")
		if status != "" && status != model.TaskStatusOpen && status != model.TaskStatusAssigned {
			writeProblem(w, http.StatusBadRequest, "Invalid status", status, r.URL.Path)
			return
		}
		items, err := s.Store.ListTasks(r.Context(), p.Tenant, status)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List tasks failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// WorkersHandler handles POST/GET /v1/workers
func (s *Server) WorkersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p, ok := s.requirePlanner(w, r)
		if !ok {
			return
		}
		var req struct {
			Workers []planner.Worker `json:"workers"`
		}
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		workers := model.WithWorkerDefaults(req.Workers)
		if err := validateWorkers(workers); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid workers", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.UpsertWorkers(r.Context(), p.Tenant, workers)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert workers failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"upserted": n})
	case http.MethodGet:
		p, ok := s.principal(w, r)
		if !ok {
			return
		}
		items, err := s.Store.ListWorkers(r.Context(), p.Tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List workers failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// OrdersHandler handles POST/GET /v1/orders
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p, ok := s.requirePlanner(w, r)
		if !ok {
			return
		}
		var in model.OrderIn
		if err := decodeJSON(w, r, &in, false); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateOrderIn(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid order", err.Error(), r.URL.Path)
			return
		}
		o, err := s.Store.CreateOrder(r.Context(), p.Tenant, in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create order failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, o)
	case http.MethodGet:
		p, ok := s.principal(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		items, next, err := s.Store.ListOrders(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// OrderByIDHandler handles GET /v1/orders/{id}
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	o, err := s.Store.GetOrder(r.Context(), p.Tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Order not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get order failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p, ok := s.requireAdmin(w, r)
		if !ok {
			return
		}
		var req model.SubscriptionRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		req.TenantID = p.Tenant
		if err := validateSubscriptionRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		p, ok := s.requireAdmin(w, r)
		if !ok {
			return
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Subscription not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Delivery not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Retry delivery failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler pings the store and, when it supports it, the event broker.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if b, ok := s.Broker.(pinger); ok {
		if err := b.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
