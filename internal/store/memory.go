package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	tenants map[string]*memTenant
	// Webhooks queue state
	deliveries         map[string]*memDelivery // id -> delivery state
	deliveryOrder      []string                // enqueue order
	deliveriesByTenant map[string][]string     // tenant -> delivery ids
	dedup              map[string]struct{}
}

type memTenant struct {
	orders      map[string]model.Order
	orderIDs    []string
	tasks       map[planner.TaskID]*model.TaskRecord
	taskOrder   []planner.TaskID
	workers     map[planner.WorkerID]*model.WorkerRecord
	workerOrder []planner.WorkerID
	plans       map[string]model.PlanRecord
	planIDs     []string
	subs        []model.Subscription
}

func NewMemory() *Memory {
	return &Memory{
		tenants:            map[string]*memTenant{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
		dedup:              map[string]struct{}{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

// tenant returns the tenant bucket, creating it. Callers hold m.mu.
func (m *Memory) tenant(id string) *memTenant {
	t := m.tenants[id]
	if t == nil {
		t = &memTenant{
			orders:  map[string]model.Order{},
			tasks:   map[planner.TaskID]*model.TaskRecord{},
			workers: map[planner.WorkerID]*model.WorkerRecord{},
			plans:   map[string]model.PlanRecord{},
		}
		m.tenants[id] = t
	}
	return t
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Orders

func (m *Memory) CreateOrder(ctx context.Context, tenantID string, in model.OrderIn) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(tenantID)
	id := newOrderID()
	for i := 0; i < 16; i++ {
		if _, taken := t.orders[id]; !taken {
			break
		}
		id = newOrderID()
	}
	if _, taken := t.orders[id]; taken {
		return model.Order{}, fmt.Errorf("allocate order id: %w", errIDSpaceExhausted)
	}
	now := time.Now().UTC()
	o := model.Order{ID: id, TenantID: tenantID, ItemName: in.ItemName, Quantity: in.Quantity, Status: model.OrderStatusPending, CreatedAt: now, UpdatedAt: now}
	t.orders[id] = o
	t.orderIDs = append(t.orderIDs, id)
	return o, nil
}

func (m *Memory) GetOrder(ctx context.Context, tenantID, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.tenant(tenantID).orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

// ListOrders returns newest first. The cursor is the last id of the previous page.
func (m *Memory) ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Order, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(tenantID)
	limit = pageSize(limit)
	out := []model.Order{}
	started := cursor == ""
	for i := len(t.orderIDs) - 1; i >= 0; i-- {
		id := t.orderIDs[i]
		if !started {
			started = id == cursor
			continue
		}
		o := t.orders[id]
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

// Snapshot

func (m *Memory) UpsertTasks(ctx context.Context, tenantID string, tasks []model.TaskIn) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(tenantID)
	now := time.Now().UTC()
	for _, in := range tasks {
		if rec, ok := t.tasks[in.ID]; ok {
			rec.Task = in.Task
			rec.OrderID = in.OrderID
			rec.UpdatedAt = now
			continue
		}
		t.tasks[in.ID] = &model.TaskRecord{Task: in.Task, OrderID: in.OrderID, Status: model.TaskStatusOpen, UpdatedAt: now}
		t.taskOrder = append(t.taskOrder, in.ID)
	}
	return len(tasks), nil
}

func (m *Memory) ListTasks(ctx context.Context, tenantID, status string) ([]model.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(tenantID)
	out := []model.TaskRecord{}
	for _, id := range t.taskOrder {
		rec := t.tasks[id]
		if status == "" || rec.Status == status {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *Memory) UpsertWorkers(ctx context.Context, tenantID string, workers []planner.Worker) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(tenantID)
	now := time.Now().UTC()
	for _, w := range workers {
		w = w.WithLoad(w.CurrentLoad)
		if rec, ok := t.workers[w.ID]; ok {
			rec.Worker = w
			rec.UpdatedAt = now
			continue
		}
		t.workers[w.ID] = &model.WorkerRecord{Worker: w, UpdatedAt: now}
		t.workerOrder = append(t.workerOrder, w.ID)
	}
	return len(workers), nil
}

func (m *Memory) ListWorkers(ctx context.Context, tenantID string) ([]model.WorkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(tenantID)
	out := make([]model.WorkerRecord, 0, len(t.workerOrder))
	for _, id := range t.workerOrder {
		out = append(out, *t.workers[id])
	}
	return out, nil
}

// Plans

func (m *Memory) SavePlan(ctx context.Context, rec model.PlanRecord) (model.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(rec.TenantID)
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()
	rec.Assignments = append([]planner.Assignment{}, rec.Assignments...)
	for _, a := range rec.Assignments {
		if task, ok := t.tasks[a.TaskID]; ok {
			task.Status = model.TaskStatusAssigned
			task.UpdatedAt = rec.CreatedAt
		}
	}
	t.plans[rec.ID] = rec
	t.planIDs = append(t.planIDs, rec.ID)
	return rec, nil
}

func (m *Memory) GetPlan(ctx context.Context, tenantID, id string) (model.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.tenant(tenantID).plans[id]
	if !ok {
		return model.PlanRecord{}, ErrNotFound
	}
	return p, nil
}

// ListPlans returns newest first.
func (m *Memory) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.PlanRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(tenantID)
	limit = pageSize(limit)
	out := []model.PlanRecord{}
	started := cursor == ""
	for i := len(t.planIDs) - 1; i >= 0 && len(out) < limit; i-- {
		id := t.planIDs[i]
		if !started {
			started = id == cursor
			continue
		}
		out = append(out, t.plans[id])
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(req.TenantID)
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	t.subs = append(t.subs, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.tenant(tenantID).subs {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.tenant(tenantID).subs
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := min(start+pageSize(limit), len(list))
	items := append([]model.Subscription{}, list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenant(tenantID)
	out := make([]model.Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		if s.ID != id {
			out = append(out, s)
		}
	}
	if len(out) == len(t.subs) {
		return ErrNotFound
	}
	t.subs = out
	return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
	if _, dup := m.dedup[key]; dup {
		return "", nil
	}
	m.dedup[key] = struct{}{}
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, Attempts: 0}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.deliveryOrder = append(m.deliveryOrder, id)
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(1 * time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = pageSize(limit)
	out := []map[string]any{}
	started := cursor == ""
	for _, id := range m.deliveriesByTenant[tenantID] {
		if !started {
			started = id == cursor
			continue
		}
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
		if !d.NextAttemptAt.IsZero() {
			item["nextAttemptAt"] = d.NextAttemptAt
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		if d.ResponseCode != 0 {
			item["responseCode"] = d.ResponseCode
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1]["id"].(string)
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = time.Now()
	return nil
}

// newOrderID returns an id of the form ORD-nnnnnn.
func newOrderID() string {
	return fmt.Sprintf("ORD-%06d", 100000+rand.IntN(900000))
}
