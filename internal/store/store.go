package store

import (
	"context"
	"errors"
	"time"

	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
)

// Store is the persistence interface used by the API server, the dispatcher
// and the CLI. Every method is scoped to one tenant except the webhook queue
// accessors used by the background worker.
type Store interface {
	// Orders
	CreateOrder(ctx context.Context, tenantID string, in model.OrderIn) (model.Order, error)
	GetOrder(ctx context.Context, tenantID, id string) (model.Order, error)
	ListOrders(ctx context.Context, tenantID, status, cursor string, limit int) (items []model.Order, nextCursor string, err error)

	// Snapshot. List calls return rows in first-insertion order so planning
	// tie-breaks stay stable across runs.
	UpsertTasks(ctx context.Context, tenantID string, tasks []model.TaskIn) (int, error)
	ListTasks(ctx context.Context, tenantID, status string) ([]model.TaskRecord, error)
	UpsertWorkers(ctx context.Context, tenantID string, workers []planner.Worker) (int, error)
	ListWorkers(ctx context.Context, tenantID string) ([]model.WorkerRecord, error)

	// Plans. SavePlan assigns ID and CreatedAt and marks the assigned tasks.
	SavePlan(ctx context.Context, rec model.PlanRecord) (model.PlanRecord, error)
	GetPlan(ctx context.Context, tenantID, id string) (model.PlanRecord, error)
	ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.PlanRecord, string, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

var errIDSpaceExhausted = errors.New("no free order id after retries")

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}
