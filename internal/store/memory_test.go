package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
)

func TestMemoryOrders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a, err := m.CreateOrder(ctx, "t1", model.OrderIn{ItemName: "pallet", Quantity: 3})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^ORD-\d{6}$`), a.ID)
	require.Equal(t, model.OrderStatusPending, a.Status)
	b, err := m.CreateOrder(ctx, "t1", model.OrderIn{ItemName: "crate", Quantity: 1})
	require.NoError(t, err)

	got, err := m.GetOrder(ctx, "t1", a.ID)
	require.NoError(t, err)
	require.Equal(t, a, got)

	_, err = m.GetOrder(ctx, "t2", a.ID)
	require.ErrorIs(t, err, ErrNotFound)

	page, next, err := m.ListOrders(ctx, "t1", "", "", 1)
	require.NoError(t, err)
	require.Equal(t, []model.Order{b}, page)
	require.Equal(t, b.ID, next)

	page, next, err = m.ListOrders(ctx, "t1", "", next, 1)
	require.NoError(t, err)
	require.Equal(t, []model.Order{a}, page)
	require.Equal(t, a.ID, next)

	page, next, err = m.ListOrders(ctx, "t1", "", next, 1)
	require.NoError(t, err)
	require.Empty(t, page)
	require.Empty(t, next)
}

func TestMemorySnapshotKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.UpsertTasks(ctx, "t1", []model.TaskIn{
		{Task: planner.NewTask(9, planner.NewLocation(0, 0), planner.Low)},
		{Task: planner.NewTask(3, planner.NewLocation(1, 1), planner.High)},
	})
	require.NoError(t, err)
	// update keeps the original position
	_, err = m.UpsertTasks(ctx, "t1", []model.TaskIn{{Task: planner.NewTask(9, planner.NewLocation(5, 5), planner.Critical)}})
	require.NoError(t, err)

	tasks, err := m.ListTasks(ctx, "t1", "")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, planner.TaskID(9), tasks[0].ID)
	require.Equal(t, planner.Critical, tasks[0].Priority)
	require.Equal(t, model.TaskStatusOpen, tasks[0].Status)

	_, err = m.UpsertWorkers(ctx, "t1", []planner.Worker{
		planner.NewWorker(2, planner.NewLocation(0, 0), true),
		planner.NewWorker(1, planner.NewLocation(0, 0), false),
	})
	require.NoError(t, err)
	workers, err := m.ListWorkers(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, planner.WorkerID(2), workers[0].ID)
	require.Equal(t, planner.WorkerID(1), workers[1].ID)

	empty, err := m.ListWorkers(ctx, "other")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemorySavePlanMarksTasks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.UpsertTasks(ctx, "t1", []model.TaskIn{
		{Task: planner.NewTask(1, planner.NewLocation(0, 0), planner.Low)},
		{Task: planner.NewTask(2, planner.NewLocation(0, 0), planner.High)},
	})
	require.NoError(t, err)

	rec, err := m.SavePlan(ctx, model.PlanRecord{
		TenantID:    "t1",
		Mode:        "single",
		Assignments: []planner.Assignment{{TaskID: 2, WorkerID: 7, EstimatedCost: 1.4}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.False(t, rec.CreatedAt.IsZero())

	open, err := m.ListTasks(ctx, "t1", model.TaskStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, planner.TaskID(1), open[0].ID)

	got, err := m.GetPlan(ctx, "t1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	second, err := m.SavePlan(ctx, model.PlanRecord{TenantID: "t1", Mode: "batch"})
	require.NoError(t, err)
	require.NotNil(t, second.Assignments)
	plans, _, err := m.ListPlans(ctx, "t1", "", 10)
	require.NoError(t, err)
	require.Equal(t, []string{second.ID, rec.ID}, []string{plans[0].ID, plans[1].ID})

	_, err = m.GetPlan(ctx, "t2", rec.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://hook", Events: []string{model.EventAssignmentCreated}})
	require.NoError(t, err)

	subs, err := m.GetSubscriptionsForEvent(ctx, "t1", model.EventAssignmentCreated)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	subs, err = m.GetSubscriptionsForEvent(ctx, "t1", model.EventPlanCompleted)
	require.NoError(t, err)
	require.Empty(t, subs)

	require.NoError(t, m.DeleteSubscription(ctx, "t1", s.ID))
	require.ErrorIs(t, m.DeleteSubscription(ctx, "t1", s.ID), ErrNotFound)
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, err := m.EnqueueWebhook(ctx, "t1", "", "assignment.created", "http://hook", "", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// same event id to the same endpoint is dropped
	dup, err := m.EnqueueWebhook(ctx, "t1", "", "assignment.created", "http://hook", "", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	require.Empty(t, dup)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, due)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "boom", 500, 3))
	items, _, err := m.ListWebhookDeliveries(ctx, "t1", DeliveryFailed, "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0]["attempts"])

	require.ErrorIs(t, m.RetryWebhookDelivery(ctx, "t2", id), ErrNotFound)
	require.NoError(t, m.RetryWebhookDelivery(ctx, "t1", id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
}
