package model

import (
	"time"

	"wmsdispatch/internal/planner"
)

// Orders

const OrderStatusPending = "pending"

type OrderIn struct {
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

type Order struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	ItemName  string    `json:"itemName"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stored snapshot

const (
	TaskStatusOpen     = "open"
	TaskStatusAssigned = "assigned"
)

// TaskRecord is a task as kept by the store. Only open tasks are planned.
type TaskRecord struct {
	planner.Task
	OrderID   string    `json:"orderId,omitempty"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TaskIn struct {
	planner.Task
	OrderID string `json:"orderId,omitempty"`
}

type WorkerRecord struct {
	planner.Worker
	UpdatedAt time.Time `json:"updatedAt"`
}

// Planning

// Snapshot is an explicit planning input that bypasses the stored tasks and workers.
type Snapshot struct {
	Tasks   []planner.Task   `json:"tasks" yaml:"tasks"`
	Workers []planner.Worker `json:"workers" yaml:"workers"`
}

type PlanRequest struct {
	Mode              string                   `json:"mode,omitempty"` // single, batch
	MaxTasksPerWorker *int                     `json:"maxTasksPerWorker,omitempty"`
	Estimator         *planner.EstimatorConfig `json:"estimator,omitempty"`
	RespectLoad       *bool                    `json:"respectLoad,omitempty"`
	Snapshot          *Snapshot                `json:"snapshot,omitempty"`
	DryRun            bool                     `json:"dryRun,omitempty"`
}

type PlanRecord struct {
	ID                string               `json:"id"`
	TenantID          string               `json:"tenantId"`
	Mode              string               `json:"mode"`
	Estimator         string               `json:"estimator"`
	MaxTasksPerWorker int                  `json:"maxTasksPerWorker,omitempty"`
	Trigger           string               `json:"trigger"`
	Assignments       []planner.Assignment `json:"assignments"`
	Summary           planner.Summary      `json:"summary"`
	CreatedAt         time.Time            `json:"createdAt"`
}

// Events

const (
	EventAssignmentCreated = "assignment.created"
	EventPlanCompleted     = "plan.completed"
)

type AssignmentEvent struct {
	PlanID        string           `json:"planId"`
	TaskID        planner.TaskID   `json:"taskId"`
	WorkerID      planner.WorkerID `json:"workerId"`
	EstimatedCost float64          `json:"estimatedCost"`
}

// Subscriptions

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}

// WithWorkerDefaults returns ws with fields omitted by decoded input filled
// in: a zero MaxTasks becomes 1 as in planner.NewWorker. Loads are clamped
// to [0, 1] as in planner.Worker.WithLoad.
func WithWorkerDefaults(ws []planner.Worker) []planner.Worker {
	out := make([]planner.Worker, len(ws))
	for i, w := range ws {
		if w.MaxTasks == 0 {
			w.MaxTasks = 1
		}
		out[i] = w.WithLoad(w.CurrentLoad)
	}
	return out
}
