// Package dispatch runs the planner against a tenant's stored snapshot,
// persists the resulting plan and announces the new assignments.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wmsdispatch/internal/config"
	"wmsdispatch/internal/events"
	"wmsdispatch/internal/metrics"
	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
	"wmsdispatch/internal/store"
	"wmsdispatch/internal/webhooks"
)

const (
	TriggerAPI  = "api"
	TriggerCron = "cron"
	TriggerCLI  = "cli"
)

// ErrInvalidInput wraps snapshot and option errors the caller can fix.
var ErrInvalidInput = errors.New("invalid planning input")

// Options controls one planning run.
type Options struct {
	Mode              string
	MaxTasksPerWorker int
	Estimator         planner.EstimatorConfig
	RespectLoad       bool
	// Snapshot, when set, replaces the stored open tasks and workers.
	Snapshot *model.Snapshot
	DryRun   bool
	Trigger  string
}

type Result struct {
	Plan model.PlanRecord
	// Webhooks is the number of deliveries queued for subscribers.
	Webhooks int
}

type Dispatcher struct {
	Store    store.Store
	Broker   events.EventBroker
	Pub      *webhooks.Publisher
	Defaults Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(s store.Store, b events.EventBroker, pub *webhooks.Publisher, defaults Options) *Dispatcher {
	return &Dispatcher{Store: s, Broker: b, Pub: pub, Defaults: defaults, locks: map[string]*sync.Mutex{}}
}

// DefaultsFromConfig maps the PLANNER_* settings to run options.
func DefaultsFromConfig(cfg config.Config) Options {
	return Options{
		Mode:              cfg.PlannerMode,
		MaxTasksPerWorker: cfg.PlannerMaxTasksPerWorker,
		Estimator:         cfg.EstimatorConfig(),
		RespectLoad:       cfg.PlannerBatchRespectLoad,
	}
}

// Options overlays the fields set in req onto the dispatcher defaults.
func (d *Dispatcher) Options(req model.PlanRequest, trigger string) Options {
	o := d.Defaults
	if req.Mode != "" {
		o.Mode = req.Mode
	}
	if req.MaxTasksPerWorker != nil {
		o.MaxTasksPerWorker = *req.MaxTasksPerWorker
	}
	if req.Estimator != nil {
		o.Estimator = *req.Estimator
	}
	if req.RespectLoad != nil {
		o.RespectLoad = *req.RespectLoad
	}
	o.Snapshot = req.Snapshot
	o.DryRun = req.DryRun
	o.Trigger = trigger
	return o
}

func (d *Dispatcher) tenantLock(tenantID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks == nil {
		d.locks = map[string]*sync.Mutex{}
	}
	l := d.locks[tenantID]
	if l == nil {
		l = &sync.Mutex{}
		d.locks[tenantID] = l
	}
	return l
}

// Run plans one snapshot for tenantID. Runs for the same tenant are serialized.
func (d *Dispatcher) Run(ctx context.Context, tenantID string, opts Options) (Result, error) {
	if tenantID == "" {
		return Result{}, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	if opts.Mode == "" {
		opts.Mode = config.ModeSingle
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerAPI
	}
	l := d.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	res, err := d.run(ctx, tenantID, opts)
	if err != nil {
		metrics.DispatchFailures.WithLabelValues(opts.Trigger).Inc()
		log.Error().Err(err).Str("tenant", tenantID).Str("trigger", opts.Trigger).Msg("dispatch failed")
	}
	return res, err
}

func (d *Dispatcher) run(ctx context.Context, tenantID string, opts Options) (Result, error) {
	est, err := planner.NewEstimator(opts.Estimator)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if opts.Mode != config.ModeSingle && opts.Mode != config.ModeBatch {
		return Result{}, fmt.Errorf("%w: mode must be %s or %s", ErrInvalidInput, config.ModeSingle, config.ModeBatch)
	}

	tasks, workers, err := d.snapshot(ctx, tenantID, opts.Snapshot)
	if err != nil {
		return Result{}, err
	}
	if err := planner.Validate(tasks, workers); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	start := time.Now()
	var assignments []planner.Assignment
	capacity := 0
	switch opts.Mode {
	case config.ModeBatch:
		capacity = opts.MaxTasksPerWorker
		bp := planner.NewGreedyBatch(est)
		bp.RespectLoad = opts.RespectLoad
		assignments = bp.PlanBatch(tasks, workers, capacity)
	default:
		assignments = planner.NewGreedy(est).Plan(tasks, workers)
	}
	took := time.Since(start)
	summary := planner.Summarize(tasks, assignments)

	rec := model.PlanRecord{
		TenantID:          tenantID,
		Mode:              opts.Mode,
		Estimator:         planner.EstimatorName(est),
		MaxTasksPerWorker: capacity,
		Trigger:           opts.Trigger,
		Assignments:       assignments,
		Summary:           summary,
	}
	if !opts.DryRun {
		if rec, err = d.Store.SavePlan(ctx, rec); err != nil {
			return Result{}, fmt.Errorf("save plan: %w", err)
		}
	}
	metrics.ObservePlan(tenantID, rec.Mode, rec.Estimator, opts.Trigger, summary, took)

	res := Result{Plan: rec}
	if !opts.DryRun {
		res.Webhooks = d.announce(ctx, rec)
	}

	log.Info().
		Str("tenant", tenantID).
		Str("plan", rec.ID).
		Str("mode", rec.Mode).
		Str("estimator", rec.Estimator).
		Str("trigger", opts.Trigger).
		Bool("dry_run", opts.DryRun).
		Int("requested", summary.Requested).
		Int("assigned", summary.Assigned).
		Int("unassigned", len(summary.Unassigned)).
		Dur("took", took).
		Msg("plan completed")
	return res, nil
}

// snapshot returns the explicit snapshot, or the tenant's open tasks and
// workers in stored order.
func (d *Dispatcher) snapshot(ctx context.Context, tenantID string, snap *model.Snapshot) ([]planner.Task, []planner.Worker, error) {
	if snap != nil {
		return snap.Tasks, model.WithWorkerDefaults(snap.Workers), nil
	}
	recs, err := d.Store.ListTasks(ctx, tenantID, model.TaskStatusOpen)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	wrecs, err := d.Store.ListWorkers(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("load workers: %w", err)
	}
	tasks := make([]planner.Task, len(recs))
	for i, r := range recs {
		tasks[i] = r.Task
	}
	workers := make([]planner.Worker, len(wrecs))
	for i, r := range wrecs {
		workers[i] = r.Worker
	}
	return tasks, workers, nil
}

// announce publishes live events and queues webhooks for a stored plan.
func (d *Dispatcher) announce(ctx context.Context, rec model.PlanRecord) int {
	queued := 0
	for _, a := range rec.Assignments {
		evt := model.AssignmentEvent{PlanID: rec.ID, TaskID: a.TaskID, WorkerID: a.WorkerID, EstimatedCost: a.EstimatedCost}
		if d.Broker != nil {
			d.Broker.Publish(rec.TenantID, events.Event{Type: model.EventAssignmentCreated, Data: map[string]any{
				"planId":        evt.PlanID,
				"taskId":        evt.TaskID,
				"workerId":      evt.WorkerID,
				"estimatedCost": evt.EstimatedCost,
			}})
		}
		queued += d.emit(ctx, rec.TenantID, model.EventAssignmentCreated, evt)
	}
	if d.Broker != nil {
		d.Broker.Publish(rec.TenantID, events.Event{Type: model.EventPlanCompleted, Data: map[string]any{
			"planId":     rec.ID,
			"assigned":   rec.Summary.Assigned,
			"unassigned": rec.Summary.Unassigned,
		}})
	}
	queued += d.emit(ctx, rec.TenantID, model.EventPlanCompleted, rec)
	return queued
}

func (d *Dispatcher) emit(ctx context.Context, tenantID, eventType string, data any) int {
	if d.Pub == nil {
		return 0
	}
	n, err := d.Pub.Emit(ctx, tenantID, eventType, data)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Str("event", eventType).Msg("emit webhook")
	}
	return n
}
