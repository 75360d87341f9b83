package api

import (
	"fmt"
	"net/url"
	"strings"

	"wmsdispatch/internal/config"
	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
)

func validatePlanRequest(req *model.PlanRequest) error {
	if req.Mode != "" && req.Mode != config.ModeSingle && req.Mode != config.ModeBatch {
		return fmt.Errorf("invalid mode: %s", req.Mode)
	}
	if req.MaxTasksPerWorker != nil && *req.MaxTasksPerWorker < 0 {
		return fmt.Errorf("maxTasksPerWorker must be >= 0")
	}
	if req.Estimator != nil {
		if _, err := planner.NewEstimator(*req.Estimator); err != nil {
			return err
		}
	}
	if req.Snapshot != nil {
		if err := planner.Validate(req.Snapshot.Tasks, model.WithWorkerDefaults(req.Snapshot.Workers)); err != nil {
			return err
		}
	}
	return nil
}

func validateOrderIn(in *model.OrderIn) error {
	in.ItemName = strings.TrimSpace(in.ItemName)
	if in.ItemName == "" {
		return fmt.Errorf("itemName cannot be empty")
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	return nil
}

func validateTasks(in []model.TaskIn) error {
	if len(in) == 0 {
		return fmt.Errorf("tasks cannot be empty")
	}
	tasks := make([]planner.Task, len(in))
	for i, t := range in {
		tasks[i] = t.Task
	}
	return planner.Validate(tasks, nil)
}

func validateWorkers(in []planner.Worker) error {
	if len(in) == 0 {
		return fmt.Errorf("workers cannot be empty")
	}
	return planner.Validate(nil, in)
}

var knownEvents = map[string]struct{}{
	model.EventAssignmentCreated: {},
	model.EventPlanCompleted:     {},
}

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events cannot be empty")
	}
	for _, e := range req.Events {
		if _, ok := knownEvents[e]; !ok {
			return fmt.Errorf("unknown event type: %s (allowed: %s, %s)", e, model.EventAssignmentCreated, model.EventPlanCompleted)
		}
	}
	return nil
}
