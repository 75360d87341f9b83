package planner

import (
	"errors"
	"fmt"
	"math"
)

// Summary describes how well a plan covered its input tasks.
type Summary struct {
	Requested  int              `json:"requested"`
	Assigned   int              `json:"assigned"`
	Unassigned []TaskID         `json:"unassigned"`
	TotalCost  float64          `json:"totalCost"`
	ByWorker   map[WorkerID]int `json:"byWorker"`
}

// Fulfilled reports whether every requested task got a worker.
func (s Summary) Fulfilled() bool { return len(s.Unassigned) == 0 }

// Summarize compares a plan against the tasks it was built from. Unassigned
// ids are listed in input order, once each.
func Summarize(tasks []Task, assignments []Assignment) Summary {
	s := Summary{Requested: len(tasks), Assigned: len(assignments), Unassigned: []TaskID{}, ByWorker: map[WorkerID]int{}}
	got := make(map[TaskID]struct{}, len(assignments))
	for _, a := range assignments {
		got[a.TaskID] = struct{}{}
		s.TotalCost += a.EstimatedCost
		s.ByWorker[a.WorkerID]++
	}
	seen := make(map[TaskID]struct{}, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		if _, ok := got[t.ID]; !ok {
			s.Unassigned = append(s.Unassigned, t.ID)
		}
	}
	return s
}

var (
	ErrDuplicateTask   = errors.New("duplicate task id")
	ErrDuplicateWorker = errors.New("duplicate worker id")
	ErrInvalidTask     = errors.New("invalid task")
	ErrInvalidWorker   = errors.New("invalid worker")
)

// Validate checks snapshot invariants that callers are expected to uphold
// before planning. Loads outside [0, 1] are accepted; WithLoad clamps them
// at construction. The planners themselves never call it.
func Validate(tasks []Task, workers []Worker) error {
	taskIDs := make(map[TaskID]struct{}, len(tasks))
	for i, t := range tasks {
		if _, dup := taskIDs[t.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateTask, t.ID)
		}
		taskIDs[t.ID] = struct{}{}
		if !t.Priority.Valid() {
			return fmt.Errorf("%w: tasks[%d] priority %d", ErrInvalidTask, i, int(t.Priority))
		}
		if !finite(t.Location.X) || !finite(t.Location.Y) {
			return fmt.Errorf("%w: tasks[%d] location is not finite", ErrInvalidTask, i)
		}
		if d := t.EstimatedDuration; d != nil && (!finite(*d) || *d < 0) {
			return fmt.Errorf("%w: tasks[%d] estimated duration %v", ErrInvalidTask, i, *d)
		}
	}
	workerIDs := make(map[WorkerID]struct{}, len(workers))
	for i, w := range workers {
		if _, dup := workerIDs[w.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateWorker, w.ID)
		}
		workerIDs[w.ID] = struct{}{}
		if !finite(w.Location.X) || !finite(w.Location.Y) {
			return fmt.Errorf("%w: workers[%d] location is not finite", ErrInvalidWorker, i)
		}
		if math.IsNaN(w.CurrentLoad) {
			return fmt.Errorf("%w: workers[%d] load is NaN", ErrInvalidWorker, i)
		}
		if w.MaxTasks < 1 {
			return fmt.Errorf("%w: workers[%d] maxTasks %d", ErrInvalidWorker, i, w.MaxTasks)
		}
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
