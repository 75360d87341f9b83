package planner

import (
	"math"
	"sort"
)

// Planner produces at most one assignment per worker.
type Planner interface {
	Plan(tasks []Task, workers []Worker) []Assignment
}

// BatchPlanner lets a worker take up to maxTasksPerWorker tasks.
type BatchPlanner interface {
	PlanBatch(tasks []Task, workers []Worker, maxTasksPerWorker int) []Assignment
}

// Greedy assigns each task, most urgent first, to the cheapest worker that is
// still free. It is not globally optimal: an early task may claim a worker a
// later task needed more.
type Greedy struct {
	Estimator CostEstimator
}

// NewGreedy returns a planner using est, or the distance estimator when est is nil.
func NewGreedy(est CostEstimator) *Greedy {
	if est == nil {
		est = DistanceCostEstimator{}
	}
	return &Greedy{Estimator: est}
}

func (g *Greedy) Plan(tasks []Task, workers []Worker) []Assignment {
	est := g.estimator()
	assignments := make([]Assignment, 0, min(len(tasks), len(workers)))
	assignedTasks := make(map[TaskID]struct{}, len(tasks))
	assignedWorkers := make(map[WorkerID]struct{}, len(workers))

	for _, task := range byPriority(tasks) {
		if _, done := assignedTasks[task.ID]; done {
			continue
		}
		best, cost, ok := cheapest(est, task, workers, func(w Worker) bool {
			if _, taken := assignedWorkers[w.ID]; taken {
				return false
			}
			return w.CanAcceptTask()
		})
		if !ok {
			continue
		}
		assignedTasks[task.ID] = struct{}{}
		assignedWorkers[best.ID] = struct{}{}
		assignments = append(assignments, Assignment{TaskID: task.ID, WorkerID: best.ID, EstimatedCost: cost})
	}
	return assignments
}

func (g *Greedy) estimator() CostEstimator {
	if g == nil || g.Estimator == nil {
		return DistanceCostEstimator{}
	}
	return g.Estimator
}

// byPriority returns a copy of tasks ordered by rank descending. Equal ranks
// keep their input order.
func byPriority(tasks []Task) []Task {
	sorted := append([]Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority.Rank() > sorted[j].Priority.Rank()
	})
	return sorted
}

// cheapest scans workers in input order and returns the first one with the
// minimum cost among those accepted by eligible.
func cheapest(est CostEstimator, task Task, workers []Worker, eligible func(Worker) bool) (Worker, float64, bool) {
	var best Worker
	bestCost := math.Inf(1)
	found := false
	for _, w := range workers {
		if !eligible(w) {
			continue
		}
		cost := est.Estimate(task, w)
		if cost < bestCost {
			best, bestCost, found = w, cost, true
		}
	}
	return best, bestCost, found
}
