package planner

// GreedyBatch is the capacity-bounded variant of Greedy.
//
// Eligibility only looks at Worker.Available and the per-call count; the
// worker's CurrentLoad and MaxTasks are ignored unless RespectLoad is set, in
// which case CanAcceptTask is required as in Greedy.
type GreedyBatch struct {
	Estimator   CostEstimator
	RespectLoad bool
}

func NewGreedyBatch(est CostEstimator) *GreedyBatch {
	if est == nil {
		est = DistanceCostEstimator{}
	}
	return &GreedyBatch{Estimator: est}
}

func (g *GreedyBatch) PlanBatch(tasks []Task, workers []Worker, maxTasksPerWorker int) []Assignment {
	est := g.estimator()
	var assignments []Assignment
	assignedTasks := make(map[TaskID]struct{}, len(tasks))
	counts := make(map[WorkerID]int, len(workers))

	for _, task := range byPriority(tasks) {
		if _, done := assignedTasks[task.ID]; done {
			continue
		}
		best, cost, ok := cheapest(est, task, workers, func(w Worker) bool {
			if !w.Available {
				return false
			}
			if g.RespectLoad && !w.CanAcceptTask() {
				return false
			}
			return counts[w.ID] < maxTasksPerWorker
		})
		if !ok {
			continue
		}
		counts[best.ID]++
		assignedTasks[task.ID] = struct{}{}
		assignments = append(assignments, Assignment{TaskID: task.ID, WorkerID: best.ID, EstimatedCost: cost})
	}
	if assignments == nil {
		assignments = []Assignment{}
	}
	return assignments
}

func (g *GreedyBatch) estimator() CostEstimator {
	if g == nil || g.Estimator == nil {
		return DistanceCostEstimator{}
	}
	return g.Estimator
}
