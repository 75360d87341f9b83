package planner

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchWorkerTakesSeveralTasks(t *testing.T) {
	tasks := []Task{
		NewTask(1, NewLocation(0, 0), High),
		NewTask(2, NewLocation(1, 1), High),
		NewTask(3, NewLocation(10, 10), Low),
	}
	workers := []Worker{NewWorker(1, NewLocation(0, 0), true)}

	got := NewGreedyBatch(nil).PlanBatch(tasks, workers, 2)

	require.Len(t, got, 2)
	require.Equal(t, TaskID(1), got[0].TaskID)
	require.Equal(t, TaskID(2), got[1].TaskID)
	for _, a := range got {
		require.Equal(t, WorkerID(1), a.WorkerID)
	}
}

func TestBatchSpreadsOverflowToNextWorker(t *testing.T) {
	tasks := []Task{
		NewTask(1, NewLocation(0, 0), Medium),
		NewTask(2, NewLocation(0, 0), Medium),
		NewTask(3, NewLocation(0, 0), Medium),
	}
	workers := []Worker{
		NewWorker(1, NewLocation(0, 1), true),
		NewWorker(2, NewLocation(0, 5), true),
	}

	got := NewGreedyBatch(nil).PlanBatch(tasks, workers, 2)

	require.Equal(t, []Assignment{
		{TaskID: 1, WorkerID: 1, EstimatedCost: 1},
		{TaskID: 2, WorkerID: 1, EstimatedCost: 1},
		{TaskID: 3, WorkerID: 2, EstimatedCost: 5},
	}, got)
}

func TestBatchIgnoresLoadByDefault(t *testing.T) {
	tasks := []Task{NewTask(1, NewLocation(0, 0), Medium)}
	workers := []Worker{NewWorker(1, NewLocation(0, 0), true).WithLoad(1.0)}

	got := NewGreedyBatch(nil).PlanBatch(tasks, workers, 3)
	require.Len(t, got, 1)
	require.Equal(t, WorkerID(1), got[0].WorkerID)
	// load 1.0 still adds its penalty: (0 + 10) * 1.0
	require.InDelta(t, 10.0, got[0].EstimatedCost, 1e-9)
}

func TestBatchRespectLoad(t *testing.T) {
	tasks := []Task{NewTask(1, NewLocation(0, 0), Medium)}
	workers := []Worker{
		NewWorker(1, NewLocation(0, 0), true).WithLoad(1.0),
		NewWorker(2, NewLocation(9, 0), true),
	}

	planner := NewGreedyBatch(nil)
	planner.RespectLoad = true
	got := planner.PlanBatch(tasks, workers, 3)

	require.Len(t, got, 1)
	require.Equal(t, WorkerID(2), got[0].WorkerID)
}

func TestBatchZeroCapacity(t *testing.T) {
	tasks := []Task{NewTask(1, NewLocation(0, 0), Critical)}
	workers := []Worker{NewWorker(1, NewLocation(0, 0), true)}

	got := NewGreedyBatch(nil).PlanBatch(tasks, workers, 0)
	require.NotNil(t, got)
	require.Empty(t, got)

	got = NewGreedyBatch(nil).PlanBatch(tasks, workers, -2)
	require.Empty(t, got)
}

func TestBatchSkipsUnavailableWorkers(t *testing.T) {
	tasks := []Task{
		NewTask(1, NewLocation(0, 0), High),
		NewTask(2, NewLocation(0, 0), High),
	}
	workers := []Worker{
		NewWorker(1, NewLocation(0, 0), false),
		NewWorker(2, NewLocation(50, 50), true),
	}

	got := NewGreedyBatch(nil).PlanBatch(tasks, workers, 5)
	require.Len(t, got, 2)
	for _, a := range got {
		require.Equal(t, WorkerID(2), a.WorkerID)
	}
}

func TestBatchMatchesGreedyWithCapacityOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 100; round++ {
		tasks, workers := randomSnapshot(rng, rng.Intn(25), rng.Intn(15))
		// With every available worker below full load the two eligibility
		// rules coincide.
		for i := range workers {
			workers[i].CurrentLoad = ClampLoad(workers[i].CurrentLoad * 0.9)
		}
		single := NewGreedy(nil).Plan(tasks, workers)
		batch := NewGreedyBatch(nil).PlanBatch(tasks, workers, 1)
		require.Equal(t, single, batch)
	}
}

func TestBatchInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for round := 0; round < 200; round++ {
		tasks, workers := randomSnapshot(rng, rng.Intn(40), rng.Intn(10))
		k := rng.Intn(4)
		available := map[WorkerID]bool{}
		nAvailable := 0
		for _, w := range workers {
			available[w.ID] = w.Available
			if w.Available {
				nAvailable++
			}
		}

		got := NewGreedyBatch(NewTimeCostEstimator(2)).PlanBatch(tasks, workers, k)

		seen := map[TaskID]bool{}
		counts := map[WorkerID]int{}
		for _, a := range got {
			require.False(t, seen[a.TaskID])
			require.True(t, available[a.WorkerID])
			seen[a.TaskID] = true
			counts[a.WorkerID]++
			require.LessOrEqual(t, counts[a.WorkerID], k)
		}
		require.Equal(t, min(len(tasks), nAvailable*k), len(got))
	}
}
