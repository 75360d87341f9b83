package dispatch

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmsdispatch/internal/config"
	"wmsdispatch/internal/events"
	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
	"wmsdispatch/internal/snapshot"
	"wmsdispatch/internal/store"
	"wmsdispatch/internal/webhooks"
)

func seed(t *testing.T, s store.Store, tenant string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.UpsertTasks(ctx, tenant, []model.TaskIn{
		{Task: planner.NewTask(1, planner.NewLocation(10, 10), planner.Low)},
		{Task: planner.NewTask(2, planner.NewLocation(0, 0), planner.Critical)},
		{Task: planner.NewTask(3, planner.NewLocation(5, 5), planner.High)},
	})
	require.NoError(t, err)
	_, err = s.UpsertWorkers(ctx, tenant, []planner.Worker{
		planner.NewWorker(1, planner.NewLocation(0, 0), true),
		planner.NewWorker(2, planner.NewLocation(10, 10), true),
	})
	require.NoError(t, err)
}

func newTestDispatcher(s store.Store, b events.EventBroker) *Dispatcher {
	return New(s, b, webhooks.NewPublisher(s), Options{Mode: config.ModeSingle, MaxTasksPerWorker: 2})
}

func TestRunStoredSnapshot(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seed(t, m, "t1")
	b := events.NewBroker()
	ch, err := b.Subscribe(ctx, "t1")
	require.NoError(t, err)
	defer b.Unsubscribe("t1", ch)
	_, err = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://hook", Events: []string{model.EventAssignmentCreated}})
	require.NoError(t, err)

	d := newTestDispatcher(m, b)
	res, err := d.Run(ctx, "t1", Options{Mode: config.ModeSingle, Trigger: TriggerAPI})
	require.NoError(t, err)

	// critical task 2 takes worker 1 at (0,0); high task 3 takes worker 2; low task 1 is left
	require.Equal(t, []planner.Assignment{
		{TaskID: 2, WorkerID: 1, EstimatedCost: 0},
		{TaskID: 3, WorkerID: 2, EstimatedCost: planner.NewLocation(5, 5).DistanceTo(planner.NewLocation(10, 10)) * 0.7},
	}, res.Plan.Assignments)
	require.NotEmpty(t, res.Plan.ID)
	require.Equal(t, []planner.TaskID{1}, res.Plan.Summary.Unassigned)
	require.Equal(t, planner.EstimatorDistance, res.Plan.Estimator)
	require.Equal(t, 2, res.Webhooks)

	open, err := m.ListTasks(ctx, "t1", model.TaskStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)

	got := []string{}
	for i := 0; i < 3; i++ {
		select {
		case evt := <-ch:
			got = append(got, evt.Type)
		case <-time.After(200 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}
	require.Equal(t, []string{model.EventAssignmentCreated, model.EventAssignmentCreated, model.EventPlanCompleted}, got)

	// a second run only sees the task left open
	res, err = d.Run(ctx, "t1", Options{Mode: config.ModeSingle})
	require.NoError(t, err)
	require.Len(t, res.Plan.Assignments, 1)
	require.Equal(t, planner.TaskID(1), res.Plan.Assignments[0].TaskID)
}

func TestRunBatchWithExplicitSnapshotDryRun(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	d := newTestDispatcher(m, nil)
	snap := &model.Snapshot{
		Tasks: []planner.Task{
			planner.NewTask(1, planner.NewLocation(1, 0), planner.Medium),
			planner.NewTask(2, planner.NewLocation(2, 0), planner.Medium),
			planner.NewTask(3, planner.NewLocation(3, 0), planner.Medium),
		},
		// MaxTasks omitted as in decoded JSON
		Workers: []planner.Worker{{ID: 7, Location: planner.NewLocation(0, 0), Available: true}},
	}
	opts := d.Options(model.PlanRequest{Mode: config.ModeBatch, Snapshot: snap, DryRun: true}, TriggerCLI)
	require.Equal(t, 2, opts.MaxTasksPerWorker)

	res, err := d.Run(ctx, "t1", opts)
	require.NoError(t, err)
	require.Empty(t, res.Plan.ID)
	require.Len(t, res.Plan.Assignments, 2)
	require.Equal(t, 2, res.Plan.MaxTasksPerWorker)
	require.Equal(t, map[planner.WorkerID]int{7: 2}, res.Plan.Summary.ByWorker)

	plans, _, err := m.ListPlans(ctx, "t1", "", 10)
	require.NoError(t, err)
	require.Empty(t, plans)
}

func TestRunClampsOverloadedWorker(t *testing.T) {
	ctx := context.Background()
	snap, err := snapshot.Decode(strings.NewReader("task,1,0,0,high\nworker,1,1,1,true,1.5\n"), snapshot.FormatCSV)
	require.NoError(t, err)
	require.Equal(t, 1.0, snap.Workers[0].CurrentLoad)

	d := newTestDispatcher(store.NewMemory(), nil)

	// a fully loaded worker fails CanAcceptTask
	res, err := d.Run(ctx, "t1", Options{Mode: config.ModeSingle, Snapshot: &snap, DryRun: true})
	require.NoError(t, err)
	require.Empty(t, res.Plan.Assignments)

	// the batch planner does not consult load
	res, err = d.Run(ctx, "t1", Options{Mode: config.ModeBatch, MaxTasksPerWorker: 2, Snapshot: &snap, DryRun: true})
	require.NoError(t, err)
	require.Len(t, res.Plan.Assignments, 1)
	assert.InDelta(t, (math.Sqrt2+10)*0.7, res.Plan.Assignments[0].EstimatedCost, 1e-9)

	// raw decoded JSON workers and stored workers are clamped the same way
	raw := &model.Snapshot{
		Tasks:   snap.Tasks,
		Workers: []planner.Worker{{ID: 1, Location: planner.NewLocation(1, 1), Available: true, CurrentLoad: 1.5}},
	}
	res, err = d.Run(ctx, "t1", Options{Mode: config.ModeBatch, MaxTasksPerWorker: 2, Snapshot: raw, DryRun: true})
	require.NoError(t, err)
	require.Len(t, res.Plan.Assignments, 1)

	m := store.NewMemory()
	_, err = m.UpsertWorkers(ctx, "t1", raw.Workers)
	require.NoError(t, err)
	workers, err := m.ListWorkers(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1.0, workers[0].CurrentLoad)
}

func TestRunRejectsInvalidInput(t *testing.T) {
	d := newTestDispatcher(store.NewMemory(), nil)
	dup := &model.Snapshot{Tasks: []planner.Task{
		planner.NewTask(1, planner.NewLocation(0, 0), planner.Low),
		planner.NewTask(1, planner.NewLocation(0, 0), planner.Low),
	}}
	cases := map[string]struct {
		tenant string
		opts   Options
		target error
	}{
		"missing tenant":    {"", Options{}, ErrInvalidInput},
		"unknown estimator": {"t1", Options{Estimator: planner.EstimatorConfig{Type: "euclid"}}, planner.ErrUnknownEstimator},
		"negative speed":    {"t1", Options{Estimator: planner.EstimatorConfig{Type: "time", TravelSpeed: -1}}, planner.ErrInvalidTravelSpeed},
		"nan speed":         {"t1", Options{Estimator: planner.EstimatorConfig{Type: "time", TravelSpeed: math.NaN()}}, planner.ErrInvalidTravelSpeed},
		"bad mode":          {"t1", Options{Mode: "optimal"}, ErrInvalidInput},
		"duplicate task":    {"t1", Options{Snapshot: dup}, planner.ErrDuplicateTask},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Run(context.Background(), tc.tenant, tc.opts)
			require.ErrorIs(t, err, tc.target)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

type failingStore struct {
	*store.Memory
}

func (failingStore) SavePlan(ctx context.Context, rec model.PlanRecord) (model.PlanRecord, error) {
	return model.PlanRecord{}, errors.New("disk full")
}

func TestRunSaveFailure(t *testing.T) {
	m := store.NewMemory()
	seed(t, m, "t1")
	d := newTestDispatcher(failingStore{m}, nil)
	_, err := d.Run(context.Background(), "t1", Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)

	open, err := m.ListTasks(context.Background(), "t1", model.TaskStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 3)
}

func TestRunSerializesTenant(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seed(t, m, "t1")
	d := newTestDispatcher(m, nil)

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := d.Run(ctx, "t1", Options{})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	// every task is assigned exactly once across all runs
	seen := map[planner.TaskID]int{}
	for _, r := range results {
		for _, a := range r.Plan.Assignments {
			seen[a.TaskID]++
		}
	}
	require.Equal(t, map[planner.TaskID]int{1: 1, 2: 1, 3: 1}, seen)
}

func TestOptionsOverlay(t *testing.T) {
	d := New(store.NewMemory(), nil, nil, DefaultsFromConfig(config.Config{
		PlannerMode:              config.ModeBatch,
		PlannerMaxTasksPerWorker: 3,
		PlannerEstimator:         planner.EstimatorTime,
		PlannerTravelSpeed:       2,
		PlannerBatchRespectLoad:  true,
	}))
	k := 5
	respect := false
	o := d.Options(model.PlanRequest{MaxTasksPerWorker: &k, RespectLoad: &respect}, TriggerAPI)
	require.Equal(t, config.ModeBatch, o.Mode)
	require.Equal(t, 5, o.MaxTasksPerWorker)
	require.False(t, o.RespectLoad)
	require.Equal(t, planner.EstimatorConfig{Type: planner.EstimatorTime, TravelSpeed: 2}, o.Estimator)
	require.Equal(t, TriggerAPI, o.Trigger)
}

func TestSchedulerRunOnce(t *testing.T) {
	m := store.NewMemory()
	seed(t, m, "t1")
	seed(t, m, "t2")
	d := newTestDispatcher(m, nil)
	s := NewScheduler(d, "@every 1h", []string{"t1", "t2"})
	require.Equal(t, 2, s.RunOnce(context.Background()))

	plans, _, err := m.ListPlans(context.Background(), "t2", "", 10)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, TriggerCron, plans[0].Trigger)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(newTestDispatcher(store.NewMemory(), nil), "not a schedule", []string{"t1"})
	require.Error(t, s.Start())
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s := NewScheduler(newTestDispatcher(store.NewMemory(), nil), "@every 1h", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
}
