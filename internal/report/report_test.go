package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
)

func samplePlan() model.PlanRecord {
	return model.PlanRecord{
		ID:                "p1",
		Mode:              "batch",
		Estimator:         "distance",
		MaxTasksPerWorker: 2,
		Assignments: []planner.Assignment{
			{TaskID: 3, WorkerID: 1, EstimatedCost: 0.5},
			{TaskID: 4, WorkerID: 1, EstimatedCost: 1.25},
		},
		Summary: planner.Summary{
			Requested:  3,
			Assigned:   2,
			Unassigned: []planner.TaskID{7},
			TotalCost:  1.75,
			ByWorker:   map[planner.WorkerID]int{1: 2},
		},
	}
}

func TestFormatText(t *testing.T) {
	tests := map[string]struct {
		plan     model.PlanRecord
		contains []string
	}{
		"WithAssignments": {
			plan: samplePlan(),
			contains: []string{
				"plan p1 mode=batch estimator=distance max_per_worker=2",
				"  task 3 -> worker 1  cost=0.500",
				"assigned 2/3  total_cost=1.750",
				"  unassigned: 7",
				"  worker 1: 2 task(s)",
			},
		},
		"EmptyDryRun": {
			plan:     model.PlanRecord{Mode: "single", Estimator: "time"},
			contains: []string{"plan mode=single estimator=time\n", "  no assignments", "assigned 0/0"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			out := Format(tc.plan, FormatText)
			for _, s := range tc.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestFormatJSON(t *testing.T) {
	out := Format(samplePlan(), FormatJSON)
	var back model.PlanRecord
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, samplePlan().Assignments, back.Assignments)
	assert.Contains(t, out, `"unassigned": [`)
}

func TestFormatCSV(t *testing.T) {
	out := Format(samplePlan(), FormatCSV)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, []string{
		"task_id,worker_id,estimated_cost,status",
		"3,1,0.500,assigned",
		"4,1,1.250,assigned",
		"7,,,unassigned",
	}, lines)
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"text", "json", "csv"} {
		assert.True(t, ValidFormat(f))
	}
	assert.False(t, ValidFormat("xml"))
}
