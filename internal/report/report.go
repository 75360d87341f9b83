// Package report renders plans for terminals and pipelines.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"wmsdispatch/internal/model"
	"wmsdispatch/internal/planner"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ValidFormat reports whether f is one of text, json, csv.
func ValidFormat(f string) bool {
	switch f {
	case FormatText, FormatJSON, FormatCSV:
		return true
	}
	return false
}

// Format renders plan in the named format; unknown names fall back to text.
func Format(plan model.PlanRecord, format string) string {
	switch format {
	case FormatJSON:
		return FormatPlanJSON(plan)
	case FormatCSV:
		return FormatPlanCSV(plan)
	}
	return FormatPlanText(plan)
}

// FormatPlanText returns one line per assignment followed by a summary block.
func FormatPlanText(plan model.PlanRecord) string {
	var sb strings.Builder
	header := fmt.Sprintf("plan mode=%s estimator=%s", plan.Mode, plan.Estimator)
	if plan.ID != "" {
		header = fmt.Sprintf("plan %s mode=%s estimator=%s", plan.ID, plan.Mode, plan.Estimator)
	}
	if plan.MaxTasksPerWorker > 0 {
		header += fmt.Sprintf(" max_per_worker=%d", plan.MaxTasksPerWorker)
	}
	sb.WriteString(header)
	sb.WriteString("\n")
	if len(plan.Assignments) == 0 {
		sb.WriteString("  no assignments\n")
	}
	for _, a := range plan.Assignments {
		sb.WriteString(fmt.Sprintf("  task %d -> worker %d  cost=%.3f\n", a.TaskID, a.WorkerID, a.EstimatedCost))
	}
	s := plan.Summary
	sb.WriteString(fmt.Sprintf("assigned %d/%d  total_cost=%.3f\n", s.Assigned, s.Requested, s.TotalCost))
	if len(s.Unassigned) > 0 {
		sb.WriteString(fmt.Sprintf("  unassigned: %s\n", joinIDs(s.Unassigned)))
	}
	for _, id := range sortedWorkers(s.ByWorker) {
		sb.WriteString(fmt.Sprintf("  worker %d: %d task(s)\n", id, s.ByWorker[id]))
	}
	return sb.String()
}

// FormatPlanJSON returns the indented JSON representation of the plan
func FormatPlanJSON(plan model.PlanRecord) string {
	b, _ := json.MarshalIndent(plan, "", "  ")
	return string(b) + "\n"
}

// FormatPlanCSV returns one row per assignment and one row per unassigned task.
func FormatPlanCSV(plan model.PlanRecord) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write([]string{"task_id", "worker_id", "estimated_cost", "status"})
	for _, a := range plan.Assignments {
		_ = w.Write([]string{
			strconv.FormatUint(uint64(a.TaskID), 10),
			strconv.FormatUint(uint64(a.WorkerID), 10),
			strconv.FormatFloat(a.EstimatedCost, 'f', 3, 64),
			"assigned",
		})
	}
	for _, id := range plan.Summary.Unassigned {
		_ = w.Write([]string{strconv.FormatUint(uint64(id), 10), "", "", "unassigned"})
	}
	w.Flush()
	return sb.String()
}

func joinIDs(ids []planner.TaskID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ", ")
}

func sortedWorkers(m map[planner.WorkerID]int) []planner.WorkerID {
	ids := make([]planner.WorkerID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
