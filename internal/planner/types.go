// Package planner assigns tasks to workers with priority-first greedy matching.
//
// Every planning call is a pure function of its inputs: planners keep no state
// between calls and never mutate the Task or Worker values they are given.
package planner

import (
	"fmt"
	"math"
	"strings"
)

type TaskID uint32

type WorkerID uint32

// Location is a point on the warehouse floor plan.
type Location struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func NewLocation(x, y float64) Location { return Location{X: x, Y: y} }

// DistanceTo returns the Euclidean distance between two locations.
func (l Location) DistanceTo(other Location) float64 {
	dx := l.X - other.X
	dy := l.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Priority orders tasks. The zero value is not a valid priority.
type Priority int

const (
	Low Priority = iota + 1
	Medium
	High
	Critical
)

// Rank is the numeric value used for ordering (Low=1 .. Critical=4).
func (p Priority) Rank() int { return int(p) }

func (p Priority) Valid() bool { return p >= Low && p <= Critical }

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts the names low, medium, high, critical (any case)
// or their numeric ranks 1-4.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1":
		return Low, nil
	case "medium", "2":
		return Medium, nil
	case "high", "3":
		return High, nil
	case "critical", "4":
		return Critical, nil
	}
	return 0, fmt.Errorf("invalid priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Task is a unit of work waiting for a worker.
type Task struct {
	ID       TaskID   `json:"id" yaml:"id"`
	Location Location `json:"location" yaml:"location"`
	Priority Priority `json:"priority" yaml:"priority"`
	// EstimatedDuration is in minutes; nil lets the estimator pick a default.
	EstimatedDuration *float64 `json:"estimatedDuration,omitempty" yaml:"estimatedDuration,omitempty"`
}

func NewTask(id TaskID, loc Location, p Priority) Task {
	return Task{ID: id, Location: loc, Priority: p}
}

// WithDuration returns a copy of t with the estimated duration set.
func (t Task) WithDuration(minutes float64) Task {
	t.EstimatedDuration = &minutes
	return t
}

// Worker is a mobile resource that can take tasks.
type Worker struct {
	ID          WorkerID `json:"id" yaml:"id"`
	Location    Location `json:"location" yaml:"location"`
	Available   bool     `json:"available" yaml:"available"`
	CurrentLoad float64  `json:"currentLoad" yaml:"currentLoad"` // 0.0 idle .. 1.0 fully loaded
	MaxTasks    int      `json:"maxTasks" yaml:"maxTasks"`
}

func NewWorker(id WorkerID, loc Location, available bool) Worker {
	return Worker{ID: id, Location: loc, Available: available, MaxTasks: 1}
}

// WithLoad returns a copy of w with the load clamped to [0, 1].
func (w Worker) WithLoad(load float64) Worker {
	w.CurrentLoad = ClampLoad(load)
	return w
}

func (w Worker) WithMaxTasks(n int) Worker {
	w.MaxTasks = n
	return w
}

// CanAcceptTask reports whether the single-assignment planner may use w.
func (w Worker) CanAcceptTask() bool {
	return w.Available && w.CurrentLoad < 1.0
}

// ClampLoad bounds a load value to [0, 1]. NaN becomes 0.
func ClampLoad(load float64) float64 {
	switch {
	case math.IsNaN(load), load < 0:
		return 0
	case load > 1:
		return 1
	}
	return load
}

// Assignment pairs one task with one worker.
type Assignment struct {
	TaskID        TaskID   `json:"taskId"`
	WorkerID      WorkerID `json:"workerId"`
	EstimatedCost float64  `json:"estimatedCost"`
}
